// Package agent runs the tool-calling loop that turns a chat message into
// model calls and authorized actions.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agentpilot/agentpilot/internal/approval"
	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/events"
	"github.com/agentpilot/agentpilot/internal/policy"
	"github.com/agentpilot/agentpilot/internal/provider"
	"github.com/agentpilot/agentpilot/internal/session"
	"github.com/agentpilot/agentpilot/internal/store"
	"github.com/agentpilot/agentpilot/internal/tools"
)

const (
	defaultMaxIterations = 10

	maxIterationsReply = "I've reached the maximum number of steps for this task. Here's what I've done so far - let me know if you'd like me to continue."
	cancelledReply     = "Action cancelled."
)

// Guard authorizes tool calls and records them in the audit log.
type Guard interface {
	Check(ctx context.Context, req *tools.ActionRequest) (policy.Decision, error)
	LogAction(ctx context.Context, req *tools.ActionRequest, output any, confirmationRequired, confirmed bool) error
}

// Sessions resolves identities to sessions and stores their history.
type Sessions interface {
	GetOrCreate(ctx context.Context, id session.Identity) (*store.Session, error)
	Append(ctx context.Context, sessionID, role, content string) error
	History(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
}

// SkillsSource supplies the skills suffix of the system prompt.
type SkillsSource interface {
	Text() string
}

// LoopOptions contains configuration for the agent loop.
type LoopOptions struct {
	Provider      provider.LLMProvider
	Tools         *tools.Registry
	Guard         Guard
	Sessions      Sessions
	Confirmations *approval.Registry
	Locker        *session.Locker
	Events        *events.Bus
	Skills        SkillsSource
	Model         string
	MaxIterations int
	MaxTokens     int
	Temperature   float64
	HistoryLimit  int
}

// Loop is the core agent processing engine.
type Loop struct {
	provider      provider.LLMProvider
	registry      *tools.Registry
	guard         Guard
	sessions      Sessions
	confirmations *approval.Registry
	locker        *session.Locker
	events        *events.Bus
	skills        SkillsSource
	model         string
	maxIterations int
	maxTokens     int
	temperature   float64
	historyLimit  int
}

// NewLoop creates a new agent loop. Missing registries and lockers are
// created empty.
func NewLoop(opts LoopOptions) *Loop {
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = session.DefaultHistoryLimit
	}
	l := &Loop{
		provider:      opts.Provider,
		registry:      opts.Tools,
		guard:         opts.Guard,
		sessions:      opts.Sessions,
		confirmations: opts.Confirmations,
		locker:        opts.Locker,
		events:        opts.Events,
		skills:        opts.Skills,
		model:         opts.Model,
		maxIterations: maxIter,
		maxTokens:     opts.MaxTokens,
		temperature:   opts.Temperature,
		historyLimit:  historyLimit,
	}
	if l.registry == nil {
		l.registry = tools.NewRegistry()
	}
	if l.confirmations == nil {
		l.confirmations = approval.NewRegistry()
	}
	if l.locker == nil {
		l.locker = session.NewLocker()
	}
	if l.events == nil {
		l.events = events.NewBus()
	}
	return l
}

// Tools returns the registry the loop dispatches to.
func (l *Loop) Tools() *tools.Registry { return l.registry }

// replier remembers the first delivery failure so HandleMessage can report it.
type replier struct {
	fn  func(string) error
	err error
}

func (r *replier) send(text string) {
	if err := r.fn(text); err != nil && r.err == nil {
		r.err = err
	}
}

// HandleMessage processes one inbound message and answers through reply.
// Calls for the same identity are serialized. It returns an error only when
// reply itself fails; processing failures are answered with an apology.
func (l *Loop) HandleMessage(ctx context.Context, msg *bus.InboundMessage, reply func(string) error) error {
	key := msg.IdentityKey()
	unlock := l.locker.Lock(key)
	defer unlock()

	r := &replier{fn: reply}
	if pending, ok := l.confirmations.Take(key); ok {
		l.resolveConfirmation(ctx, msg, pending, r)
		return r.err
	}

	sessionID, err := l.process(ctx, msg, r)
	if err != nil {
		slog.Error("Agent turn failed", "session", sessionID, "channel", msg.ChannelType, "error", err)
		l.emit(events.TypeError, sessionID, msg.ChannelType, map[string]any{"error": err.Error()})
		r.send("Sorry, I encountered an error: " + err.Error())
	}
	return r.err
}

// resolveConfirmation consumes msg as the answer to a pending tool call.
// The answer is never stored as conversation history.
func (l *Loop) resolveConfirmation(ctx context.Context, msg *bus.InboundMessage, p *approval.PendingConfirmation, r *replier) {
	answer := strings.ToLower(strings.TrimSpace(msg.Content))
	if answer != "yes" && answer != "y" {
		slog.Info("Confirmation declined", "tool", p.ToolName, "session", p.SessionID)
		r.send(cancelledReply)
		return
	}

	origin := p.Message
	if origin == nil {
		origin = msg
	}
	worker, ok := l.registry.WorkerFor(p.ToolName)
	if !ok {
		r.send("Confirmed. Unknown tool: " + p.ToolName)
		return
	}
	req := &tools.ActionRequest{
		Domain:      worker.Domain(),
		Operation:   p.ToolName,
		Params:      p.Arguments,
		SessionID:   p.SessionID,
		ChannelType: origin.ChannelType,
		ChannelID:   origin.ChannelID,
		UserID:      origin.UserID,
	}
	slog.Info("Executing confirmed action", "tool", p.ToolName, "session", p.SessionID)
	result, err := worker.Execute(ctx, req)
	if err != nil {
		l.audit(ctx, req, map[string]any{"error": err.Error()}, true, true)
		l.emit(events.TypeError, p.SessionID, origin.ChannelType, map[string]any{"error": err.Error()})
		r.send("Sorry, I encountered an error: " + err.Error())
		return
	}
	if result == nil {
		result = &tools.ActionResult{Success: true}
	}
	l.audit(ctx, req, result, true, true)
	text := "Confirmed. " + confirmedText(result)
	l.emit(events.TypeResponse, p.SessionID, origin.ChannelType, map[string]any{"content": text})
	r.send(text)
}

func confirmedText(res *tools.ActionResult) string {
	if res.Data != nil {
		if b, err := json.Marshal(res.Data); err == nil {
			return string(b)
		}
	}
	if res.Error != "" {
		return res.Error
	}
	return "Done."
}

// process runs the session and model loop for a new instruction. Reply
// failures are recorded on r, not returned.
func (l *Loop) process(ctx context.Context, msg *bus.InboundMessage, r *replier) (string, error) {
	if l.provider == nil {
		return "", errors.New("no AI provider configured")
	}
	id := session.Identity{ChannelType: msg.ChannelType, ChannelID: msg.ChannelID, UserID: msg.UserID}
	sess, err := l.sessions.GetOrCreate(ctx, id)
	if err != nil {
		return "", err
	}
	if err := l.sessions.Append(ctx, sess.ID, store.RoleUser, msg.Content); err != nil {
		return sess.ID, err
	}
	messages, err := l.buildContext(ctx, sess.ID, msg)
	if err != nil {
		return sess.ID, err
	}
	l.emit(events.TypeThinking, sess.ID, msg.ChannelType, map[string]any{"message": msg.Content})

	catalog := l.registry.Tools()
	for i := 0; i < l.maxIterations; i++ {
		resp, err := l.provider.Chat(ctx, &provider.ChatRequest{
			Messages:    messages,
			Tools:       catalog,
			Model:       l.model,
			MaxTokens:   l.maxTokens,
			Temperature: l.temperature,
		})
		if err != nil {
			return sess.ID, err
		}
		slog.Debug("Model response", "session", sess.ID, "iteration", i+1, "tool_calls", len(resp.ToolCalls), "tokens", resp.Usage.TotalTokens)

		if len(resp.ToolCalls) == 0 {
			answer := strings.TrimSpace(resp.Content)
			if answer == "" {
				answer = "Done."
			}
			if err := l.sessions.Append(ctx, sess.ID, store.RoleAssistant, answer); err != nil {
				return sess.ID, err
			}
			l.emit(events.TypeResponse, sess.ID, msg.ChannelType, map[string]any{"content": answer})
			r.send(answer)
			return sess.ID, nil
		}

		fragments := make([]string, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			l.emit(events.TypeAction, sess.ID, msg.ChannelType, map[string]any{"tool": call.Name, "arguments": call.Arguments})
			out, suspended, err := l.executeTool(ctx, call, sess.ID, msg)
			if err != nil {
				return sess.ID, err
			}
			if suspended {
				return sess.ID, l.promptConfirmation(ctx, call, sess.ID, msg, out, r)
			}
			fragments = append(fragments, fmt.Sprintf("Tool %q result: %s", call.Name, out.json))
		}

		if resp.Content != "" {
			messages = append(messages, provider.Message{Role: provider.RoleAssistant, Content: resp.Content})
		}
		messages = append(messages, provider.Message{Role: provider.RoleUser, Content: strings.Join(fragments, "\n\n")})
	}

	slog.Warn("Max iterations reached", "session", sess.ID, "limit", l.maxIterations)
	r.send(maxIterationsReply)
	return sess.ID, nil
}

func (l *Loop) buildContext(ctx context.Context, sessionID string, msg *bus.InboundMessage) ([]provider.Message, error) {
	history, err := l.sessions.History(ctx, sessionID, l.historyLimit)
	if err != nil {
		return nil, err
	}
	skills := ""
	if l.skills != nil {
		skills = l.skills.Text()
	}
	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: BuildSystemPrompt(msg.ChannelType, msg.UserID, skills)})
	for _, m := range history {
		messages = append(messages, provider.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

// toolOutput is the serialized result fed back to the model, plus the
// confirmation prompt when the call was suspended.
type toolOutput struct {
	json   string
	prompt string
	req    *tools.ActionRequest
}

// executeTool authorizes and runs one call. suspended reports that the call
// needs a human confirmation before it can run.
func (l *Loop) executeTool(ctx context.Context, call provider.ToolCall, sessionID string, msg *bus.InboundMessage) (toolOutput, bool, error) {
	worker, ok := l.registry.WorkerFor(call.Name)
	if !ok {
		return toolOutput{json: errorJSON("Unknown tool: " + call.Name)}, false, nil
	}
	params := call.Arguments
	if params == nil {
		params = map[string]any{}
	}
	req := &tools.ActionRequest{
		Domain:      worker.Domain(),
		Operation:   call.Name,
		Params:      params,
		SessionID:   sessionID,
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		UserID:      msg.UserID,
	}

	decision, err := l.guard.Check(ctx, req)
	if err != nil {
		var denied *policy.PermissionDeniedError
		if !errors.As(err, &denied) {
			return toolOutput{}, false, err
		}
		slog.Info("Action denied", "action", req.Action(), "required", denied.Required.String(), "current", denied.Current.String())
		l.audit(ctx, req, map[string]any{"denied": true, "error": denied.Error()}, false, false)
		return toolOutput{json: errorJSON(denied.Error())}, false, nil
	}
	if decision.ConfirmationRequired {
		return toolOutput{prompt: decision.ConfirmationMessage, req: req}, true, nil
	}

	result, err := worker.Execute(ctx, req)
	if err != nil {
		l.audit(ctx, req, map[string]any{"error": err.Error()}, false, false)
		return toolOutput{}, false, fmt.Errorf("%s: %w", call.Name, err)
	}
	if result == nil {
		result = &tools.ActionResult{Success: true}
	}
	l.audit(ctx, req, result, result.ConfirmationRequired, !result.ConfirmationRequired)
	return toolOutput{json: string(result.JSON())}, false, nil
}

// promptConfirmation parks call until the identity answers and asks the user.
func (l *Loop) promptConfirmation(ctx context.Context, call provider.ToolCall, sessionID string, msg *bus.InboundMessage, out toolOutput, r *replier) error {
	l.confirmations.Set(msg.IdentityKey(), &approval.PendingConfirmation{
		ToolName:  call.Name,
		Arguments: out.req.Params,
		SessionID: sessionID,
		Message:   msg,
		Prompt:    out.prompt,
	})
	l.emit(events.TypeConfirmation, sessionID, msg.ChannelType, map[string]any{"action": call.Name, "message": out.prompt})
	l.audit(ctx, out.req, map[string]any{"pending": true}, true, false)
	slog.Info("Confirmation requested", "action", out.req.Action(), "session", sessionID)
	r.send("⚠️ " + out.prompt + "\nReply \"yes\" to confirm or anything else to cancel.")
	return nil
}

// audit writes one entry. Failures are logged, never returned to the turn.
func (l *Loop) audit(ctx context.Context, req *tools.ActionRequest, output any, confirmationRequired, confirmed bool) {
	if err := l.guard.LogAction(ctx, req, output, confirmationRequired, confirmed); err != nil {
		slog.Error("Audit write failed", "action", req.Action(), "error", err)
	}
}

func (l *Loop) emit(typ, sessionID, channelType string, data map[string]any) {
	l.events.Emit(events.Event{Type: typ, SessionID: sessionID, ChannelType: channelType, Data: data})
}

func errorJSON(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}
