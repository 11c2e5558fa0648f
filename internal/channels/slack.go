package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/agentpilot/agentpilot/internal/bus"
	"github.com/agentpilot/agentpilot/internal/config"
)

// SlackChannel receives events over Socket Mode and replies with the Web API.
type SlackChannel struct {
	BaseChannel
	botToken string
	appToken string

	api       *slack.Client
	botUserID string
	connected atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSlackChannel creates the Slack adapter.
func NewSlackChannel(cfg config.SlackConfig, messageBus *bus.MessageBus) *SlackChannel {
	return &SlackChannel{
		BaseChannel: BaseChannel{Bus: messageBus, AllowFrom: cfg.AllowFrom},
		botToken:    cfg.BotToken,
		appToken:    cfg.AppToken,
	}
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Connected() bool { return c.connected.Load() }

func (c *SlackChannel) Start(ctx context.Context) error {
	if c.botToken == "" || c.appToken == "" {
		return fmt.Errorf("slack: bot token and app token are required for socket mode")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}
	c.api = slack.New(c.botToken, slack.OptionAppLevelToken(c.appToken))
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth.test failed: %w", err)
	}
	c.botUserID = auth.UserID
	slog.Info("Slack connected", "bot", auth.User, "team", auth.Team)

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	client := socketmode.New(c.api)
	go c.consume(ctx, client)
	go func() {
		defer close(c.done)
		c.connected.Store(true)
		if err := client.RunContext(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Slack socket mode stopped", "error", err)
		}
		c.connected.Store(false)
	}()
	return nil
}

func (c *SlackChannel) Stop() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (c *SlackChannel) consume(ctx context.Context, client *socketmode.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			if evt.Request != nil {
				client.Ack(*evt.Request)
			}
			ev, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || ev.Type != slackevents.CallbackEvent {
				continue
			}
			if in, ok := ev.InnerEvent.Data.(*slackevents.MessageEvent); ok && in != nil {
				c.handleMessage(in)
			}
		}
	}
}

// handleMessage publishes a user message. Bot messages, edits and other
// subtypes are ignored.
func (c *SlackChannel) handleMessage(in *slackevents.MessageEvent) {
	if in.BotID != "" || in.SubType != "" || in.User == "" || in.User == c.botUserID {
		return
	}
	text := strings.TrimSpace(in.Text)
	if c.botUserID != "" {
		text = strings.TrimSpace(strings.ReplaceAll(text, "<@"+c.botUserID+">", ""))
	}
	if text == "" || !c.Allowed(in.User) {
		return
	}
	var meta map[string]any
	if in.ThreadTimeStamp != "" {
		meta = map[string]any{bus.MetaKeyThreadTS: in.ThreadTimeStamp}
	}
	c.Publish(&bus.InboundMessage{
		ID:          in.TimeStamp,
		ChannelType: c.Name(),
		ChannelID:   in.Channel,
		UserID:      in.User,
		Content:     text,
		Metadata:    meta,
	})
}

func (c *SlackChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	if c.api == nil {
		return fmt.Errorf("slack: not connected")
	}
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if ts, ok := msg.Metadata[bus.MetaKeyThreadTS].(string); ok && ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	_, _, err := c.api.PostMessageContext(ctx, msg.ChannelID, opts...)
	return err
}
