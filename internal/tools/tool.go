// Package tools provides the capability workers the agent dispatches tool
// calls to, and the registry that maps tool names to workers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agentpilot/agentpilot/internal/provider"
)

// ActionRequest is one tool invocation routed to a worker.
type ActionRequest struct {
	Domain      string         `json:"domain"`
	Operation   string         `json:"operation"`
	Params      map[string]any `json:"params"`
	SessionID   string         `json:"sessionId"`
	ChannelType string         `json:"channelType"`
	ChannelID   string         `json:"channelId"`
	UserID      string         `json:"userId"`
}

// Action is the "<domain>:<operation>" label used in prompts and errors.
func (r *ActionRequest) Action() string {
	return r.Domain + ":" + r.Operation
}

// ActionResult is what a worker reports back. Domain failures such as a
// missing file set Success=false and Error; they are not Go errors.
type ActionResult struct {
	Success              bool   `json:"success"`
	Data                 any    `json:"data,omitempty"`
	Error                string `json:"error,omitempty"`
	ConfirmationRequired bool   `json:"confirmationRequired,omitempty"`
	ConfirmationMessage  string `json:"confirmationMessage,omitempty"`
}

// OK wraps data in a successful result.
func OK(data any) *ActionResult {
	return &ActionResult{Success: true, Data: data}
}

// Fail builds a failed result with a formatted message.
func Fail(format string, args ...any) *ActionResult {
	return &ActionResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// UnknownOperation is the result for an operation the worker does not own.
func UnknownOperation(op string) *ActionResult {
	return Fail("Unknown operation: %s", op)
}

// JSON renders the result for tool feedback and audit output.
func (r *ActionResult) JSON() json.RawMessage {
	b, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"success":false,"error":%q}`, err.Error()))
	}
	return b
}

// Worker owns one action domain and the tools in it.
type Worker interface {
	// Domain is the permission domain, e.g. "files".
	Domain() string
	// Tools lists the function definitions this worker handles.
	Tools() []provider.ToolDefinition
	// Execute runs req.Operation. A non-nil error is an infrastructure
	// failure; domain failures are reported in the result.
	Execute(ctx context.Context, req *ActionRequest) (*ActionResult, error)
}

// Registry maps tool names to their owning worker.
type Registry struct {
	workers []Worker
	byTool  map[string]Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byTool: make(map[string]Worker)}
}

// Register adds a worker. A tool name already owned by another worker is
// rejected and the registry is left unchanged.
func (r *Registry) Register(w Worker) error {
	defs := w.Tools()
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		name := d.Function.Name
		if owner, ok := r.byTool[name]; ok {
			return fmt.Errorf("tool %q already registered by %s worker", name, owner.Domain())
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("tool %q declared twice by %s worker", name, w.Domain())
		}
		seen[name] = struct{}{}
	}
	for name := range seen {
		r.byTool[name] = w
	}
	r.workers = append(r.workers, w)
	return nil
}

// WorkerFor returns the worker that owns a tool.
func (r *Registry) WorkerFor(tool string) (Worker, bool) {
	w, ok := r.byTool[tool]
	return w, ok
}

// Workers returns the registered workers in registration order.
func (r *Registry) Workers() []Worker {
	return append([]Worker(nil), r.workers...)
}

// Tools returns the full catalog across workers, in registration order.
func (r *Registry) Tools() []provider.ToolDefinition {
	var defs []provider.ToolDefinition
	for _, w := range r.workers {
		defs = append(defs, w.Tools()...)
	}
	return defs
}

// ToolNames returns all tool names sorted.
func (r *Registry) ToolNames() []string {
	names := make([]string, 0, len(r.byTool))
	for name := range r.byTool {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return int(i)
			}
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// requireStrings returns the trimmed values of keys, or ok=false when any is empty.
func requireStrings(params map[string]any, keys ...string) ([]string, bool) {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = strings.TrimSpace(GetString(params, k, ""))
		if out[i] == "" {
			return nil, false
		}
	}
	return out, true
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
