// Package approval holds tool calls that are waiting for a human "yes".
package approval

import (
	"sync"
	"time"

	"github.com/agentpilot/agentpilot/internal/bus"
)

// PendingConfirmation is a tool call suspended until its owner answers.
type PendingConfirmation struct {
	ToolName  string              `json:"toolName"`
	Arguments map[string]any      `json:"arguments"`
	SessionID string              `json:"sessionId"`
	Message   *bus.InboundMessage `json:"message"`
	Prompt    string              `json:"prompt"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL expires entries older than d. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(r *Registry) { r.ttl = d }
}

// Registry maps an identity key to at most one pending confirmation.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*PendingConfirmation
	ttl     time.Duration
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		pending: make(map[string]*PendingConfirmation),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Set stores p under key, replacing any previous entry.
func (r *Registry) Set(key string, p *PendingConfirmation) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	r.mu.Lock()
	r.pending[key] = p
	r.mu.Unlock()
}

// Take removes and returns the entry for key.
func (r *Registry) Take(key string) (*PendingConfirmation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[key]
	if !ok {
		return nil, false
	}
	delete(r.pending, key)
	if r.expired(p) {
		return nil, false
	}
	return p, true
}

// Exists reports whether a live entry is stored for key.
func (r *Registry) Exists(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[key]
	if !ok {
		return false
	}
	if r.expired(p) {
		delete(r.pending, key)
		return false
	}
	return true
}

// Sweep drops expired entries and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, p := range r.pending {
		if r.expired(p) {
			delete(r.pending, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry) expired(p *PendingConfirmation) bool {
	return r.ttl > 0 && r.now().Sub(p.CreatedAt) > r.ttl
}
