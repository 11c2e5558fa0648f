// Package events is the in-process fan-out for agent activity. Listeners
// are called synchronously on Emit, so they must return quickly.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event types emitted by the agent loop.
const (
	TypeThinking     = "thinking"
	TypeAction       = "action"
	TypeResponse     = "response"
	TypeError        = "error"
	TypeConfirmation = "confirmation"
)

// Event is one observable step of message handling.
type Event struct {
	Type        string         `json:"type"`
	SessionID   string         `json:"sessionId"`
	ChannelType string         `json:"channelType"`
	Data        map[string]any `json:"data"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Listener receives events.
type Listener func(Event)

// Bus is a thread-safe pub/sub hub.
type Bus struct {
	listeners sync.Map // uint64 -> Listener
	nextID    atomic.Uint64
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Listener) func() {
	id := b.nextID.Add(1)
	b.listeners.Store(id, fn)
	return func() { b.listeners.Delete(id) }
}

// Emit delivers ev to every listener. A panicking listener is logged and
// does not affect the others or the emitter.
func (b *Bus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.listeners.Range(func(_, value any) bool {
		if fn, ok := value.(Listener); ok {
			deliver(fn, ev)
		}
		return true
	})
}

func deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event listener panicked", "type", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}
