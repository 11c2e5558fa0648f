// Package channels connects chat platforms to the agent through the message bus.
package channels

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agentpilot/agentpilot/internal/bus"
)

// Channel defines the interface for chat platforms (Telegram, Discord, Slack).
type Channel interface {
	// Name returns the channel type (e.g. "telegram").
	Name() string
	// Start starts the channel listener.
	Start(ctx context.Context) error
	// Stop stops the channel listener.
	Stop() error
	// Send sends a message to a specific chat.
	Send(ctx context.Context, msg *bus.OutboundMessage) error
}

// Connector is implemented by channels that can report their connection state.
type Connector interface {
	Connected() bool
}

// ChannelError wraps a failure delivering to a channel.
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Code identifies the error kind for API consumers.
func (e *ChannelError) Code() string { return "CHANNEL_ERROR" }

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowFrom []string
}

// Allowed reports whether a sender may talk to the agent. An empty allow
// list admits everyone.
func (b *BaseChannel) Allowed(ids ...string) bool {
	if len(b.AllowFrom) == 0 {
		return true
	}
	for _, id := range ids {
		if id != "" && slices.Contains(b.AllowFrom, id) {
			return true
		}
	}
	return false
}

// Publish forwards an inbound message to the bus.
func (b *BaseChannel) Publish(msg *bus.InboundMessage) {
	if b.Bus == nil {
		return
	}
	b.Bus.PublishInbound(msg)
}

// SplitMessage breaks text into chunks of at most max runes, preferring
// newline and then space boundaries.
func SplitMessage(text string, max int) []string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}
	var chunks []string
	runes := []rune(text)
	for len(runes) > max {
		cut := max
		window := string(runes[:max])
		if i := strings.LastIndex(window, "\n"); i > 0 {
			cut = utf8.RuneCountInString(window[:i])
		} else if i := strings.LastIndex(window, " "); i > 0 {
			cut = utf8.RuneCountInString(window[:i])
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		// drop the separator we split on
		if len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// Handler processes one inbound message and sends its answer through reply.
type Handler interface {
	HandleMessage(ctx context.Context, msg *bus.InboundMessage, reply func(string) error) error
}

// Status is the connection state reported for one channel.
type Status struct {
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

// Manager owns the configured channels and routes messages between them and
// the agent.
type Manager struct {
	bus      *bus.MessageBus
	mu       sync.RWMutex
	channels map[string]Channel
	inflight sync.WaitGroup

	// queues holds pending messages per identity key. A key is present
	// while its worker goroutine runs.
	queueMu sync.Mutex
	queues  map[string][]*bus.InboundMessage
}

// NewManager creates a manager reading inbound messages from b.
func NewManager(b *bus.MessageBus) *Manager {
	return &Manager{
		bus:      b,
		channels: make(map[string]Channel),
		queues:   make(map[string][]*bus.InboundMessage),
	}
}

// Register adds a channel, replacing any channel with the same name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by type.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// Names lists registered channel types, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Statuses reports every registered channel with its connection state.
// Channels that do not implement Connector are reported as connected.
func (m *Manager) Statuses() []Status {
	out := make([]Status, 0)
	for _, name := range m.Names() {
		ch, _ := m.Get(name)
		connected := true
		if c, ok := ch.(Connector); ok {
			connected = c.Connected()
		}
		out = append(out, Status{Type: name, Connected: connected})
	}
	return out
}

// StartAll starts every channel. A channel that fails to start is logged and
// the others still start. It returns the number of channels started.
func (m *Manager) StartAll(ctx context.Context) int {
	started := 0
	for _, name := range m.Names() {
		ch, _ := m.Get(name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("Channel failed to start", "channel", name, "error", err)
			continue
		}
		slog.Info("Channel started", "channel", name)
		started++
	}
	return started
}

// StopAll stops every channel.
func (m *Manager) StopAll() {
	for _, name := range m.Names() {
		ch, _ := m.Get(name)
		if err := ch.Stop(); err != nil {
			slog.Warn("Channel stop failed", "channel", name, "error", err)
		}
	}
}

// Send delivers text to a chat on the named channel.
func (m *Manager) Send(ctx context.Context, channelType, channelID, text string) error {
	return m.deliver(ctx, &bus.OutboundMessage{ChannelType: channelType, ChannelID: channelID, Content: text})
}

func (m *Manager) deliver(ctx context.Context, out *bus.OutboundMessage) error {
	ch, ok := m.Get(out.ChannelType)
	if !ok {
		return &ChannelError{Channel: out.ChannelType, Err: fmt.Errorf("channel not registered")}
	}
	if err := ch.Send(ctx, out); err != nil {
		return &ChannelError{Channel: out.ChannelType, Err: err}
	}
	return nil
}

// Dispatch consumes inbound messages until ctx is done. Messages from one
// identity are handled one at a time in arrival order; different
// identities run concurrently. Replies are routed back to the chat the
// message came from. Dispatch returns without waiting for running turns;
// use Wait for that.
func (m *Manager) Dispatch(ctx context.Context, h Handler) error {
	for {
		msg, err := m.bus.ConsumeInbound(ctx)
		if err != nil {
			return err
		}
		m.enqueue(ctx, h, msg)
	}
}

func (m *Manager) enqueue(ctx context.Context, h Handler, msg *bus.InboundMessage) {
	key := msg.IdentityKey()
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	q, running := m.queues[key]
	m.queues[key] = append(q, msg)
	if running {
		return
	}
	m.inflight.Add(1)
	go m.drain(ctx, h, key)
}

// drain handles queued messages for one identity until the queue is empty.
// Once ctx is done the running turn completes and the rest are dropped.
func (m *Manager) drain(ctx context.Context, h Handler, key string) {
	defer m.inflight.Done()
	// in-flight turns run to completion during shutdown
	hctx := context.WithoutCancel(ctx)
	for {
		m.queueMu.Lock()
		q := m.queues[key]
		if len(q) == 0 || ctx.Err() != nil {
			if len(q) > 0 {
				slog.Warn("Dropping queued messages on shutdown", "identity", key, "count", len(q))
			}
			delete(m.queues, key)
			m.queueMu.Unlock()
			return
		}
		msg := q[0]
		q[0] = nil
		m.queues[key] = q[1:]
		m.queueMu.Unlock()

		m.handle(hctx, h, msg)
	}
}

func (m *Manager) handle(ctx context.Context, h Handler, msg *bus.InboundMessage) {
	reply := func(text string) error {
		out := &bus.OutboundMessage{ChannelType: msg.ChannelType, ChannelID: msg.ChannelID, Content: text}
		if ts, ok := msg.Metadata[bus.MetaKeyThreadTS]; ok {
			out.Metadata = map[string]any{bus.MetaKeyThreadTS: ts}
		}
		return m.deliver(ctx, out)
	}
	if err := h.HandleMessage(ctx, msg, reply); err != nil {
		slog.Error("Reply delivery failed", "channel", msg.ChannelType, "chat", msg.ChannelID, "error", err)
	}
}

// Wait blocks until every dispatched turn has finished or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
