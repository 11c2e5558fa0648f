// Package bus provides the async message bus for channel-agent communication.
package bus

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Well-known metadata keys.
const (
	MetaKeyScheduledTask = "scheduled_task_id"
	MetaKeyThreadTS      = "thread_ts"
)

// Attachment is a file or media item that arrived with a message.
type Attachment struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
}

// InboundMessage represents a message from a channel to the agent.
// It is not modified after it is published.
type InboundMessage struct {
	ID          string         `json:"id"`
	ChannelType string         `json:"channelType"`
	ChannelID   string         `json:"channelId"`
	UserID      string         `json:"userId"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// IdentityKey returns "<channelType>:<channelId>:<userId>".
func (m *InboundMessage) IdentityKey() string {
	return IdentityKey(m.ChannelType, m.ChannelID, m.UserID)
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ":", `\:`)

// IdentityKey joins the identity parts with ":". Backslashes and colons
// inside a part are escaped so distinct identities never share a key.
func IdentityKey(channelType, channelID, userID string) string {
	return keyEscaper.Replace(channelType) + ":" + keyEscaper.Replace(channelID) + ":" + keyEscaper.Replace(userID)
}

// IsScheduled reports whether the message was synthesized by the scheduler.
func (m *InboundMessage) IsScheduled() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata[MetaKeyScheduledTask].(string)
	return ok && v != ""
}

// OutboundMessage represents a message from the agent to a channel.
type OutboundMessage struct {
	ChannelType string         `json:"channelType"`
	ChannelID   string         `json:"channelId"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// MessageBus decouples channels from the agent core.
type MessageBus struct {
	inbound  chan *InboundMessage
	outbound chan *OutboundMessage
	subs     map[string][]func(*OutboundMessage)
	mu       sync.RWMutex
}

// NewMessageBus creates a new message bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan *InboundMessage, 100),
		outbound: make(chan *OutboundMessage, 100),
		subs:     make(map[string][]func(*OutboundMessage)),
	}
}

// PublishInbound sends a message from a channel to the agent.
func (b *MessageBus) PublishInbound(msg *InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	b.inbound <- msg
}

// ConsumeInbound blocks until a message is available or context is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (*InboundMessage, error) {
	select {
	case msg := <-b.inbound:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PublishOutbound queues a message from the agent to a channel.
func (b *MessageBus) PublishOutbound(msg *OutboundMessage) {
	b.outbound <- msg
}

// Subscribe registers a callback for outbound messages to a channel type.
func (b *MessageBus) Subscribe(channelType string, callback func(*OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subs[channelType] = append(b.subs[channelType], callback)
}

// DispatchOutbound runs the outbound message dispatcher.
// This should be run as a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-b.outbound:
			b.mu.RLock()
			callbacks := b.subs[msg.ChannelType]
			b.mu.RUnlock()

			for _, cb := range callbacks {
				cb(msg)
			}
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.inbound)
}

// OutboundSize returns the number of pending outbound messages.
func (b *MessageBus) OutboundSize() int {
	return len(b.outbound)
}
