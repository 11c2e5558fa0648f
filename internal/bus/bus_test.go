package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	b := NewMessageBus()
	b.PublishInbound(&InboundMessage{ID: "m1", ChannelType: "telegram", ChannelID: "100", UserID: "u1", Content: "hi"})
	if b.InboundSize() != 1 {
		t.Fatalf("expected 1 pending, got %d", b.InboundSize())
	}

	msg, err := b.ConsumeInbound(context.Background())
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if msg.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be set on publish")
	}
	if got := msg.IdentityKey(); got != "telegram:100:u1" {
		t.Fatalf("unexpected identity key %q", got)
	}
}

func TestConsumeInboundCancelled(t *testing.T) {
	b := NewMessageBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.ConsumeInbound(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestDispatchOutboundRoutesByChannelType(t *testing.T) {
	b := NewMessageBus()
	got := make(chan string, 2)
	b.Subscribe("discord", func(m *OutboundMessage) { got <- "discord:" + m.Content })
	b.Subscribe("slack", func(m *OutboundMessage) { got <- "slack:" + m.Content })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.DispatchOutbound(ctx) }()

	b.PublishOutbound(&OutboundMessage{ChannelType: "slack", ChannelID: "C1", Content: "hello"})
	select {
	case v := <-got:
		if v != "slack:hello" {
			t.Fatalf("unexpected delivery %q", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestIsScheduled(t *testing.T) {
	m := &InboundMessage{}
	if m.IsScheduled() {
		t.Fatal("plain message must not be scheduled")
	}
	m.Metadata = map[string]any{MetaKeyScheduledTask: "t1"}
	if !m.IsScheduled() {
		t.Fatal("expected scheduled message")
	}
}

func TestIdentityKeyEscapesSeparators(t *testing.T) {
	a := IdentityKey("slack", "C1:u2", "u3")
	b := IdentityKey("slack", "C1", "u2:u3")
	if a == b {
		t.Fatalf("identities collide on key %q", a)
	}
	if got := IdentityKey("slack", `C\1`, "u:1"); got != `slack:C\\1:u\:1` {
		t.Fatalf("unexpected escaped key %q", got)
	}
}
