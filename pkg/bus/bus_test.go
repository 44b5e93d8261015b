package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDeliverWithoutSubscriber(t *testing.T) {
	b := NewMessageBus(zerolog.Nop())
	b.SubscribeOutbound("telegram", func(context.Context, OutboundMessage) error { return nil })

	err := b.Deliver(context.Background(), OutboundMessage{Channel: "slack", ChatID: "1", Content: "hi"})
	if !errors.Is(err, ErrNoSubscriber) {
		t.Fatalf("Deliver() error = %v, want ErrNoSubscriber", err)
	}
}

func TestDeliverRecoversPanickingSubscriber(t *testing.T) {
	b := NewMessageBus(zerolog.Nop())
	var reached bool
	b.SubscribeOutbound("telegram", func(context.Context, OutboundMessage) error {
		panic("send exploded")
	})
	b.SubscribeOutbound("telegram", func(context.Context, OutboundMessage) error {
		reached = true
		return nil
	})

	err := b.Deliver(context.Background(), OutboundMessage{Channel: "telegram", ChatID: "1"})
	if err == nil {
		t.Fatal("expected error from panicking subscriber")
	}
	if !reached {
		t.Error("second subscriber was skipped after the panic")
	}
}

func TestDeliverReturnsFirstError(t *testing.T) {
	b := NewMessageBus(zerolog.Nop())
	first := errors.New("first")
	b.SubscribeOutbound("telegram", func(context.Context, OutboundMessage) error { return first })
	b.SubscribeOutbound("telegram", func(context.Context, OutboundMessage) error { return errors.New("second") })

	if err := b.Deliver(context.Background(), OutboundMessage{Channel: "telegram"}); !errors.Is(err, first) {
		t.Fatalf("Deliver() error = %v, want %v", err, first)
	}
}

func TestDispatchOutbound(t *testing.T) {
	b := NewMessageBus(zerolog.Nop())
	got := make(chan OutboundMessage, 1)
	b.SubscribeOutbound("telegram", func(_ context.Context, msg OutboundMessage) error {
		got <- msg
		return nil
	})

	done := make(chan struct{})
	go func() {
		b.DispatchOutbound(context.Background())
		close(done)
	}()

	if err := b.PublishOutbound(context.Background(), OutboundMessage{Channel: "telegram", ChatID: "7", Content: "queued"}); err != nil {
		t.Fatalf("PublishOutbound() error = %v", err)
	}
	select {
	case msg := <-got:
		if msg.ChatID != "7" || msg.Content != "queued" {
			t.Errorf("delivered %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	b.Stop()
	b.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("DispatchOutbound did not return after Stop")
	}
}

func TestPublishInboundHonoursContext(t *testing.T) {
	b := NewMessageBus(zerolog.Nop())
	for i := 0; i < cap(b.inbound); i++ {
		if err := b.PublishInbound(context.Background(), InboundMessage{Channel: "telegram"}); err != nil {
			t.Fatalf("PublishInbound() error = %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.PublishInbound(ctx, InboundMessage{Channel: "telegram"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("PublishInbound() on full bus error = %v, want context.Canceled", err)
	}

	msg := <-b.ConsumeInbound()
	if msg.Channel != "telegram" {
		t.Errorf("consumed %+v", msg)
	}
}
