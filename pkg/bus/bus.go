package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// ErrNoSubscriber is returned by Deliver when no channel handles the message.
var ErrNoSubscriber = errors.New("no subscriber for channel")

// Handler sends an outbound message on one chat channel.
type Handler func(ctx context.Context, msg OutboundMessage) error

// MessageBus decouples chat channels from the dispatcher.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	logger   zerolog.Logger

	subscribersMu       sync.RWMutex
	outboundSubscribers map[string][]Handler

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewMessageBus creates a new MessageBus.
func NewMessageBus(logger zerolog.Logger) *MessageBus {
	return &MessageBus{
		inbound:             make(chan InboundMessage, 100),
		outbound:            make(chan OutboundMessage, 100),
		logger:              logger,
		outboundSubscribers: make(map[string][]Handler),
		stopChan:            make(chan struct{}),
	}
}

// PublishInbound publishes a message from a channel to the dispatcher.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopChan:
		return errors.New("message bus stopped")
	}
}

// ConsumeInbound returns a channel to consume inbound messages.
func (b *MessageBus) ConsumeInbound() <-chan InboundMessage {
	return b.inbound
}

// PublishOutbound queues a message for asynchronous delivery.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	select {
	case b.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopChan:
		return errors.New("message bus stopped")
	}
}

// Deliver sends msg synchronously through every subscriber of its channel and
// returns the first error. Callers that need to know whether an artifact
// reached the user use this instead of PublishOutbound.
func (b *MessageBus) Deliver(ctx context.Context, msg OutboundMessage) error {
	b.subscribersMu.RLock()
	subscribers := b.outboundSubscribers[msg.Channel]
	b.subscribersMu.RUnlock()

	if len(subscribers) == 0 {
		return ErrNoSubscriber
	}
	var firstErr error
	for _, handler := range subscribers {
		if err := b.call(ctx, handler, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SubscribeOutbound subscribes to outbound messages for a specific channel.
func (b *MessageBus) SubscribeOutbound(channel string, handler Handler) {
	b.subscribersMu.Lock()
	defer b.subscribersMu.Unlock()
	b.outboundSubscribers[channel] = append(b.outboundSubscribers[channel], handler)
}

// DispatchOutbound delivers queued outbound messages until ctx is done or the
// bus is stopped. Run it in a goroutine.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.outbound:
			if err := b.Deliver(ctx, msg); err != nil {
				b.logger.Warn().Err(err).Str("channel", msg.Channel).Str("chat_id", msg.ChatID).Msg("bus: outbound delivery failed")
			}
		case <-ctx.Done():
			return
		case <-b.stopChan:
			return
		}
	}
}

func (b *MessageBus) call(ctx context.Context, handler Handler, msg OutboundMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().Interface("panic", r).Str("channel", msg.Channel).Msg("bus: outbound subscriber panicked")
			err = errors.New("outbound subscriber panicked")
		}
	}()
	return handler(ctx, msg)
}

// Stop stops the dispatcher loop.
func (b *MessageBus) Stop() {
	b.stopOnce.Do(func() { close(b.stopChan) })
}
