package channels

import (
	"context"
	"strings"
	"time"

	"github.com/atuona/mediabot/pkg/bus"
)

// Channel is the interface for chat channels.
type Channel interface {
	Start(ctx context.Context) error
	Stop() error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	Name() string
}

// BaseChannel provides common functionality for channels.
type BaseChannel struct {
	Bus       *bus.MessageBus
	AllowFrom []string
}

// IsAllowed checks if a sender is allowed to use this bot.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.AllowFrom) == 0 {
		return true
	}

	for _, allowed := range c.AllowFrom {
		if allowed == senderID {
			return true
		}
		// composite ids look like "id|username"
		if strings.Contains(senderID, "|") {
			for _, part := range strings.Split(senderID, "|") {
				if part == allowed {
					return true
				}
			}
		}
	}
	return false
}

// HandleMessage forwards an allowed incoming message to the dispatcher.
func (c *BaseChannel) HandleMessage(
	ctx context.Context,
	channelName string,
	senderID string,
	chatID string,
	content string,
	metadata map[string]interface{},
) error {
	if !c.IsAllowed(senderID) {
		return nil
	}

	msg := bus.InboundMessage{
		Channel:   channelName,
		SenderID:  senderID,
		ChatID:    chatID,
		Content:   content,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}

	return c.Bus.PublishInbound(ctx, msg)
}
