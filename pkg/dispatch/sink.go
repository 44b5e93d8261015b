package dispatch

import (
	"context"

	"github.com/atuona/mediabot/pkg/bus"
	"github.com/atuona/mediabot/pkg/orchestrator"
)

// ChatSink narrates orchestration events into one chat. Messages go through
// bus.Deliver so an undelivered video surfaces as an error.
type ChatSink struct {
	Bus     *bus.MessageBus
	Channel string
	ChatID  string
}

func (s ChatSink) Notify(ctx context.Context, ev orchestrator.Event) error {
	if s.Bus == nil || s.ChatID == "" {
		return nil
	}
	return s.Bus.Deliver(ctx, outboundFor(s.Channel, s.ChatID, ev))
}

func outboundFor(channel, chatID string, ev orchestrator.Event) bus.OutboundMessage {
	msg := bus.OutboundMessage{
		Channel: channel,
		ChatID:  chatID,
		Content: ev.Text,
		Metadata: map[string]interface{}{
			"content_id": ev.ContentID,
			"event":      string(ev.Kind),
		},
	}
	if ev.Kind == orchestrator.EventArtifact && ev.URL != "" {
		msg.MediaURL = ev.URL
		msg.MediaKind = bus.MediaPhoto
		if ev.Artifact == orchestrator.ArtifactVideo {
			msg.MediaKind = bus.MediaVideo
		}
	}
	return msg
}
