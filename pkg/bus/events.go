package bus

import (
	"time"
)

// MediaKind tells a channel how to present an outbound attachment.
type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

// InboundMessage represents a message received from a chat channel.
type InboundMessage struct {
	Channel   string                 `json:"channel"`
	SenderID  string                 `json:"sender_id"`
	ChatID    string                 `json:"chat_id"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// SessionKey identifies the conversation a message belongs to.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage represents a message to send to a chat channel. When
// MediaURL is set the channel sends it as MediaKind with Content as caption.
type OutboundMessage struct {
	Channel   string                 `json:"channel"`
	ChatID    string                 `json:"chat_id"`
	Content   string                 `json:"content"`
	ReplyTo   string                 `json:"reply_to,omitempty"`
	MediaKind MediaKind              `json:"media_kind,omitempty"`
	MediaURL  string                 `json:"media_url,omitempty"`
	Metadata  map[string]interface{} `json:"metadata"`
}
