package channels

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/bus"
	"github.com/atuona/mediabot/pkg/config"
)

type fakeSender struct {
	sent []tgbotapi.Chattable
	fail func(c tgbotapi.Chattable) error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if f.fail != nil {
		if err := f.fail(c); err != nil {
			return tgbotapi.Message{}, err
		}
	}
	return tgbotapi.Message{}, nil
}

func newTestChannel(api *fakeSender) *TelegramChannel {
	c := NewTelegramChannel(&config.TelegramConfig{Enabled: true}, bus.NewMessageBus(zerolog.Nop()), zerolog.Nop())
	c.api = api
	return c
}

func TestIsAllowed(t *testing.T) {
	c := BaseChannel{AllowFrom: []string{"42", "alice"}}

	for senderID, want := range map[string]bool{
		"42":        true,
		"7|alice":   true,
		"42|bob":    true,
		"7|bob":     false,
		"alice2":    false,
		"":          false,
		"7":         false,
		"99|alice2": false,
	} {
		if got := c.IsAllowed(senderID); got != want {
			t.Errorf("IsAllowed(%q) = %v, want %v", senderID, got, want)
		}
	}

	open := BaseChannel{}
	if !open.IsAllowed("anyone") {
		t.Error("empty allow list should allow everyone")
	}
}

func TestSendText(t *testing.T) {
	api := &fakeSender{}
	c := newTestChannel(api)

	if err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "100", Content: "hello"}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(api.sent))
	}
	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	if !ok || msg.Text != "hello" || msg.ChatID != 100 {
		t.Errorf("unexpected message %#v", api.sent[0])
	}
}

func TestSendInvalidChatID(t *testing.T) {
	c := newTestChannel(&fakeSender{})
	if err := c.Send(context.Background(), bus.OutboundMessage{ChatID: "abc", Content: "x"}); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestSendPhotoByURL(t *testing.T) {
	api := &fakeSender{}
	c := newTestChannel(api)

	err := c.Send(context.Background(), bus.OutboundMessage{
		ChatID:    "100",
		Content:   "cover",
		MediaKind: bus.MediaPhoto,
		MediaURL:  "https://cdn.example/img.png",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	photo, ok := api.sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("sent %T, want PhotoConfig", api.sent[0])
	}
	if photo.Caption != "cover" {
		t.Errorf("caption = %q", photo.Caption)
	}
	if _, ok := photo.File.(tgbotapi.FileURL); !ok {
		t.Errorf("file = %T, want FileURL", photo.File)
	}
}

func TestSendVideoFallsBackToUpload(t *testing.T) {
	api := &fakeSender{fail: func(c tgbotapi.Chattable) error {
		if v, ok := c.(tgbotapi.VideoConfig); ok {
			if _, byURL := v.File.(tgbotapi.FileURL); byURL {
				return errors.New("wrong file identifier/HTTP URL specified")
			}
		}
		return nil
	}}
	c := newTestChannel(api)
	var fetched string
	c.fetch = func(_ context.Context, url string) (io.ReadCloser, string, error) {
		fetched = url
		return io.NopCloser(strings.NewReader("mp4")), "clip.mp4", nil
	}

	err := c.Send(context.Background(), bus.OutboundMessage{
		ChatID:    "100",
		Content:   "clip",
		MediaKind: bus.MediaVideo,
		MediaURL:  "https://cdn.example/clip.mp4",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if fetched != "https://cdn.example/clip.mp4" {
		t.Errorf("fetched %q", fetched)
	}
	if len(api.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(api.sent))
	}
	video, ok := api.sent[1].(tgbotapi.VideoConfig)
	if !ok {
		t.Fatalf("second send %T, want VideoConfig", api.sent[1])
	}
	file, ok := video.File.(tgbotapi.FileReader)
	if !ok || file.Name != "clip.mp4" {
		t.Errorf("upload file = %#v", video.File)
	}
}

func TestSendMediaFallsBackToLink(t *testing.T) {
	api := &fakeSender{fail: func(c tgbotapi.Chattable) error {
		if _, ok := c.(tgbotapi.VideoConfig); ok {
			return errors.New("rejected")
		}
		return nil
	}}
	c := newTestChannel(api)
	c.fetch = func(context.Context, string) (io.ReadCloser, string, error) {
		return nil, "", errors.New("download failed")
	}

	err := c.Send(context.Background(), bus.OutboundMessage{
		ChatID:    "100",
		Content:   "clip",
		MediaKind: bus.MediaVideo,
		MediaURL:  "https://cdn.example/clip.mp4",
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	last, ok := api.sent[len(api.sent)-1].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("last send %T, want MessageConfig", api.sent[len(api.sent)-1])
	}
	if !strings.Contains(last.Text, "https://cdn.example/clip.mp4") {
		t.Errorf("link text = %q", last.Text)
	}
}

func TestSendMediaAllFallbacksFail(t *testing.T) {
	api := &fakeSender{fail: func(tgbotapi.Chattable) error { return errors.New("telegram down") }}
	c := newTestChannel(api)
	c.fetch = func(context.Context, string) (io.ReadCloser, string, error) {
		return io.NopCloser(strings.NewReader("png")), "img.png", nil
	}

	err := c.Send(context.Background(), bus.OutboundMessage{
		ChatID:    "100",
		MediaKind: bus.MediaPhoto,
		MediaURL:  "https://cdn.example/img.png",
	})
	if err == nil {
		t.Fatal("expected error when every delivery path fails")
	}
	if len(api.sent) != 3 {
		t.Errorf("sent %d messages, want 3", len(api.sent))
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 10); got != "héllo" {
		t.Errorf("short string changed: %q", got)
	}
	got := truncateRunes(strings.Repeat("é", 20), 5)
	if len([]rune(got)) != 5 || !strings.HasSuffix(got, "…") {
		t.Errorf("truncateRunes = %q", got)
	}
}
