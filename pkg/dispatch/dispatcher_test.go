package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/bus"
	"github.com/atuona/mediabot/pkg/mediaproviders"
	"github.com/atuona/mediabot/pkg/orchestrator"
	"github.com/atuona/mediabot/pkg/visualization"
)

func TestParseVisualize(t *testing.T) {
	cmd, err := ParseCommand("/visualize@mediabot post-42 ratios=horizontal,vertical a lighthouse at dusk")
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if cmd.Name != CmdVisualize || cmd.ContentID != "post-42" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.Prompt != "a lighthouse at dusk" {
		t.Errorf("prompt = %q", cmd.Prompt)
	}
	want := []mediaproviders.AspectRatio{mediaproviders.AspectHorizontal, mediaproviders.AspectVertical}
	if len(cmd.Ratios) != 2 || cmd.Ratios[0] != want[0] || cmd.Ratios[1] != want[1] {
		t.Errorf("ratios = %v, want %v", cmd.Ratios, want)
	}

	cmd, err = ParseCommand("/visualize post-1 neon city")
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if cmd.Ratios != nil || cmd.Prompt != "neon city" {
		t.Errorf("unexpected command %+v", cmd)
	}
}

func TestParseErrors(t *testing.T) {
	for _, text := range []string{
		"/visualize",
		"/visualize post-1",
		"/visualize post-1 ratios=square",
		"/visualize post-1 ratios=panorama sunset",
		"/gallery zero",
		"/gallery -3",
		"/videostatus",
		"/videostatus a b",
		"/unknown",
	} {
		if _, err := ParseCommand(text); err == nil {
			t.Errorf("ParseCommand(%q) expected error", text)
		}
	}
	if _, err := ParseCommand("hello there"); !errors.Is(err, ErrNotCommand) {
		t.Errorf("plain text error = %v, want ErrNotCommand", err)
	}
}

func TestParseGallery(t *testing.T) {
	cmd, err := ParseCommand("/gallery")
	if err != nil || cmd.Limit != defaultGalleryLimit {
		t.Fatalf("cmd = %+v, err = %v", cmd, err)
	}
	cmd, err = ParseCommand("/gallery 500")
	if err != nil || cmd.Limit != maxGalleryLimit {
		t.Fatalf("cmd = %+v, err = %v", cmd, err)
	}
}

func TestOutboundForArtifacts(t *testing.T) {
	msg := outboundFor("telegram", "100", orchestrator.Event{
		Kind:     orchestrator.EventArtifact,
		Artifact: orchestrator.ArtifactVideo,
		URL:      "https://cdn.example/v.mp4",
		Text:     "Video ready",
	})
	if msg.MediaKind != bus.MediaVideo || msg.MediaURL != "https://cdn.example/v.mp4" || msg.Content != "Video ready" {
		t.Errorf("video message = %+v", msg)
	}

	msg = outboundFor("telegram", "100", orchestrator.Event{
		Kind:     orchestrator.EventArtifact,
		Artifact: orchestrator.ArtifactImage,
		URL:      "https://cdn.example/i.png",
	})
	if msg.MediaKind != bus.MediaPhoto {
		t.Errorf("image media kind = %q", msg.MediaKind)
	}

	msg = outboundFor("telegram", "100", orchestrator.Event{Kind: orchestrator.EventProgress, Text: "working", URL: "ignored"})
	if msg.MediaKind != bus.MediaNone || msg.MediaURL != "" {
		t.Errorf("progress message carries media: %+v", msg)
	}
}

func TestChatSinkReportsDeliveryFailure(t *testing.T) {
	b := bus.NewMessageBus(zerolog.Nop())
	sink := ChatSink{Bus: b, Channel: "telegram", ChatID: "100"}

	if err := sink.Notify(context.Background(), orchestrator.Event{Kind: orchestrator.EventArtifact}); !errors.Is(err, bus.ErrNoSubscriber) {
		t.Fatalf("Notify() error = %v, want ErrNoSubscriber", err)
	}

	b.SubscribeOutbound("telegram", func(context.Context, bus.OutboundMessage) error {
		return errors.New("rejected")
	})
	if err := sink.Notify(context.Background(), orchestrator.Event{Kind: orchestrator.EventArtifact}); err == nil {
		t.Fatal("expected delivery error")
	}
}

type fakeOrchestrator struct {
	requests []orchestrator.Request
	items    []*visualization.Visualization
	check    *orchestrator.CheckResult
	checkErr error
}

func (f *fakeOrchestrator) Orchestrate(ctx context.Context, req orchestrator.Request, sink orchestrator.Sink) (*orchestrator.Result, error) {
	f.requests = append(f.requests, req)
	_ = sink.Notify(ctx, orchestrator.Event{
		Kind:      orchestrator.EventArtifact,
		Artifact:  orchestrator.ArtifactImage,
		ContentID: req.ContentID,
		URL:       "https://cdn.example/i.png",
		Text:      "image ready",
	})
	return &orchestrator.Result{ContentID: req.ContentID, Status: visualization.StatusImageDone}, nil
}

func (f *fakeOrchestrator) CheckTask(context.Context, string, orchestrator.Sink) (*orchestrator.CheckResult, error) {
	return f.check, f.checkErr
}

func (f *fakeOrchestrator) Gallery(_ context.Context, limit int) ([]*visualization.Visualization, error) {
	if limit < len(f.items) {
		return f.items[:limit], nil
	}
	return f.items, nil
}

// collect subscribes to telegram and runs the outbound dispatcher.
func collect(t *testing.T, b *bus.MessageBus) <-chan bus.OutboundMessage {
	t.Helper()
	out := make(chan bus.OutboundMessage, 16)
	b.SubscribeOutbound("telegram", func(_ context.Context, msg bus.OutboundMessage) error {
		out <- msg
		return nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go b.DispatchOutbound(ctx)
	return out
}

func next(t *testing.T, out <-chan bus.OutboundMessage) bus.OutboundMessage {
	t.Helper()
	select {
	case msg := <-out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound message")
		return bus.OutboundMessage{}
	}
}

func TestHandleVisualize(t *testing.T) {
	b := bus.NewMessageBus(zerolog.Nop())
	out := collect(t, b)
	orch := &fakeOrchestrator{}
	d := New(b, orch, zerolog.Nop())

	err := d.Handle(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "100", Content: "/visualize post-9 misty forest"})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if len(orch.requests) != 1 || orch.requests[0].Prompt != "misty forest" || orch.requests[0].ContentID != "post-9" {
		t.Fatalf("requests = %+v", orch.requests)
	}
	msg := next(t, out)
	if msg.MediaKind != bus.MediaPhoto || msg.ChatID != "100" {
		t.Errorf("artifact message = %+v", msg)
	}
}

func TestHandleGallery(t *testing.T) {
	b := bus.NewMessageBus(zerolog.Nop())
	out := collect(t, b)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orch := &fakeOrchestrator{items: []*visualization.Visualization{
		{ContentID: "a", Title: "Alpha", Status: visualization.StatusComplete, UpdatedAt: now},
		{ContentID: "b", Status: visualization.StatusFailed, UpdatedAt: now},
	}}
	d := New(b, orch, zerolog.Nop())

	if err := d.Handle(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "100", Content: "/gallery 5"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	text := next(t, out).Content
	if !strings.Contains(text, "✅ a  Alpha") || !strings.Contains(text, "❌ b  b") {
		t.Errorf("gallery text = %q", text)
	}
}

func TestHandleVideoStatus(t *testing.T) {
	b := bus.NewMessageBus(zerolog.Nop())
	out := collect(t, b)
	orch := &fakeOrchestrator{check: &orchestrator.CheckResult{
		ContentID: "post-9",
		Status:    visualization.StatusImageDone,
		Task:      &visualization.PendingTask{Provider: "luma", Handle: "gen-1"},
		State:     mediaproviders.TaskProcessing,
	}}
	d := New(b, orch, zerolog.Nop())

	if err := d.Handle(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "100", Content: "/videostatus post-9"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if text := next(t, out).Content; !strings.Contains(text, "gen-1") {
		t.Errorf("status text = %q", text)
	}

	orch.check = &orchestrator.CheckResult{ContentID: "post-9", Status: visualization.StatusComplete}
	orch.checkErr = orchestrator.ErrNoPendingTask
	if err := d.Handle(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "100", Content: "/videostatus post-9"}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if text := next(t, out).Content; !strings.Contains(text, "no pending video") {
		t.Errorf("status text = %q", text)
	}
}

func TestRunRepliesOnError(t *testing.T) {
	b := bus.NewMessageBus(zerolog.Nop())
	out := collect(t, b)
	d := New(b, &fakeOrchestrator{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	if err := b.PublishInbound(context.Background(), bus.InboundMessage{Channel: "telegram", ChatID: "100", Content: "/videostatus"}); err != nil {
		t.Fatalf("PublishInbound() error = %v", err)
	}
	if text := next(t, out).Content; !strings.Contains(text, "usage") {
		t.Errorf("error reply = %q", text)
	}
	cancel()
	<-done
}
