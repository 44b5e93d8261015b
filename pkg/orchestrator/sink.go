package orchestrator

import (
	"context"
	"sync"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

// EventKind classifies progress notifications.
type EventKind string

const (
	EventProgress EventKind = "progress"
	EventFallback EventKind = "fallback"
	EventArtifact EventKind = "artifact"
	EventFailure  EventKind = "failure"
	EventPending  EventKind = "pending"
)

// ArtifactKind tells delivery channels how to present an artifact.
type ArtifactKind string

const (
	ArtifactImage ArtifactKind = "image"
	ArtifactVideo ArtifactKind = "video"
)

// Event is one human-readable notification about a run.
type Event struct {
	Kind        EventKind
	ContentID   string
	Text        string
	Provider    string
	Artifact    ArtifactKind
	URL         string
	AspectRatio mediaproviders.AspectRatio
	Handle      string
}

// Sink receives progress. A Notify error for a video artifact means it was
// not delivered, and the record stays at video_done.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Recorder keeps events in memory. Useful for one-shot CLI runs and tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	// Fail, when set, is returned for events it matches.
	Fail func(Event) error
}

func (r *Recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if r.Fail != nil {
		return r.Fail(ev)
	}
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the recorded events of kind k.
func (r *Recorder) Kinds(k EventKind) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == k {
			out = append(out, ev)
		}
	}
	return out
}
