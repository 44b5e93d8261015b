package mediaproviders

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AspectRatio is the framing tag an artifact is generated for.
type AspectRatio string

const (
	AspectSquare     AspectRatio = "square"
	AspectVertical   AspectRatio = "vertical"
	AspectHorizontal AspectRatio = "horizontal"
)

// Ratio returns the "w:h" form most backends accept.
func (a AspectRatio) Ratio() string {
	switch a {
	case AspectSquare:
		return "1:1"
	case AspectVertical:
		return "9:16"
	default:
		return "16:9"
	}
}

// Valid reports whether a is one of the known tags.
func (a AspectRatio) Valid() bool {
	switch a {
	case AspectSquare, AspectVertical, AspectHorizontal:
		return true
	}
	return false
}

// ParseAspectRatios parses a comma separated tag list such as
// "horizontal,vertical". Empty input yields nil.
func ParseAspectRatios(s string) ([]AspectRatio, error) {
	var out []AspectRatio
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		a := AspectRatio(part)
		if !a.Valid() {
			return nil, fmt.Errorf("unknown aspect ratio %q", part)
		}
		out = append(out, a)
	}
	return out, nil
}

// CompletionMode tells coordinators whether Submit returns the artifact or a
// handle that has to be polled.
type CompletionMode string

const (
	Synchronous  CompletionMode = "synchronous"
	Asynchronous CompletionMode = "asynchronous"
)

// Request is the canonical generation request handed to every adapter.
// SourceImageURL is only used by video adapters.
type Request struct {
	Prompt         string
	AspectRatio    AspectRatio
	OutputFormat   string
	QualityHint    int
	SourceImageURL string
	Loop           bool
}

// Submission is what a successful Submit yields: a finished artifact URL for
// synchronous adapters, a task handle for asynchronous ones.
type Submission struct {
	URL        string
	TaskHandle string
}

// Async reports whether the submission still needs polling.
func (s Submission) Async() bool {
	return s.URL == "" && s.TaskHandle != ""
}

// Adapter normalizes one backend into the canonical contract.
type Adapter interface {
	Name() string
	Model() string
	Mode() CompletionMode
	Submit(ctx context.Context, req Request) (Submission, error)
}

// TaskState is the normalized poll state of an asynchronous task.
type TaskState string

const (
	TaskSubmitted  TaskState = "submitted"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
)

// Terminal reports whether no further polling should happen.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskStatus is a normalized poll response.
type TaskStatus struct {
	State         TaskState
	URL           string
	FailureReason string
}

// PollPolicy bounds the polling of one provider's tasks.
type PollPolicy struct {
	Grace       time.Duration
	Interval    time.Duration
	MaxAttempts int
}

// AsyncAdapter is implemented by adapters whose Submit returns a task handle.
type AsyncAdapter interface {
	Adapter
	Poll(ctx context.Context, taskHandle string) (TaskStatus, error)
	PollPolicy() PollPolicy
}
