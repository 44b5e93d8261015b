package mediaproviders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"
)

const (
	DefaultRunwayBase = "https://api.dev.runwayml.com/v1"
	runwayAPIVersion  = "2024-11-06"
)

// RunwayProvider drives Runway Gen-3 image-to-video tasks.
type RunwayProvider struct {
	api    apiClient
	model  string
	policy PollPolicy
}

// NewRunwayProvider creates a Runway provider.
func NewRunwayProvider(apiKey, apiBase, model string, client *http.Client) *RunwayProvider {
	if apiBase == "" {
		apiBase = DefaultRunwayBase
	}
	if model == "" {
		model = "gen3a_turbo"
	}
	api := newAPIClient("runway", apiBase, apiKey, client)
	api.headers["X-Runway-Version"] = runwayAPIVersion
	return &RunwayProvider{
		api:    api,
		model:  model,
		policy: PollPolicy{Grace: 60 * time.Second, Interval: 40 * time.Second, MaxAttempts: 8},
	}
}

func (p *RunwayProvider) Name() string           { return "runway" }
func (p *RunwayProvider) Model() string          { return p.model }
func (p *RunwayProvider) Mode() CompletionMode   { return Asynchronous }
func (p *RunwayProvider) PollPolicy() PollPolicy { return p.policy }

// SetPollPolicy overrides the default polling bounds.
func (p *RunwayProvider) SetPollPolicy(policy PollPolicy) { p.policy = policy }

type runwayTask struct {
	ID      string          `json:"id"`
	Status  string          `json:"status"`
	Output  json.RawMessage `json:"output"`
	Failure string          `json:"failure"`
}

func (p *RunwayProvider) Submit(ctx context.Context, req Request) (Submission, error) {
	if req.SourceImageURL == "" {
		return Submission{}, providerFailure(p.Name(), 0, errors.New("runway needs a source image"))
	}
	body := map[string]any{
		"model":       p.model,
		"promptImage": req.SourceImageURL,
		"promptText":  truncate(req.Prompt, 500),
		"duration":    10,
		"watermark":   false,
		"ratio":       runwayRatio(req.AspectRatio),
	}
	var task runwayTask
	if err := p.api.call(ctx, http.MethodPost, "/image_to_video", body, &task); err != nil {
		return Submission{}, err
	}
	if task.ID == "" {
		return Submission{}, malformed(p.Name(), errors.New("task id missing"))
	}
	return Submission{TaskHandle: task.ID}, nil
}

func (p *RunwayProvider) Poll(ctx context.Context, taskHandle string) (TaskStatus, error) {
	var task runwayTask
	if err := p.api.call(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskHandle), nil, &task); err != nil {
		return TaskStatus{}, err
	}
	switch task.Status {
	case "SUCCEEDED":
		videoURL, err := ExtractURL(task.Output)
		if err != nil {
			return TaskStatus{}, malformed(p.Name(), err)
		}
		return TaskStatus{State: TaskCompleted, URL: videoURL}, nil
	case "FAILED", "CANCELLED":
		reason := task.Failure
		if reason == "" {
			reason = "unknown"
		}
		return TaskStatus{State: TaskFailed, FailureReason: reason}, nil
	case "PENDING", "THROTTLED":
		return TaskStatus{State: TaskSubmitted}, nil
	default:
		return TaskStatus{State: TaskProcessing}, nil
	}
}

func runwayRatio(a AspectRatio) string {
	if a == AspectVertical {
		return "768:1280"
	}
	return "1280:768"
}

var _ AsyncAdapter = (*RunwayProvider)(nil)
