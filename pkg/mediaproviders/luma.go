package mediaproviders

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"
)

const DefaultLumaBase = "https://api.lumalabs.ai/dream-machine/v1"

// LumaProvider talks to the Dream Machine API directly. Generations are
// asynchronous and have to be polled.
type LumaProvider struct {
	api    apiClient
	model  string
	policy PollPolicy
}

// NewLumaProvider creates a Luma Dream Machine provider.
func NewLumaProvider(apiKey, apiBase, model string, client *http.Client) *LumaProvider {
	if apiBase == "" {
		apiBase = DefaultLumaBase
	}
	if model == "" {
		model = "ray-2"
	}
	return &LumaProvider{
		api:   newAPIClient("luma", apiBase, apiKey, client),
		model: model,
		// 10 x 30s after a 45s grace, Luma usually needs 60-120s
		policy: PollPolicy{Grace: 45 * time.Second, Interval: 30 * time.Second, MaxAttempts: 10},
	}
}

func (p *LumaProvider) Name() string           { return "luma" }
func (p *LumaProvider) Model() string          { return p.model }
func (p *LumaProvider) Mode() CompletionMode   { return Asynchronous }
func (p *LumaProvider) PollPolicy() PollPolicy { return p.policy }

// SetPollPolicy overrides the default polling bounds.
func (p *LumaProvider) SetPollPolicy(policy PollPolicy) { p.policy = policy }

type lumaGeneration struct {
	ID            string `json:"id"`
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
	Assets        struct {
		Video string `json:"video"`
	} `json:"assets"`
}

func (p *LumaProvider) Submit(ctx context.Context, req Request) (Submission, error) {
	body := map[string]any{
		"model":        p.model,
		"prompt":       req.Prompt,
		"aspect_ratio": req.AspectRatio.Ratio(),
		"duration":     "9s",
		"loop":         req.Loop,
	}
	if req.SourceImageURL != "" {
		body["keyframes"] = map[string]any{
			"frame0": map[string]any{"type": "image", "url": req.SourceImageURL},
		}
	}

	var gen lumaGeneration
	if err := p.api.call(ctx, http.MethodPost, "/generations", body, &gen); err != nil {
		return Submission{}, err
	}
	if gen.ID == "" {
		return Submission{}, malformed(p.Name(), errors.New("generation id missing"))
	}
	return Submission{TaskHandle: gen.ID}, nil
}

func (p *LumaProvider) Poll(ctx context.Context, taskHandle string) (TaskStatus, error) {
	var gen lumaGeneration
	if err := p.api.call(ctx, http.MethodGet, "/generations/"+url.PathEscape(taskHandle), nil, &gen); err != nil {
		return TaskStatus{}, err
	}
	switch gen.State {
	case "completed":
		if gen.Assets.Video == "" {
			return TaskStatus{}, malformed(p.Name(), errors.New("completed generation has no video asset"))
		}
		return TaskStatus{State: TaskCompleted, URL: gen.Assets.Video}, nil
	case "failed":
		reason := gen.FailureReason
		if reason == "" {
			reason = "unknown"
		}
		return TaskStatus{State: TaskFailed, FailureReason: reason}, nil
	case "queued", "":
		return TaskStatus{State: TaskSubmitted}, nil
	default:
		return TaskStatus{State: TaskProcessing}, nil
	}
}

var _ AsyncAdapter = (*LumaProvider)(nil)
