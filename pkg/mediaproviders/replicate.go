package mediaproviders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	DefaultReplicateBase = "https://api.replicate.com/v1"

	ModelFluxUltra     = "black-forest-labs/flux-1.1-pro-ultra"
	ModelFluxPro       = "black-forest-labs/flux-1.1-pro"
	ModelFluxDev       = "black-forest-labs/flux-dev"
	ModelLumaReplicate = "luma/dream-machine"
)

// ReplicateProvider runs one Replicate model. Predictions are awaited inside
// Submit, so to coordinators it is a synchronous backend.
type ReplicateProvider struct {
	api   apiClient
	name  string
	model string
	input func(Request) map[string]any

	// WaitInterval and MaxWaits bound the follow-up reads when the
	// prediction is still running after the blocking create call.
	WaitInterval time.Duration
	MaxWaits     int
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

func newReplicateProvider(name, model, apiKey, apiBase string, client *http.Client, input func(Request) map[string]any) *ReplicateProvider {
	if apiBase == "" {
		apiBase = DefaultReplicateBase
	}
	api := newAPIClient(name, apiBase, apiKey, client)
	api.headers["Prefer"] = "wait=60"
	return &ReplicateProvider{
		api:          api,
		name:         name,
		model:        model,
		input:        input,
		WaitInterval: 2 * time.Second,
		MaxWaits:     30,
	}
}

// NewFluxUltraProvider is the highest quality image backend.
func NewFluxUltraProvider(apiKey, apiBase string, client *http.Client) *ReplicateProvider {
	return newReplicateProvider("flux-ultra", ModelFluxUltra, apiKey, apiBase, client, func(req Request) map[string]any {
		return map[string]any{
			"prompt":            req.Prompt,
			"aspect_ratio":      req.AspectRatio.Ratio(),
			"output_format":     outputFormat(req, "webp"),
			"output_quality":    quality(req, 95),
			"safety_tolerance":  2,
			"prompt_upsampling": true,
			"raw":               false,
		}
	})
}

// NewFluxProProvider is the Flux 1.1 Pro image backend.
func NewFluxProProvider(apiKey, apiBase string, client *http.Client) *ReplicateProvider {
	return newReplicateProvider("flux-pro", ModelFluxPro, apiKey, apiBase, client, func(req Request) map[string]any {
		return map[string]any{
			"prompt":            req.Prompt,
			"aspect_ratio":      req.AspectRatio.Ratio(),
			"output_format":     outputFormat(req, "webp"),
			"output_quality":    quality(req, 90),
			"safety_tolerance":  2,
			"prompt_upsampling": true,
		}
	})
}

// NewFluxDevProvider is the low cost Flux backend.
func NewFluxDevProvider(apiKey, apiBase string, client *http.Client) *ReplicateProvider {
	return newReplicateProvider("flux-dev", ModelFluxDev, apiKey, apiBase, client, func(req Request) map[string]any {
		return map[string]any{
			"prompt":         req.Prompt,
			"aspect_ratio":   req.AspectRatio.Ratio(),
			"output_format":  outputFormat(req, "webp"),
			"output_quality": quality(req, 80),
		}
	})
}

// NewLumaReplicateProvider runs Luma Dream Machine through Replicate, which
// returns the finished video directly.
func NewLumaReplicateProvider(apiKey, apiBase string, client *http.Client) *ReplicateProvider {
	return newReplicateProvider("luma-replicate", ModelLumaReplicate, apiKey, apiBase, client, func(req Request) map[string]any {
		return map[string]any{
			"prompt":          req.Prompt,
			"start_image_url": req.SourceImageURL,
			"aspect_ratio":    req.AspectRatio.Ratio(),
			"loop":            req.Loop,
		}
	})
}

func (p *ReplicateProvider) Name() string         { return p.name }
func (p *ReplicateProvider) Model() string        { return p.model }
func (p *ReplicateProvider) Mode() CompletionMode { return Synchronous }

// Submit creates a prediction and waits for its output.
func (p *ReplicateProvider) Submit(ctx context.Context, req Request) (Submission, error) {
	var pred replicatePrediction
	path := fmt.Sprintf("/models/%s/predictions", p.model)
	if err := p.api.call(ctx, http.MethodPost, path, map[string]any{"input": p.input(req)}, &pred); err != nil {
		return Submission{}, err
	}

	for i := 0; !replicateDone(pred.Status) && i < p.MaxWaits; i++ {
		if pred.URLs.Get == "" {
			return Submission{}, malformed(p.name, errors.New("prediction is running but has no status URL"))
		}
		select {
		case <-ctx.Done():
			return Submission{}, providerFailure(p.name, 0, ctx.Err())
		case <-time.After(p.WaitInterval):
		}
		if err := p.api.call(ctx, http.MethodGet, pred.URLs.Get, nil, &pred); err != nil {
			return Submission{}, err
		}
	}

	switch pred.Status {
	case "succeeded":
		url, err := ExtractURL(pred.Output)
		if err != nil {
			return Submission{}, malformed(p.name, err)
		}
		return Submission{URL: url}, nil
	case "failed", "canceled":
		return Submission{}, Classify(p.name, fmt.Errorf("prediction %s %s: %v", pred.ID, pred.Status, pred.Error))
	default:
		return Submission{}, providerFailure(p.name, 0, fmt.Errorf("prediction %s still %s", pred.ID, pred.Status))
	}
}

func replicateDone(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

func outputFormat(req Request, fallback string) string {
	if req.OutputFormat != "" {
		return req.OutputFormat
	}
	return fallback
}

func quality(req Request, fallback int) int {
	if req.QualityHint > 0 {
		return req.QualityHint
	}
	return fallback
}

var _ Adapter = (*ReplicateProvider)(nil)
