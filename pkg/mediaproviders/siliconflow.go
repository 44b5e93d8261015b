package mediaproviders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

const DefaultSiliconFlowBase = "https://api.siliconflow.cn/v1"

// SiliconFlowProvider implements the SiliconFlow image backend.
type SiliconFlowProvider struct {
	api   apiClient
	model string
}

// NewSiliconFlowProvider creates a new SiliconFlow provider.
func NewSiliconFlowProvider(apiKey, apiBase, model string, client *http.Client) *SiliconFlowProvider {
	if apiBase == "" {
		apiBase = DefaultSiliconFlowBase
	}
	if model == "" {
		model = "black-forest-labs/FLUX.1-schnell"
	}
	return &SiliconFlowProvider{api: newAPIClient("siliconflow", apiBase, apiKey, client), model: model}
}

func (p *SiliconFlowProvider) Name() string         { return "siliconflow" }
func (p *SiliconFlowProvider) Model() string        { return p.model }
func (p *SiliconFlowProvider) Mode() CompletionMode { return Synchronous }

func (p *SiliconFlowProvider) Submit(ctx context.Context, req Request) (Submission, error) {
	reqBody := map[string]interface{}{
		"model":      p.model,
		"prompt":     req.Prompt,
		"image_size": siliconFlowSize(req.AspectRatio),
		"batch_size": 1,
	}

	var result struct {
		Images json.RawMessage `json:"images"`
		Data   json.RawMessage `json:"data"`
	}
	if err := p.api.call(ctx, http.MethodPost, "/images/generations", reqBody, &result); err != nil {
		return Submission{}, err
	}

	for _, raw := range []json.RawMessage{result.Images, result.Data} {
		if len(raw) == 0 {
			continue
		}
		if url, err := ExtractURL(raw); err == nil {
			return Submission{URL: url}, nil
		}
	}
	return Submission{}, malformed(p.Name(), errors.New("no URL found in response"))
}

func siliconFlowSize(a AspectRatio) string {
	switch a {
	case AspectSquare:
		return "1024x1024"
	case AspectVertical:
		return "928x1664"
	default:
		return "1664x928"
	}
}

var _ Adapter = (*SiliconFlowProvider)(nil)
