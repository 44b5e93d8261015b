package mediaproviders

import (
	"context"
	"encoding/json"
	"net/http"
)

const DefaultOpenAIBase = "https://api.openai.com/v1"

// OpenAIProvider implements the DALL-E image backend.
type OpenAIProvider struct {
	api   apiClient
	model string
}

// NewOpenAIProvider creates a new OpenAI image provider.
func NewOpenAIProvider(apiKey, apiBase, model string, client *http.Client) *OpenAIProvider {
	if apiBase == "" {
		apiBase = DefaultOpenAIBase
	}
	if model == "" {
		model = "dall-e-3"
	}
	return &OpenAIProvider{api: newAPIClient("dall-e", apiBase, apiKey, client), model: model}
}

func (p *OpenAIProvider) Name() string         { return "dall-e" }
func (p *OpenAIProvider) Model() string        { return p.model }
func (p *OpenAIProvider) Mode() CompletionMode { return Synchronous }

func (p *OpenAIProvider) Submit(ctx context.Context, req Request) (Submission, error) {
	reqBody := map[string]interface{}{
		"model":   p.model,
		"prompt":  req.Prompt,
		"size":    dalleSize(req.AspectRatio),
		"n":       1,
		"quality": "hd",
	}

	var result struct {
		Data json.RawMessage `json:"data"`
	}
	if err := p.api.call(ctx, http.MethodPost, "/images/generations", reqBody, &result); err != nil {
		return Submission{}, err
	}
	url, err := ExtractURL(result.Data)
	if err != nil {
		return Submission{}, malformed(p.Name(), err)
	}
	return Submission{URL: url}, nil
}

func dalleSize(a AspectRatio) string {
	switch a {
	case AspectSquare:
		return "1024x1024"
	case AspectVertical:
		return "1024x1792"
	default:
		return "1792x1024"
	}
}

var _ Adapter = (*OpenAIProvider)(nil)
