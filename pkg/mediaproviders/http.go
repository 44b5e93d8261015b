package mediaproviders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// apiClient is the request plumbing shared by every adapter.
type apiClient struct {
	provider string
	baseURL  string
	apiKey   string
	headers  map[string]string
	http     *http.Client
}

func newAPIClient(provider, baseURL, apiKey string, client *http.Client) apiClient {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return apiClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		headers:  map[string]string{},
		http:     client,
	}
}

// call sends a JSON request and decodes a JSON response into out. Transport
// failures and non-2xx statuses come back classified.
func (c apiClient) call(ctx context.Context, method, path string, reqBody any, out any) error {
	var body io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return providerFailure(c.provider, 0, fmt.Errorf("failed to marshal request: %w", err))
		}
		body = bytes.NewReader(jsonData)
	}

	url := path
	if !isHTTPURL(path) {
		url = c.baseURL + path
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return providerFailure(c.provider, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Classify(c.provider, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return providerFailure(c.provider, resp.StatusCode, fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(c.provider, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return malformed(c.provider, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}
