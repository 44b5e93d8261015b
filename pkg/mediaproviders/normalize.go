package mediaproviders

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// urlFields are the object keys backends use to carry the artifact URL, in
// lookup order.
var urlFields = []string{"url", "output", "uri", "video", "image"}

// ExtractURL pulls the artifact URL out of a raw provider output. Backends
// return a bare string, an array whose first element is the URL, or an object
// with a URL-bearing field; nested combinations of those are followed.
func ExtractURL(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", errors.New("empty output")
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("decode output: %w", err)
	}
	url, ok := findURL(value, 0)
	if !ok {
		return "", fmt.Errorf("no URL found in output %s", truncate(string(raw), 120))
	}
	return url, nil
}

func findURL(value any, depth int) (string, bool) {
	if depth > 4 {
		return "", false
	}
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if isHTTPURL(s) {
			return s, true
		}
	case []any:
		if len(v) > 0 {
			return findURL(v[0], depth+1)
		}
	case map[string]any:
		for _, key := range urlFields {
			if nested, ok := v[key]; ok {
				if url, ok := findURL(nested, depth+1); ok {
					return url, true
				}
			}
		}
	}
	return "", false
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
