package utils

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var mediaClient = &http.Client{Timeout: 2 * time.Minute}

// GetMediaReader returns a ReadCloser for the media, and its filename.
// The caller is responsible for closing the reader.
func GetMediaReader(ctx context.Context, pathOrURL string) (io.ReadCloser, string, error) {
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pathOrURL, nil)
		if err != nil {
			return nil, "", err
		}
		resp, err := mediaClient.Do(req)
		if err != nil {
			return nil, "", err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("failed to download media: %s", resp.Status)
		}
		return resp.Body, MediaFilename(pathOrURL), nil
	}

	f, err := os.Open(pathOrURL)
	if err != nil {
		return nil, "", err
	}
	return f, filepath.Base(pathOrURL), nil
}

// MediaFilename derives a file name from a path or URL, dropping any query.
func MediaFilename(pathOrURL string) string {
	filename := filepath.Base(pathOrURL)
	if idx := strings.Index(filename, "?"); idx != -1 {
		filename = filename[:idx]
	}
	if filename == "" || filename == "." || filename == "/" {
		filename = "downloaded_media"
	}
	return filename
}
