package mediaproviders

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies adapter failures so coordinators can apply one policy
// to every backend.
type ErrorKind string

const (
	KindRateLimited       ErrorKind = "rate_limited"
	KindProviderFailure   ErrorKind = "provider_error"
	KindMalformedResponse ErrorKind = "malformed_response"
)

var (
	ErrRateLimited       = errors.New("rate limited")
	ErrProviderFailure   = errors.New("provider error")
	ErrMalformedResponse = errors.New("malformed response")
)

// Error is the classified error every adapter returns.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, msg, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrProviderFailure:
		// malformed responses are handled as provider errors
		return e.Kind == KindProviderFailure || e.Kind == KindMalformedResponse
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	}
	return false
}

func rateLimited(provider string, status int, err error) *Error {
	return &Error{Kind: KindRateLimited, Provider: provider, StatusCode: status, Err: err}
}

func providerFailure(provider string, status int, err error) *Error {
	return &Error{Kind: KindProviderFailure, Provider: provider, StatusCode: status, Err: err}
}

func malformed(provider string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Provider: provider, Err: err}
}

// IsRateLimited reports whether err is a transient rate-limit failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Classify converts an arbitrary error into a classified *Error. Already
// classified errors pass through; anything else is a provider failure unless
// its text says otherwise.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	if looksRateLimited(err.Error()) {
		return rateLimited(provider, 0, err)
	}
	return providerFailure(provider, 0, err)
}

func classifyStatus(provider string, status int, body []byte) *Error {
	text := strings.TrimSpace(string(body))
	if len(text) > 300 {
		text = text[:300]
	}
	err := fmt.Errorf("API error: %s", text)
	if status == http.StatusTooManyRequests || looksRateLimited(text) {
		return rateLimited(provider, status, err)
	}
	return providerFailure(provider, status, err)
}

func looksRateLimited(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "throttled")
}
