// Package videogen submits image-to-video work to an ordered list of
// providers. Synchronous providers return the video; asynchronous ones return
// a task handle that is handed to the poller.
package videogen

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

// ProviderNone is the provider name reported when nothing was attempted or
// everything failed.
const ProviderNone = "none"

var (
	// ErrNoProvider means no video provider is configured, so nothing was tried.
	ErrNoProvider = errors.New("no video provider configured")
	// ErrAllProvidersExhausted means every configured provider was tried and failed.
	ErrAllProvidersExhausted = errors.New("all video providers exhausted")
)

// OutcomeKind distinguishes the ways a video stage can end.
type OutcomeKind string

const (
	OutcomeCompleted    OutcomeKind = "completed"
	OutcomeSubmitted    OutcomeKind = "submitted"
	OutcomeFailed       OutcomeKind = "failed"
	OutcomeNotAttempted OutcomeKind = "not_attempted"
)

// Outcome is the result of one video stage.
type Outcome struct {
	Success    bool
	Kind       OutcomeKind
	Provider   string
	Model      string
	URL        string
	TaskHandle string
	// Adapter is set for submitted outcomes so the caller can register polling.
	Adapter mediaproviders.AsyncAdapter
	Err     error
}

// Fallback is narrated each time a provider fails and the next one is tried.
type Fallback struct {
	Provider string
	Next     string
	Err      error
}

// Coordinator walks video providers in priority order.
type Coordinator struct {
	Providers []mediaproviders.Adapter
	logger    zerolog.Logger
}

// NewCoordinator creates a video coordinator.
func NewCoordinator(providers []mediaproviders.Adapter, logger zerolog.Logger) *Coordinator {
	return &Coordinator{Providers: providers, logger: logger}
}

// Generate never blocks on an asynchronous provider: a returned task handle
// ends the stage with OutcomeSubmitted. onAttempt and onFallback may be nil.
func (c *Coordinator) Generate(ctx context.Context, req mediaproviders.Request, onAttempt func(provider, model string), onFallback func(Fallback)) Outcome {
	if len(c.Providers) == 0 {
		return Outcome{Kind: OutcomeNotAttempted, Provider: ProviderNone, Err: ErrNoProvider}
	}
	if onAttempt == nil {
		onAttempt = func(string, string) {}
	}
	if onFallback == nil {
		onFallback = func(Fallback) {}
	}

	var lastErr error
	for i, provider := range c.Providers {
		onAttempt(provider.Name(), provider.Model())
		outcome, err := c.submit(ctx, provider, req)
		if err == nil {
			return outcome
		}
		lastErr = err
		c.logger.Warn().Err(err).
			Str("provider", provider.Name()).
			Str("model", provider.Model()).
			Msg("videogen: provider failed")
		if ctx.Err() != nil {
			break
		}
		next := ProviderNone
		if i+1 < len(c.Providers) {
			next = c.Providers[i+1].Name()
		}
		onFallback(Fallback{Provider: provider.Name(), Next: next, Err: err})
	}
	return Outcome{
		Kind:     OutcomeFailed,
		Provider: ProviderNone,
		Err:      fmt.Errorf("%w: last error: %v", ErrAllProvidersExhausted, lastErr),
	}
}

func (c *Coordinator) submit(ctx context.Context, provider mediaproviders.Adapter, req mediaproviders.Request) (Outcome, error) {
	sub, err := provider.Submit(ctx, req)
	if err != nil {
		return Outcome{}, err
	}

	switch provider.Mode() {
	case mediaproviders.Asynchronous:
		async, ok := provider.(mediaproviders.AsyncAdapter)
		if !ok {
			return Outcome{}, fmt.Errorf("%s declares asynchronous completion but cannot be polled", provider.Name())
		}
		if sub.TaskHandle == "" {
			return Outcome{}, &mediaproviders.Error{
				Kind:     mediaproviders.KindMalformedResponse,
				Provider: provider.Name(),
				Err:      errors.New("asynchronous provider returned no task handle"),
			}
		}
		c.logger.Info().
			Str("provider", provider.Name()).
			Str("task", sub.TaskHandle).
			Msg("videogen: task submitted")
		return Outcome{
			Success:    true,
			Kind:       OutcomeSubmitted,
			Provider:   provider.Name(),
			Model:      provider.Model(),
			TaskHandle: sub.TaskHandle,
			Adapter:    async,
		}, nil
	default:
		if sub.URL == "" {
			return Outcome{}, &mediaproviders.Error{
				Kind:     mediaproviders.KindMalformedResponse,
				Provider: provider.Name(),
				Err:      errors.New("synchronous provider returned no URL"),
			}
		}
		return Outcome{
			Success:  true,
			Kind:     OutcomeCompleted,
			Provider: provider.Name(),
			Model:    provider.Model(),
			URL:      sub.URL,
		}, nil
	}
}
