// Package imagegen runs image generation across an ordered chain of
// providers, retrying rate-limited providers with linear backoff and failing
// over on anything else.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

const (
	DefaultRetryBudget = 3
	DefaultBaseDelay   = 5 * time.Second
)

// ErrAllProvidersExhausted is returned when no candidate produced an image.
var ErrAllProvidersExhausted = errors.New("all image providers exhausted")

// Attempt records one provider's share of a generation run.
type Attempt struct {
	Provider  string
	Model     string
	Attempts  int
	LastError error
}

// Result identifies the artifact and the provider that produced it.
type Result struct {
	URL         string
	Provider    string
	Model       string
	AspectRatio mediaproviders.AspectRatio
	Attempts    []Attempt
}

// ExhaustedError carries every attempt of a failed run.
type ExhaustedError struct {
	AspectRatio mediaproviders.AspectRatio
	Attempts    []Attempt
}

func (e *ExhaustedError) Error() string {
	if n := len(e.Attempts); n > 0 && e.Attempts[n-1].LastError != nil {
		return fmt.Sprintf("%s (%s): last error: %v", ErrAllProvidersExhausted, e.AspectRatio, e.Attempts[n-1].LastError)
	}
	return fmt.Sprintf("%s (%s)", ErrAllProvidersExhausted, e.AspectRatio)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllProvidersExhausted }

// Event is a narration hook for fallbacks and retries.
type Event struct {
	Provider string
	Model    string
	Attempt  int
	Delay    time.Duration
	Err      error
	Fallback bool // true when the coordinator gives up on Provider
}

// Coordinator tries a primary provider family in order and, if every member
// is exhausted, a secondary lower fidelity family.
type Coordinator struct {
	Primary     []mediaproviders.Adapter
	Secondary   []mediaproviders.Adapter
	RetryBudget int
	BaseDelay   time.Duration

	// Sleep waits between rate-limited attempts; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	logger zerolog.Logger
}

// NewCoordinator wires the provider families with the default retry policy.
func NewCoordinator(primary, secondary []mediaproviders.Adapter, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		Primary:     primary,
		Secondary:   secondary,
		RetryBudget: DefaultRetryBudget,
		BaseDelay:   DefaultBaseDelay,
		Sleep:       sleepContext,
		logger:      logger,
	}
}

// Configured reports whether any image provider is available.
func (c *Coordinator) Configured() bool {
	return len(c.Primary)+len(c.Secondary) > 0
}

// Generate returns an image URL plus the identity of the provider that made
// it, or an *ExhaustedError. notify may be nil.
func (c *Coordinator) Generate(ctx context.Context, req mediaproviders.Request, notify func(Event)) (*Result, error) {
	if notify == nil {
		notify = func(Event) {}
	}
	var attempts []Attempt
	for _, family := range [][]mediaproviders.Adapter{c.Primary, c.Secondary} {
		for _, provider := range family {
			attempt, url, err := c.tryProvider(ctx, provider, req, notify)
			attempts = append(attempts, attempt)
			if err == nil {
				c.logger.Info().
					Str("provider", provider.Name()).
					Str("model", provider.Model()).
					Str("aspect", string(req.AspectRatio)).
					Int("attempts", attempt.Attempts).
					Msg("imagegen: image generated")
				return &Result{
					URL:         url,
					Provider:    provider.Name(),
					Model:       provider.Model(),
					AspectRatio: req.AspectRatio,
					Attempts:    attempts,
				}, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			notify(Event{Provider: provider.Name(), Model: provider.Model(), Attempt: attempt.Attempts, Err: err, Fallback: true})
		}
	}
	return nil, &ExhaustedError{AspectRatio: req.AspectRatio, Attempts: attempts}
}

// tryProvider spends the retry budget only on rate limits; any other error
// ends this provider's turn immediately.
func (c *Coordinator) tryProvider(ctx context.Context, provider mediaproviders.Adapter, req mediaproviders.Request, notify func(Event)) (Attempt, string, error) {
	budget := c.RetryBudget
	if budget <= 0 {
		budget = 1
	}
	attempt := Attempt{Provider: provider.Name(), Model: provider.Model()}
	for i := 1; i <= budget; i++ {
		attempt.Attempts = i
		sub, err := provider.Submit(ctx, req)
		if err == nil && sub.URL == "" {
			err = &mediaproviders.Error{
				Kind:     mediaproviders.KindMalformedResponse,
				Provider: provider.Name(),
				Err:      errors.New("image provider returned no URL"),
			}
		}
		if err == nil {
			return attempt, sub.URL, nil
		}
		attempt.LastError = err

		log := c.logger.Warn().Err(err).
			Str("provider", provider.Name()).
			Str("model", provider.Model()).
			Int("attempt", i)
		if !mediaproviders.IsRateLimited(err) {
			log.Msg("imagegen: provider failed")
			return attempt, "", err
		}

		delay := time.Duration(i) * c.BaseDelay
		log.Dur("delay", delay).Msg("imagegen: rate limited, backing off")
		notify(Event{Provider: provider.Name(), Model: provider.Model(), Attempt: i, Delay: delay, Err: err})
		if err := c.Sleep(ctx, delay); err != nil {
			return attempt, "", err
		}
	}
	return attempt, "", attempt.LastError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
