// Package poller owns the lifecycle of asynchronous provider tasks: a grace
// delay, a fixed poll interval and a bounded number of attempts per handle.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/atuona/mediabot/pkg/mediaproviders"
)

// DefaultCallTimeout bounds a single status request.
const DefaultCallTimeout = 30 * time.Second

var (
	// ErrPollTimeout marks exhaustion without a terminal state. The task is
	// still pending, not failed.
	ErrPollTimeout = errors.New("poll attempts exhausted without a terminal state")
	// ErrAlreadyActive is returned when a handle is registered twice.
	ErrAlreadyActive = errors.New("task handle already being polled")
)

// TimeoutError carries the handle so callers can check the task later.
type TimeoutError struct {
	Provider string
	Handle   string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s task %s after %d attempts", ErrPollTimeout, e.Provider, e.Handle, e.Attempts)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrPollTimeout }

// Timer schedules fn once after d and returns a cancel function.
// scheduler.Service satisfies it.
type Timer interface {
	After(d time.Duration, fn func()) func() bool
}

// Task is one asynchronous job to watch.
type Task struct {
	Key     string // content id, for logging and callbacks
	Handle  string
	Adapter mediaproviders.AsyncAdapter
	// Policy overrides the adapter's bounds when MaxAttempts > 0.
	Policy mediaproviders.PollPolicy
}

// Outcome is delivered exactly once per registered task.
type Outcome struct {
	Key      string
	Handle   string
	Provider string
	Model    string
	Status   mediaproviders.TaskStatus
	Attempts int
	// Err is a *TimeoutError on exhaustion, or the context error if polling
	// was abandoned. Nil for terminal results.
	Err error
}

// TimedOut reports a pending-check-manually outcome.
func (o Outcome) TimedOut() bool { return errors.Is(o.Err, ErrPollTimeout) }

type run struct {
	ctx      context.Context
	task     Task
	policy   mediaproviders.PollPolicy
	attempts int
	last     mediaproviders.TaskStatus
	cancel   func() bool
	done     func(Outcome)
}

// Poller runs a small state machine per handle on top of a Timer. No
// goroutine is held between polls.
type Poller struct {
	timer       Timer
	logger      zerolog.Logger
	CallTimeout time.Duration

	mu     sync.Mutex
	active map[string]*run
}

// New creates a poller.
func New(timer Timer, logger zerolog.Logger) *Poller {
	return &Poller{
		timer:       timer,
		logger:      logger,
		CallTimeout: DefaultCallTimeout,
		active:      map[string]*run{},
	}
}

// Register schedules the first poll after the grace delay. done receives the
// terminal, timeout or abandonment outcome.
func (p *Poller) Register(ctx context.Context, task Task, done func(Outcome)) error {
	if task.Handle == "" || task.Adapter == nil {
		return fmt.Errorf("register poll task: handle and adapter are required")
	}
	policy := task.Policy
	if policy.MaxAttempts <= 0 {
		policy = task.Adapter.PollPolicy()
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	r := &run{ctx: ctx, task: task, policy: policy, done: done}

	p.mu.Lock()
	if _, ok := p.active[task.Handle]; ok {
		p.mu.Unlock()
		return ErrAlreadyActive
	}
	p.active[task.Handle] = r
	p.mu.Unlock()

	p.logger.Info().
		Str("content_id", task.Key).
		Str("provider", task.Adapter.Name()).
		Str("task", task.Handle).
		Dur("grace", policy.Grace).
		Dur("interval", policy.Interval).
		Int("max_attempts", policy.MaxAttempts).
		Msg("poller: task registered")
	p.schedule(r, policy.Grace)
	return nil
}

// Active reports whether handle has a scheduled poll.
func (p *Poller) Active(handle string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[handle]
	return ok
}

// Len returns the number of tasks being polled.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Cancel stops polling handle without delivering an outcome. Provider-side
// work is not cancelled.
func (p *Poller) Cancel(handle string) bool {
	p.mu.Lock()
	r, ok := p.active[handle]
	var cancel func() bool
	if ok {
		cancel = r.cancel
		delete(p.active, handle)
	}
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return ok
}

// Stop cancels every outstanding task.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancels := make([]func() bool, 0, len(p.active))
	for _, r := range p.active {
		if r.cancel != nil {
			cancels = append(cancels, r.cancel)
		}
	}
	p.active = map[string]*run{}
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (p *Poller) schedule(r *run, d time.Duration) {
	cancel := p.timer.After(d, func() { p.tick(r) })
	p.mu.Lock()
	r.cancel = cancel
	p.mu.Unlock()
}

func (p *Poller) tick(r *run) {
	p.mu.Lock()
	current, ok := p.active[r.task.Handle]
	p.mu.Unlock()
	if !ok || current != r {
		return
	}

	if err := r.ctx.Err(); err != nil {
		p.finish(r, Outcome{Status: r.last, Err: err})
		return
	}

	r.attempts++
	log := p.logger.With().
		Str("content_id", r.task.Key).
		Str("provider", r.task.Adapter.Name()).
		Str("task", r.task.Handle).
		Int("attempt", r.attempts).
		Logger()

	callCtx, cancel := context.WithTimeout(r.ctx, p.CallTimeout)
	status, err := r.task.Adapter.Poll(callCtx, r.task.Handle)
	cancel()

	if err != nil {
		// A failed status call spends an attempt; the task may still be running.
		log.Warn().Err(err).Msg("poller: status check failed")
	} else {
		if status.State == mediaproviders.TaskCompleted && status.URL == "" {
			status = mediaproviders.TaskStatus{
				State:         mediaproviders.TaskFailed,
				FailureReason: "task completed without an artifact URL",
			}
		}
		r.last = status
		if status.State.Terminal() {
			log.Info().Str("state", string(status.State)).Msg("poller: task reached terminal state")
			p.finish(r, Outcome{Status: status})
			return
		}
		log.Debug().Str("state", string(status.State)).Msg("poller: still processing")
	}

	if r.attempts >= r.policy.MaxAttempts {
		log.Warn().Msg("poller: attempts exhausted, task left pending")
		p.finish(r, Outcome{
			Status: r.last,
			Err: &TimeoutError{
				Provider: r.task.Adapter.Name(),
				Handle:   r.task.Handle,
				Attempts: r.attempts,
			},
		})
		return
	}
	p.schedule(r, r.policy.Interval)
}

func (p *Poller) finish(r *run, out Outcome) {
	p.mu.Lock()
	if p.active[r.task.Handle] == r {
		delete(p.active, r.task.Handle)
	}
	p.mu.Unlock()

	out.Key = r.task.Key
	out.Handle = r.task.Handle
	out.Provider = r.task.Adapter.Name()
	out.Model = r.task.Adapter.Model()
	out.Attempts = r.attempts
	if r.done != nil {
		r.done(out)
	}
}
