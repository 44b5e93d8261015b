// Package scheduler is the process timer service: one-shot deferred callbacks
// for pollers and recurring cron-expression jobs for housekeeping.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// maxSleep caps the loop's wait so newly added jobs are picked up promptly.
const maxSleep = 10 * time.Second

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Service manages scheduled jobs.
type Service struct {
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	jobs     []*Job
	timers   map[string]*time.Timer
	running  bool
	stopChan chan struct{}
	done     chan struct{}
}

// NewService creates a scheduler. Jobs run only after Start.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logger,
		now:    time.Now,
		timers: map[string]*time.Timer{},
	}
}

// ValidateExpr reports whether expr parses as a five-field cron expression.
func ValidateExpr(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("parse cron expr %q: %w", expr, err)
	}
	return nil
}

func (s *Service) computeNextRun(expr string, now time.Time) time.Time {
	sched, err := parser.Parse(expr)
	if err != nil {
		s.logger.Error().Err(err).Str("expr", expr).Msg("scheduler: bad cron expression")
		return time.Time{}
	}
	return sched.Next(now)
}

// After runs fn once after d on its own goroutine. The returned function
// cancels it and reports whether it was still pending.
func (s *Service) After(d time.Duration, fn func()) func() bool {
	id := uuid.NewString()
	t := time.AfterFunc(d, func() {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Interface("panic", r).Msg("scheduler: deferred task panicked")
			}
		}()
		fn()
	})

	s.mu.Lock()
	s.timers[id] = t
	s.mu.Unlock()

	return func() bool {
		s.mu.Lock()
		delete(s.timers, id)
		s.mu.Unlock()
		return t.Stop()
	}
}

// Pending returns the number of one-shot callbacks not yet fired.
func (s *Service) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.timers)
}

// Start runs the recurring job loop until Stop or ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	now := s.now()
	for _, job := range s.jobs {
		if job.Enabled {
			job.State.NextRunAt = s.computeNextRun(job.Expr, now)
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	go s.loop(ctx)
	s.logger.Info().Int("jobs", count).Msg("scheduler: started")
}

// Stop ends the loop and cancels every pending one-shot callback.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	<-done
}

func (s *Service) nextWake() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next time.Time
	for _, job := range s.jobs {
		if !job.Enabled || job.State.NextRunAt.IsZero() {
			continue
		}
		if next.IsZero() || job.State.NextRunAt.Before(next) {
			next = job.State.NextRunAt
		}
	}
	return next
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)
	for {
		delay := maxSleep
		if wake := s.nextWake(); !wake.IsZero() {
			delay = wake.Sub(s.now())
			if delay < 0 {
				delay = 0
			}
			if delay > maxSleep {
				delay = maxSleep
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.processJobs(ctx)
		}
	}
}

func (s *Service) processJobs(ctx context.Context) {
	now := s.now()
	s.mu.RLock()
	var due []*Job
	for _, job := range s.jobs {
		if job.Enabled && !job.State.NextRunAt.IsZero() && !now.Before(job.State.NextRunAt) {
			due = append(due, job)
		}
	}
	s.mu.RUnlock()

	for _, job := range due {
		status, errText := s.executeJob(ctx, job)

		s.mu.Lock()
		job.State.LastStatus = status
		job.State.LastError = errText
		job.State.LastRunAt = now
		job.State.NextRunAt = s.computeNextRun(job.Expr, s.now())
		job.UpdatedAt = s.now()
		s.mu.Unlock()
	}
}

func (s *Service) executeJob(ctx context.Context, job *Job) (status, errText string) {
	s.logger.Debug().Str("job", job.Name).Str("id", job.ID).Msg("scheduler: executing job")
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("job", job.Name).Msg("scheduler: job panicked")
			status = "error"
			errText = fmt.Sprintf("panic: %v", r)
		}
	}()
	job.run(ctx)
	return "ok", ""
}

// ListJobs returns copies ordered by next run.
func (s *Service) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		a, b := jobs[i].State.NextRunAt, jobs[j].State.NextRunAt
		if a.IsZero() {
			return false
		}
		if b.IsZero() {
			return true
		}
		return a.Before(b)
	})
	return jobs
}

// AddJob registers a recurring job. The job runs on the scheduler loop, so
// long work should respect ctx.
func (s *Service) AddJob(name, expr string, run func(context.Context)) (Job, error) {
	if err := ValidateExpr(expr); err != nil {
		return Job{}, err
	}
	if run == nil {
		return Job{}, fmt.Errorf("job %q has no function", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	job := &Job{
		ID:        uuid.NewString()[:8],
		Name:      name,
		Expr:      expr,
		Enabled:   true,
		State:     JobState{NextRunAt: s.computeNextRun(expr, now)},
		CreatedAt: now,
		UpdatedAt: now,
		run:       run,
	}
	s.jobs = append(s.jobs, job)
	return *job, nil
}

// RemoveJob deletes a recurring job by id.
func (s *Service) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == jobID {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}
