package scheduler

import (
	"context"
	"time"
)

// JobState runtime state.
type JobState struct {
	NextRunAt  time.Time `json:"nextRunAt,omitempty"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"` // ok, error
	LastError  string    `json:"lastError,omitempty"`
}

// Job is a recurring job driven by a five-field cron expression.
type Job struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Expr      string    `json:"expr"`
	Enabled   bool      `json:"enabled"`
	State     JobState  `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	run func(context.Context)
}
