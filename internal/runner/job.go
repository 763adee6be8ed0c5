package runner

import (
	"context"

	"github.com/google/uuid"
)

// Job is a unit of background work.
type Job interface {
	// ID identifies this job instance in logs.
	ID() uuid.UUID

	// Type names the kind of job, used as a metrics label.
	Type() string

	// Execute runs the job.
	Execute(ctx context.Context) error
}

// Func adapts a function into a Job.
type Func struct {
	id      uuid.UUID
	jobType string
	fn      func(ctx context.Context) error
}

// NewFunc returns a Job of jobType that runs fn.
func NewFunc(jobType string, fn func(ctx context.Context) error) *Func {
	return &Func{id: uuid.New(), jobType: jobType, fn: fn}
}

// ID implements Job.
func (f *Func) ID() uuid.UUID { return f.id }

// Type implements Job.
func (f *Func) Type() string { return f.jobType }

// Execute implements Job.
func (f *Func) Execute(ctx context.Context) error { return f.fn(ctx) }
