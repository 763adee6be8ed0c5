package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/runner"
)

// JobType labels allocation jobs on the runner.
const JobType = "allocation"

// Allocator is the engine contract the dispatcher needs.
type Allocator interface {
	Allocate(ctx context.Context, req domain.AllocationRequest) (*domain.WorkerPoolEntry, error)
}

// Submitter queues background jobs.
type Submitter interface {
	Submit(ctx context.Context, job runner.Job) error
}

// Dispatcher runs allocations in the background.
type Dispatcher struct {
	allocator Allocator
	runner    Submitter
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(allocator Allocator, r Submitter, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		allocator: allocator,
		runner:    r,
		logger:    log.With(slog.String("component", "allocation_dispatcher")),
	}
}

// Dispatch queues an allocation for req. Manual requests are skipped.
// The request is validated up front so a bad request fails here instead of
// in the background. Queue saturation is returned to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.AllocationRequest) error {
	log := logger.FromContextOrDefault(ctx, d.logger)

	if req.IsManual() {
		log.Debug("manual assignment, skipping allocation",
			slog.String("tenant_id", req.TenantID),
			slog.String("task_id", req.TaskID))
		return nil
	}
	if err := req.Validate(); err != nil {
		return err
	}

	job := runner.NewFunc(JobType, func(jobCtx context.Context) error {
		entry, err := d.allocator.Allocate(jobCtx, req)
		if err != nil {
			return fmt.Errorf("allocate %s/%s: %w", req.TenantID, req.TaskID, err)
		}
		logger.FromContextOrDefault(jobCtx, d.logger).Debug("background allocation finished",
			slog.String("task_id", req.TaskID),
			slog.String("user_id", entry.UserID))
		return nil
	})

	if err := d.runner.Submit(ctx, job); err != nil {
		log.Warn("allocation not queued",
			slog.String("tenant_id", req.TenantID),
			slog.String("task_id", req.TaskID),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

// RoleForStatus returns the worker role a task in status is allocated to.
func RoleForStatus(status, defaultRole string) string {
	if status == domain.StatusAssignReview {
		return domain.RoleReviewer
	}
	if defaultRole == "" {
		return domain.RoleAnnotator
	}
	return defaultRole
}

// IsPermanent reports whether err from an allocation should not be retried
// by re-dispatching the same request.
func IsPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidAllocationRequest) ||
		errors.Is(err, ErrUnknownPolicy) ||
		errors.Is(err, ErrManualPolicy)
}
