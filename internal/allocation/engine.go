package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/metrics"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/store"
)

// Directory lists the workers holding a role in a tenant.
type Directory interface {
	ListMembers(ctx context.Context, tenantID, role string) ([]string, error)
}

// TaskAssigner records the worker a task was allocated to.
type TaskAssigner interface {
	SetAllocatedTo(ctx context.Context, tenantID, externalID, userID string) error
}

// Engine allocates tasks: it selects a worker, bootstraps the pool from the
// directory when selection finds nobody, retries once and records the
// winner on the task.
//
// The pool update and the task update are separate writes. A failure
// between them leaves the worker's count incremented without the task
// showing the assignment; reallocating the task repairs it.
type Engine struct {
	registry    *Registry
	allocations store.AllocationStore
	tasks       TaskAssigner
	directory   Directory
	logger      *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(
	registry *Registry,
	allocations store.AllocationStore,
	tasks TaskAssigner,
	directory Directory,
	log *slog.Logger,
) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		registry:    registry,
		allocations: allocations,
		tasks:       tasks,
		directory:   directory,
		logger:      log.With(slog.String("component", "allocation_engine")),
	}
}

// Allocate assigns req's task to a worker and returns the worker's updated
// pool entry. It fails with ErrNoEligibleWorker when no worker could be found
// after one bootstrap and retry; the caller has to re-drive allocation.
func (e *Engine) Allocate(ctx context.Context, req domain.AllocationRequest) (*domain.WorkerPoolEntry, error) {
	if err := req.Validate(); err != nil {
		metrics.RecordAllocation(req.Assignment, metrics.OutcomeInvalid)
		return nil, err
	}

	strategy, err := e.registry.Resolve(req.Assignment)
	if err != nil {
		metrics.RecordAllocation(req.Assignment, metrics.OutcomeInvalid)
		return nil, err
	}

	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("strategy", strategy.Name()),
		slog.String("tenant_id", req.TenantID),
		slog.String("role", req.Role),
		slog.String("task_id", req.TaskID),
	)
	ctx = logger.WithLogger(ctx, log)

	start := time.Now()
	defer func() {
		metrics.ObserveAllocationDuration(strategy.Name(), time.Since(start).Seconds())
	}()

	entry, err := Allocate(ctx, strategy, req, log)
	if errors.Is(err, ErrNoEligibleWorker) {
		log.Info("pool empty or exhausted, bootstrapping from directory")
		if err := e.bootstrap(ctx, req); err != nil {
			metrics.RecordAllocation(strategy.Name(), metrics.OutcomeError)
			return nil, err
		}
		entry, err = Allocate(ctx, strategy, req, log)
		if errors.Is(err, ErrNoEligibleWorker) {
			err = e.describePool(ctx, req, err)
		}
	}
	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(err, ErrNoEligibleWorker) {
			outcome = metrics.OutcomeNoWorker
		}
		metrics.RecordAllocation(strategy.Name(), outcome)
		return nil, err
	}

	if err := e.tasks.SetAllocatedTo(ctx, req.TenantID, req.TaskID, entry.UserID); err != nil {
		log.Error("worker selected but task not updated",
			slog.String("user_id", entry.UserID),
			slog.String("error", err.Error()))
		metrics.RecordAllocation(strategy.Name(), metrics.OutcomeError)
		return nil, fmt.Errorf("failed to record allocation of %s to %s: %w", req.TaskID, entry.UserID, err)
	}

	metrics.RecordAllocation(strategy.Name(), metrics.OutcomeAllocated)
	return entry, nil
}

// describePool logs the pool that produced no worker and adds its size to err.
func (e *Engine) describePool(ctx context.Context, req domain.AllocationRequest, err error) error {
	log := logger.FromContextOrDefault(ctx, e.logger)

	workers, listErr := e.allocations.ListWorkers(ctx, req.TenantID, req.Role)
	if listErr != nil {
		log.Error("no worker available after bootstrap",
			slog.String("pool_error", listErr.Error()))
		return err
	}
	active := 0
	for _, w := range workers {
		if w.IsActive {
			active++
		}
	}
	log.Error("no worker available after bootstrap",
		slog.Int("pool_size", len(workers)),
		slog.Int("active", active))
	return fmt.Errorf("%w (pool %s/%s: %d workers, %d active)", err, req.TenantID, req.Role, len(workers), active)
}

func (e *Engine) bootstrap(ctx context.Context, req domain.AllocationRequest) error {
	log := logger.FromContextOrDefault(ctx, e.logger)

	members, err := e.directory.ListMembers(ctx, req.TenantID, req.Role)
	if err != nil {
		log.Error("failed to list pool members", slog.String("error", err.Error()))
		return fmt.Errorf("failed to list members of %s/%s: %w", req.TenantID, req.Role, err)
	}

	inserted, err := e.allocations.BootstrapWorkers(ctx, req.TenantID, req.Role, members)
	if err != nil {
		return fmt.Errorf("failed to bootstrap pool %s/%s: %w", req.TenantID, req.Role, err)
	}
	metrics.RecordBootstrap(req.Role, inserted)

	log.Info("pool bootstrapped",
		slog.Int("members", len(members)),
		slog.Int("inserted", inserted))
	return nil
}
