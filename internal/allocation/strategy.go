package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/store"
)

// ErrNoEligibleWorker is returned when a selection matched no active worker.
// It means the pool is empty or exhausted, not that the request was invalid.
var ErrNoEligibleWorker = errors.New("no eligible worker")

// Strategy selects one worker for a request in a single atomic store call.
// Select returns a nil entry and nil error when no worker matched.
type Strategy interface {
	Name() string
	Select(ctx context.Context, req domain.AllocationRequest) (*domain.WorkerPoolEntry, error)
}

func selection(req domain.AllocationRequest) store.Selection {
	return store.Selection{TenantID: req.TenantID, Role: req.Role, TaskID: req.TaskID}
}

// RoundRobin picks the worker assigned longest ago.
type RoundRobin struct {
	store store.AllocationStore
}

// NewRoundRobin creates a RoundRobin strategy.
func NewRoundRobin(s store.AllocationStore) RoundRobin {
	return RoundRobin{store: s}
}

// Name implements Strategy.
func (RoundRobin) Name() string { return domain.PolicyRoundRobin }

// Select implements Strategy.
func (s RoundRobin) Select(ctx context.Context, req domain.AllocationRequest) (*domain.WorkerPoolEntry, error) {
	return s.store.SelectOldestAssigned(ctx, selection(req))
}

// LeastLoaded picks the worker with the fewest active tasks.
type LeastLoaded struct {
	store store.AllocationStore
}

// NewLeastLoaded creates a LeastLoaded strategy.
func NewLeastLoaded(s store.AllocationStore) LeastLoaded {
	return LeastLoaded{store: s}
}

// Name implements Strategy.
func (LeastLoaded) Name() string { return domain.PolicyLeastLoaded }

// Select implements Strategy.
func (s LeastLoaded) Select(ctx context.Context, req domain.AllocationRequest) (*domain.WorkerPoolEntry, error) {
	return s.store.SelectLeastLoaded(ctx, selection(req))
}

// LastAssigned keeps a task with the worker it was last given to and
// falls back to least-loaded selection when that worker is gone.
type LastAssigned struct {
	store    store.AllocationStore
	fallback LeastLoaded
}

// NewLastAssigned creates a LastAssigned strategy delegating to fallback.
func NewLastAssigned(s store.AllocationStore, fallback LeastLoaded) LastAssigned {
	return LastAssigned{store: s, fallback: fallback}
}

// Name implements Strategy.
func (LastAssigned) Name() string { return domain.PolicyLastAssigned }

// Select implements Strategy.
func (s LastAssigned) Select(ctx context.Context, req domain.AllocationRequest) (*domain.WorkerPoolEntry, error) {
	entry, err := s.store.SelectLastAssignee(ctx, selection(req))
	if err != nil || entry != nil {
		return entry, err
	}
	logger.FromContext(ctx).Debug("no previous assignee, falling back",
		slog.String("task_id", req.TaskID),
		slog.String("fallback", s.fallback.Name()))
	return s.fallback.Select(ctx, req)
}

// Allocate validates req and runs one selection with strategy.
// It returns domain.ErrInvalidAllocationRequest without touching the store
// when req is incomplete, and ErrNoEligibleWorker when nothing matched.
func Allocate(
	ctx context.Context,
	strategy Strategy,
	req domain.AllocationRequest,
	log *slog.Logger,
) (*domain.WorkerPoolEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log = logger.FromContextOrDefault(ctx, log)

	entry, err := strategy.Select(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s selection failed: %w", strategy.Name(), err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: tenant %s role %s", ErrNoEligibleWorker, req.TenantID, req.Role)
	}

	log.Info("worker selected",
		slog.String("strategy", strategy.Name()),
		slog.String("tenant_id", req.TenantID),
		slog.String("role", req.Role),
		slog.String("task_id", req.TaskID),
		slog.String("user_id", entry.UserID),
		slog.Int("active_task_count", entry.ActiveTaskCount))
	return entry, nil
}
