package store

import (
	"context"

	"github.com/phrazzld/labelling-task/internal/domain"
)

// Selection identifies the pool a selection runs against and the task being
// assigned.
type Selection struct {
	TenantID string
	Role     string
	TaskID   string
}

// AllocationStore holds per-worker allocation counters. Every Select method
// is a single atomic update-and-fetch: it picks at most one active worker in
// the (tenant, role) pool, increments its active task count, stamps it and
// returns the updated entry. A nil entry with a nil error means no worker
// matched.
type AllocationStore interface {
	// SelectOldestAssigned picks the worker with the oldest last assignment,
	// never-assigned workers first, ties broken by user id.
	SelectOldestAssigned(ctx context.Context, sel Selection) (*domain.WorkerPoolEntry, error)

	// SelectLeastLoaded picks the worker with the lowest active task count,
	// then the oldest last assignment, then user id.
	SelectLeastLoaded(ctx context.Context, sel Selection) (*domain.WorkerPoolEntry, error)

	// SelectLastAssignee picks the worker whose last task is sel.TaskID.
	SelectLastAssignee(ctx context.Context, sel Selection) (*domain.WorkerPoolEntry, error)

	// BootstrapWorkers inserts an active, zero-count entry for every user not
	// already in the pool. Existing entries are left untouched.
	BootstrapWorkers(ctx context.Context, tenantID, role string, userIDs []string) (int, error)

	// ListWorkers returns the pool ordered by user id.
	ListWorkers(ctx context.Context, tenantID, role string) ([]domain.WorkerPoolEntry, error)
}
