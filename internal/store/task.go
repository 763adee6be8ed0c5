package store

import (
	"context"
	"database/sql"

	"github.com/phrazzld/labelling-task/internal/domain"
)

// TaskStore persists tasks. Tasks are addressed by tenant and external id.
type TaskStore interface {
	// Create inserts a new task. Returns ErrTaskExists when the tenant already
	// has a task with the same external id.
	Create(ctx context.Context, task *domain.Task) error

	// GetByExternalID returns a live (not soft-deleted) task.
	// Returns ErrTaskNotFound if there is none.
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.Task, error)

	// FindChild returns the child of parentExternalID that was expanded from
	// the archive entry. Returns ErrTaskNotFound if there is none.
	FindChild(ctx context.Context, tenantID, parentExternalID, entry string) (*domain.Task, error)

	// CreateChild inserts child and adds one to its parent's child count
	// atomically. Returns ErrTaskExists, and changes nothing, when the child's
	// external id or source entry is already taken.
	CreateChild(ctx context.Context, child *domain.Task) error

	// SetAllocatedTo records the worker a task was assigned to.
	SetAllocatedTo(ctx context.Context, tenantID, externalID, userID string) error

	// UpdateStatus changes a task's status and records who changed it.
	UpdateStatus(ctx context.Context, tenantID, externalID, status, updatedBy string) error

	// UpdateDetails replaces a task's details blob.
	UpdateDetails(ctx context.Context, tenantID, externalID string, details domain.TaskDetails, updatedBy string) error

	// IncrementChildCount atomically adds delta to the task's
	// task_details.child_task_count.
	IncrementChildCount(ctx context.Context, tenantID, externalID string, delta int) error

	// WithTx returns a TaskStore bound to tx.
	WithTx(tx *sql.Tx) TaskStore
}
