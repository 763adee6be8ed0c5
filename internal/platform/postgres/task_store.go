package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/store"
)

// PostgresTaskStore implements store.TaskStore using PostgreSQL.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTaskStore creates a PostgresTaskStore. If logger is nil the
// default logger is used.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

const taskColumns = `id, external_id, tenant_id, org, status, owner, allocated_to, task_details,
	created_by, updated_by, created_at, updated_at, deleted_at, parent_external_id, source_entry`

// Create implements store.TaskStore.Create.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if err := task.Validate(); err != nil {
		return err
	}

	details, err := json.Marshal(task.Details)
	if err != nil {
		return fmt.Errorf("failed to encode task details: %w", err)
	}

	query := `
		INSERT INTO tasks (` + taskColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.db.ExecContext(ctx, query,
		task.ID,
		task.ExternalID,
		task.TenantID,
		task.Org,
		task.Status,
		nullString(task.Owner),
		task.AllocatedTo,
		details,
		task.CreatedBy,
		task.UpdatedBy,
		task.CreatedAt,
		task.UpdatedAt,
		task.DeletedAt,
		task.ParentExternalID,
		task.SourceEntry,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			log.Debug("task already exists",
				slog.String("tenant_id", task.TenantID),
				slog.String("external_id", task.ExternalID))
			return fmt.Errorf("%w: %s", store.ErrTaskExists, task.ExternalID)
		}
		log.Error("failed to create task",
			slog.String("error", err.Error()),
			slog.String("tenant_id", task.TenantID),
			slog.String("external_id", task.ExternalID))
		return MapError(err)
	}

	log.Debug("task created",
		slog.String("tenant_id", task.TenantID),
		slog.String("external_id", task.ExternalID))
	return nil
}

// GetByExternalID implements store.TaskStore.GetByExternalID.
func (s *PostgresTaskStore) GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE tenant_id = $1 AND external_id = $2 AND deleted_at IS NULL
	`
	return s.getOne(ctx, externalID, query, tenantID, externalID)
}

// FindChild implements store.TaskStore.FindChild. Soft-deleted children are
// returned too; their entry still counts as expanded.
func (s *PostgresTaskStore) FindChild(ctx context.Context, tenantID, parentExternalID, entry string) (*domain.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE tenant_id = $1 AND parent_external_id = $2 AND source_entry = $3
	`
	return s.getOne(ctx, parentExternalID+"/"+entry, query, tenantID, parentExternalID, entry)
}

func (s *PostgresTaskStore) getOne(ctx context.Context, ref, query string, args ...any) (*domain.Task, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var (
		task    domain.Task
		owner   sql.NullString
		details []byte
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&task.ID,
		&task.ExternalID,
		&task.TenantID,
		&task.Org,
		&task.Status,
		&owner,
		&task.AllocatedTo,
		&details,
		&task.CreatedBy,
		&task.UpdatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
		&task.DeletedAt,
		&task.ParentExternalID,
		&task.SourceEntry,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, ref)
		}
		log.Error("failed to get task",
			slog.String("error", err.Error()),
			slog.String("ref", ref))
		return nil, MapError(err)
	}

	task.Owner = owner.String
	if len(details) > 0 {
		if err := json.Unmarshal(details, &task.Details); err != nil {
			return nil, fmt.Errorf("failed to decode task details for %s: %w", ref, err)
		}
	}
	return &task, nil
}

// SetAllocatedTo implements store.TaskStore.SetAllocatedTo.
func (s *PostgresTaskStore) SetAllocatedTo(ctx context.Context, tenantID, externalID, userID string) error {
	query := `
		UPDATE tasks
		SET allocated_to = $3, updated_at = $4
		WHERE tenant_id = $1 AND external_id = $2 AND deleted_at IS NULL
	`
	return s.update(ctx, "set allocated_to", tenantID, externalID, query, userID, time.Now().UTC())
}

// UpdateStatus implements store.TaskStore.UpdateStatus.
func (s *PostgresTaskStore) UpdateStatus(ctx context.Context, tenantID, externalID, status, updatedBy string) error {
	query := `
		UPDATE tasks
		SET status = $3, updated_by = $4, updated_at = $5
		WHERE tenant_id = $1 AND external_id = $2 AND deleted_at IS NULL
	`
	return s.update(ctx, "update status", tenantID, externalID, query, status, updatedBy, time.Now().UTC())
}

// UpdateDetails implements store.TaskStore.UpdateDetails.
func (s *PostgresTaskStore) UpdateDetails(
	ctx context.Context,
	tenantID, externalID string,
	details domain.TaskDetails,
	updatedBy string,
) error {
	encoded, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode task details: %w", err)
	}
	query := `
		UPDATE tasks
		SET task_details = $3, updated_by = $4, updated_at = $5
		WHERE tenant_id = $1 AND external_id = $2 AND deleted_at IS NULL
	`
	return s.update(ctx, "update details", tenantID, externalID, query, encoded, updatedBy, time.Now().UTC())
}

// IncrementChildCount implements store.TaskStore.IncrementChildCount.
// The increment happens inside the UPDATE so concurrent expansions of the
// same parent never lose counts.
func (s *PostgresTaskStore) IncrementChildCount(ctx context.Context, tenantID, externalID string, delta int) error {
	if delta <= 0 {
		return nil
	}
	query := `
		UPDATE tasks
		SET task_details = jsonb_set(
				task_details,
				'{child_task_count}',
				to_jsonb(COALESCE((task_details->>'child_task_count')::int, 0) + $3::int),
				true),
			updated_at = $4
		WHERE tenant_id = $1 AND external_id = $2 AND deleted_at IS NULL
	`
	return s.update(ctx, "increment child count", tenantID, externalID, query, delta, time.Now().UTC())
}

// CreateChild implements store.TaskStore.CreateChild. On a store opened on a
// *sql.DB both writes run in their own transaction; a store already bound to
// a transaction writes into it.
func (s *PostgresTaskStore) CreateChild(ctx context.Context, child *domain.Task) error {
	if !child.IsChild() {
		return fmt.Errorf("%w: parent_external_id is required", domain.ErrValidation)
	}

	db, ok := s.db.(*sql.DB)
	if !ok {
		return createChild(ctx, s, child)
	}
	return store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		return createChild(ctx, s.WithTx(tx), child)
	})
}

func createChild(ctx context.Context, tasks store.TaskStore, child *domain.Task) error {
	if err := tasks.Create(ctx, child); err != nil {
		return err
	}
	return tasks.IncrementChildCount(ctx, child.TenantID, *child.ParentExternalID, 1)
}

// WithTx implements store.TaskStore.WithTx.
func (s *PostgresTaskStore) WithTx(tx *sql.Tx) store.TaskStore {
	return &PostgresTaskStore{db: tx, logger: s.logger}
}

func (s *PostgresTaskStore) update(
	ctx context.Context,
	op, tenantID, externalID, query string,
	args ...any,
) error {
	log := logger.FromContextOrDefault(ctx, s.logger)

	result, err := s.db.ExecContext(ctx, query, append([]any{tenantID, externalID}, args...)...)
	if err != nil {
		log.Error("task update failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
			slog.String("tenant_id", tenantID),
			slog.String("external_id", externalID))
		return store.NewStoreError("task", op, "update failed", MapError(err))
	}
	if err := CheckRowsAffected(result, fmt.Errorf("%w: %s", store.ErrTaskNotFound, externalID)); err != nil {
		return err
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
