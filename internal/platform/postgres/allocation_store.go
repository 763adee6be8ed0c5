package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/store"
)

// PostgresAllocationStore implements store.AllocationStore on the
// allocation_stats table.
//
// Each selection is a single UPDATE whose target row is chosen by a sub-select
// locked with FOR UPDATE. A concurrent caller blocks on the locked row and
// re-reads it once the first transaction commits, so a busy pool is never
// reported as empty. Under contention the re-read row may no longer be the
// best candidate; it is still an eligible one.
type PostgresAllocationStore struct {
	db     store.DBTX
	logger *slog.Logger
	now    func() time.Time
}

// NewPostgresAllocationStore creates a PostgresAllocationStore.
func NewPostgresAllocationStore(db store.DBTX, logger *slog.Logger) *PostgresAllocationStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresAllocationStore{
		db:     db,
		logger: logger.With(slog.String("component", "allocation_store")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

var _ store.AllocationStore = (*PostgresAllocationStore)(nil)

const allocationReturning = `RETURNING tenant_id, role, user_id, is_active, active_task_count, last_assigned_at, last_task_id`

const selectOldestAssignedQuery = `
	UPDATE allocation_stats
	SET active_task_count = active_task_count + 1,
		last_assigned_at = $4,
		last_task_id = $3
	WHERE (tenant_id, role, user_id) = (
		SELECT tenant_id, role, user_id
		FROM allocation_stats
		WHERE tenant_id = $1 AND role = $2 AND is_active
		ORDER BY last_assigned_at ASC NULLS FIRST, user_id ASC
		LIMIT 1
		FOR UPDATE
	)
	` + allocationReturning

const selectLeastLoadedQuery = `
	UPDATE allocation_stats
	SET active_task_count = active_task_count + 1,
		last_assigned_at = $4,
		last_task_id = $3
	WHERE (tenant_id, role, user_id) = (
		SELECT tenant_id, role, user_id
		FROM allocation_stats
		WHERE tenant_id = $1 AND role = $2 AND is_active
		ORDER BY active_task_count ASC, last_assigned_at ASC NULLS FIRST, user_id ASC
		LIMIT 1
		FOR UPDATE
	)
	` + allocationReturning

const selectLastAssigneeQuery = `
	UPDATE allocation_stats
	SET active_task_count = active_task_count + 1,
		last_assigned_at = $4
	WHERE (tenant_id, role, user_id) = (
		SELECT tenant_id, role, user_id
		FROM allocation_stats
		WHERE tenant_id = $1 AND role = $2 AND is_active AND last_task_id = $3
		ORDER BY last_assigned_at DESC NULLS LAST, user_id ASC
		LIMIT 1
		FOR UPDATE
	)
	` + allocationReturning

// SelectOldestAssigned implements store.AllocationStore.SelectOldestAssigned.
func (s *PostgresAllocationStore) SelectOldestAssigned(
	ctx context.Context,
	sel store.Selection,
) (*domain.WorkerPoolEntry, error) {
	return s.selectOne(ctx, "oldest_assigned", selectOldestAssignedQuery, sel)
}

// SelectLeastLoaded implements store.AllocationStore.SelectLeastLoaded.
func (s *PostgresAllocationStore) SelectLeastLoaded(
	ctx context.Context,
	sel store.Selection,
) (*domain.WorkerPoolEntry, error) {
	return s.selectOne(ctx, "least_loaded", selectLeastLoadedQuery, sel)
}

// SelectLastAssignee implements store.AllocationStore.SelectLastAssignee.
func (s *PostgresAllocationStore) SelectLastAssignee(
	ctx context.Context,
	sel store.Selection,
) (*domain.WorkerPoolEntry, error) {
	return s.selectOne(ctx, "last_assignee", selectLastAssigneeQuery, sel)
}

func (s *PostgresAllocationStore) selectOne(
	ctx context.Context,
	mode, query string,
	sel store.Selection,
) (*domain.WorkerPoolEntry, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	var entry domain.WorkerPoolEntry
	err := s.db.QueryRowContext(ctx, query, sel.TenantID, sel.Role, sel.TaskID, s.now()).Scan(
		&entry.TenantID,
		&entry.Role,
		&entry.UserID,
		&entry.IsActive,
		&entry.ActiveTaskCount,
		&entry.LastAssignedAt,
		&entry.LastTaskID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("no worker matched selection",
				slog.String("mode", mode),
				slog.String("tenant_id", sel.TenantID),
				slog.String("role", sel.Role))
			return nil, nil
		}
		log.Error("worker selection failed",
			slog.String("mode", mode),
			slog.String("error", err.Error()),
			slog.String("tenant_id", sel.TenantID),
			slog.String("role", sel.Role))
		return nil, store.NewStoreError("allocation_stats", "select "+mode, "selection failed", MapError(err))
	}
	return &entry, nil
}

// BootstrapWorkers implements store.AllocationStore.BootstrapWorkers.
// Rows that already exist are left untouched by ON CONFLICT DO NOTHING, so
// repeated bootstraps never reset counters.
func (s *PostgresAllocationStore) BootstrapWorkers(
	ctx context.Context,
	tenantID, role string,
	userIDs []string,
) (int, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if len(userIDs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO allocation_stats (tenant_id, role, user_id, is_active, active_task_count, last_assigned_at, last_task_id)
		SELECT $1, $2, u, TRUE, 0, NULL, NULL
		FROM unnest($3::text[]) AS u
		ON CONFLICT (tenant_id, role, user_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, tenantID, role, userIDs)
	if err != nil {
		log.Error("failed to bootstrap workers",
			slog.String("error", err.Error()),
			slog.String("tenant_id", tenantID),
			slog.String("role", role),
			slog.Int("user_count", len(userIDs)))
		return 0, store.NewStoreError("allocation_stats", "bootstrap", "upsert failed", MapError(err))
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	log.Info("bootstrapped worker pool",
		slog.String("tenant_id", tenantID),
		slog.String("role", role),
		slog.Int("members", len(userIDs)),
		slog.Int64("inserted", inserted))
	return int(inserted), nil
}

// ListWorkers implements store.AllocationStore.ListWorkers.
func (s *PostgresAllocationStore) ListWorkers(
	ctx context.Context,
	tenantID, role string,
) ([]domain.WorkerPoolEntry, error) {
	query := `
		SELECT tenant_id, role, user_id, is_active, active_task_count, last_assigned_at, last_task_id
		FROM allocation_stats
		WHERE tenant_id = $1 AND role = $2
		ORDER BY user_id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, role)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.WorkerPoolEntry
	for rows.Next() {
		var e domain.WorkerPoolEntry
		if err := rows.Scan(
			&e.TenantID,
			&e.Role,
			&e.UserID,
			&e.IsActive,
			&e.ActiveTaskCount,
			&e.LastAssignedAt,
			&e.LastTaskID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan worker row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating worker rows: %w", err)
	}
	return entries, nil
}
