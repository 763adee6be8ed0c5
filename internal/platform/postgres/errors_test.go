package postgres_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/labelling-task/internal/platform/postgres"
	"github.com/phrazzld/labelling-task/internal/store"
	"github.com/stretchr/testify/assert"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "tasks",
		ColumnName:     "status",
		ConstraintName: "tasks_tenant_external_id_key",
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"unique violation", newPgError("23505"), store.ErrDuplicate},
		{"wrapped unique violation", fmt.Errorf("insert: %w", newPgError("23505")), store.ErrDuplicate},
		{"foreign key", newPgError("23503"), store.ErrInvalidEntity},
		{"check", newPgError("23514"), store.ErrInvalidEntity},
		{"not null", newPgError("23502"), store.ErrInvalidEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mapped := postgres.MapError(tc.err)
			assert.ErrorIs(t, mapped, tc.target)
		})
	}

	assert.NoError(t, postgres.MapError(nil))

	other := errors.New("connection refused")
	assert.Same(t, other, postgres.MapError(other))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, postgres.IsUniqueViolation(newPgError("23505")))
	assert.False(t, postgres.IsUniqueViolation(newPgError("23503")))
	assert.False(t, postgres.IsUniqueViolation(errors.New("plain")))
}

func TestCheckRowsAffected(t *testing.T) {
	assert.NoError(t, postgres.CheckRowsAffected(sqlmock.NewResult(0, 1), store.ErrTaskNotFound))
	assert.ErrorIs(t, postgres.CheckRowsAffected(sqlmock.NewResult(0, 0), store.ErrTaskNotFound), store.ErrTaskNotFound)
	assert.ErrorIs(t, postgres.CheckRowsAffected(sqlmock.NewResult(0, 0), nil), store.ErrNotFound)
	assert.Error(t, postgres.CheckRowsAffected(sqlmock.NewErrorResult(errors.New("driver")), nil))
	assert.Error(t, postgres.CheckRowsAffected(nil, nil))
}
