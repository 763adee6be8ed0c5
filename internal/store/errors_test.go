package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		notFound  bool
		duplicate bool
	}{
		{"nil", nil, false, false},
		{"plain", errors.New("x"), false, false},
		{"not found", ErrNotFound, true, false},
		{"task not found wrapped", fmt.Errorf("load: %w", ErrTaskNotFound), true, false},
		{"duplicate", ErrDuplicate, false, true},
		{"task exists wrapped", fmt.Errorf("insert: %w", ErrTaskExists), false, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.notFound, IsNotFoundError(tc.err))
			assert.Equal(t, tc.duplicate, IsDuplicateError(tc.err))
		})
	}
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewStoreError("task", "update", "status change failed", cause)

	assert.Equal(t, "update operation on task failed: status change failed: connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := NewStoreError("task", "create", "rejected", nil)
	assert.Equal(t, "create operation on task failed: rejected", bare.Error())
}
