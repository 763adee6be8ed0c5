package shared

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestRespondSuccess(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	fixClock(t, at)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/task/detail", nil)

	RespondSuccess(w, r, http.StatusOK, map[string]string{"external_id": "w1"}, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"status": "success",
		"message": "request processed successfully",
		"data": {"external_id": "w1"},
		"timestamp": 1735787045000
	}`, w.Body.String())
}

func TestRespondWithError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/task/create", nil)

	RespondWithError(w, r, http.StatusForbidden, "forbidden")

	assert.Equal(t, http.StatusForbidden, w.Code)
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, StatusFailure, env["status"])
	assert.Equal(t, "forbidden", env["message"])
	assert.NotContains(t, env, "data")
	assert.NotZero(t, env["timestamp"])
}

func TestRespondWithErrorAndLog(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"server error logs at error", http.StatusInternalServerError, "ERROR"},
		{"forbidden logs at warn", http.StatusForbidden, "WARN"},
		{"bad request logs at debug", http.StatusBadRequest, "DEBUG"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log, buf := logger.GetTestLogger(t)
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/task/create", nil)
			r = r.WithContext(logger.WithLogger(r.Context(), log))

			cause := errors.New("dial postgres://lt:pw@db:5432/lt failed")
			RespondWithErrorAndLog(w, r, tc.status, "failed to create task", cause)

			assert.Equal(t, tc.status, w.Code)
			assert.NotContains(t, w.Body.String(), "postgres")
			assert.Contains(t, w.Body.String(), "failed to create task")

			entries, err := buf.Entries()
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tc.wantLevel, entries[0]["level"])
			assert.Equal(t, "dial postgres://[REDACTED_CREDENTIAL]@db:5432/lt failed", entries[0]["error"])
			assert.False(t, strings.Contains(buf.String(), "lt:pw"))
		})
	}
}
