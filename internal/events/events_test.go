package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockEventHandler records the events it receives.
type MockEventHandler struct {
	LastEvent    *Event
	HandlerError error
	HandledCount int
}

// HandleEvent implements EventHandler.
func (h *MockEventHandler) HandleEvent(_ context.Context, event *Event) error {
	h.LastEvent = event
	h.HandledCount++
	return h.HandlerError
}

func TestNewTaskCreated(t *testing.T) {
	task, err := domain.NewTask("t1", "bundle-1", "acme", "", "owner-1", domain.TaskDetails{})
	require.NoError(t, err)

	details := domain.TaskDetails{TaskAssignmentType: "LL", WorkflowType: "Review", DataType: "image"}
	event := NewTaskCreated(task, details)

	assert.NotEqual(t, uuid.Nil, event.ID)
	assert.Equal(t, TypeTaskCreated, event.Type)
	assert.Equal(t, map[string]any{
		"event":       "TASK_CREATED",
		"tenant_id":   "t1",
		"external_id": "bundle-1",
		"org":         "acme",
		"assignment":  "LL",
		"workflow":    "Review",
		"data_type":   "image",
		"created_by":  "owner-1",
	}, event.Values())
}

func TestNewTaskStatusUpdated(t *testing.T) {
	event := NewTaskStatusUpdated("t1", "w1", domain.StatusAssignReview, "u1", "req-1")

	values := event.Values()
	assert.Equal(t, "TASK_STATUS_UPDATED", values["event"])
	assert.Equal(t, domain.StatusAssignReview, values["status"])
	assert.Equal(t, "u1", values["updated_by"])
	assert.Equal(t, "req-1", values["request_id"])
}

func TestNewTaskUpdated(t *testing.T) {
	event := NewTaskUpdated("t1", "w1", "u1", "req-2")

	values := event.Values()
	assert.Equal(t, "TASK_UPDATED", values["event"])
	assert.NotContains(t, values, "status")
	assert.Equal(t, "w1", values["external_id"])
}
