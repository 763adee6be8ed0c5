package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/labelling-task/internal/domain"
)

// Event names written to the "event" field.
const (
	TypeTaskCreated       = "TASK_CREATED"
	TypeTaskStatusUpdated = "TASK_STATUS_UPDATED"
	TypeTaskUpdated       = "TASK_UPDATED"
)

// Event is one task lifecycle event. Fields holds the flat string fields
// written to the stream alongside the event name.
type Event struct {
	ID        uuid.UUID
	Type      string
	Fields    map[string]string
	CreatedAt time.Time
}

func newEvent(eventType string, fields map[string]string) *Event {
	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Fields:    fields,
		CreatedAt: time.Now().UTC(),
	}
}

// Values returns the stream message body: the event name under "event"
// plus every field.
func (e *Event) Values() map[string]any {
	values := make(map[string]any, len(e.Fields)+1)
	for k, v := range e.Fields {
		values[k] = v
	}
	values["event"] = e.Type
	return values
}

// NewTaskCreated describes a newly created task. assignment, workflow and
// data type come from details, which for bundle children are the parent's.
func NewTaskCreated(t *domain.Task, details domain.TaskDetails) *Event {
	return newEvent(TypeTaskCreated, map[string]string{
		"tenant_id":   t.TenantID,
		"external_id": t.ExternalID,
		"org":         t.Org,
		"assignment":  details.TaskAssignmentType,
		"workflow":    details.WorkflowType,
		"data_type":   details.DataType,
		"created_by":  t.CreatedBy,
	})
}

// NewTaskStatusUpdated describes a status change.
func NewTaskStatusUpdated(tenantID, externalID, status, updatedBy, requestID string) *Event {
	return newEvent(TypeTaskStatusUpdated, map[string]string{
		"tenant_id":   tenantID,
		"external_id": externalID,
		"status":      status,
		"updated_by":  updatedBy,
		"request_id":  requestID,
	})
}

// NewTaskUpdated describes a change to a task's details.
func NewTaskUpdated(tenantID, externalID, updatedBy, requestID string) *Event {
	return newEvent(TypeTaskUpdated, map[string]string{
		"tenant_id":   tenantID,
		"external_id": externalID,
		"updated_by":  updatedBy,
		"request_id":  requestID,
	})
}

// EventHandler processes emitted events.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *Event) error
}

// EventEmitter publishes events without knowing who handles them.
type EventEmitter interface {
	EmitEvent(ctx context.Context, event *Event) error
}
