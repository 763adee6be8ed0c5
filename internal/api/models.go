package api

import (
	"time"

	"github.com/phrazzld/labelling-task/internal/domain"
)

// Every request body may carry a client request id that is echoed into
// events and logs.

// CreateTaskRequest is the body of POST /task/create.
type CreateTaskRequest struct {
	RequestID   string             `json:"request_id"`
	ExternalID  string             `json:"external_id"  validate:"required,max=256"`
	Org         string             `json:"org"          validate:"required,max=256"`
	Status      string             `json:"status"       validate:"max=64"`
	TaskDetails domain.TaskDetails `json:"task_details"`
}

// TaskRefRequest names one task. It is the body of /task/detail and
// /task/meta.
type TaskRefRequest struct {
	RequestID  string `json:"request_id"`
	ExternalID string `json:"external_id" validate:"required,max=256"`
}

// UpdateStatusRequest is the body of POST /task/status.
type UpdateStatusRequest struct {
	RequestID  string `json:"request_id"`
	ExternalID string `json:"external_id" validate:"required,max=256"`
	Status     string `json:"status"      validate:"required,max=64"`
}

// UpdateTaskRequest is the body of POST /task/update.
type UpdateTaskRequest struct {
	RequestID   string             `json:"request_id"`
	ExternalID  string             `json:"external_id"  validate:"required,max=256"`
	TaskDetails domain.TaskDetails `json:"task_details"`
}

// ReallocateRequest is the body of POST /task/reallocate.
type ReallocateRequest struct {
	RequestID  string `json:"request_id"`
	ExternalID string `json:"external_id" validate:"required,max=256"`
	Role       string `json:"role"        validate:"omitempty,oneof=annotator reviewer"`
}

// TaskResponse is a task as returned to clients. The tenant id is never
// included.
type TaskResponse struct {
	ID               string             `json:"id"`
	ExternalID       string             `json:"external_id"`
	Org              string             `json:"org"`
	Status           string             `json:"status"`
	Owner            string             `json:"owner,omitempty"`
	AllocatedTo      *string            `json:"allocated_to"`
	TaskDetails      domain.TaskDetails `json:"task_details"`
	CreatedBy        string             `json:"created_by"`
	UpdatedBy        string             `json:"updated_by"`
	CreatedOn        string             `json:"created_on"`
	UpdatedOn        string             `json:"updated_on"`
	ParentExternalID *string            `json:"parent_external_id,omitempty"`
}

// AllocationResponse reports the worker a reallocation picked.
type AllocationResponse struct {
	ExternalID      string `json:"external_id"`
	AllocatedTo     string `json:"allocated_to"`
	Role            string `json:"role"`
	ActiveTaskCount int    `json:"active_task_count"`
}

// timestampLayout is ISO 8601 with milliseconds.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:               t.ID.String(),
		ExternalID:       t.ExternalID,
		Org:              t.Org,
		Status:           t.Status,
		Owner:            t.Owner,
		AllocatedTo:      t.AllocatedTo,
		TaskDetails:      t.Details,
		CreatedBy:        t.CreatedBy,
		UpdatedBy:        t.UpdatedBy,
		CreatedOn:        formatTime(t.CreatedAt),
		UpdatedOn:        formatTime(t.UpdatedAt),
		ParentExternalID: t.ParentExternalID,
	}
}
