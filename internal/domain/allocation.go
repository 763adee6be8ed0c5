package domain

import (
	"fmt"
	"time"
)

// Assignment policy names accepted on allocation requests. The short and
// long spellings are interchangeable.
const (
	PolicyRoundRobin   = "RoundRobin"
	PolicyLeastLoaded  = "LeastLoaded"
	PolicyLastAssigned = "LastAssigned"
	PolicyManual       = "Manual"
)

// Worker roles.
const (
	RoleAnnotator = "annotator"
	RoleReviewer  = "reviewer"
)

// WorkerPoolEntry is one worker's allocation counters for a tenant and role.
type WorkerPoolEntry struct {
	TenantID        string     `json:"tenant_id"`
	Role            string     `json:"role"`
	UserID          string     `json:"user_id"`
	IsActive        bool       `json:"is_active"`
	ActiveTaskCount int        `json:"active_task_count"`
	LastAssignedAt  *time.Time `json:"last_assigned_at"`
	LastTaskID      *string    `json:"last_task_id"`
}

// AllocationRequest asks for one task to be assigned to a worker.
// It is a value type: build it once per attempt and pass it by value.
type AllocationRequest struct {
	TenantID   string `json:"tenant_id"`
	Role       string `json:"role"`
	TaskID     string `json:"task_id"`
	Assignment string `json:"assignment"`
	Workflow   string `json:"workflow"`
	DataType   string `json:"data_type"`
}

// Validate rejects requests that cannot be scoped to a pool.
func (r AllocationRequest) Validate() error {
	switch {
	case r.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrInvalidAllocationRequest)
	case r.Role == "":
		return fmt.Errorf("%w: role is required", ErrInvalidAllocationRequest)
	case r.TaskID == "":
		return fmt.Errorf("%w: task_id is required", ErrInvalidAllocationRequest)
	}
	return nil
}

// IsManual reports whether the request opts out of automatic allocation.
func (r AllocationRequest) IsManual() bool {
	return r.Assignment == PolicyManual
}

// AllocationRequestFor builds the request that allocates t for role.
func AllocationRequestFor(t *Task, role string) AllocationRequest {
	return AllocationRequest{
		TenantID:   t.TenantID,
		Role:       role,
		TaskID:     t.ExternalID,
		Assignment: t.Details.TaskAssignmentType,
		Workflow:   t.Details.WorkflowType,
		DataType:   t.Details.DataType,
	}
}
