package domain

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

// Well known task statuses.
const (
	StatusNew            = "new"
	StatusAssignAnnotate = "TASKS_ASSIGN_ANNOTATE"
	StatusAssignReview   = "TASKS_ASSIGN_REVIEW"
)

// SystemUser is recorded as the actor when no human principal is involved.
const SystemUser = "system"

// Task is a unit of annotation work. Parent and child tasks share this shape;
// a child is one with ParentExternalID set.
type Task struct {
	ID               uuid.UUID   `json:"id"`
	ExternalID       string      `json:"external_id"`
	TenantID         string      `json:"tenant_id"`
	Org              string      `json:"org"`
	Status           string      `json:"status"`
	Owner            string      `json:"owner,omitempty"`
	AllocatedTo      *string     `json:"allocated_to"`
	Details          TaskDetails `json:"task_details"`
	CreatedBy        string      `json:"created_by"`
	UpdatedBy        string      `json:"updated_by"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	DeletedAt        *time.Time  `json:"deleted_at,omitempty"`
	ParentExternalID *string     `json:"parent_external_id,omitempty"`

	// SourceEntry is the archive path a child was expanded from. It is
	// unique per parent.
	SourceEntry *string `json:"source_entry,omitempty"`
}

// NewTask builds a task owned and created by actor. It does not persist it.
func NewTask(tenantID, externalID, org, status, actor string, details TaskDetails) (*Task, error) {
	if status == "" {
		status = StatusNew
	}
	now := time.Now().UTC()
	t := &Task{
		ID:         uuid.New(),
		ExternalID: externalID,
		TenantID:   tenantID,
		Org:        org,
		Status:     status,
		Owner:      actor,
		Details:    details,
		CreatedBy:  actor,
		UpdatedBy:  actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the fields every stored task must carry.
func (t *Task) Validate() error {
	switch {
	case t.ExternalID == "":
		return fmt.Errorf("%w: external_id is required", ErrValidation)
	case t.TenantID == "":
		return fmt.Errorf("%w: tenant_id is required", ErrValidation)
	case t.Status == "":
		return fmt.Errorf("%w: status is required", ErrValidation)
	}
	return nil
}

// IsChild reports whether the task was expanded from a bundle.
func (t *Task) IsChild() bool {
	return t.ParentExternalID != nil && *t.ParentExternalID != ""
}

// Creator returns who should be recorded as creator of tasks derived from t:
// its creator, else its owner, else the system user.
func (t *Task) Creator() string {
	if t.CreatedBy != "" {
		return t.CreatedBy
	}
	if t.Owner != "" {
		return t.Owner
	}
	return SystemUser
}

// NewChild derives a child task for the bundle entry at entryPath. The
// parent's details are copied with the file name replaced by the entry's
// base name, the child starts in the assign-annotate status and is
// unallocated.
func (t *Task) NewChild(externalID, entryPath string) *Task {
	now := time.Now().UTC()
	details := t.Details.Clone()
	details.FileName = path.Base(entryPath)
	details.ChildTaskCount = 0

	parent := t.ExternalID
	creator := t.Creator()
	return &Task{
		ID:               uuid.New(),
		ExternalID:       externalID,
		TenantID:         t.TenantID,
		Org:              t.Org,
		Status:           StatusAssignAnnotate,
		Owner:            t.Owner,
		AllocatedTo:      nil,
		Details:          details,
		CreatedBy:        creator,
		UpdatedBy:        creator,
		CreatedAt:        now,
		UpdatedAt:        now,
		ParentExternalID: &parent,
		SourceEntry:      &entryPath,
	}
}

// TaskDetails is the free-form details blob stored with a task. Known keys
// are typed; anything else is preserved in Extra.
type TaskDetails struct {
	ProjectName        string          `json:"project_name,omitempty"`
	ProjectDesc        string          `json:"project_desc,omitempty"`
	DataType           string          `json:"data_type"`
	TaskAssignmentType string          `json:"task_assignment_type"`
	WorkflowType       string          `json:"workflow_type"`
	Instructions       string          `json:"instructions,omitempty"`
	Labels             json.RawMessage `json:"labels,omitempty"`
	FileName           string          `json:"file_name,omitempty"`
	ChildTaskCount     int             `json:"child_task_count,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownDetailKeys = map[string]struct{}{
	"project_name": {}, "project_desc": {}, "data_type": {},
	"task_assignment_type": {}, "workflow_type": {}, "instructions": {},
	"labels": {}, "file_name": {}, "child_task_count": {},
}

// Default assignment and workflow types.
const (
	DefaultAssignmentType = "RoundRobin"
	DefaultWorkflowType   = "Single Pass"
)

type taskDetailsAlias TaskDetails

// UnmarshalJSON decodes known keys and keeps the rest in Extra.
func (d *TaskDetails) UnmarshalJSON(data []byte) error {
	var alias taskDetailsAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = TaskDetails(alias)
	for k, v := range raw {
		if _, ok := knownDetailKeys[k]; ok {
			continue
		}
		if d.Extra == nil {
			d.Extra = make(map[string]json.RawMessage)
		}
		d.Extra[k] = v
	}
	if d.TaskAssignmentType == "" {
		d.TaskAssignmentType = DefaultAssignmentType
	}
	if d.WorkflowType == "" {
		d.WorkflowType = DefaultWorkflowType
	}
	return nil
}

// MarshalJSON writes known keys followed by the preserved extras.
func (d TaskDetails) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(taskDetailsAlias(d))
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(d.Extra)+len(knownDetailKeys))
	for k, v := range d.Extra {
		merged[k] = v
	}
	var knownMap map[string]json.RawMessage
	if err := json.Unmarshal(known, &knownMap); err != nil {
		return nil, err
	}
	for k, v := range knownMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// Clone returns a deep copy of d.
func (d TaskDetails) Clone() TaskDetails {
	out := d
	if d.Labels != nil {
		out.Labels = append(json.RawMessage(nil), d.Labels...)
	}
	if d.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}
