package bundle

import (
	"fmt"

	"github.com/phrazzld/labelling-task/internal/stream"
)

// ErrMalformedJob is returned for bundle messages missing a required field.
var ErrMalformedJob = fmt.Errorf("bundle job: %w", stream.ErrMalformedMessage)

// Job asks for one archive to be expanded under a parent task.
type Job struct {
	DocumentID        string
	ProjectExternalID string
	TenantID          string
	RequestID         string
}

// ParseJob decodes a bundle stream message. The archive id may be sent as
// document_id or file_id.
func ParseJob(values map[string]any) (Job, error) {
	job := Job{
		DocumentID:        field(values, "document_id"),
		ProjectExternalID: field(values, "project_external_id"),
		TenantID:          field(values, "tenant_id"),
		RequestID:         field(values, "request_id"),
	}
	if job.DocumentID == "" {
		job.DocumentID = field(values, "file_id")
	}

	switch {
	case job.DocumentID == "":
		return Job{}, fmt.Errorf("%w: document_id is required", ErrMalformedJob)
	case job.ProjectExternalID == "":
		return Job{}, fmt.Errorf("%w: project_external_id is required", ErrMalformedJob)
	case job.TenantID == "":
		return Job{}, fmt.Errorf("%w: tenant_id is required", ErrMalformedJob)
	}
	return job, nil
}

// Values encodes the job as a stream message body.
func (j Job) Values() map[string]any {
	values := map[string]any{
		"document_id":         j.DocumentID,
		"project_external_id": j.ProjectExternalID,
		"tenant_id":           j.TenantID,
	}
	if j.RequestID != "" {
		values["request_id"] = j.RequestID
	}
	return values
}

func field(values map[string]any, key string) string {
	switch v := values[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
