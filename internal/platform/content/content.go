// Package content moves bundle files between the service and the backing
// content store. Two backends exist: the HTTP media service and an
// S3-compatible object store.
package content

import (
	"context"
	"errors"
	"io"
)

// ErrMissingContentID is returned when an upload succeeds but the store does
// not report the id it assigned.
var ErrMissingContentID = errors.New("content store returned no content id")

// UploadMetadata travels with every uploaded bundle entry.
type UploadMetadata struct {
	TenantID    string `json:"tenant_id"`
	TaskCreated bool   `json:"task_created"`
	ExternalID  string `json:"external_id"`
	MediaName   string `json:"media_name"`
	ParentID    string `json:"parent_id"`
	Owner       string `json:"owner"`
	CreatedBy   string `json:"created_by"`
}

// Object is one file to upload.
type Object struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader

	// Key identifies the object within its parent, for stores that choose
	// their own ids. Uploading the same key twice yields the same id.
	// Empty means Name.
	Key string
}

// Store downloads bundles and uploads their entries.
type Store interface {
	// Download streams the content identified by id into w.
	Download(ctx context.Context, id string, w io.Writer) (int64, error)

	// Upload stores obj and returns the content id assigned to it.
	Upload(ctx context.Context, obj Object, meta UploadMetadata) (string, error)
}
