package bundle

import (
	"testing"

	"github.com/phrazzld/labelling-task/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJob(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		want    Job
		wantErr bool
	}{
		{
			name: "document id",
			values: map[string]any{
				"document_id": "doc-1", "project_external_id": "p1", "tenant_id": "t1", "request_id": "r1",
			},
			want: Job{DocumentID: "doc-1", ProjectExternalID: "p1", TenantID: "t1", RequestID: "r1"},
		},
		{
			name:   "file id alias",
			values: map[string]any{"file_id": "doc-2", "project_external_id": "p1", "tenant_id": "t1"},
			want:   Job{DocumentID: "doc-2", ProjectExternalID: "p1", TenantID: "t1"},
		},
		{
			name:    "missing tenant",
			values:  map[string]any{"document_id": "doc-1", "project_external_id": "p1"},
			wantErr: true,
		},
		{
			name:    "missing project",
			values:  map[string]any{"document_id": "doc-1", "tenant_id": "t1"},
			wantErr: true,
		},
		{
			name:    "missing document",
			values:  map[string]any{"project_external_id": "p1", "tenant_id": "t1"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseJob(tc.values)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformedJob)
				assert.ErrorIs(t, err, stream.ErrMalformedMessage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestJobValuesRoundTrip(t *testing.T) {
	job := Job{DocumentID: "doc-1", ProjectExternalID: "p1", TenantID: "t1"}
	assert.NotContains(t, job.Values(), "request_id")

	got, err := ParseJob(job.Values())
	require.NoError(t, err)
	assert.Equal(t, job, got)
}
