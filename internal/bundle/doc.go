// Package bundle expands uploaded archives into child tasks.
//
// A bundle job names an archive in the content store and the parent task it
// belongs to. The Expander downloads the archive into a temporary directory,
// re-uploads every regular file as its own content item and creates one child
// task per file, counting it on the parent in the same transaction. Each
// child is announced with a TASK_CREATED event and handed to allocation
// exactly like a task created over HTTP.
//
// Children are keyed by their archive path, so a job can be processed again
// after a partial failure: entries that already have a child are not
// uploaded twice.
package bundle
