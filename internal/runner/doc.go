// Package runner executes background jobs on a fixed pool of worker
// goroutines fed by a bounded in-memory queue.
//
// Submitting never blocks: a full queue is reported to the caller with
// ErrQueueFull so the request path can decide what to do. Every job outcome
// is logged, counted, and failures are passed to the configured error
// handler. Stop closes the queue and waits for the backlog to drain.
package runner
