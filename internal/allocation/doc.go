// Package allocation assigns tasks to workers.
//
// A Strategy performs one atomic selection against the allocation store.
// Allocate wraps a strategy with request validation and logging, and the
// Engine adds pool bootstrap from the worker directory plus a single retry
// before recording the assignment on the task. The Dispatcher runs engine
// allocations on the background runner so request paths never wait on them.
package allocation
