// Package events defines the task lifecycle events and how they leave the
// process.
//
// Services build an Event and hand it to an EventEmitter. The in-memory
// emitter fans each event out to its registered handlers; in production the
// handler is a StreamPublisher that appends the event to a Redis stream for
// downstream consumers.
package events
