// Package store defines the persistence interfaces for tasks and worker
// allocation counters, plus the errors and transaction helper shared by
// their implementations.
package store
