// Package service contains the task use cases exposed by the HTTP API.
//
// TaskService enforces who may create, read and change tasks, stores them
// through the store interfaces, announces changes on the event stream and
// hands new work to the allocation dispatcher. It depends on interfaces only;
// cmd/server wires the concrete stores and clients.
package service
