// Package domain contains the core entities of the labelling task service:
// work items and their details, worker pool entries, allocation requests and
// the authenticated principal. It is independent of storage and transport.
package domain
