package service

import (
	"context"
	"database/sql"
	"sync"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/events"
	"github.com/phrazzld/labelling-task/internal/store"
	"github.com/stretchr/testify/mock"
)

// MockTaskStore mocks store.TaskStore.
type MockTaskStore struct {
	mock.Mock
}

var _ store.TaskStore = (*MockTaskStore)(nil)

func (m *MockTaskStore) Create(ctx context.Context, task *domain.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskStore) GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.Task, error) {
	args := m.Called(ctx, tenantID, externalID)
	task, _ := args.Get(0).(*domain.Task)
	return task, args.Error(1)
}

func (m *MockTaskStore) FindChild(ctx context.Context, tenantID, parentExternalID, entry string) (*domain.Task, error) {
	args := m.Called(ctx, tenantID, parentExternalID, entry)
	task, _ := args.Get(0).(*domain.Task)
	return task, args.Error(1)
}

func (m *MockTaskStore) CreateChild(ctx context.Context, child *domain.Task) error {
	args := m.Called(ctx, child)
	return args.Error(0)
}

func (m *MockTaskStore) SetAllocatedTo(ctx context.Context, tenantID, externalID, userID string) error {
	args := m.Called(ctx, tenantID, externalID, userID)
	return args.Error(0)
}

func (m *MockTaskStore) UpdateStatus(ctx context.Context, tenantID, externalID, status, updatedBy string) error {
	args := m.Called(ctx, tenantID, externalID, status, updatedBy)
	return args.Error(0)
}

func (m *MockTaskStore) UpdateDetails(
	ctx context.Context,
	tenantID, externalID string,
	details domain.TaskDetails,
	updatedBy string,
) error {
	args := m.Called(ctx, tenantID, externalID, details, updatedBy)
	return args.Error(0)
}

func (m *MockTaskStore) IncrementChildCount(ctx context.Context, tenantID, externalID string, delta int) error {
	args := m.Called(ctx, tenantID, externalID, delta)
	return args.Error(0)
}

func (m *MockTaskStore) WithTx(_ *sql.Tx) store.TaskStore {
	return m
}

// MockDispatcher mocks AllocationDispatcher.
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, req domain.AllocationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

// MockAllocator mocks Allocator.
type MockAllocator struct {
	mock.Mock
}

func (m *MockAllocator) Allocate(ctx context.Context, req domain.AllocationRequest) (*domain.WorkerPoolEntry, error) {
	args := m.Called(ctx, req)
	entry, _ := args.Get(0).(*domain.WorkerPoolEntry)
	return entry, args.Error(1)
}

// recordingHandler keeps every event it is given.
type recordingHandler struct {
	mu     sync.Mutex
	events []*events.Event
	err    error
}

func (h *recordingHandler) HandleEvent(_ context.Context, event *events.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *recordingHandler) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Type)
	}
	return out
}
