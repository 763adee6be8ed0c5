package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/labelling-task/internal/allocation"
	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/events"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/store"
)

// DefaultAdminRoles are the principal roles allowed to manage tasks.
var DefaultAdminRoles = []string{"Admin", "Super Admin", "SuperAdmin"}

// AllocationDispatcher queues a background allocation.
type AllocationDispatcher interface {
	Dispatch(ctx context.Context, req domain.AllocationRequest) error
}

// Allocator runs an allocation synchronously.
type Allocator interface {
	Allocate(ctx context.Context, req domain.AllocationRequest) (*domain.WorkerPoolEntry, error)
}

// Config configures a TaskService.
type Config struct {
	AdminRoles  []string
	DefaultRole string
}

// CreateTaskRequest carries the fields of a new task. Status defaults to
// domain.StatusNew.
type CreateTaskRequest struct {
	RequestID  string
	ExternalID string
	Org        string
	Status     string
	Details    domain.TaskDetails
}

// UpdateStatusRequest moves a task to a new status.
type UpdateStatusRequest struct {
	RequestID  string
	ExternalID string
	Status     string
}

// UpdateDetailsRequest replaces a task's details.
type UpdateDetailsRequest struct {
	RequestID  string
	ExternalID string
	Details    domain.TaskDetails
}

// ReallocateRequest re-drives allocation for an unallocated task. An empty
// Role is derived from the task's status.
type ReallocateRequest struct {
	RequestID  string
	ExternalID string
	Role       string
}

// TaskService implements the task use cases behind the HTTP API.
type TaskService struct {
	tasks      store.TaskStore
	events     events.EventEmitter
	meta       MetaCache
	dispatcher AllocationDispatcher
	allocator  Allocator
	config     Config
	logger     *slog.Logger
}

// NewTaskService creates a TaskService. It returns an error if any
// dependency is nil.
func NewTaskService(
	tasks store.TaskStore,
	emitter events.EventEmitter,
	meta MetaCache,
	dispatcher AllocationDispatcher,
	allocator Allocator,
	config Config,
	log *slog.Logger,
) (*TaskService, error) {
	switch {
	case tasks == nil:
		return nil, &TaskServiceError{Operation: "create_service", Message: "tasks cannot be nil"}
	case emitter == nil:
		return nil, &TaskServiceError{Operation: "create_service", Message: "emitter cannot be nil"}
	case meta == nil:
		return nil, &TaskServiceError{Operation: "create_service", Message: "meta cache cannot be nil"}
	case dispatcher == nil:
		return nil, &TaskServiceError{Operation: "create_service", Message: "dispatcher cannot be nil"}
	case allocator == nil:
		return nil, &TaskServiceError{Operation: "create_service", Message: "allocator cannot be nil"}
	}
	if len(config.AdminRoles) == 0 {
		config.AdminRoles = DefaultAdminRoles
	}
	if config.DefaultRole == "" {
		config.DefaultRole = domain.RoleAnnotator
	}
	if log == nil {
		log = slog.Default()
	}
	return &TaskService{
		tasks:      tasks,
		events:     emitter,
		meta:       meta,
		dispatcher: dispatcher,
		allocator:  allocator,
		config:     config,
		logger:     log.With(slog.String("component", "task_service")),
	}, nil
}

func (s *TaskService) requestLogger(ctx context.Context, p domain.Principal, requestID string) *slog.Logger {
	return logger.FromContextOrDefault(ctx, s.logger).With(
		slog.String("tenant_id", p.TenantID),
		slog.String("user_id", p.UserID),
		slog.String("request_id", requestID),
	)
}

// CreateTask stores a new task for the principal's tenant. Only admins may
// create tasks. After the insert the task is announced on the event stream,
// its metadata is cached and allocation is queued; failures in those steps
// are logged and do not fail the call.
func (s *TaskService) CreateTask(ctx context.Context, p domain.Principal, req CreateTaskRequest) (*domain.Task, error) {
	log := s.requestLogger(ctx, p, req.RequestID).With(slog.String("external_id", req.ExternalID))

	if !p.IsAdmin(s.config.AdminRoles) {
		log.Warn("non-admin attempted to create task", slog.String("role", p.Role))
		return nil, ErrForbidden
	}

	task, err := domain.NewTask(p.TenantID, req.ExternalID, req.Org, req.Status, p.UserID, req.Details)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		if !store.IsDuplicateError(err) {
			log.Error("failed to create task", slog.String("error", err.Error()))
		}
		return nil, NewTaskServiceError("create_task", "failed to store task", err)
	}
	log.Info("task created", slog.String("status", task.Status))

	if err := s.events.EmitEvent(ctx, events.NewTaskCreated(task, task.Details)); err != nil {
		log.Error("failed to emit task created event", slog.String("error", err.Error()))
	}
	if err := s.meta.Put(ctx, task.TenantID, MetaFor(task)); err != nil {
		log.Warn("failed to cache task metadata", slog.String("error", err.Error()))
	}
	s.dispatch(ctx, log, task)

	return task, nil
}

// GetTask returns a task. Non-admins only see tasks allocated to them.
func (s *TaskService) GetTask(ctx context.Context, p domain.Principal, externalID string) (*domain.Task, error) {
	task, err := s.tasks.GetByExternalID(ctx, p.TenantID, externalID)
	if err != nil {
		return nil, NewTaskServiceError("get_task", "failed to load task", err)
	}
	if !s.canRead(p, task) {
		s.requestLogger(ctx, p, "").Warn("task read forbidden", slog.String("external_id", externalID))
		return nil, ErrForbidden
	}
	return task, nil
}

// UpdateStatus changes a task's status. Admins and the allocated worker may
// do so. Moving a task into an assign status queues allocation for the
// matching role.
func (s *TaskService) UpdateStatus(ctx context.Context, p domain.Principal, req UpdateStatusRequest) (*domain.Task, error) {
	log := s.requestLogger(ctx, p, req.RequestID).With(slog.String("external_id", req.ExternalID))

	if req.Status == "" {
		return nil, fmt.Errorf("%w: status is required", domain.ErrValidation)
	}
	task, err := s.GetTask(ctx, p, req.ExternalID)
	if err != nil {
		return nil, err
	}

	if err := s.tasks.UpdateStatus(ctx, p.TenantID, req.ExternalID, req.Status, p.UserID); err != nil {
		log.Error("failed to update task status", slog.String("error", err.Error()))
		return nil, NewTaskServiceError("update_status", "failed to store status", err)
	}
	previous := task.Status
	task.Status = req.Status
	task.UpdatedBy = p.UserID
	log.Info("task status updated", slog.String("from", previous), slog.String("to", req.Status))

	ev := events.NewTaskStatusUpdated(p.TenantID, req.ExternalID, req.Status, p.UserID, req.RequestID)
	if err := s.events.EmitEvent(ctx, ev); err != nil {
		log.Error("failed to emit status event", slog.String("error", err.Error()))
	}

	if req.Status == domain.StatusAssignAnnotate || req.Status == domain.StatusAssignReview {
		s.dispatch(ctx, log, task)
	}
	return task, nil
}

// UpdateDetails replaces a task's details. Admins only.
func (s *TaskService) UpdateDetails(ctx context.Context, p domain.Principal, req UpdateDetailsRequest) (*domain.Task, error) {
	log := s.requestLogger(ctx, p, req.RequestID).With(slog.String("external_id", req.ExternalID))

	if !p.IsAdmin(s.config.AdminRoles) {
		return nil, ErrForbidden
	}
	task, err := s.tasks.GetByExternalID(ctx, p.TenantID, req.ExternalID)
	if err != nil {
		return nil, NewTaskServiceError("update_details", "failed to load task", err)
	}

	details := req.Details
	// The child count is owned by bundle expansion.
	details.ChildTaskCount = task.Details.ChildTaskCount
	if err := s.tasks.UpdateDetails(ctx, p.TenantID, req.ExternalID, details, p.UserID); err != nil {
		log.Error("failed to update task details", slog.String("error", err.Error()))
		return nil, NewTaskServiceError("update_details", "failed to store details", err)
	}
	task.Details = details
	task.UpdatedBy = p.UserID
	log.Info("task details updated")

	if err := s.events.EmitEvent(ctx, events.NewTaskUpdated(p.TenantID, req.ExternalID, p.UserID, req.RequestID)); err != nil {
		log.Error("failed to emit task updated event", slog.String("error", err.Error()))
	}
	if err := s.meta.Put(ctx, task.TenantID, MetaFor(task)); err != nil {
		log.Warn("failed to refresh task metadata", slog.String("error", err.Error()))
	}
	return task, nil
}

// Reallocate runs allocation for a task that has no worker yet and waits for
// the result. It is the recovery path for a background allocation that
// failed. Admins only.
func (s *TaskService) Reallocate(
	ctx context.Context,
	p domain.Principal,
	req ReallocateRequest,
) (*domain.WorkerPoolEntry, error) {
	log := s.requestLogger(ctx, p, req.RequestID).With(slog.String("external_id", req.ExternalID))

	if !p.IsAdmin(s.config.AdminRoles) {
		return nil, ErrForbidden
	}
	task, err := s.tasks.GetByExternalID(ctx, p.TenantID, req.ExternalID)
	if err != nil {
		return nil, NewTaskServiceError("reallocate", "failed to load task", err)
	}
	if task.AllocatedTo != nil && *task.AllocatedTo != "" {
		return nil, ErrAlreadyAllocated
	}

	role := req.Role
	if role == "" {
		role = allocation.RoleForStatus(task.Status, s.config.DefaultRole)
	}
	entry, err := s.allocator.Allocate(ctx, domain.AllocationRequestFor(task, role))
	if err != nil {
		log.Warn("reallocation failed", slog.String("role", role), slog.String("error", err.Error()))
		return nil, err
	}
	log.Info("task reallocated", slog.String("role", role), slog.String("allocated_to", entry.UserID))
	return entry, nil
}

// GetTaskMeta returns a task's cached metadata, loading and caching it on a
// miss. Non-admins are checked against the task itself.
func (s *TaskService) GetTaskMeta(ctx context.Context, p domain.Principal, externalID string) (*TaskMeta, error) {
	log := s.requestLogger(ctx, p, "").With(slog.String("external_id", externalID))

	if p.IsAdmin(s.config.AdminRoles) {
		meta, err := s.meta.Get(ctx, p.TenantID, externalID)
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, ErrMetaNotCached) {
			log.Warn("task metadata cache read failed", slog.String("error", err.Error()))
		}
	}

	task, err := s.GetTask(ctx, p, externalID)
	if err != nil {
		return nil, err
	}
	meta := MetaFor(task)
	if err := s.meta.Put(ctx, task.TenantID, meta); err != nil {
		log.Warn("failed to cache task metadata", slog.String("error", err.Error()))
	}
	return &meta, nil
}

func (s *TaskService) canRead(p domain.Principal, task *domain.Task) bool {
	if p.IsAdmin(s.config.AdminRoles) {
		return true
	}
	return task.AllocatedTo != nil && *task.AllocatedTo == p.UserID
}

func (s *TaskService) dispatch(ctx context.Context, log *slog.Logger, task *domain.Task) {
	role := allocation.RoleForStatus(task.Status, s.config.DefaultRole)
	if err := s.dispatcher.Dispatch(ctx, domain.AllocationRequestFor(task, role)); err != nil {
		log.Error("failed to queue allocation",
			slog.String("role", role),
			slog.String("error", err.Error()))
	}
}
