package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/labelling-task/internal/api/shared"
	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/service"
)

// TaskService is the part of service.TaskService the handlers use.
type TaskService interface {
	CreateTask(ctx context.Context, p domain.Principal, req service.CreateTaskRequest) (*domain.Task, error)
	GetTask(ctx context.Context, p domain.Principal, externalID string) (*domain.Task, error)
	UpdateStatus(ctx context.Context, p domain.Principal, req service.UpdateStatusRequest) (*domain.Task, error)
	UpdateDetails(ctx context.Context, p domain.Principal, req service.UpdateDetailsRequest) (*domain.Task, error)
	Reallocate(ctx context.Context, p domain.Principal, req service.ReallocateRequest) (*domain.WorkerPoolEntry, error)
	GetTaskMeta(ctx context.Context, p domain.Principal, externalID string) (*service.TaskMeta, error)
}

// TaskHandler handles the /task endpoints.
type TaskHandler struct {
	tasks  TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks TaskService, log *slog.Logger) *TaskHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TaskHandler{
		tasks:  tasks,
		logger: log.With(slog.String("component", "task_handler")),
	}
}

// decodeAuthenticated reads the principal and the validated body. It writes
// the error response itself and reports whether the handler may continue.
func (h *TaskHandler) decodeAuthenticated(w http.ResponseWriter, r *http.Request, body any) (domain.Principal, bool) {
	principal, ok := shared.PrincipalFrom(r.Context())
	if !ok {
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("principal missing from request context")
		shared.RespondWithError(w, r, http.StatusUnauthorized, "unauthorized")
		return domain.Principal{}, false
	}
	if err := shared.DecodeJSON(w, r, body); err != nil {
		HandleAPIError(w, r, err, "")
		return domain.Principal{}, false
	}
	if err := shared.ValidateRequest(body); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return domain.Principal{}, false
	}
	return principal, true
}

// CreateTask handles POST /task/create.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	principal, ok := h.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}

	task, err := h.tasks.CreateTask(r.Context(), principal, service.CreateTaskRequest{
		RequestID:  shared.RequestID(r, req.RequestID),
		ExternalID: req.ExternalID,
		Org:        req.Org,
		Status:     req.Status,
		Details:    req.TaskDetails,
	})
	if err != nil {
		HandleAPIError(w, r, err, "failed to create task")
		return
	}
	shared.RespondSuccess(w, r, http.StatusOK, taskToResponse(task), "")
}

// TaskDetail handles POST /task/detail.
func (h *TaskHandler) TaskDetail(w http.ResponseWriter, r *http.Request) {
	var req TaskRefRequest
	principal, ok := h.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(r.Context(), principal, req.ExternalID)
	if err != nil {
		HandleAPIError(w, r, err, "failed to load task")
		return
	}
	shared.RespondSuccess(w, r, http.StatusOK, taskToResponse(task), "Request successful")
}

// UpdateStatus handles POST /task/status.
func (h *TaskHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	principal, ok := h.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}

	task, err := h.tasks.UpdateStatus(r.Context(), principal, service.UpdateStatusRequest{
		RequestID:  shared.RequestID(r, req.RequestID),
		ExternalID: req.ExternalID,
		Status:     req.Status,
	})
	if err != nil {
		HandleAPIError(w, r, err, "failed to update task status")
		return
	}
	shared.RespondSuccess(w, r, http.StatusOK, taskToResponse(task), "")
}

// UpdateTask handles POST /task/update.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req UpdateTaskRequest
	principal, ok := h.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}

	task, err := h.tasks.UpdateDetails(r.Context(), principal, service.UpdateDetailsRequest{
		RequestID:  shared.RequestID(r, req.RequestID),
		ExternalID: req.ExternalID,
		Details:    req.TaskDetails,
	})
	if err != nil {
		HandleAPIError(w, r, err, "failed to update task")
		return
	}
	shared.RespondSuccess(w, r, http.StatusOK, taskToResponse(task), "")
}

// Reallocate handles POST /task/reallocate.
func (h *TaskHandler) Reallocate(w http.ResponseWriter, r *http.Request) {
	var req ReallocateRequest
	principal, ok := h.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}

	entry, err := h.tasks.Reallocate(r.Context(), principal, service.ReallocateRequest{
		RequestID:  shared.RequestID(r, req.RequestID),
		ExternalID: req.ExternalID,
		Role:       req.Role,
	})
	if err != nil {
		HandleAPIError(w, r, err, "failed to reallocate task")
		return
	}
	shared.RespondSuccess(w, r, http.StatusOK, AllocationResponse{
		ExternalID:      req.ExternalID,
		AllocatedTo:     entry.UserID,
		Role:            entry.Role,
		ActiveTaskCount: entry.ActiveTaskCount,
	}, "")
}

// TaskMeta handles POST /task/meta.
func (h *TaskHandler) TaskMeta(w http.ResponseWriter, r *http.Request) {
	var req TaskRefRequest
	principal, ok := h.decodeAuthenticated(w, r, &req)
	if !ok {
		return
	}

	meta, err := h.tasks.GetTaskMeta(r.Context(), principal, req.ExternalID)
	if err != nil {
		HandleAPIError(w, r, err, "failed to load task metadata")
		return
	}
	shared.RespondSuccess(w, r, http.StatusOK, meta, "Request successful")
}
