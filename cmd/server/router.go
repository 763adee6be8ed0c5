package main

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/labelling-task/internal/api"
	apiMiddleware "github.com/phrazzld/labelling-task/internal/api/middleware"
	"github.com/phrazzld/labelling-task/internal/metrics"
	"github.com/phrazzld/labelling-task/internal/service/auth"
)

// routerConfig holds what newRouter mounts. Without a verifier and a task
// service only the operational endpoints are served.
type routerConfig struct {
	logger   *slog.Logger
	checks   map[string]api.CheckFunc
	verifier auth.TokenVerifier
	tasks    api.TaskService
}

// newRouter builds the HTTP handler.
func newRouter(rc routerConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apiMiddleware.RequestLogger(rc.logger))
	r.Use(middleware.Recoverer)

	health := api.NewHealthHandler(rc.checks)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if rc.verifier == nil || rc.tasks == nil {
		return r
	}

	authMiddleware := apiMiddleware.NewAuthMiddleware(rc.verifier)
	taskHandler := api.NewTaskHandler(rc.tasks, rc.logger)

	r.Route("/task", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/create", taskHandler.CreateTask)
		r.Post("/detail", taskHandler.TaskDetail)
		r.Post("/status", taskHandler.UpdateStatus)
		r.Post("/update", taskHandler.UpdateTask)
		r.Post("/reallocate", taskHandler.Reallocate)
		r.Post("/meta", taskHandler.TaskMeta)
	})

	return r
}
