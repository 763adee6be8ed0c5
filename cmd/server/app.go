package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/labelling-task/internal/allocation"
	"github.com/phrazzld/labelling-task/internal/api"
	"github.com/phrazzld/labelling-task/internal/bundle"
	"github.com/phrazzld/labelling-task/internal/config"
	"github.com/phrazzld/labelling-task/internal/events"
	"github.com/phrazzld/labelling-task/internal/platform/content"
	"github.com/phrazzld/labelling-task/internal/platform/directory"
	"github.com/phrazzld/labelling-task/internal/platform/oauth"
	"github.com/phrazzld/labelling-task/internal/platform/postgres"
	"github.com/phrazzld/labelling-task/internal/runner"
	"github.com/phrazzld/labelling-task/internal/service"
	"github.com/phrazzld/labelling-task/internal/service/auth"
	"github.com/phrazzld/labelling-task/internal/stream"
	"github.com/redis/go-redis/v9"
)

// application owns every shared resource of the process. It is built once
// by newApplication and released by cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB
	redis  *redis.Client

	tasks       *postgres.PostgresTaskStore
	allocations *postgres.PostgresAllocationStore

	// Outbound identity: one token cache shared by every internal client.
	tokens    *oauth.TokenCache
	client    *oauth.Client
	directory *directory.Client
	content   content.Store

	engine     *allocation.Engine
	runner     *runner.Runner
	dispatcher *allocation.Dispatcher
	emitter    *events.InMemoryEventEmitter

	taskService *service.TaskService
	verifier    auth.TokenVerifier
}

// newApplication wires the application. The database must already be
// reachable; redis is connected here. On error everything acquired so far,
// db included, is released.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	log *slog.Logger,
	db *sql.DB,
) (_ *application, err error) {
	app := &application{
		config: cfg,
		logger: log,
		db:     db,
	}
	defer func() {
		if err != nil {
			app.cleanup()
		}
	}()

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	app.redis = redis.NewClient(redisOpts)
	if err := app.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("redis connection established", slog.String("addr", redisOpts.Addr))

	app.tasks = postgres.NewPostgresTaskStore(db, log)
	app.allocations = postgres.NewPostgresAllocationStore(db, log)

	httpClient := &http.Client{Timeout: cfg.Identity.RequestTimeout}
	app.tokens = oauth.NewTokenCache(oauth.Credentials{
		TokenURL:     cfg.Identity.TokenURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Scope:        cfg.Identity.Scope,
	}, httpClient, log)
	app.client = oauth.NewClient(httpClient, app.tokens)
	app.directory = directory.NewClient(cfg.Identity.DirectoryURL, app.client, log)

	app.content, err = newContentStore(ctx, cfg.Content, app.client, log)
	if err != nil {
		return nil, err
	}

	registry := allocation.NewRegistry(app.allocations, cfg.Allocation.DefaultPolicy)
	app.engine = allocation.NewEngine(registry, app.allocations, app.tasks, app.directory, log)

	app.runner = runner.New(runner.Config{
		WorkerCount: cfg.Allocation.WorkerCount,
		QueueSize:   cfg.Allocation.QueueSize,
		JobTimeout:  time.Minute,
	}, log)
	app.runner.SetErrorHandler(app.allocationFailed)
	app.runner.Start()
	app.dispatcher = allocation.NewDispatcher(app.engine, app.runner, log)

	app.emitter = events.NewInMemoryEventEmitter(log)
	app.emitter.RegisterHandler(events.NewStreamPublisher(app.redis, cfg.Redis.TasksStream, 0, log))

	app.taskService, err = service.NewTaskService(
		app.tasks,
		app.emitter,
		service.NewRedisMetaCache(app.redis, cfg.Redis.TaskMetaTTL),
		app.dispatcher,
		app.engine,
		service.Config{
			AdminRoles:  cfg.Auth.AdminRoles,
			DefaultRole: cfg.Allocation.DefaultRole,
		},
		log,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	var verifierOpts []auth.Option
	if cfg.Auth.Issuer != "" {
		verifierOpts = append(verifierOpts, auth.WithIssuer(cfg.Auth.Issuer))
	}
	if cfg.Auth.Audience != "" {
		verifierOpts = append(verifierOpts, auth.WithAudience(cfg.Auth.Audience))
	}
	app.verifier, err = auth.NewHMACVerifier(cfg.Auth.JWTSecret, verifierOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create token verifier: %w", err)
	}

	log.Info("application initialized",
		slog.String("default_policy", cfg.Allocation.DefaultPolicy),
		slog.Int("allocation_workers", cfg.Allocation.WorkerCount))
	return app, nil
}

func newContentStore(
	ctx context.Context,
	cfg config.ContentConfig,
	client *oauth.Client,
	log *slog.Logger,
) (content.Store, error) {
	switch cfg.Backend {
	case "s3":
		s, err := content.NewS3Store(ctx, content.S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create s3 content store: %w", err)
		}
		return s, nil
	case "http", "":
		return content.NewHTTPStore(cfg.BaseURL, client, log), nil
	default:
		return nil, fmt.Errorf("unknown content backend %q", cfg.Backend)
	}
}

// allocationFailed logs background allocation failures. Failures a retry
// cannot fix are expected in normal operation and logged as warnings.
func (app *application) allocationFailed(job runner.Job, err error) {
	level := slog.LevelError
	if allocation.IsPermanent(err) {
		level = slog.LevelWarn
	}
	app.logger.Log(context.Background(), level, "background allocation failed",
		slog.String("job_id", job.ID().String()),
		slog.String("job_type", job.Type()),
		slog.String("error", err.Error()))
}

// healthChecks are the readiness probes shared by both commands.
func (app *application) healthChecks() map[string]api.CheckFunc {
	return map[string]api.CheckFunc{
		"database": app.db.PingContext,
		"redis":    app.pingRedis,
	}
}

func (app *application) pingRedis(ctx context.Context) error {
	return app.redis.Ping(ctx).Err()
}

// serve runs the HTTP API until ctx is cancelled.
func (app *application) serve(ctx context.Context) error {
	handler := newRouter(routerConfig{
		logger:   app.logger,
		checks:   app.healthChecks(),
		verifier: app.verifier,
		tasks:    app.taskService,
	})
	return runHTTPServer(ctx, app.listenAddr(), handler, app.config.Server.ShutdownTimeout, app.logger)
}

// work runs the bundle consumer until ctx is cancelled. Health and metrics
// stay reachable on the server port while it runs.
func (app *application) work(ctx context.Context) error {
	expander := bundle.NewExpander(
		app.tasks,
		app.content,
		app.emitter,
		app.dispatcher,
		bundle.Config{
			TempDir:     app.config.Content.TempDir,
			DefaultRole: app.config.Allocation.DefaultRole,
		},
		app.logger,
	)

	consumer := stream.NewConsumer[bundle.Job](
		app.redis,
		stream.Options{
			Stream:        app.config.Redis.BundleStream,
			Group:         app.config.Stream.Group,
			Consumer:      consumerName(app.config.Stream.Consumer),
			BatchSize:     app.config.Stream.BatchSize,
			Block:         app.config.Stream.Block,
			MinIdle:       app.config.Stream.MinIdle,
			MaxBackoff:    app.config.Stream.MaxBackoff,
			ProcessedTTL:  app.config.Stream.ProcessedTTL,
			MaxDeliveries: app.config.Stream.MaxDeliveries,
		},
		bundle.ParseJob,
		expander.Handle,
		app.logger,
	)

	handler := newRouter(routerConfig{
		logger: app.logger,
		checks: app.healthChecks(),
	})
	return runWorker(ctx, consumer, app.listenAddr(), handler, app.config.Server.ShutdownTimeout, app.logger)
}

func (app *application) listenAddr() string {
	return fmt.Sprintf(":%d", app.config.Server.Port)
}

// consumerName returns configured, or a name unique to this process.
func consumerName(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

// cleanup drains the allocation runner and closes connections. It is safe
// to call on a partially built application.
func (app *application) cleanup() {
	if app.runner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		if err := app.runner.Stop(ctx); err != nil {
			app.logger.Error("allocation runner did not drain", slog.String("error", err.Error()))
		}
		cancel()
	}

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("failed to close redis client", slog.String("error", err.Error()))
		}
	}

	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", slog.String("error", err.Error()))
		}
	}

	app.logger.Info("application shutdown completed")
}
