// Package main is the labelling-task process. The serve command runs the
// task HTTP API together with the background allocation runner, worker
// consumes bundle jobs from the bundle stream, and migrate manages the
// database schema.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/phrazzld/labelling-task/internal/config"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/platform/postgres"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          "labelling-task",
		Short:        "Allocates annotation tasks to workers",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file (optional)")

	root.AddCommand(
		newServeCmd(&configFile),
		newWorkerCmd(&configFile),
		newMigrateCmd(&configFile),
	)
	return root
}

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the task HTTP API and the allocation runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), *configFile, func(ctx context.Context, app *application) error {
				return app.serve(ctx)
			})
		},
	}
}

func newWorkerCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume bundle jobs and expand them into child tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApplication(cmd.Context(), *configFile, func(ctx context.Context, app *application) error {
				return app.work(ctx)
			})
		},
	}
}

func newMigrateCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|reset|status|version]",
		Short:     "Apply or inspect database migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "reset", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}

			cfg, log, err := bootstrap(*configFile)
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg.Database, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := db.Close(); err != nil {
					log.Error("failed to close database", slog.String("error", err.Error()))
				}
			}()

			log.Info("running migrations", slog.String("command", command))
			return postgres.Migrate(cmd.Context(), db, command, log)
		},
	}
}

// bootstrap loads configuration and installs the process logger.
func bootstrap(configFile string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	log.Info("configuration loaded",
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Server.LogLevel),
		slog.String("content_backend", cfg.Content.Backend))
	return cfg, log, nil
}

// withApplication builds the application, runs fn until SIGINT or SIGTERM,
// and releases every resource afterwards.
func withApplication(
	parent context.Context,
	configFile string,
	fn func(ctx context.Context, app *application) error,
) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, log, err := bootstrap(configFile)
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}

	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		return err
	}
	defer app.cleanup()

	return fn(ctx, app)
}

// openDatabase opens a pooled pgx connection and pings it.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("database connection established",
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns))
	return db, nil
}
