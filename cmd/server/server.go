package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// bundleConsumer is the part of the stream consumer the worker command runs.
type bundleConsumer interface {
	Run(ctx context.Context) error
}

// runHTTPServer serves handler on addr until ctx is cancelled, then shuts
// the server down, waiting at most shutdownTimeout for open requests.
func runHTTPServer(
	ctx context.Context,
	addr string,
	handler http.Handler,
	shutdownTimeout time.Duration,
	log *slog.Logger,
) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		log.Info("server stopped")
		return nil
	})
	return g.Wait()
}

// runWorker runs consumer next to an operational HTTP server. Either one
// failing stops the other.
func runWorker(
	ctx context.Context,
	consumer bundleConsumer,
	addr string,
	handler http.Handler,
	shutdownTimeout time.Duration,
	log *slog.Logger,
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runHTTPServer(gctx, addr, handler, shutdownTimeout, log)
	})
	g.Go(func() error {
		if err := consumer.Run(gctx); err != nil {
			return fmt.Errorf("bundle consumer failed: %w", err)
		}
		// Run only returns nil once gctx is done; the server stops with it.
		return nil
	})
	return g.Wait()
}
