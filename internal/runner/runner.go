package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/labelling-task/internal/metrics"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
)

// Common errors returned by Submit.
var (
	ErrQueueFull = errors.New("runner queue is full")
	ErrStopped   = errors.New("runner is stopped")
)

// Config holds configuration for a Runner.
type Config struct {
	// WorkerCount is the number of goroutines executing jobs.
	// Values below one are treated as one.
	WorkerCount int

	// QueueSize bounds the number of jobs waiting for a worker.
	QueueSize int

	// JobTimeout bounds a single job execution. Zero means no timeout.
	JobTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		WorkerCount: 4,
		QueueSize:   256,
		JobTimeout:  time.Minute,
	}
}

// Runner executes submitted jobs on a pool of workers.
type Runner struct {
	jobs       chan Job
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	started    bool
	stopped    bool
	config     Config
	logger     *slog.Logger
	errHandler func(job Job, err error)
}

// New creates a Runner. Call Start before submitting work you expect to run.
func New(config Config, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "runner"))

	if config.WorkerCount <= 0 {
		log.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", config.WorkerCount),
			slog.Int("default_count", 1))
		config.WorkerCount = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		jobs:   make(chan Job, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		config: config,
		logger: log,
		errHandler: func(job Job, err error) {
			log.Error("job execution failed",
				slog.String("job_id", job.ID().String()),
				slog.String("job_type", job.Type()),
				slog.String("error", err.Error()))
		},
	}
}

// SetErrorHandler replaces the function called with every failed job.
func (r *Runner) SetErrorHandler(handler func(job Job, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errHandler = handler
}

// Submit queues job without blocking.
func (r *Runner) Submit(ctx context.Context, job Job) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		return ErrStopped
	}

	select {
	case r.jobs <- job:
		metrics.SetRunnerQueueDepth(len(r.jobs))
		logger.FromContextOrDefault(ctx, r.logger).Debug("job submitted",
			slog.String("job_id", job.ID().String()),
			slog.String("job_type", job.Type()),
			slog.Int("queue_len", len(r.jobs)),
			slog.Int("queue_cap", cap(r.jobs)))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(r.jobs))
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	for i := 0; i < r.config.WorkerCount; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.Info("runner started",
		slog.Int("workers", r.config.WorkerCount),
		slog.Int("queue_size", cap(r.jobs)))
}

// Stop rejects new jobs, lets the workers drain the queue and waits for
// them. If ctx expires first, running jobs are cancelled and Stop returns
// ctx's error.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	close(r.jobs)
	started := r.started
	r.mu.Unlock()

	if !started {
		r.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		r.logger.Info("runner stopped")
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("starting worker", slog.Int("worker_id", id))
	for job := range r.jobs {
		metrics.SetRunnerQueueDepth(len(r.jobs))
		r.process(job, id)
	}
	r.logger.Debug("queue closed, stopping worker", slog.Int("worker_id", id))
}

func (r *Runner) process(job Job, workerID int) {
	log := r.logger.With(
		slog.String("job_id", job.ID().String()),
		slog.String("job_type", job.Type()),
		slog.Int("worker_id", workerID),
	)

	ctx := logger.WithLogger(r.ctx, log)
	if r.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.execute(ctx, job)
	if err != nil {
		metrics.RecordRunnerJob(job.Type(), metrics.OutcomeFailed)
		r.mu.RLock()
		handler := r.errHandler
		r.mu.RUnlock()
		handler(job, err)
		return
	}

	metrics.RecordRunnerJob(job.Type(), metrics.OutcomeSucceeded)
	log.Debug("job completed", slog.Duration("duration", time.Since(start)))
}

func (r *Runner) execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	return job.Execute(ctx)
}
