package bundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"github.com/phrazzld/labelling-task/internal/allocation"
	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/events"
	"github.com/phrazzld/labelling-task/internal/metrics"
	"github.com/phrazzld/labelling-task/internal/platform/content"
	"github.com/phrazzld/labelling-task/internal/platform/logger"
	"github.com/phrazzld/labelling-task/internal/runner"
	"github.com/phrazzld/labelling-task/internal/store"
	"github.com/sethvargo/go-retry"
)

const (
	defaultContentType  = "application/octet-stream"
	defaultDispatchWait = 30 * time.Second
)

// Tasks is the part of the task store the expander uses.
type Tasks interface {
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*domain.Task, error)
	FindChild(ctx context.Context, tenantID, parentExternalID, entry string) (*domain.Task, error)
	CreateChild(ctx context.Context, child *domain.Task) error
}

// Dispatcher queues allocation for a new task.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.AllocationRequest) error
}

// Config configures an Expander.
type Config struct {
	// TempDir is where per-job working directories are created.
	// Empty means the OS default.
	TempDir string

	// DefaultRole is the role children are allocated to.
	DefaultRole string

	// DispatchWait bounds how long a child waits for room in a full
	// allocation queue. Zero means 30s.
	DispatchWait time.Duration
}

// Expander processes bundle jobs.
type Expander struct {
	tasks    Tasks
	content  content.Store
	events   events.EventEmitter
	dispatch Dispatcher
	config   Config
	logger   *slog.Logger
}

// NewExpander creates an Expander.
func NewExpander(
	tasks Tasks,
	contentStore content.Store,
	emitter events.EventEmitter,
	dispatch Dispatcher,
	config Config,
	log *slog.Logger,
) *Expander {
	if log == nil {
		log = slog.Default()
	}
	if config.DispatchWait <= 0 {
		config.DispatchWait = defaultDispatchWait
	}
	return &Expander{
		tasks:    tasks,
		content:  contentStore,
		events:   emitter,
		dispatch: dispatch,
		config:   config,
		logger:   log.With(slog.String("component", "bundle_expander")),
	}
}

// Handle adapts Process to the stream consumer.
func (e *Expander) Handle(ctx context.Context, messageID string, job Job) error {
	return e.Process(logger.WithLogger(ctx, logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("message_id", messageID))), job)
}

// Process expands one bundle.
//
// A nil return means the job is finished and its message can be
// acknowledged: this includes a missing parent, which can never succeed.
// Download, archive, child insert and dispatch failures are returned so the
// message is redelivered. Each child is keyed by its archive entry and
// counted on the parent in the same transaction that inserts it, so a
// redelivered job skips entries that already have a child and only
// re-dispatches those still unallocated.
func (e *Expander) Process(ctx context.Context, job Job) error {
	log := logger.FromContextOrDefault(ctx, e.logger).With(
		slog.String("tenant_id", job.TenantID),
		slog.String("document_id", job.DocumentID),
		slog.String("project_external_id", job.ProjectExternalID),
		slog.String("request_id", job.RequestID),
	)
	ctx = logger.WithLogger(ctx, log)
	start := time.Now()
	log.Info("bundle expansion started")

	parent, err := e.tasks.GetByExternalID(ctx, job.TenantID, job.ProjectExternalID)
	if err != nil {
		if store.IsNotFoundError(err) {
			log.Error("parent task not found, dropping bundle job")
			return nil
		}
		return fmt.Errorf("failed to load parent task %s: %w", job.ProjectExternalID, err)
	}

	workDir, err := os.MkdirTemp(e.config.TempDir, "bundle-")
	if err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn("failed to remove working directory",
				slog.String("dir", workDir),
				slog.String("error", err.Error()))
		}
	}()

	archivePath := filepath.Join(workDir, "bundle.zip")
	if err := e.download(ctx, job.DocumentID, archivePath); err != nil {
		log.Error("bundle download failed", slog.String("error", err.Error()))
		return err
	}

	created, err := e.expand(ctx, archivePath, filepath.Join(workDir, "entries"), parent)
	if err != nil {
		log.Error("bundle expansion failed",
			slog.Int("created", created),
			slog.String("error", err.Error()))
		return err
	}

	log.Info("bundle expansion finished",
		slog.Int("created", created),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (e *Expander) download(ctx context.Context, documentID, target string) error {
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	n, err := e.content.Download(ctx, documentID, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to download bundle %s: %w", documentID, err)
	}
	logger.FromContextOrDefault(ctx, e.logger).Info("bundle downloaded", slog.Int64("bytes", n))
	return nil
}

// expand walks the archive and returns how many children it created.
func (e *Expander) expand(ctx context.Context, archivePath, entriesDir string, parent *domain.Task) (int, error) {
	log := logger.FromContextOrDefault(ctx, e.logger)

	archive, err := zip.OpenReader(archivePath)
	if archive == nil {
		return 0, fmt.Errorf("failed to open bundle archive: %w", err)
	}
	defer func() { _ = archive.Close() }()
	if err != nil {
		// Insecure entry names are reported here; safePath skips them below.
		log.Warn("bundle archive opened with warnings", slog.String("error", err.Error()))
	}

	created := 0
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() || strings.HasSuffix(entry.Name, "/") {
			continue
		}

		local, ok := safePath(entriesDir, entry.Name)
		if !ok {
			log.Warn("skipping entry outside the archive root", slog.String("entry", entry.Name))
			metrics.RecordBundleEntry(metrics.OutcomeSkipped)
			continue
		}

		done, err := e.processEntry(ctx, parent, entry, local)
		_ = os.Remove(local)
		if err != nil {
			return created, err
		}
		if done {
			created++
		}
	}
	return created, nil
}

// processEntry creates the child task for one archive entry unless the entry
// already has one. It reports whether a child was created. Upload failures
// skip the entry and are not errors.
func (e *Expander) processEntry(ctx context.Context, parent *domain.Task, entry *zip.File, local string) (bool, error) {
	log := logger.FromContextOrDefault(ctx, e.logger).With(slog.String("entry", entry.Name))

	existing, err := e.tasks.FindChild(ctx, parent.TenantID, parent.ExternalID, entry.Name)
	switch {
	case err == nil:
		return false, e.resume(ctx, existing)
	case !store.IsNotFoundError(err):
		return false, fmt.Errorf("failed to look up child for %s: %w", entry.Name, err)
	}

	if err := extract(entry, local); err != nil {
		return false, fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}

	name := path.Base(entry.Name)
	contentID, err := e.upload(ctx, parent, entry.Name, name, local, int64(entry.UncompressedSize64))
	if err != nil {
		log.Error("entry upload failed, skipping", slog.String("error", err.Error()))
		metrics.RecordBundleEntry(metrics.OutcomeFailed)
		return false, nil
	}

	child := parent.NewChild(contentID, entry.Name)
	if err := e.tasks.CreateChild(ctx, child); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			log.Info("child task already exists", slog.String("child_external_id", contentID))
			metrics.RecordBundleEntry(metrics.OutcomeDuplicate)
			return false, nil
		}
		return false, fmt.Errorf("failed to create child task for %s: %w", entry.Name, err)
	}
	metrics.RecordBundleEntry(metrics.OutcomeSucceeded)
	log.Info("child task created",
		slog.String("child_external_id", contentID),
		slog.String("parent_external_id", parent.ExternalID))

	if err := e.events.EmitEvent(ctx, events.NewTaskCreated(child, parent.Details)); err != nil {
		log.Error("failed to emit child task event", slog.String("error", err.Error()))
	}

	return true, e.dispatchChild(ctx, child)
}

// resume finishes an entry whose child exists from an earlier delivery:
// a child that never got a worker is dispatched again.
func (e *Expander) resume(ctx context.Context, child *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, e.logger)
	metrics.RecordBundleEntry(metrics.OutcomeDuplicate)

	if child.AllocatedTo != nil || child.DeletedAt != nil {
		log.Info("child task already exists", slog.String("child_external_id", child.ExternalID))
		return nil
	}
	log.Info("child task exists but is unallocated, dispatching again",
		slog.String("child_external_id", child.ExternalID))
	return e.dispatchChild(ctx, child)
}

// dispatchChild queues allocation for child, waiting up to DispatchWait
// while the allocation queue is full. Requests that can never be allocated
// are logged and dropped.
func (e *Expander) dispatchChild(ctx context.Context, child *domain.Task) error {
	log := logger.FromContextOrDefault(ctx, e.logger).With(slog.String("child_external_id", child.ExternalID))
	req := domain.AllocationRequestFor(child, allocation.RoleForStatus(child.Status, e.config.DefaultRole))

	backoff := retry.NewExponential(50 * time.Millisecond)
	backoff = retry.WithCappedDuration(time.Second, backoff)
	backoff = retry.WithMaxDuration(e.config.DispatchWait, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := e.dispatch.Dispatch(ctx, req)
		if errors.Is(err, runner.ErrQueueFull) {
			return retry.RetryableError(err)
		}
		return err
	})
	switch {
	case err == nil:
		return nil
	case allocation.IsPermanent(err):
		log.Warn("child cannot be allocated", slog.String("error", err.Error()))
		return nil
	default:
		log.Error("failed to dispatch child allocation", slog.String("error", err.Error()))
		return fmt.Errorf("failed to dispatch allocation of %s: %w", child.ExternalID, err)
	}
}

func (e *Expander) upload(ctx context.Context, parent *domain.Task, entryPath, name, local string, size int64) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	return e.content.Upload(ctx, content.Object{
		Name:        name,
		Key:         entryPath,
		ContentType: DetectContentType(name, local),
		Size:        size,
		Body:        f,
	}, content.UploadMetadata{
		TenantID:    parent.TenantID,
		TaskCreated: true,
		ExternalID:  parent.ExternalID,
		MediaName:   name,
		ParentID:    parent.ExternalID,
		Owner:       parent.Owner,
		CreatedBy:   parent.CreatedBy,
	})
}

// DetectContentType guesses the media type of the file at local, first from
// name's extension, then from its content.
func DetectContentType(name, local string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	if m, err := mimetype.DetectFile(local); err == nil {
		return m.String()
	}
	return defaultContentType
}

func extract(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return err
	}
	src, err := entry.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// safePath joins name under root and rejects names that escape it.
func safePath(root, name string) (string, bool) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(root, cleaned), true
}
