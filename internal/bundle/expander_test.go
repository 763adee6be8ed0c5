package bundle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/events"
	"github.com/phrazzld/labelling-task/internal/allocation"
	"github.com/phrazzld/labelling-task/internal/platform/content"
	"github.com/phrazzld/labelling-task/internal/runner"
	"github.com/phrazzld/labelling-task/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTasks struct {
	mu         sync.Mutex
	tasks      map[string]*domain.Task
	increments map[string]int
	createErr  error
	getErr     error
}

func newMemTasks(tasks ...*domain.Task) *memTasks {
	m := &memTasks{tasks: map[string]*domain.Task{}, increments: map[string]int{}}
	for _, t := range tasks {
		m.tasks[t.TenantID+"/"+t.ExternalID] = t
	}
	return m
}

func (m *memTasks) GetByExternalID(_ context.Context, tenantID, externalID string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	t, ok := m.tasks[tenantID+"/"+externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, externalID)
	}
	return t, nil
}

func (m *memTasks) Create(_ context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(task)
}

func (m *memTasks) insert(task *domain.Task) error {
	if m.createErr != nil {
		return m.createErr
	}
	key := task.TenantID + "/" + task.ExternalID
	if _, ok := m.tasks[key]; ok {
		return fmt.Errorf("%w: %s", store.ErrTaskExists, task.ExternalID)
	}
	if task.SourceEntry != nil && m.findChild(task.TenantID, *task.ParentExternalID, *task.SourceEntry) != nil {
		return fmt.Errorf("%w: %s", store.ErrTaskExists, *task.SourceEntry)
	}
	m.tasks[key] = task
	return nil
}

func (m *memTasks) FindChild(_ context.Context, tenantID, parentExternalID, entry string) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.findChild(tenantID, parentExternalID, entry); t != nil {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", store.ErrTaskNotFound, entry)
}

func (m *memTasks) findChild(tenantID, parentExternalID, entry string) *domain.Task {
	for _, t := range m.tasks {
		if t.TenantID == tenantID && t.ParentExternalID != nil && *t.ParentExternalID == parentExternalID &&
			t.SourceEntry != nil && *t.SourceEntry == entry {
			return t
		}
	}
	return nil
}

func (m *memTasks) CreateChild(_ context.Context, child *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insert(child); err != nil {
		return err
	}
	m.increments[child.TenantID+"/"+*child.ParentExternalID]++
	return nil
}

func (m *memTasks) children(parent string) []*domain.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.ParentExternalID != nil && *t.ParentExternalID == parent {
			out = append(out, t)
		}
	}
	return out
}

type memContent struct {
	mu        sync.Mutex
	archive   []byte
	dlErr     error
	failNames map[string]bool
	uploads   []content.UploadMetadata
	types     map[string]string
	next      int
	ids       []string
}

func (c *memContent) Download(_ context.Context, _ string, w io.Writer) (int64, error) {
	if c.dlErr != nil {
		return 0, c.dlErr
	}
	n, err := io.Copy(w, bytes.NewReader(c.archive))
	return n, err
}

func (c *memContent) Upload(_ context.Context, obj content.Object, meta content.UploadMetadata) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.Copy(io.Discard, obj.Body); err != nil {
		return "", err
	}
	if c.failNames[obj.Name] {
		return "", errors.New("upload service unavailable")
	}
	c.uploads = append(c.uploads, meta)
	if c.types == nil {
		c.types = map[string]string{}
	}
	c.types[obj.Name] = obj.ContentType
	var id string
	if c.next < len(c.ids) {
		id = c.ids[c.next]
	} else {
		id = fmt.Sprintf("content-%d", c.next)
	}
	c.next++
	return id, nil
}

type memEmitter struct {
	mu     sync.Mutex
	events []*events.Event
}

func (e *memEmitter) EmitEvent(_ context.Context, ev *events.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

type memDispatcher struct {
	mu    sync.Mutex
	reqs  []domain.AllocationRequest
	errs  []error
	err   error
	calls int
}

// Dispatch fails with the queued errs first, then with err if set.
func (d *memDispatcher) Dispatch(_ context.Context, req domain.AllocationRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return err
	}
	if d.err != nil {
		return d.err
	}
	d.reqs = append(d.reqs, req)
	return nil
}

func (d *memDispatcher) taskIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.reqs))
	for _, r := range d.reqs {
		ids = append(ids, r.TaskID)
	}
	return ids
}

type archiveEntry struct {
	name string
	body string
}

func buildArchive(t *testing.T, entries ...archiveEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if !strings.HasSuffix(e.name, "/") {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fixture struct {
	parent     *domain.Task
	tasks      *memTasks
	content    *memContent
	emitter    *memEmitter
	dispatcher *memDispatcher
	tempDir    string
	expander   *Expander
}

func newFixture(t *testing.T, archive []byte) *fixture {
	t.Helper()
	parent, err := domain.NewTask("t1", "bundle-1", "acme", "", "owner-1", domain.TaskDetails{
		DataType:           "image",
		TaskAssignmentType: "LL",
		WorkflowType:       "Review",
		ChildTaskCount:     4,
	})
	require.NoError(t, err)

	f := &fixture{
		parent:     parent,
		tasks:      newMemTasks(parent),
		content:    &memContent{archive: archive},
		emitter:    &memEmitter{},
		dispatcher: &memDispatcher{},
		tempDir:    t.TempDir(),
	}
	f.expander = NewExpander(f.tasks, f.content, f.emitter, f.dispatcher,
		Config{TempDir: f.tempDir, DefaultRole: domain.RoleAnnotator, DispatchWait: 200 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) job() Job {
	return Job{DocumentID: "doc-1", ProjectExternalID: "bundle-1", TenantID: "t1", RequestID: "req-1"}
}

func assertTempDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcess_CreatesOneChildPerFile(t *testing.T) {
	f := newFixture(t, buildArchive(t,
		archiveEntry{name: "images/"},
		archiveEntry{name: "images/cat.png", body: "\x89PNG\r\n\x1a\n"},
		archiveEntry{name: "images/dog.jpg", body: "jpeg"},
		archiveEntry{name: "notes.txt", body: "hello"},
	))

	require.NoError(t, f.expander.Process(context.Background(), f.job()))

	children := f.tasks.children("bundle-1")
	require.Len(t, children, 3)
	names := map[string]bool{}
	for _, c := range children {
		names[c.Details.FileName] = true
		assert.Equal(t, domain.StatusAssignAnnotate, c.Status)
		assert.Nil(t, c.AllocatedTo)
		assert.Equal(t, "image", c.Details.DataType)
		assert.Equal(t, "owner-1", c.CreatedBy)
		assert.Zero(t, c.Details.ChildTaskCount)
	}
	assert.Equal(t, map[string]bool{"cat.png": true, "dog.jpg": true, "notes.txt": true}, names)
	assert.Equal(t, 3, f.tasks.increments["t1/bundle-1"])

	require.Len(t, f.emitter.events, 3)
	for _, ev := range f.emitter.events {
		assert.Equal(t, events.TypeTaskCreated, ev.Type)
		assert.Equal(t, "LL", ev.Fields["assignment"])
		assert.Equal(t, "Review", ev.Fields["workflow"])
	}

	require.Len(t, f.dispatcher.reqs, 3)
	for _, req := range f.dispatcher.reqs {
		assert.Equal(t, domain.RoleAnnotator, req.Role)
		assert.Equal(t, "LL", req.Assignment)
		assert.Equal(t, "t1", req.TenantID)
	}

	require.Len(t, f.content.uploads, 3)
	for _, meta := range f.content.uploads {
		assert.True(t, meta.TaskCreated)
		assert.Equal(t, "bundle-1", meta.ParentID)
		assert.Equal(t, "owner-1", meta.Owner)
	}
	assert.Equal(t, "image/png", f.content.types["cat.png"])
	assert.Equal(t, "image/jpeg", f.content.types["dog.jpg"])

	assertTempDirEmpty(t, f.tempDir)
}

func TestProcess_UploadFailureSkipsEntry(t *testing.T) {
	f := newFixture(t, buildArchive(t,
		archiveEntry{name: "a.txt", body: "a"},
		archiveEntry{name: "b.txt", body: "b"},
		archiveEntry{name: "c.txt", body: "c"},
	))
	f.content.failNames = map[string]bool{"b.txt": true}

	require.NoError(t, f.expander.Process(context.Background(), f.job()))

	assert.Len(t, f.tasks.children("bundle-1"), 2)
	assert.Equal(t, 2, f.tasks.increments["t1/bundle-1"])
	assert.Len(t, f.emitter.events, 2)
	assertTempDirEmpty(t, f.tempDir)
}

func TestProcess_ParentNotFoundIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	f.content.dlErr = errors.New("should not download")

	job := f.job()
	job.ProjectExternalID = "missing"
	assert.NoError(t, f.expander.Process(context.Background(), job))
	assert.Empty(t, f.tasks.increments)
}

func TestProcess_ParentLookupErrorIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	f.tasks.getErr = errors.New("connection refused")

	assert.Error(t, f.expander.Process(context.Background(), f.job()))
}

func TestProcess_DownloadFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.content.dlErr = errors.New("gateway timeout")

	err := f.expander.Process(context.Background(), f.job())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway timeout")
	assertTempDirEmpty(t, f.tempDir)
}

func TestProcess_CorruptArchive(t *testing.T) {
	f := newFixture(t, []byte("not a zip file"))

	err := f.expander.Process(context.Background(), f.job())
	assert.Error(t, err)
	assert.Empty(t, f.tasks.increments)
	assertTempDirEmpty(t, f.tempDir)
}

func TestProcess_AllocatedChildIsAlreadyDone(t *testing.T) {
	f := newFixture(t, buildArchive(t,
		archiveEntry{name: "a.txt", body: "a"},
		archiveEntry{name: "b.txt", body: "b"},
	))

	existing := f.parent.NewChild("content-a", "a.txt")
	worker := "u1"
	existing.AllocatedTo = &worker
	require.NoError(t, f.tasks.Create(context.Background(), existing))

	require.NoError(t, f.expander.Process(context.Background(), f.job()))

	assert.Equal(t, 1, f.tasks.increments["t1/bundle-1"])
	require.Len(t, f.content.uploads, 1, "an entry with a child is not uploaded again")
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, "content-0", f.emitter.events[0].Fields["external_id"])
	assert.Equal(t, []string{"content-0"}, f.dispatcher.taskIDs())
	assert.Len(t, f.tasks.children("bundle-1"), 2)
}

func TestProcess_ChildInsertFailureKeepsPartialCount(t *testing.T) {
	f := newFixture(t, buildArchive(t,
		archiveEntry{name: "a.txt", body: "a"},
		archiveEntry{name: "b.txt", body: "b"},
	))
	tasks := &failAfter{memTasks: f.tasks, allowed: 1}
	f.expander.tasks = tasks

	err := f.expander.Process(context.Background(), f.job())
	require.Error(t, err)
	assert.Equal(t, 1, f.tasks.increments["t1/bundle-1"])
	assertTempDirEmpty(t, f.tempDir)
}

func TestProcess_RedeliveryCreatesEachChildOnce(t *testing.T) {
	f := newFixture(t, buildArchive(t,
		archiveEntry{name: "a.txt", body: "a"},
		archiveEntry{name: "b.txt", body: "b"},
	))

	// The content store assigns a new id on every upload, so only the
	// entry path can tell a redelivered entry apart.
	f.expander.tasks = &failAfter{memTasks: f.tasks, allowed: 1}
	require.Error(t, f.expander.Process(context.Background(), f.job()))

	f.expander.tasks = f.tasks
	require.NoError(t, f.expander.Process(context.Background(), f.job()))

	children := f.tasks.children("bundle-1")
	require.Len(t, children, 2)
	perEntry := map[string]int{}
	for _, c := range children {
		require.NotNil(t, c.SourceEntry)
		perEntry[*c.SourceEntry]++
	}
	assert.Equal(t, map[string]int{"a.txt": 1, "b.txt": 1}, perEntry)
	assert.Equal(t, 2, f.tasks.increments["t1/bundle-1"])
	assert.Len(t, f.emitter.events, 2)
	assertTempDirEmpty(t, f.tempDir)
}

func TestProcess_RedeliveryDispatchesUnallocatedChild(t *testing.T) {
	f := newFixture(t, buildArchive(t, archiveEntry{name: "a.txt", body: "a"}))

	existing := f.parent.NewChild("content-a", "a.txt")
	require.NoError(t, f.tasks.Create(context.Background(), existing))

	require.NoError(t, f.expander.Process(context.Background(), f.job()))

	assert.Empty(t, f.content.uploads)
	assert.Empty(t, f.emitter.events)
	assert.Zero(t, f.tasks.increments["t1/bundle-1"])
	assert.Equal(t, []string{"content-a"}, f.dispatcher.taskIDs())
}

func TestProcess_WaitsForRoomInAllocationQueue(t *testing.T) {
	f := newFixture(t, buildArchive(t, archiveEntry{name: "a.txt", body: "a"}))
	full := fmt.Errorf("%w: queue capacity 1 reached", runner.ErrQueueFull)
	f.dispatcher.errs = []error{full, full}

	require.NoError(t, f.expander.Process(context.Background(), f.job()))

	assert.Equal(t, 3, f.dispatcher.calls)
	assert.Equal(t, []string{"content-0"}, f.dispatcher.taskIDs())
}

func TestProcess_SaturatedQueueIsRetriedOnRedelivery(t *testing.T) {
	f := newFixture(t, buildArchive(t,
		archiveEntry{name: "a.txt", body: "a"},
		archiveEntry{name: "b.txt", body: "b"},
	))
	f.dispatcher.err = runner.ErrQueueFull

	err := f.expander.Process(context.Background(), f.job())
	require.Error(t, err)
	assert.ErrorIs(t, err, runner.ErrQueueFull)
	assert.Len(t, f.tasks.children("bundle-1"), 1, "expansion stops at the undispatched child")

	f.dispatcher.err = nil
	require.NoError(t, f.expander.Process(context.Background(), f.job()))

	assert.Len(t, f.tasks.children("bundle-1"), 2)
	assert.ElementsMatch(t, []string{"content-0", "content-1"}, f.dispatcher.taskIDs())
	assert.Equal(t, 2, f.tasks.increments["t1/bundle-1"])
}

func TestProcess_PermanentDispatchErrorIsNotRetried(t *testing.T) {
	f := newFixture(t, buildArchive(t, archiveEntry{name: "a.txt", body: "a"}))
	f.dispatcher.err = fmt.Errorf("%w: %q", allocation.ErrUnknownPolicy, "Shuffle")

	require.NoError(t, f.expander.Process(context.Background(), f.job()))
	assert.Equal(t, 1, f.dispatcher.calls)
	assert.Len(t, f.tasks.children("bundle-1"), 1)
}

func TestProcess_SkipsEntriesEscapingRoot(t *testing.T) {
	f := newFixture(t, buildArchive(t,
		archiveEntry{name: "../evil.sh", body: "rm -rf"},
		archiveEntry{name: "ok.txt", body: "ok"},
	))

	require.NoError(t, f.expander.Process(context.Background(), f.job()))
	children := f.tasks.children("bundle-1")
	require.Len(t, children, 1)
	assert.Equal(t, "ok.txt", children[0].Details.FileName)
	_, err := os.Stat(filepath.Join(filepath.Dir(f.tempDir), "evil.sh"))
	assert.True(t, os.IsNotExist(err))
}

// failAfter lets the first allowed child inserts through and fails the rest.
type failAfter struct {
	*memTasks
	allowed int
}

func (f *failAfter) CreateChild(ctx context.Context, child *domain.Task) error {
	if f.allowed == 0 {
		return errors.New("disk full")
	}
	f.allowed--
	return f.memTasks.CreateChild(ctx, child)
}

func TestDetectContentType(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "README")
	require.NoError(t, os.WriteFile(plain, []byte("just some text\n"), 0o600))
	png := filepath.Join(dir, "image")
	require.NoError(t, os.WriteFile(png, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0o600))

	assert.Equal(t, "image/png", DetectContentType("x.PNG", plain))
	assert.True(t, strings.HasPrefix(DetectContentType("README", plain), "text/plain"))
	assert.Equal(t, "image/png", DetectContentType("image", png))
	assert.Equal(t, defaultContentType, DetectContentType("gone", filepath.Join(dir, "missing")))
}

func TestSafePath(t *testing.T) {
	root := filepath.Join("tmp", "entries")

	p, ok := safePath(root, "a/b.txt")
	assert.True(t, ok)
	assert.Equal(t, filepath.Join(root, "a", "b.txt"), p)

	_, ok = safePath(root, "../x")
	assert.False(t, ok)
	_, ok = safePath(root, "/etc/passwd")
	assert.False(t, ok)
	_, ok = safePath(root, "a/../../x")
	assert.False(t, ok)
}
