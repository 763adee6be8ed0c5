package allocation

import (
	"context"
	"errors"
	"testing"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	store     *memAllocationStore
	directory *fakeDirectory
	tasks     *fakeAssigner
	engine    *Engine
}

func newEngineFixture(dir *fakeDirectory, pool ...domain.WorkerPoolEntry) *engineFixture {
	s := newMemAllocationStore(pool...)
	tasks := newFakeAssigner()
	return &engineFixture{
		store:     s,
		directory: dir,
		tasks:     tasks,
		engine:    NewEngine(NewRegistry(s, domain.PolicyRoundRobin), s, tasks, dir, discardLogger()),
	}
}

func TestEngine_BootstrapsEmptyPool(t *testing.T) {
	f := newEngineFixture(&fakeDirectory{members: []string{"u1", "u2"}})

	entry, err := f.engine.Allocate(context.Background(), request("w1", "RR"))
	require.NoError(t, err)

	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, 1, f.directory.calls)
	assert.Equal(t, "u1", f.tasks.get("t1", "w1"))

	workers, err := f.store.ListWorkers(context.Background(), "t1", domain.RoleAnnotator)
	require.NoError(t, err)
	require.Len(t, workers, 2)
	assert.Equal(t, 1, workers[0].ActiveTaskCount)
	assert.Equal(t, 0, workers[1].ActiveTaskCount)
	assert.Nil(t, workers[1].LastAssignedAt)
}

func TestEngine_LeastLoadedScenario(t *testing.T) {
	f := newEngineFixture(&fakeDirectory{}, worker("u1", 2), worker("u2", 1))

	entry, err := f.engine.Allocate(context.Background(), request("w1", "LL"))
	require.NoError(t, err)

	assert.Equal(t, "u2", entry.UserID)
	assert.Equal(t, 2, entry.ActiveTaskCount)
	assert.Zero(t, f.directory.calls)
	assert.Equal(t, "u2", f.tasks.get("t1", "w1"))
}

func TestEngine_ValidationFailsBeforeAnyIO(t *testing.T) {
	f := newEngineFixture(&fakeDirectory{members: []string{"u1"}})

	_, err := f.engine.Allocate(context.Background(), domain.AllocationRequest{TenantID: "t1", Role: "annotator"})
	assert.ErrorIs(t, err, domain.ErrInvalidAllocationRequest)
	assert.Zero(t, f.store.callCount())
	assert.Zero(t, f.directory.calls)
}

func TestEngine_UnknownPolicy(t *testing.T) {
	f := newEngineFixture(&fakeDirectory{}, worker("u1", 0))

	_, err := f.engine.Allocate(context.Background(), request("w1", "Shuffle"))
	assert.ErrorIs(t, err, ErrUnknownPolicy)
	assert.True(t, IsPermanent(err))
	assert.Zero(t, f.store.callCount())
}

func TestEngine_RetriesExactlyOnce(t *testing.T) {
	f := newEngineFixture(&fakeDirectory{members: nil})

	_, err := f.engine.Allocate(context.Background(), request("w1", "LL"))
	assert.ErrorIs(t, err, ErrNoEligibleWorker)
	assert.False(t, IsPermanent(err))
	assert.Contains(t, err.Error(), "0 workers, 0 active")

	// select, bootstrap, select
	assert.Equal(t, 3, f.store.callCount())
	assert.Equal(t, 1, f.directory.calls)
	assert.Empty(t, f.tasks.get("t1", "w1"))
}

func TestEngine_InactivePoolStaysEmptyAfterBootstrap(t *testing.T) {
	inactive := worker("u1", 0)
	inactive.IsActive = false
	f := newEngineFixture(&fakeDirectory{members: []string{"u1"}}, inactive)

	_, err := f.engine.Allocate(context.Background(), request("w1", "RR"))
	assert.ErrorIs(t, err, ErrNoEligibleWorker)
	assert.Contains(t, err.Error(), "1 workers, 0 active")

	workers, err := f.store.ListWorkers(context.Background(), "t1", domain.RoleAnnotator)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.False(t, workers[0].IsActive)
}

func TestEngine_DirectoryFailure(t *testing.T) {
	f := newEngineFixture(&fakeDirectory{err: errors.New("directory down")})

	_, err := f.engine.Allocate(context.Background(), request("w1", "RR"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoEligibleWorker)
	assert.Contains(t, err.Error(), "directory down")
}

func TestEngine_TaskUpdateFailure(t *testing.T) {
	f := newEngineFixture(&fakeDirectory{}, worker("u1", 0))
	f.tasks.err = errors.New("task missing")

	entry, err := f.engine.Allocate(context.Background(), request("w1", "RR"))
	assert.Nil(t, entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task missing")

	// The pool counter was still incremented.
	workers, err := f.store.ListWorkers(context.Background(), "t1", domain.RoleAnnotator)
	require.NoError(t, err)
	assert.Equal(t, 1, workers[0].ActiveTaskCount)
}

func TestEngine_BootstrapIsIdempotent(t *testing.T) {
	f := newEngineFixture(&fakeDirectory{members: []string{"u1", "u2"}})

	first, err := f.engine.Allocate(context.Background(), request("w1", "RR"))
	require.NoError(t, err)

	inserted, err := f.store.BootstrapWorkers(context.Background(), "t1", domain.RoleAnnotator, []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Zero(t, inserted)

	workers, err := f.store.ListWorkers(context.Background(), "t1", domain.RoleAnnotator)
	require.NoError(t, err)
	assert.Equal(t, 1, workers[0].ActiveTaskCount)
	require.NotNil(t, workers[0].LastAssignedAt)
	assert.True(t, first.LastAssignedAt.Equal(*workers[0].LastAssignedAt))
}
