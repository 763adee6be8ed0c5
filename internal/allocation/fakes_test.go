package allocation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/phrazzld/labelling-task/internal/store"
)

// memAllocationStore mirrors the ordering rules of the SQL store over an
// in-memory pool.
type memAllocationStore struct {
	mu      sync.Mutex
	entries []*domain.WorkerPoolEntry
	clock   time.Time
	calls   int
	err     error
}

func newMemAllocationStore(entries ...domain.WorkerPoolEntry) *memAllocationStore {
	s := &memAllocationStore{clock: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	for i := range entries {
		e := entries[i]
		s.entries = append(s.entries, &e)
	}
	return s
}

func (s *memAllocationStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *memAllocationStore) candidates(sel store.Selection, keep func(*domain.WorkerPoolEntry) bool) []*domain.WorkerPoolEntry {
	var out []*domain.WorkerPoolEntry
	for _, e := range s.entries {
		if e.TenantID == sel.TenantID && e.Role == sel.Role && e.IsActive && keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func olderThan(a, b *domain.WorkerPoolEntry) (bool, bool) {
	switch {
	case a.LastAssignedAt == nil && b.LastAssignedAt == nil:
		return false, false
	case a.LastAssignedAt == nil:
		return true, true
	case b.LastAssignedAt == nil:
		return false, true
	case !a.LastAssignedAt.Equal(*b.LastAssignedAt):
		return a.LastAssignedAt.Before(*b.LastAssignedAt), true
	}
	return false, false
}

func byAge(a, b *domain.WorkerPoolEntry) bool {
	if less, decided := olderThan(a, b); decided {
		return less
	}
	return a.UserID < b.UserID
}

func byLoad(a, b *domain.WorkerPoolEntry) bool {
	if a.ActiveTaskCount != b.ActiveTaskCount {
		return a.ActiveTaskCount < b.ActiveTaskCount
	}
	return byAge(a, b)
}

func (s *memAllocationStore) pick(sel store.Selection, keep func(*domain.WorkerPoolEntry) bool, less func(a, b *domain.WorkerPoolEntry) bool, stampTask bool) (*domain.WorkerPoolEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	c := s.candidates(sel, keep)
	if len(c) == 0 {
		return nil, nil
	}
	sort.SliceStable(c, func(i, j int) bool { return less(c[i], c[j]) })
	w := c[0]
	now := s.tick()
	w.ActiveTaskCount++
	w.LastAssignedAt = &now
	if stampTask {
		task := sel.TaskID
		w.LastTaskID = &task
	}
	out := *w
	return &out, nil
}

func all(*domain.WorkerPoolEntry) bool { return true }

func (s *memAllocationStore) SelectOldestAssigned(_ context.Context, sel store.Selection) (*domain.WorkerPoolEntry, error) {
	return s.pick(sel, all, byAge, true)
}

func (s *memAllocationStore) SelectLeastLoaded(_ context.Context, sel store.Selection) (*domain.WorkerPoolEntry, error) {
	return s.pick(sel, all, byLoad, true)
}

func (s *memAllocationStore) SelectLastAssignee(_ context.Context, sel store.Selection) (*domain.WorkerPoolEntry, error) {
	return s.pick(sel, func(e *domain.WorkerPoolEntry) bool {
		return e.LastTaskID != nil && *e.LastTaskID == sel.TaskID
	}, func(a, b *domain.WorkerPoolEntry) bool { return !byAge(a, b) }, false)
}

func (s *memAllocationStore) BootstrapWorkers(_ context.Context, tenantID, role string, userIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	inserted := 0
	for _, u := range userIDs {
		exists := false
		for _, e := range s.entries {
			if e.TenantID == tenantID && e.Role == role && e.UserID == u {
				exists = true
				break
			}
		}
		if !exists {
			s.entries = append(s.entries, &domain.WorkerPoolEntry{TenantID: tenantID, Role: role, UserID: u, IsActive: true})
			inserted++
		}
	}
	return inserted, nil
}

func (s *memAllocationStore) ListWorkers(_ context.Context, tenantID, role string) ([]domain.WorkerPoolEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.WorkerPoolEntry
	for _, e := range s.entries {
		if e.TenantID == tenantID && e.Role == role {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memAllocationStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeDirectory struct {
	members []string
	err     error
	calls   int
}

func (d *fakeDirectory) ListMembers(_ context.Context, _, _ string) ([]string, error) {
	d.calls++
	return d.members, d.err
}

type fakeAssigner struct {
	mu       sync.Mutex
	assigned map[string]string
	err      error
}

func newFakeAssigner() *fakeAssigner {
	return &fakeAssigner{assigned: map[string]string{}}
}

func (a *fakeAssigner) SetAllocatedTo(_ context.Context, tenantID, externalID, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.assigned[tenantID+"/"+externalID] = userID
	return nil
}

func (a *fakeAssigner) get(tenantID, externalID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.assigned[tenantID+"/"+externalID]
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrString(s string) *string { return &s }
