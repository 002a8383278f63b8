package queue

import (
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/ValentinMastro/EncodeTalker/internal/job"
)

// Methods suffixed with Locked expect the caller to hold mu.

type jobQueue struct {
	mu    sync.RWMutex
	items []job.Job
}

func (q *jobQueue) indexLocked(id uuid.UUID) int {
	return slices.IndexFunc(q.items, func(j job.Job) bool { return j.ID == id })
}

func (q *jobQueue) popFrontLocked() (job.Job, bool) {
	if len(q.items) == 0 {
		return job.Job{}, false
	}
	head := q.items[0]
	q.items[0] = job.Job{}
	q.items = q.items[1:]
	return head, true
}

func (q *jobQueue) removeLocked(id uuid.UUID) (job.Job, bool) {
	idx := q.indexLocked(id)
	if idx < 0 {
		return job.Job{}, false
	}
	j := q.items[idx]
	q.items = slices.Delete(q.items, idx, idx+1)
	return j, true
}

func (q *jobQueue) list() []job.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return cloneJobs(q.items)
}

func (q *jobQueue) len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// activeEntry is one running job with its cancellation signal.
type activeEntry struct {
	job             job.Job
	cancel          chan struct{}
	once            sync.Once
	cancelRequested bool // guarded by activeSet.mu
}

func (e *activeEntry) requestCancel() {
	e.once.Do(func() { close(e.cancel) })
}

type activeSet struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*activeEntry
}

func newActiveSet() *activeSet {
	return &activeSet{entries: make(map[uuid.UUID]*activeEntry)}
}

func (a *activeSet) insertLocked(j job.Job) *activeEntry {
	entry := &activeEntry{job: j, cancel: make(chan struct{})}
	a.entries[j.ID] = entry
	return entry
}

func (a *activeSet) removeLocked(id uuid.UUID) (*activeEntry, bool) {
	entry, ok := a.entries[id]
	if ok {
		delete(a.entries, id)
	}
	return entry, ok
}

// listLocked returns the active jobs ordered by start time.
func (a *activeSet) listLocked() []job.Job {
	out := make([]job.Job, 0, len(a.entries))
	for _, entry := range a.entries {
		out = append(out, entry.job.Clone())
	}
	slices.SortFunc(out, func(x, y job.Job) int {
		switch {
		case x.StartedAt == nil || y.StartedAt == nil:
			return x.CreatedAt.Compare(y.CreatedAt)
		default:
			return x.StartedAt.Compare(*y.StartedAt)
		}
	})
	return out
}

func (a *activeSet) list() []job.Job {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.listLocked()
}

func (a *activeSet) len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

type historyList struct {
	mu    sync.RWMutex
	items []job.Job
}

func (h *historyList) indexLocked(id uuid.UUID) int {
	return slices.IndexFunc(h.items, func(j job.Job) bool { return j.ID == id })
}

func (h *historyList) list() []job.Job {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return cloneJobs(h.items)
}

func (h *historyList) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

func cloneJobs(in []job.Job) []job.Job {
	out := make([]job.Job, len(in))
	for i, j := range in {
		out[i] = j.Clone()
	}
	return out
}
