package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memoryBackend struct {
	mu     sync.Mutex
	seq    uint64
	jobs   map[string]*memoryEntry
	buried []Job
}

type memoryEntry struct {
	job     Job
	seq     uint64
	claimed bool
}

// NewMemory returns a Client whose jobs live in process memory. Used by tests
// and local development; nothing survives a restart.
func NewMemory(logger *zap.Logger, cfg Config) *Client {
	return newClient(&memoryBackend{jobs: make(map[string]*memoryEntry)}, logger, cfg)
}

func (b *memoryBackend) push(_ context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.jobs[job.ID] = &memoryEntry{job: job, seq: b.seq}
	return nil
}

func (b *memoryBackend) claim(_ context.Context, now time.Time) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var next *memoryEntry
	for _, e := range b.jobs {
		if e.claimed || e.job.RunAt.After(now) {
			continue
		}
		if next == nil || e.job.RunAt.Before(next.job.RunAt) ||
			(e.job.RunAt.Equal(next.job.RunAt) && e.seq < next.seq) {
			next = e
		}
	}
	if next == nil {
		return nil, nil
	}
	next.claimed = true
	next.job.Attempt++
	job := next.job
	return &job, nil
}

func (b *memoryBackend) complete(_ context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, job.ID)
	return nil
}

func (b *memoryBackend) retry(_ context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.jobs[job.ID]
	if !ok {
		return nil
	}
	e.job = job
	e.claimed = false
	return nil
}

func (b *memoryBackend) bury(_ context.Context, job Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.jobs, job.ID)
	b.buried = append(b.buried, job)
	return nil
}

func (b *memoryBackend) cancel(_ context.Context, match Predicate) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, e := range b.jobs {
		if e.claimed || !match(e.job) {
			continue
		}
		delete(b.jobs, id)
		n++
	}
	return n, nil
}

func (b *memoryBackend) waiting(_ context.Context) ([]Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := make([]*memoryEntry, 0, len(b.jobs))
	for _, e := range b.jobs {
		if !e.claimed {
			entries = append(entries, e)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].job.RunAt.Equal(entries[j].job.RunAt) {
			return entries[i].seq < entries[j].seq
		}
		return entries[i].job.RunAt.Before(entries[j].job.RunAt)
	})
	out := make([]Job, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.job)
	}
	return out, nil
}

func (b *memoryBackend) failed(_ context.Context) ([]Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Job(nil), b.buried...), nil
}

func (b *memoryBackend) close() error {
	return nil
}

func sortJobs(jobs []Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].RunAt.Equal(jobs[j].RunAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].RunAt.Before(jobs[j].RunAt)
	})
}
