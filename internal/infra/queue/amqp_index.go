package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"

	"github.com/lib/pq"
)

// jobIndex records which published amqp messages are still wanted. The broker
// cannot remove a message from the middle of a queue, so a cancelled job
// loses its index entry and the consumer drops the message on delivery.
type jobIndex interface {
	// track records job as waiting. It runs before the publish.
	track(ctx context.Context, job Job) error
	// claim moves a waiting or running entry to running. False means the job
	// was cancelled and its message must be dropped.
	claim(ctx context.Context, id string) (bool, error)
	done(ctx context.Context, id string) error
	bury(ctx context.Context, job Job) error
	cancel(ctx context.Context, match Predicate) (int, error)
	waiting(ctx context.Context) ([]Job, error)
	failed(ctx context.Context) ([]Job, error)
	close() error
}

type indexEntry struct {
	job    Job
	status string
}

// memoryIndex only knows jobs published by this process. Messages it never
// tracked are delivered as usual; cancelled ids are tombstoned until the
// broker hands their message over.
type memoryIndex struct {
	mu        sync.Mutex
	entries   map[string]*indexEntry
	cancelled map[string]struct{}
	buried    []Job
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{
		entries:   make(map[string]*indexEntry),
		cancelled: make(map[string]struct{}),
	}
}

func (m *memoryIndex) track(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[job.ID] = &indexEntry{job: job, status: statusQueued}
	delete(m.cancelled, job.ID)
	return nil
}

func (m *memoryIndex) claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dropped := m.cancelled[id]; dropped {
		delete(m.cancelled, id)
		return false, nil
	}
	if e, ok := m.entries[id]; ok {
		e.status = statusRunning
	}
	return true, nil
}

func (m *memoryIndex) done(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memoryIndex) bury(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, job.ID)
	m.buried = append(m.buried, job)
	if len(m.buried) > maxBuriedKept {
		m.buried = m.buried[len(m.buried)-maxBuriedKept:]
	}
	return nil
}

func (m *memoryIndex) cancel(_ context.Context, match Predicate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if e.status != statusQueued || !match(e.job) {
			continue
		}
		delete(m.entries, id)
		m.cancelled[id] = struct{}{}
		n++
	}
	return n, nil
}

func (m *memoryIndex) waiting(_ context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.entries))
	for _, e := range m.entries {
		if e.status == statusQueued {
			out = append(out, e.job)
		}
	}
	sortJobs(out)
	return out, nil
}

func (m *memoryIndex) failed(_ context.Context) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Job(nil), m.buried...), nil
}

func (m *memoryIndex) close() error { return nil }

// postgresIndex shares the index through the nurture_amqp_jobs table, so any
// process (API, nurturectl) can list and cancel jobs another one published.
type postgresIndex struct {
	db *sql.DB
}

func newPostgresIndex(dsn string) (*postgresIndex, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	stmts := []string{`
		CREATE TABLE IF NOT EXISTS nurture_amqp_jobs (
			id TEXT PRIMARY KEY,
			lead_id TEXT NOT NULL DEFAULT '',
			job JSONB NOT NULL,
			status TEXT NOT NULL,
			run_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS nurture_amqp_jobs_status_idx ON nurture_amqp_jobs (status, run_at)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &postgresIndex{db: db}, nil
}

func (p *postgresIndex) track(ctx context.Context, job Job) error {
	return p.upsert(ctx, job, statusQueued)
}

func (p *postgresIndex) upsert(ctx context.Context, job Job, status string) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO nurture_amqp_jobs (id, lead_id, job, status, run_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET job = EXCLUDED.job, status = EXCLUDED.status, run_at = EXCLUDED.run_at, updated_at = NOW()`,
		job.ID, job.LeadID, string(body), status, job.RunAt,
	)
	return err
}

func (p *postgresIndex) claim(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	// running rows are claimable again: the broker redelivers unacked messages
	res, err := p.db.ExecContext(ctx, `
		UPDATE nurture_amqp_jobs
		SET status = 'running', updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'running')`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *postgresIndex) done(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := p.db.ExecContext(ctx, `DELETE FROM nurture_amqp_jobs WHERE id = $1`, id)
	return err
}

func (p *postgresIndex) bury(ctx context.Context, job Job) error {
	return p.upsert(ctx, job, statusFailed)
}

func (p *postgresIndex) cancel(ctx context.Context, match Predicate) (int, error) {
	jobs, err := p.list(ctx, statusQueued)
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if match(job) {
			ids = append(ids, job.ID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM nurture_amqp_jobs WHERE status = 'queued' AND id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *postgresIndex) waiting(ctx context.Context) ([]Job, error) {
	return p.list(ctx, statusQueued)
}

func (p *postgresIndex) failed(ctx context.Context) ([]Job, error) {
	return p.list(ctx, statusFailed)
}

func (p *postgresIndex) list(ctx context.Context, status string) ([]Job, error) {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	rows, err := p.db.QueryContext(ctx, `
		SELECT job FROM nurture_amqp_jobs
		WHERE status = $1
		ORDER BY run_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var job Job
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, errors.Join(errors.New("decode indexed job"), err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (p *postgresIndex) close() error {
	return p.db.Close()
}

