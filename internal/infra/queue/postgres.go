package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	postgresOperationTimeout  = 5 * time.Second
	postgresVisibilityTimeout = 5 * time.Minute

	statusQueued  = "queued"
	statusRunning = "running"
	statusFailed  = "failed"
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type postgresBackend struct {
	dsn        string
	visibility time.Duration
	openDB     sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgres returns a Client backed by the nurture_jobs table. A claimed job
// whose worker dies is handed out again once the visibility timeout passes.
func NewPostgres(dsn string, logger *zap.Logger, cfg Config) (*Client, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("queue: postgres dsn is required")
	}
	b := &postgresBackend{
		dsn:        dsn,
		visibility: postgresVisibilityTimeout,
		openDB:     sql.Open,
	}
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	return newClient(b, logger, cfg), nil
}

func (b *postgresBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		stmts := []string{`
			CREATE TABLE IF NOT EXISTS nurture_jobs (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				lead_id TEXT NOT NULL DEFAULT '',
				payload JSONB NOT NULL,
				status TEXT NOT NULL DEFAULT 'queued',
				attempt INT NOT NULL DEFAULT 0,
				max_attempts INT NOT NULL,
				backoff_type TEXT NOT NULL,
				backoff_delay_ms BIGINT NOT NULL,
				run_at TIMESTAMPTZ NOT NULL,
				claimed_at TIMESTAMPTZ,
				last_error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS nurture_jobs_status_run_at_idx ON nurture_jobs (status, run_at)`,
			`CREATE INDEX IF NOT EXISTS nurture_jobs_lead_id_idx ON nurture_jobs (lead_id)`,
		}
		for _, stmt := range stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				_ = db.Close()
				b.initErr = err
				return
			}
		}
		b.db = db
	})
	return b.initErr
}

func (b *postgresBackend) push(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO nurture_jobs (id, kind, lead_id, payload, status, attempt, max_attempts,
			backoff_type, backoff_delay_ms, run_at, created_at)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7, $8, $9)`,
		job.ID, string(job.Kind), job.LeadID, string(job.Payload), job.MaxAttempts,
		job.Backoff.Type, job.Backoff.Delay.Milliseconds(), job.RunAt, job.CreatedAt,
	)
	return err
}

func (b *postgresBackend) claim(ctx context.Context, now time.Time) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	row := b.db.QueryRowContext(ctx, `
		WITH next AS (
			SELECT id FROM nurture_jobs
			WHERE (status = 'queued' AND run_at <= $1)
			   OR (status = 'running' AND claimed_at < $2)
			ORDER BY run_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE nurture_jobs j
		SET status = 'running', attempt = j.attempt + 1, claimed_at = $1
		FROM next
		WHERE j.id = next.id
		RETURNING j.id, j.kind, j.lead_id, j.payload, j.attempt, j.max_attempts,
			j.backoff_type, j.backoff_delay_ms, j.run_at, j.last_error, j.created_at`,
		now, now.Add(-b.visibility),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (b *postgresBackend) complete(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := b.db.ExecContext(ctx, `DELETE FROM nurture_jobs WHERE id = $1`, job.ID)
	return err
}

func (b *postgresBackend) retry(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := b.db.ExecContext(ctx, `
		UPDATE nurture_jobs
		SET status = 'queued', run_at = $2, last_error = $3, claimed_at = NULL
		WHERE id = $1`,
		job.ID, job.RunAt, job.LastError,
	)
	return err
}

// bury keeps the row with status failed so operators can inspect it.
func (b *postgresBackend) bury(ctx context.Context, job Job) error {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := b.db.ExecContext(ctx, `
		UPDATE nurture_jobs
		SET status = 'failed', last_error = $2, claimed_at = NULL
		WHERE id = $1`,
		job.ID, job.LastError,
	)
	return err
}

func (b *postgresBackend) cancel(ctx context.Context, match Predicate) (int, error) {
	jobs, err := b.listByStatus(ctx, statusQueued)
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
	// the status guard leaves rows a worker claimed since the listing untouched
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM nurture_jobs WHERE status = 'queued' AND id = ANY($1)`,
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

func (b *postgresBackend) waiting(ctx context.Context) ([]Job, error) {
	return b.listByStatus(ctx, statusQueued)
}

func (b *postgresBackend) failed(ctx context.Context) ([]Job, error) {
	return b.listByStatus(ctx, statusFailed)
}

func (b *postgresBackend) listByStatus(ctx context.Context, status string) ([]Job, error) {
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, kind, lead_id, payload, attempt, max_attempts,
			backoff_type, backoff_delay_ms, run_at, last_error, created_at
		FROM nurture_jobs
		WHERE status = $1
		ORDER BY run_at ASC`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func (b *postgresBackend) close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		kind      string
		payload   []byte
		delayMS   int64
		lastError string
	)
	err := row.Scan(
		&job.ID, &kind, &job.LeadID, &payload, &job.Attempt, &job.MaxAttempts,
		&job.Backoff.Type, &delayMS, &job.RunAt, &lastError, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Payload = payload
	job.Backoff.Delay = time.Duration(delayMS) * time.Millisecond
	job.LastError = lastError
	return &job, nil
}
