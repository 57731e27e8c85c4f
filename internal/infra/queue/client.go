package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xavierca1/lead-nurture/internal/keylock"
)

var (
	ErrAlreadyStarted = errors.New("queue: client already started")
	ErrInvalidJob     = errors.New("queue: invalid job")
)

// Job outcomes reported to Config.Observer.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Config struct {
	Workers      int
	PollInterval time.Duration
	// SerializePerLead runs at most one job per lead at a time in this process.
	SerializePerLead bool
	Clock            Clock
	Observer         func(kind Kind, outcome string)
	// StateDSN is the Postgres database the amqp backend keeps its job index
	// in. Without it, cancellation and listing only see this process's jobs.
	StateDSN string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return c
}

// Client is the queue handle injected into the sequencer, the sync coordinator
// and the workers. It owns the worker pool lifecycle (Start/Shutdown).
type Client struct {
	backend   backend
	logger    *zap.Logger
	cfg       Config
	leadLocks *keylock.Mutex

	mu       sync.RWMutex
	handlers map[Kind]Handler

	runMu   sync.Mutex
	stop    context.CancelFunc
	group   *errgroup.Group
	started bool
}

func newClient(b backend, logger *zap.Logger, cfg Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	c := &Client{
		backend:  b,
		logger:   logger.Named("queue"),
		cfg:      cfg,
		handlers: make(map[Kind]Handler),
	}
	if cfg.SerializePerLead {
		c.leadLocks = keylock.New()
	}
	return c
}

func (c *Client) Register(kind Kind, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = h
}

func (c *Client) handler(kind Kind) (Handler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[kind]
	return h, ok
}

func (c *Client) Enqueue(ctx context.Context, kind Kind, leadID string, payload any, opts Options) (Handle, error) {
	if strings.TrimSpace(string(kind)) == "" {
		return Handle{}, fmt.Errorf("%w: kind is required", ErrInvalidJob)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Handle{}, fmt.Errorf("queue: encode payload: %w", err)
	}
	opts = opts.withDefaults()
	now := c.cfg.Clock.Now()
	job := Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		LeadID:      leadID,
		Payload:     body,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		RunAt:       now.Add(opts.Delay),
		CreatedAt:   now,
	}
	if err := c.backend.push(ctx, job); err != nil {
		return Handle{}, fmt.Errorf("queue: enqueue %s: %w", kind, err)
	}
	c.logger.Debug("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("kind", string(kind)),
		zap.String("lead_id", leadID),
		zap.Duration("delay", opts.Delay))
	return Handle{ID: job.ID, Kind: kind, RunAt: job.RunAt}, nil
}

// CancelAll removes waiting jobs matching the predicate. Jobs already claimed
// by a worker are not affected and run to completion.
func (c *Client) CancelAll(ctx context.Context, match Predicate) (int, error) {
	if match == nil {
		return 0, nil
	}
	n, err := c.backend.cancel(ctx, match)
	if err != nil {
		return n, fmt.Errorf("queue: cancel: %w", err)
	}
	return n, nil
}

// Pending lists waiting (queued or delayed) jobs ordered by due time.
func (c *Client) Pending(ctx context.Context) ([]Job, error) {
	return c.backend.waiting(ctx)
}

// DeadLetters lists jobs that exhausted their attempts.
func (c *Client) DeadLetters(ctx context.Context) ([]Job, error) {
	return c.backend.failed(ctx)
}

// ProcessDue runs every job due at the client's current time, one by one, and
// returns how many were executed. Workers use the same path.
func (c *Client) ProcessDue(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		job, err := c.backend.claim(ctx, c.cfg.Clock.Now())
		if err != nil {
			return n, fmt.Errorf("queue: claim: %w", err)
		}
		if job == nil {
			return n, nil
		}
		c.execute(ctx, *job)
		n++
	}
}

func (c *Client) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	runCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < c.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			c.work(gctx, id)
			return nil
		})
	}
	c.stop = stop
	c.group = g
	c.started = true
	c.logger.Info("workers started", zap.Int("workers", c.cfg.Workers))
	return nil
}

// Shutdown stops claiming new jobs, waits for in-flight handlers and closes the backend.
func (c *Client) Shutdown(ctx context.Context) error {
	c.runMu.Lock()
	stop, group, started := c.stop, c.group, c.started
	c.started = false
	c.runMu.Unlock()

	if started {
		stop()
		done := make(chan struct{})
		go func() {
			_ = group.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("queue: shutdown: %w", ctx.Err())
		}
	}
	if err := c.backend.close(); err != nil {
		return fmt.Errorf("queue: close backend: %w", err)
	}
	c.logger.Info("queue stopped")
	return nil
}
