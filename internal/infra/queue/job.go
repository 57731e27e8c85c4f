package queue

import (
	"context"
	"encoding/json"
	"time"
)

type Kind string

const (
	KindSendCampaignEmail Kind = "send-campaign-email"
	KindSyncContact       Kind = "sync-contact"
	KindSyncOpportunity   Kind = "sync-opportunity"
	KindSyncNote          Kind = "sync-note"
)

const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"

	DefaultMaxAttempts  = 3
	DefaultBackoffDelay = 5 * time.Second

	maxBackoff = 24 * time.Hour
)

type BackoffPolicy struct {
	Type  string        `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns how long to wait after the given failed attempt (1-based)
// before the job becomes visible again: 5s, 10s, 20s... for the default policy.
func (b BackoffPolicy) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if b.Type == BackoffFixed {
		return b.Delay
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Delay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

type Options struct {
	Delay       time.Duration
	MaxAttempts int
	Backoff     BackoffPolicy
}

// DefaultOptions is the retry policy shared by campaign and sync jobs.
func DefaultOptions() Options {
	return Options{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     BackoffPolicy{Type: BackoffExponential, Delay: DefaultBackoffDelay},
	}
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff.Type == "" {
		o.Backoff.Type = BackoffExponential
	}
	if o.Backoff.Delay <= 0 && o.Backoff.Type == BackoffExponential {
		o.Backoff.Delay = DefaultBackoffDelay
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	return o
}

// Job is one unit of queued work. Attempt counts claims, starting at 1 for the
// first run; a job can be claimed more than MaxAttempts times after a crash.
type Job struct {
	ID          string          `json:"id"`
	Kind        Kind            `json:"kind"`
	LeadID      string          `json:"lead_id"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     BackoffPolicy   `json:"backoff"`
	RunAt       time.Time       `json:"run_at"`
	CreatedAt   time.Time       `json:"created_at"`
	LastError   string          `json:"last_error,omitempty"`
}

func (j Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// FinalAttempt reports whether a failure of the current run exhausts the job.
func (j Job) FinalAttempt() bool {
	return j.Attempt >= j.MaxAttempts
}

type Handle struct {
	ID    string    `json:"id"`
	Kind  Kind      `json:"kind"`
	RunAt time.Time `json:"run_at"`
}

type Handler func(ctx context.Context, job Job) error

type Predicate func(job Job) bool

// ForLead matches waiting jobs of a lead, optionally restricted to kinds.
func ForLead(leadID string, kinds ...Kind) Predicate {
	return func(job Job) bool {
		if job.LeadID != leadID {
			return false
		}
		if len(kinds) == 0 {
			return true
		}
		for _, k := range kinds {
			if job.Kind == k {
				return true
			}
		}
		return false
	}
}

// backend is the storage a Client drives. claim must atomically move one due
// job out of the waiting set and bump its Attempt; cancel only touches waiting jobs.
type backend interface {
	push(ctx context.Context, job Job) error
	claim(ctx context.Context, now time.Time) (*Job, error)
	complete(ctx context.Context, job Job) error
	retry(ctx context.Context, job Job) error
	bury(ctx context.Context, job Job) error
	cancel(ctx context.Context, match Predicate) (int, error)
	waiting(ctx context.Context) ([]Job, error)
	failed(ctx context.Context) ([]Job, error)
	close() error
}
