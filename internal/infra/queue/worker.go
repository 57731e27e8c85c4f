package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

func (c *Client) work(ctx context.Context, id int) {
	log := c.logger.With(zap.Int("worker", id))
	log.Debug("worker waiting for jobs")

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := c.backend.claim(ctx, c.cfg.Clock.Now())
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("claim failed", zap.Error(err))
			}
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		if job == nil {
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		c.execute(ctx, *job)
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.cfg.PollInterval):
		return true
	}
}

// execute runs the handler outside the worker's cancellation so a claimed job
// finishes even while the pool shuts down.
func (c *Client) execute(ctx context.Context, job Job) {
	log := c.logger.With(
		zap.String("job_id", job.ID),
		zap.String("kind", string(job.Kind)),
		zap.String("lead_id", job.LeadID),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.MaxAttempts),
	)
	runCtx := context.WithoutCancel(ctx)

	h, ok := c.handler(job.Kind)
	if !ok {
		job.LastError = "no handler registered for " + string(job.Kind)
		c.finalize(runCtx, log, job)
		return
	}

	if c.leadLocks != nil && job.LeadID != "" {
		unlock := c.leadLocks.Lock(job.LeadID)
		defer unlock()
	}

	err := safeRun(runCtx, h, job)
	if err == nil {
		if cerr := c.backend.complete(runCtx, job); cerr != nil {
			// the job stays claimed and will be redelivered after the visibility timeout
			log.Error("complete failed", zap.Error(cerr))
		}
		c.observe(job.Kind, OutcomeSucceeded)
		log.Debug("job succeeded")
		return
	}

	job.LastError = err.Error()
	if !job.FinalAttempt() {
		wait := job.Backoff.Next(job.Attempt)
		job.RunAt = c.cfg.Clock.Now().Add(wait)
		if rerr := c.backend.retry(runCtx, job); rerr != nil {
			log.Error("reschedule failed", zap.Error(rerr))
		}
		c.observe(job.Kind, OutcomeRetried)
		log.Warn("job failed, retrying", zap.Error(err), zap.Duration("backoff", wait))
		return
	}
	c.finalize(runCtx, log, job)
}

func (c *Client) finalize(ctx context.Context, log *zap.Logger, job Job) {
	if err := c.backend.bury(ctx, job); err != nil {
		log.Error("bury failed", zap.Error(err))
	}
	c.observe(job.Kind, OutcomeFailed)
	log.Error("job permanently failed", zap.String("last_error", job.LastError))
}

func (c *Client) observe(kind Kind, outcome string) {
	if c.cfg.Observer != nil {
		c.cfg.Observer(kind, outcome)
	}
}

func safeRun(ctx context.Context, h Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}
