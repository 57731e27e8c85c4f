package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StaleCampaigns closes campaigns that outlived their sequence.
type StaleCampaigns interface {
	CompleteStartedBefore(ctx context.Context, cutoff, at time.Time) ([]string, error)
}

// CampaignSweeper completes campaigns still active long after their last
// scheduled step, which happens when the final email dead-letters.
type CampaignSweeper struct {
	campaigns    StaleCampaigns
	maxAge       time.Duration
	tickInterval time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

func NewCampaignSweeper(campaigns StaleCampaigns, maxAge time.Duration, logger *zap.Logger) *CampaignSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignSweeper{
		campaigns:    campaigns,
		maxAge:       maxAge,
		tickInterval: 15 * time.Minute,
		logger:       logger.Named("campaign_sweeper"),
		now:          time.Now,
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (w *CampaignSweeper) Start(ctx context.Context) {
	w.logger.Info("campaign sweeper started", zap.Duration("max_age", w.maxAge))

	ticker := time.NewTicker(w.tickInterval)
	defer ticker.Stop()

	w.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("campaign sweeper stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep returns the number of campaigns it completed.
func (w *CampaignSweeper) Sweep(ctx context.Context) int {
	now := w.now().UTC()
	ids, err := w.campaigns.CompleteStartedBefore(ctx, now.Add(-w.maxAge), now)
	if err != nil {
		w.logger.Error("failed to sweep stale campaigns", zap.Error(err))
		return 0
	}
	for _, id := range ids {
		w.logger.Info("stale campaign completed", zap.String("campaign_id", id))
	}
	return len(ids)
}
