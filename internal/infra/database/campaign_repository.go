package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

type CampaignRepository struct {
	DB *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{DB: db}
}

func (r *CampaignRepository) Create(ctx context.Context, c *entity.CampaignRecord) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO campaigns (id, lead_id, type, status, started_at, stopped_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.LeadID, string(c.Type), string(c.Status), c.StartedAt, c.StoppedAt)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

func (r *CampaignRepository) FindByID(ctx context.Context, id string) (*entity.CampaignRecord, error) {
	return r.findOne(ctx, `
		SELECT id, lead_id, type, status, started_at, stopped_at
		FROM campaigns WHERE id = $1`, id)
}

func (r *CampaignRepository) FindActiveByLeadID(ctx context.Context, leadID string) (*entity.CampaignRecord, error) {
	return r.findOne(ctx, `
		SELECT id, lead_id, type, status, started_at, stopped_at
		FROM campaigns
		WHERE lead_id = $1 AND status = 'active'
		ORDER BY started_at DESC
		LIMIT 1`, leadID)
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status entity.CampaignStatus, stoppedAt *time.Time) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns
		SET status = $2, stopped_at = COALESCE($3, stopped_at)
		WHERE id = $1`, id, string(status), stoppedAt)
	if err != nil {
		return fmt.Errorf("update campaign status: %w", err)
	}
	return expectOneRow(res)
}

// CompleteStartedBefore closes active campaigns started before cutoff and
// returns their ids.
func (r *CampaignRepository) CompleteStartedBefore(ctx context.Context, cutoff, at time.Time) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		UPDATE campaigns
		SET status = 'completed', stopped_at = $2
		WHERE status = 'active' AND started_at < $1
		RETURNING id`, cutoff, at)
	if err != nil {
		return nil, fmt.Errorf("complete stale campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale campaign: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *CampaignRepository) findOne(ctx context.Context, query string, arg any) (*entity.CampaignRecord, error) {
	var (
		c         entity.CampaignRecord
		ctype     string
		status    string
		stoppedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.LeadID, &ctype, &status, &c.StartedAt, &stoppedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find campaign: %w", err)
	}
	c.Type = entity.CampaignType(ctype)
	c.Status = entity.CampaignStatus(status)
	if stoppedAt.Valid {
		c.StoppedAt = &stoppedAt.Time
	}
	return &c, nil
}
