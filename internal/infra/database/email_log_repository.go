package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

type EmailLogRepository struct {
	DB *sql.DB
}

func NewEmailLogRepository(db *sql.DB) *EmailLogRepository {
	return &EmailLogRepository{DB: db}
}

func (r *EmailLogRepository) Append(ctx context.Context, l *entity.EmailLog) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO email_logs (id, lead_id, campaign_id, template_key, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.LeadID, nullString(l.CampaignID), l.TemplateKey, string(l.Status), nullString(l.Error), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert email log: %w", err)
	}
	return nil
}

func (r *EmailLogRepository) ListByLeadID(ctx context.Context, leadID string) ([]entity.EmailLog, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, lead_id, COALESCE(campaign_id, ''), template_key, status, COALESCE(error, ''), created_at
		FROM email_logs
		WHERE lead_id = $1
		ORDER BY created_at`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}
	defer rows.Close()

	var logs []entity.EmailLog
	for rows.Next() {
		var (
			l      entity.EmailLog
			status string
		)
		if err := rows.Scan(&l.ID, &l.LeadID, &l.CampaignID, &l.TemplateKey, &status, &l.Error, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Status = entity.EmailStatus(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
