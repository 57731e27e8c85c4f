package entity

import (
	"context"
	"time"
)

type EmailStatus string

const (
	EmailSent   EmailStatus = "sent"
	EmailFailed EmailStatus = "failed"
)

// EmailLog is append-only: rows are never updated after insert.
type EmailLog struct {
	ID          string      `json:"id"`
	LeadID      string      `json:"lead_id"`
	CampaignID  string      `json:"campaign_id,omitempty"`
	TemplateKey string      `json:"template_key"`
	Status      EmailStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

type EmailLogRepositoryInterface interface {
	Append(ctx context.Context, log *EmailLog) error
	ListByLeadID(ctx context.Context, leadID string) ([]EmailLog, error)
}
