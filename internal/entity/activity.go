package entity

import (
	"context"
	"time"
)

// Activity is an audit entry attached to a lead. Append-only.
type Activity struct {
	ID          string         `json:"id"`
	LeadID      string         `json:"lead_id"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type ActivityRepositoryInterface interface {
	Append(ctx context.Context, a *Activity) error
	ListByLeadID(ctx context.Context, leadID string) ([]Activity, error)
}
