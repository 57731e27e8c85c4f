package entity

import (
	"context"
	"time"
)

type Task struct {
	ID         string     `json:"id"`
	LeadID     string     `json:"lead_id"`
	Title      string     `json:"title"`
	DueAt      *time.Time `json:"due_at,omitempty"`
	Status     string     `json:"status"` // OPEN, DONE
	Source     string     `json:"source"` // intake, crm
	ExternalID string     `json:"external_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type TaskRepositoryInterface interface {
	Create(ctx context.Context, t *Task) error
	ListByLeadID(ctx context.Context, leadID string) ([]Task, error)
}
