package entity

import (
	"context"
	"time"
)

// Conversation is a past exchange with the lead (chat, call, form follow-up).
type Conversation struct {
	ID        string    `json:"id"`
	LeadID    string    `json:"lead_id"`
	Channel   string    `json:"channel"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

type ConversationRepositoryInterface interface {
	ListRecentByLeadID(ctx context.Context, leadID string, since time.Time, limit int) ([]Conversation, error)
}
