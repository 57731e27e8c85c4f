package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

type ConversationRepository struct {
	DB *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{DB: db}
}

func (r *ConversationRepository) ListRecentByLeadID(ctx context.Context, leadID string, since time.Time, limit int) ([]entity.Conversation, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, lead_id, channel, summary, created_at
		FROM conversations
		WHERE lead_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`, leadID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []entity.Conversation
	for rows.Next() {
		var c entity.Conversation
		if err := rows.Scan(&c.ID, &c.LeadID, &c.Channel, &c.Summary, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
