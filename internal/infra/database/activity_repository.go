package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

type ActivityRepository struct {
	DB *sql.DB
}

func NewActivityRepository(db *sql.DB) *ActivityRepository {
	return &ActivityRepository{DB: db}
}

func (r *ActivityRepository) Append(ctx context.Context, a *entity.Activity) error {
	data, err := marshalMetadata(a.Data)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `
		INSERT INTO activities (id, lead_id, type, description, data, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		a.ID, a.LeadID, a.Type, a.Description, data, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *ActivityRepository) ListByLeadID(ctx context.Context, leadID string) ([]entity.Activity, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, lead_id, type, description, data, created_at
		FROM activities
		WHERE lead_id = $1
		ORDER BY created_at`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var out []entity.Activity
	for rows.Next() {
		var (
			a    entity.Activity
			data []byte
		)
		if err := rows.Scan(&a.ID, &a.LeadID, &a.Type, &a.Description, &data, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &a.Data); err != nil {
				return nil, fmt.Errorf("decode activity data: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
