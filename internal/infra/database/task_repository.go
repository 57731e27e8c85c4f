package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

type TaskRepository struct {
	DB *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{DB: db}
}

// Create is idempotent for tasks carrying an external id: a redelivered
// appointment webhook does not produce a second task.
func (r *TaskRepository) Create(ctx context.Context, t *entity.Task) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO tasks (id, lead_id, title, due_at, status, source, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		t.ID, t.LeadID, t.Title, t.DueAt, t.Status, t.Source, nullString(t.ExternalID), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *TaskRepository) ListByLeadID(ctx context.Context, leadID string) ([]entity.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, lead_id, title, due_at, status, source, COALESCE(external_id, ''), created_at
		FROM tasks
		WHERE lead_id = $1
		ORDER BY created_at`, leadID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []entity.Task
	for rows.Next() {
		var (
			t   entity.Task
			due sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.LeadID, &t.Title, &due, &t.Status, &t.Source, &t.ExternalID, &t.CreatedAt); err != nil {
			return nil, err
		}
		if due.Valid {
			t.DueAt = &due.Time
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
