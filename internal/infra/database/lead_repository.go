package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xavierca1/lead-nurture/internal/entity"
)

type LeadRepository struct {
	DB *sql.DB
}

func NewLeadRepository(db *sql.DB) *LeadRepository {
	return &LeadRepository{DB: db}
}

const leadColumns = `id, email, COALESCE(name, ''), COALESCE(phone, ''), metadata, created_at, updated_at`

// Upsert inserts the lead or, for a known email, refreshes name and phone and
// merges metadata. lead.ID is set to the stored id either way.
func (r *LeadRepository) Upsert(ctx context.Context, lead *entity.Lead) error {
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	meta, err := marshalMetadata(lead.Metadata)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO leads (id, email, name, phone, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, NOW(), NOW())
		ON CONFLICT (email)
		DO UPDATE SET
			name = COALESCE(EXCLUDED.name, leads.name),
			phone = COALESCE(EXCLUDED.phone, leads.phone),
			metadata = leads.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING ` + leadColumns

	row := r.DB.QueryRowContext(ctx, query,
		lead.ID,
		entity.NormalizeEmail(lead.Email),
		nullString(lead.Name),
		nullString(lead.Phone),
		meta,
	)
	stored, err := scanLead(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return entity.ErrEmailAlreadyExists
		}
		return fmt.Errorf("upsert lead: %w", err)
	}
	*lead = *stored
	return nil
}

func (r *LeadRepository) FindByID(ctx context.Context, id string) (*entity.Lead, error) {
	return r.findOne(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
}

func (r *LeadRepository) FindByEmail(ctx context.Context, email string) (*entity.Lead, error) {
	return r.findOne(ctx, `SELECT `+leadColumns+` FROM leads WHERE email = $1`, entity.NormalizeEmail(email))
}

func (r *LeadRepository) FindByRemoteContactID(ctx context.Context, remoteID string) (*entity.Lead, error) {
	return r.findOne(ctx, `SELECT `+leadColumns+` FROM leads WHERE metadata->>'remoteContactId' = $1 ORDER BY created_at LIMIT 1`, remoteID)
}

// MergeMetadata applies the patch with jsonb concatenation so concurrent
// writers touching different keys do not overwrite each other.
func (r *LeadRepository) MergeMetadata(ctx context.Context, id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE leads
		SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb,
		    updated_at = NOW()
		WHERE id = $1`, id, string(raw))
	if err != nil {
		return fmt.Errorf("merge lead metadata: %w", err)
	}
	return expectOneRow(res)
}

func (r *LeadRepository) findOne(ctx context.Context, query string, arg any) (*entity.Lead, error) {
	lead, err := scanLead(r.DB.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find lead: %w", err)
	}
	return lead, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*entity.Lead, error) {
	var (
		l    entity.Lead
		meta []byte
	)
	if err := row.Scan(&l.ID, &l.Email, &l.Name, &l.Phone, &meta, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &l.Metadata); err != nil {
			return nil, fmt.Errorf("decode lead metadata: %w", err)
		}
	}
	return &l, nil
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(raw), nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return entity.ErrNotFound
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
