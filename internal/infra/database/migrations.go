package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS leads (
		id          TEXT PRIMARY KEY,
		email       TEXT NOT NULL UNIQUE,
		name        TEXT,
		phone       TEXT,
		metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS leads_remote_contact_idx ON leads ((metadata->>'remoteContactId'))`,
	`CREATE TABLE IF NOT EXISTS campaigns (
		id          TEXT PRIMARY KEY,
		lead_id     TEXT NOT NULL REFERENCES leads(id),
		type        TEXT NOT NULL,
		status      TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		stopped_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS campaigns_lead_status_idx ON campaigns (lead_id, status)`,
	`CREATE TABLE IF NOT EXISTS email_logs (
		id            TEXT PRIMARY KEY,
		lead_id       TEXT NOT NULL,
		campaign_id   TEXT,
		template_key  TEXT NOT NULL,
		status        TEXT NOT NULL,
		error         TEXT,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS email_logs_lead_idx ON email_logs (lead_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS activities (
		id           TEXT PRIMARY KEY,
		lead_id      TEXT NOT NULL,
		type         TEXT NOT NULL,
		description  TEXT NOT NULL,
		data         JSONB,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id           TEXT PRIMARY KEY,
		lead_id      TEXT NOT NULL,
		title        TEXT NOT NULL,
		due_at       TIMESTAMPTZ,
		status       TEXT NOT NULL,
		source       TEXT NOT NULL,
		external_id  TEXT,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tasks_external_idx ON tasks (source, external_id) WHERE external_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		lead_id     TEXT NOT NULL,
		channel     TEXT NOT NULL,
		summary     TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS conversations_lead_idx ON conversations (lead_id, created_at DESC)`,
}

// Migrate creates the record tables if they do not exist. The job table is
// owned by the queue package.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
