package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE event_status AS ENUM ('open', 'closed'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS event_runs (
		id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status event_status NOT NULL DEFAULT 'open'
	)`,
	`CREATE TABLE IF NOT EXISTS participation_records (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		event_id TEXT NOT NULL REFERENCES event_runs(id) ON DELETE CASCADE,
		participant_id TEXT NOT NULL,
		participant_name TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		joined_at TIMESTAMPTZ NOT NULL,
		left_at TIMESTAMPTZ NOT NULL,
		duration_seconds BIGINT NOT NULL CHECK (duration_seconds >= 0),
		eligible_member BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(event_id, participant_id, channel_id, joined_at)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_participation_records_event ON participation_records (event_id, participant_id)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
