package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arclight-collective/paymaster/internal/ledger"
)

type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) ledger.Ledger {
	return &PostgresLedger{pool: pool}
}

func (r *PostgresLedger) CreateEventRun(ctx context.Context, run ledger.EventRun) error {
	ct, err := r.pool.Exec(ctx,
		`INSERT INTO event_runs (id, guild_id, started_at, status)
		 VALUES ($1, $2, $3, 'open')
		 ON CONFLICT (id) DO NOTHING`,
		run.ID, run.GuildID, run.StartedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ledger.ErrEventRunExists
	}
	return nil
}

func (r *PostgresLedger) CloseEventRun(ctx context.Context, eventID string, endedAt time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE event_runs SET status = 'closed', ended_at = $2 WHERE id = $1`,
		eventID, endedAt)
	return err
}

func (r *PostgresLedger) GetEventRun(ctx context.Context, eventID string) (*ledger.EventRun, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, guild_id, started_at, ended_at, status
		 FROM event_runs WHERE id = $1`,
		eventID)
	var run ledger.EventRun
	var endedAt *time.Time
	err := row.Scan(&run.ID, &run.GuildID, &run.StartedAt, &endedAt, &run.Status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	run.EndedAt = endedAt
	return &run, nil
}

func (r *PostgresLedger) Append(ctx context.Context, record ledger.ParticipationRecord) error {
	// Same never-shrink rule as ledger.mergeDuration, expressed in the
	// conflict guard: a stale or duplicate flush leaves the row untouched.
	_, err := r.pool.Exec(ctx,
		`INSERT INTO participation_records
		   (event_id, participant_id, participant_name, channel_id, joined_at, left_at, duration_seconds, eligible_member)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id, participant_id, channel_id, joined_at) DO UPDATE
		   SET left_at = EXCLUDED.left_at,
		       duration_seconds = EXCLUDED.duration_seconds,
		       participant_name = EXCLUDED.participant_name
		 WHERE EXCLUDED.duration_seconds > participation_records.duration_seconds`,
		record.EventID, record.ParticipantID, record.ParticipantName, record.ChannelID,
		record.JoinedAt, record.LeftAt, record.DurationSeconds, record.EligibleMember)
	return err
}

func (r *PostgresLedger) RecordsForEvent(ctx context.Context, eventID string) ([]ledger.ParticipationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT event_id, participant_id, participant_name, channel_id, joined_at, left_at, duration_seconds, eligible_member
		 FROM participation_records WHERE event_id = $1
		 ORDER BY joined_at ASC, participant_id ASC, channel_id ASC`,
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ledger.ParticipationRecord
	for rows.Next() {
		var rec ledger.ParticipationRecord
		if err := rows.Scan(&rec.EventID, &rec.ParticipantID, &rec.ParticipantName, &rec.ChannelID,
			&rec.JoinedAt, &rec.LeftAt, &rec.DurationSeconds, &rec.EligibleMember); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func (r *PostgresLedger) AggregateMinutesByParticipant(ctx context.Context, input ledger.AggregateInput) (map[string]int64, error) {
	excluded := input.ExcludeChannelIDs
	if excluded == nil {
		excluded = []string{}
	}
	rows, err := r.pool.Query(ctx,
		`SELECT participant_id, SUM(duration_seconds)
		 FROM participation_records
		 WHERE event_id = $1 AND NOT (channel_id = ANY($2))
		 GROUP BY participant_id`,
		input.EventID, excluded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	minutes := make(map[string]int64)
	for rows.Next() {
		var participantID string
		var seconds int64
		if err := rows.Scan(&participantID, &seconds); err != nil {
			return nil, err
		}
		minutes[participantID] = seconds / 60
	}
	return minutes, rows.Err()
}

func (r *PostgresLedger) DeleteAllForEvent(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM event_runs WHERE id = $1`,
		eventID)
	return err
}
