package ledger

import (
	"context"
	"errors"
	"time"
)

var ErrEventRunExists = errors.New("event run already exists")

type AggregateInput struct {
	EventID           string
	ExcludeChannelIDs []string
}

type EventRunStore interface {
	CreateEventRun(ctx context.Context, run EventRun) error
	CloseEventRun(ctx context.Context, eventID string, endedAt time.Time) error
	GetEventRun(ctx context.Context, eventID string) (*EventRun, error)
}

type RecordStore interface {
	// Append inserts the record, or extends the existing row with the same
	// session identity. Updates that would shrink the stored duration are
	// ignored; stored duration is monotonically non-decreasing.
	Append(ctx context.Context, record ParticipationRecord) error
	RecordsForEvent(ctx context.Context, eventID string) ([]ParticipationRecord, error)
	// AggregateMinutesByParticipant sums duration across all channels and
	// sessions per participant, truncated to whole minutes.
	AggregateMinutesByParticipant(ctx context.Context, input AggregateInput) (map[string]int64, error)
	DeleteAllForEvent(ctx context.Context, eventID string) error
}

type Ledger interface {
	EventRunStore
	RecordStore
}

// mergeDuration applies the never-shrink upsert rule shared by every store
// implementation. It returns the merged record and whether anything changed.
func mergeDuration(existing, incoming ParticipationRecord) (ParticipationRecord, bool) {
	if incoming.DurationSeconds <= existing.DurationSeconds {
		return existing, false
	}
	existing.LeftAt = incoming.LeftAt
	existing.DurationSeconds = incoming.DurationSeconds
	if incoming.ParticipantName != "" {
		existing.ParticipantName = incoming.ParticipantName
	}
	return existing, true
}
