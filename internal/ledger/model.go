package ledger

import (
	"fmt"
	"time"
)

type EventStatus string

const (
	EventStatusOpen   EventStatus = "open"
	EventStatusClosed EventStatus = "closed"
)

// EventRun groups participation records under one timed activity window.
type EventRun struct {
	ID        string
	GuildID   string
	StartedAt time.Time
	EndedAt   *time.Time
	Status    EventStatus
}

// ParticipationRecord is the durable record of one join-to-leave interval.
// While the underlying session is still open it is extended in place by
// checkpoint flushes; once the session closes it is never amended again.
type ParticipationRecord struct {
	EventID         string
	ParticipantID   string
	ParticipantName string
	ChannelID       string
	JoinedAt        time.Time
	LeftAt          time.Time
	DurationSeconds int64
	EligibleMember  bool
}

// SessionKey is the upsert identity of a record: one physical session keeps
// one row no matter how many checkpoint flushes touch it.
func (r ParticipationRecord) SessionKey() string {
	return fmt.Sprintf("%s|%s|%s|%d", r.EventID, r.ParticipantID, r.ChannelID, r.JoinedAt.Unix())
}
