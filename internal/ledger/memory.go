package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryLedger is a process-local Ledger. It backs the test suites and serves
// as the store when no DATABASE_URL is configured.
type MemoryLedger struct {
	mu      sync.Mutex
	runs    map[string]EventRun
	records map[string]map[string]ParticipationRecord
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		runs:    make(map[string]EventRun),
		records: make(map[string]map[string]ParticipationRecord),
	}
}

func (l *MemoryLedger) CreateEventRun(_ context.Context, run EventRun) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.runs[run.ID]; exists {
		return fmt.Errorf("%w: %s", ErrEventRunExists, run.ID)
	}
	l.runs[run.ID] = run
	return nil
}

func (l *MemoryLedger) CloseEventRun(_ context.Context, eventID string, endedAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, exists := l.runs[eventID]
	if !exists {
		return fmt.Errorf("event run not found: %s", eventID)
	}
	run.Status = EventStatusClosed
	run.EndedAt = &endedAt
	l.runs[eventID] = run
	return nil
}

func (l *MemoryLedger) GetEventRun(_ context.Context, eventID string) (*EventRun, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, exists := l.runs[eventID]
	if !exists {
		return nil, nil
	}
	return &run, nil
}

func (l *MemoryLedger) Append(_ context.Context, record ParticipationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	byKey, exists := l.records[record.EventID]
	if !exists {
		byKey = make(map[string]ParticipationRecord)
		l.records[record.EventID] = byKey
	}
	key := record.SessionKey()
	existing, exists := byKey[key]
	if !exists {
		byKey[key] = record
		return nil
	}
	merged, _ := mergeDuration(existing, record)
	byKey[key] = merged
	return nil
}

func (l *MemoryLedger) RecordsForEvent(_ context.Context, eventID string) ([]ParticipationRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byKey := l.records[eventID]
	out := make([]ParticipationRecord, 0, len(byKey))
	for _, rec := range byKey {
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b ParticipationRecord) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		if a.ParticipantID != b.ParticipantID {
			if a.ParticipantID < b.ParticipantID {
				return -1
			}
			return 1
		}
		if a.ChannelID < b.ChannelID {
			return -1
		}
		if a.ChannelID > b.ChannelID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (l *MemoryLedger) AggregateMinutesByParticipant(_ context.Context, input AggregateInput) (map[string]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seconds := make(map[string]int64)
	for _, rec := range l.records[input.EventID] {
		if slices.Contains(input.ExcludeChannelIDs, rec.ChannelID) {
			continue
		}
		seconds[rec.ParticipantID] += rec.DurationSeconds
	}
	minutes := make(map[string]int64, len(seconds))
	for participantID, secs := range seconds {
		minutes[participantID] = secs / 60
	}
	return minutes, nil
}

func (l *MemoryLedger) DeleteAllForEvent(_ context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, eventID)
	delete(l.runs, eventID)
	return nil
}
