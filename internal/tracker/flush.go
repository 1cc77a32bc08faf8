package tracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/arclight-collective/paymaster/internal/ledger"
)

// flushItem is either a record to persist or a barrier: a signal channel
// closed once every item enqueued before it has been attempted.
type flushItem struct {
	record  ledger.ParticipationRecord
	barrier chan struct{}
}

// enqueueFlush hands a record to the persistence worker. The queue is
// bounded; a full queue blocks the caller instead of dropping data.
func (t *Tracker) enqueueFlush(record ledger.ParticipationRecord) {
	t.flushQ <- flushItem{record: record}
}

// waitFlushed blocks until every record enqueued before the call has been
// handed to the ledger (or exhausted its retries into the pending pass).
func (t *Tracker) waitFlushed(ctx context.Context) error {
	barrier := make(chan struct{})
	select {
	case t.flushQ <- flushItem{barrier: barrier}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-t.workerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// flushWorker drains the queue, retrying each write with bounded backoff.
// Writes that exhaust their retries are kept in a pending list and retried
// before newer work, so transient store outages delay persistence instead of
// losing it.
func (t *Tracker) flushWorker() {
	defer close(t.workerDone)
	var pending []ledger.ParticipationRecord
	for item := range t.flushQ {
		if item.barrier == nil {
			pending = append(pending, item.record)
		}
		pending = t.attemptAll(pending)
		if item.barrier != nil {
			close(item.barrier)
		}
	}
	// Final pass on shutdown.
	if remaining := t.attemptAll(pending); len(remaining) > 0 {
		slog.Error("unpersisted participation records at shutdown", "count", len(remaining))
	}
}

func (t *Tracker) attemptAll(records []ledger.ParticipationRecord) []ledger.ParticipationRecord {
	var remaining []ledger.ParticipationRecord
	for _, rec := range records {
		if err := t.appendWithRetry(rec); err != nil {
			slog.Error("ledger write failed after retries, queued for retry pass",
				"event_id", rec.EventID, "participant_id", rec.ParticipantID, "error", err)
			remaining = append(remaining, rec)
		}
	}
	return remaining
}

func (t *Tracker) appendWithRetry(rec ledger.ParticipationRecord) error {
	var err error
	for attempt := 0; attempt < flushRetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(flushRetryBaseWait << (attempt - 1))
		}
		if err = t.ledger.Append(context.Background(), rec); err == nil {
			return nil
		}
	}
	return err
}
