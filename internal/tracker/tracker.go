package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arclight-collective/paymaster/internal/config"
	"github.com/arclight-collective/paymaster/internal/ledger"
)

var (
	ErrEventAlreadyOpen = errors.New("event run is already open")
	ErrEventClosed      = errors.New("event run is closed")
	ErrEventUnknown     = errors.New("event run is unknown")
)

const (
	flushRetryAttempts = 3
	flushRetryBaseWait = 250 * time.Millisecond
)

// Event is a join or leave notification from the event source.
type Event struct {
	EventID       string
	ChannelID     string
	ParticipantID string
	At            time.Time
}

// TrackedChannel is one monitored voice channel, fixed for the event's
// duration. Non-primary channels (staging/dispatch) are recorded like any
// other; payroll decides whether to count them.
type TrackedChannel struct {
	ChannelID   string
	DisplayName string
	IsPrimary   bool
}

type Identity struct {
	DisplayName    string
	EligibleMember bool
}

// Roster resolves a participant ID to a display identity. Events for
// identities it cannot resolve are dropped, never surfaced as errors.
type Roster interface {
	Resolve(guildID, participantID string) (Identity, bool)
}

// Presence reports who is currently confirmed present in a channel. Ticks
// cross-check open sessions against it because leave events can be missed.
type Presence interface {
	LiveParticipants(guildID, channelID string) ([]string, error)
}

// Tracker converts join/leave/tick events into open-session state and emits
// participation records to the ledger. Each open event run is owned by a
// single goroutine; the tracker only routes to it.
type Tracker struct {
	cfg      *config.Config
	ledger   ledger.Ledger
	roster   Roster
	presence Presence

	mu   sync.Mutex
	runs map[string]*eventRun

	flushQ     chan flushItem
	workerDone chan struct{}
	closeOnce  sync.Once
}

func New(cfg *config.Config, l ledger.Ledger, roster Roster, presence Presence) *Tracker {
	t := &Tracker{
		cfg:        cfg,
		ledger:     l,
		roster:     roster,
		presence:   presence,
		runs:       make(map[string]*eventRun),
		flushQ:     make(chan flushItem, cfg.FlushQueueSize),
		workerDone: make(chan struct{}),
	}
	go t.flushWorker()
	return t
}

// StartEvent opens an event run and spawns its owning goroutine. An open run
// already persisted under the same ID (tracker restart) is resumed.
func (t *Tracker) StartEvent(ctx context.Context, eventID, guildID string, channels []TrackedChannel) error {
	t.mu.Lock()
	if _, exists := t.runs[eventID]; exists {
		t.mu.Unlock()
		return ErrEventAlreadyOpen
	}
	t.mu.Unlock()

	existing, err := t.ledger.GetEventRun(ctx, eventID)
	if err != nil {
		return err
	}
	switch {
	case existing == nil:
		if err := t.ledger.CreateEventRun(ctx, ledger.EventRun{
			ID:        eventID,
			GuildID:   guildID,
			StartedAt: time.Now(),
			Status:    ledger.EventStatusOpen,
		}); err != nil {
			return err
		}
	case existing.Status == ledger.EventStatusClosed:
		return ErrEventClosed
	default:
		slog.Warn("resuming event run left open by a previous process", "event_id", eventID)
	}

	run := newEventRun(t, eventID, guildID, channels)

	t.mu.Lock()
	if _, exists := t.runs[eventID]; exists {
		t.mu.Unlock()
		run.shutdown()
		return ErrEventAlreadyOpen
	}
	t.runs[eventID] = run
	t.mu.Unlock()

	slog.Info("event run started", "event_id", eventID, "guild_id", guildID, "channels", len(channels))
	return nil
}

// StopEvent force-finalizes every remaining open session at the given time,
// closes the run, and waits until the finalized records have been handed to
// the ledger, so a payroll calculation issued right after sees all of them.
func (t *Tracker) StopEvent(ctx context.Context, eventID string, at time.Time) error {
	t.mu.Lock()
	run, ok := t.runs[eventID]
	if ok {
		delete(t.runs, eventID)
	}
	t.mu.Unlock()
	if !ok {
		existing, err := t.ledger.GetEventRun(ctx, eventID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status == ledger.EventStatusClosed {
			return ErrEventClosed
		}
		return ErrEventUnknown
	}

	run.query(func(r *eventRun) any {
		r.forceCloseAll(at)
		return nil
	})
	run.shutdown()

	if err := t.waitFlushed(ctx); err != nil {
		return err
	}
	if err := t.ledger.CloseEventRun(ctx, eventID, at); err != nil {
		return err
	}
	slog.Info("event run stopped", "event_id", eventID)
	return nil
}

// OnJoin ingests a join notification. Anomalies are absorbed locally: events
// for unknown runs, closed runs, or unresolvable identities are logged and
// dropped, matching best-effort delivery from the source.
func (t *Tracker) OnJoin(ev Event) {
	run := t.lookup(ev.EventID)
	if run == nil {
		slog.Warn("join rejected, no open event run", "event_id", ev.EventID, "participant_id", ev.ParticipantID, "error", ErrEventClosed)
		return
	}
	identity, ok := t.roster.Resolve(run.guildID, ev.ParticipantID)
	if !ok {
		slog.Warn("join dropped, unknown participant identity", "event_id", ev.EventID, "participant_id", ev.ParticipantID)
		return
	}
	if !run.do(func(r *eventRun) { r.handleJoin(ev, identity) }) {
		slog.Warn("join rejected, event run closing", "event_id", ev.EventID, "participant_id", ev.ParticipantID)
	}
}

// OnLeave ingests a leave notification. A leave without a matching open
// session is a no-op.
func (t *Tracker) OnLeave(ev Event) {
	run := t.lookup(ev.EventID)
	if run == nil {
		return
	}
	run.do(func(r *eventRun) { r.handleLeave(ev) })
}

// InjectTick runs one checkpoint pass for the event at the given time. The
// per-run timer calls this on its interval; tests call it directly.
func (t *Tracker) InjectTick(eventID string, now time.Time) {
	run := t.lookup(eventID)
	if run == nil {
		return
	}
	run.do(func(r *eventRun) { r.handleTick(now) })
}

// GetLiveParticipants returns the distinct participants with an open session,
// answered by the run's own goroutine so it reflects every event ingested
// before the call.
func (t *Tracker) GetLiveParticipants(eventID string) ([]string, error) {
	run := t.lookup(eventID)
	if run == nil {
		return nil, ErrEventUnknown
	}
	res := run.query(func(r *eventRun) any { return r.liveParticipants() })
	if res == nil {
		return nil, ErrEventUnknown
	}
	return res.([]string), nil
}

// OpenEventIDs lists runs currently owned by this tracker.
func (t *Tracker) OpenEventIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.runs))
	for id := range t.runs {
		ids = append(ids, id)
	}
	return ids
}

// Close stops all open runs at the current time and drains the flush queue.
func (t *Tracker) Close(ctx context.Context) error {
	now := time.Now()
	var firstErr error
	for _, eventID := range t.OpenEventIDs() {
		if err := t.StopEvent(ctx, eventID, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.closeOnce.Do(func() { close(t.flushQ) })
	select {
	case <-t.workerDone:
	case <-ctx.Done():
		if firstErr == nil {
			firstErr = ctx.Err()
		}
	}
	return firstErr
}

func (t *Tracker) lookup(eventID string) *eventRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runs[eventID]
}
