package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arclight-collective/paymaster/internal/config"
	"github.com/arclight-collective/paymaster/internal/ledger"
)

var t0 = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

type stubRoster struct {
	unknown map[string]bool
}

func (r *stubRoster) Resolve(_, participantID string) (Identity, bool) {
	if r.unknown[participantID] {
		return Identity{}, false
	}
	return Identity{DisplayName: participantID, EligibleMember: true}, true
}

type stubPresence struct {
	mu        sync.Mutex
	byChannel map[string][]string
	err       error
}

func (p *stubPresence) set(channelID string, participantIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.byChannel == nil {
		p.byChannel = make(map[string][]string)
	}
	p.byChannel[channelID] = participantIDs
}

func (p *stubPresence) LiveParticipants(_, channelID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return p.byChannel[channelID], nil
}

// flakyLedger fails the first failures Append calls, then delegates.
type flakyLedger struct {
	ledger.Ledger
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyLedger) Append(ctx context.Context, rec ledger.ParticipationRecord) error {
	f.mu.Lock()
	f.calls++
	shouldFail := f.calls <= f.failures
	f.mu.Unlock()
	if shouldFail {
		return errors.New("store unavailable")
	}
	return f.Ledger.Append(ctx, rec)
}

func testConfig() *config.Config {
	return &config.Config{
		DiscordGuildID:    "guild",
		TrackedChannelIDs: []string{"vc-1"},
		// Long enough that the run's own timer never fires during a test;
		// ticks are injected directly.
		TickIntervalSec: 3600,
		FlushQueueSize:  16,
	}
}

func newTestTracker(t *testing.T, l ledger.Ledger, presence *stubPresence, roster *stubRoster) *Tracker {
	t.Helper()
	if presence == nil {
		presence = &stubPresence{}
	}
	if roster == nil {
		roster = &stubRoster{}
	}
	tr := New(testConfig(), l, roster, presence)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tr.Close(ctx)
	})
	return tr
}

func startEvent(t *testing.T, tr *Tracker, eventID string) {
	t.Helper()
	channels := []TrackedChannel{{ChannelID: "vc-1", DisplayName: "Mining Ops", IsPrimary: true}}
	if err := tr.StartEvent(context.Background(), eventID, "guild", channels); err != nil {
		t.Fatalf("start event failed: %v", err)
	}
}

func TestSingleJoinLeave_DurationExact(t *testing.T) {
	l := ledger.NewMemoryLedger()
	tr := newTestTracker(t, l, nil, nil)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})
	tr.OnLeave(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0.Add(150 * time.Second)})
	if err := tr.StopEvent(context.Background(), "ev-1", t0.Add(200*time.Second)); err != nil {
		t.Fatalf("stop event failed: %v", err)
	}

	records, _ := l.RecordsForEvent(context.Background(), "ev-1")
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].DurationSeconds != 150 {
		t.Fatalf("expected exactly 150s, got %d", records[0].DurationSeconds)
	}
	if !records[0].EligibleMember {
		t.Fatalf("expected roster eligibility to be recorded")
	}
}

func TestTickFlushes_DoNotDoubleCountOrLoseTime(t *testing.T) {
	l := ledger.NewMemoryLedger()
	presence := &stubPresence{}
	presence.set("vc-1", "alice")
	tr := newTestTracker(t, l, presence, nil)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})
	tr.InjectTick("ev-1", t0.Add(60*time.Second))
	tr.InjectTick("ev-1", t0.Add(120*time.Second))
	tr.OnLeave(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0.Add(150 * time.Second)})
	if err := tr.StopEvent(context.Background(), "ev-1", t0.Add(200*time.Second)); err != nil {
		t.Fatalf("stop event failed: %v", err)
	}

	records, _ := l.RecordsForEvent(context.Background(), "ev-1")
	if len(records) != 1 {
		t.Fatalf("tick flushes must upsert one session record, got %d", len(records))
	}
	if records[0].DurationSeconds != 150 {
		t.Fatalf("expected 150s total with ticks, got %d", records[0].DurationSeconds)
	}
}

func TestMissedLeave_FinalizedAtLastConfirmedPresence(t *testing.T) {
	l := ledger.NewMemoryLedger()
	presence := &stubPresence{}
	presence.set("vc-1", "alice")
	tr := newTestTracker(t, l, presence, nil)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})
	tr.InjectTick("ev-1", t0.Add(60*time.Second))
	// Alice vanishes without a leave event.
	presence.set("vc-1")
	tr.InjectTick("ev-1", t0.Add(120*time.Second))
	if err := tr.StopEvent(context.Background(), "ev-1", t0.Add(200*time.Second)); err != nil {
		t.Fatalf("stop event failed: %v", err)
	}

	records, _ := l.RecordsForEvent(context.Background(), "ev-1")
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	if records[0].DurationSeconds != 60 {
		t.Fatalf("expected finalization at last confirmed presence (60s), got %d", records[0].DurationSeconds)
	}
	live, err := tr.GetLiveParticipants("ev-1")
	if !errors.Is(err, ErrEventUnknown) {
		t.Fatalf("expected stopped event to be unknown, got %v / %v", live, err)
	}
}

func TestPresenceLookupFailure_KeepsSessionsOpen(t *testing.T) {
	l := ledger.NewMemoryLedger()
	presence := &stubPresence{err: errors.New("gateway hiccup")}
	tr := newTestTracker(t, l, presence, nil)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})
	tr.InjectTick("ev-1", t0.Add(60*time.Second))

	live, err := tr.GetLiveParticipants("ev-1")
	if err != nil {
		t.Fatalf("live participants failed: %v", err)
	}
	if len(live) != 1 {
		t.Fatalf("session must survive a failed presence lookup, got %v", live)
	}
}

func TestDuplicateJoin_FinalizesStaleSession(t *testing.T) {
	l := ledger.NewMemoryLedger()
	tr := newTestTracker(t, l, nil, nil)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})
	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0.Add(60 * time.Second)})
	tr.OnLeave(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0.Add(90 * time.Second)})
	if err := tr.StopEvent(context.Background(), "ev-1", t0.Add(200*time.Second)); err != nil {
		t.Fatalf("stop event failed: %v", err)
	}

	records, _ := l.RecordsForEvent(context.Background(), "ev-1")
	if len(records) != 2 {
		t.Fatalf("expected stale and fresh records, got %d", len(records))
	}
	if records[0].DurationSeconds != 60 || records[1].DurationSeconds != 30 {
		t.Fatalf("expected durations 60 and 30, got %d and %d", records[0].DurationSeconds, records[1].DurationSeconds)
	}
}

func TestLeaveWithoutJoin_IsNoOp(t *testing.T) {
	l := ledger.NewMemoryLedger()
	tr := newTestTracker(t, l, nil, nil)
	startEvent(t, tr, "ev-1")

	tr.OnLeave(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})
	if err := tr.StopEvent(context.Background(), "ev-1", t0.Add(time.Minute)); err != nil {
		t.Fatalf("stop event failed: %v", err)
	}

	records, _ := l.RecordsForEvent(context.Background(), "ev-1")
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestUnknownIdentity_JoinDropped(t *testing.T) {
	l := ledger.NewMemoryLedger()
	roster := &stubRoster{unknown: map[string]bool{"ghost": true}}
	tr := newTestTracker(t, l, nil, roster)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "ghost", At: t0})

	live, err := tr.GetLiveParticipants("ev-1")
	if err != nil {
		t.Fatalf("live participants failed: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("unresolvable identity must be dropped, got %v", live)
	}
}

func TestStopEvent_ForceClosesAndRejectsRestart(t *testing.T) {
	l := ledger.NewMemoryLedger()
	tr := newTestTracker(t, l, nil, nil)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})
	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "bob", At: t0.Add(5 * time.Minute)})
	stopAt := t0.Add(70 * time.Minute)
	if err := tr.StopEvent(context.Background(), "ev-1", stopAt); err != nil {
		t.Fatalf("stop event failed: %v", err)
	}

	records, _ := l.RecordsForEvent(context.Background(), "ev-1")
	if len(records) != 2 {
		t.Fatalf("expected both sessions force-finalized, got %d", len(records))
	}
	if records[0].DurationSeconds != 70*60 || records[1].DurationSeconds != 65*60 {
		t.Fatalf("unexpected force-close durations: %d, %d", records[0].DurationSeconds, records[1].DurationSeconds)
	}

	err := tr.StartEvent(context.Background(), "ev-1", "guild", []TrackedChannel{{ChannelID: "vc-1"}})
	if !errors.Is(err, ErrEventClosed) {
		t.Fatalf("expected ErrEventClosed on restart, got %v", err)
	}
	if err := tr.StopEvent(context.Background(), "ev-1", stopAt); !errors.Is(err, ErrEventClosed) {
		t.Fatalf("expected ErrEventClosed on double stop, got %v", err)
	}

	run, _ := l.GetEventRun(context.Background(), "ev-1")
	if run == nil || run.Status != ledger.EventStatusClosed {
		t.Fatalf("expected event run closed in ledger, got %+v", run)
	}
}

func TestStartEvent_DuplicateOpenRejected(t *testing.T) {
	l := ledger.NewMemoryLedger()
	tr := newTestTracker(t, l, nil, nil)
	startEvent(t, tr, "ev-1")

	err := tr.StartEvent(context.Background(), "ev-1", "guild", []TrackedChannel{{ChannelID: "vc-1"}})
	if !errors.Is(err, ErrEventAlreadyOpen) {
		t.Fatalf("expected ErrEventAlreadyOpen, got %v", err)
	}
}

func TestGetLiveParticipants_SortedAndDistinct(t *testing.T) {
	l := ledger.NewMemoryLedger()
	tr := newTestTracker(t, l, nil, nil)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "bob", At: t0})
	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})

	live, err := tr.GetLiveParticipants("ev-1")
	if err != nil {
		t.Fatalf("live participants failed: %v", err)
	}
	if len(live) != 2 || live[0] != "alice" || live[1] != "bob" {
		t.Fatalf("unexpected live participants: %v", live)
	}
}

func TestFlushWorker_RetriesTransientWriteFailures(t *testing.T) {
	base := ledger.NewMemoryLedger()
	flaky := &flakyLedger{Ledger: base, failures: 2}
	tr := newTestTracker(t, flaky, nil, nil)
	startEvent(t, tr, "ev-1")

	tr.OnJoin(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0})
	tr.OnLeave(Event{EventID: "ev-1", ChannelID: "vc-1", ParticipantID: "alice", At: t0.Add(time.Minute)})
	if err := tr.StopEvent(context.Background(), "ev-1", t0.Add(2*time.Minute)); err != nil {
		t.Fatalf("stop event failed: %v", err)
	}

	records, _ := base.RecordsForEvent(context.Background(), "ev-1")
	if len(records) != 1 || records[0].DurationSeconds != 60 {
		t.Fatalf("expected record persisted after retries, got %+v", records)
	}
}
