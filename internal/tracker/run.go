package tracker

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/arclight-collective/paymaster/internal/ledger"
)

const runInboxSize = 256

type sessionKey struct {
	channelID     string
	participantID string
}

// openSession is the in-memory state of one participant currently present in
// one tracked channel. lastCheckpoint is the last time presence was confirmed
// and flushed; it never precedes joinedAt.
type openSession struct {
	participantID  string
	channelID      string
	identity       Identity
	joinedAt       time.Time
	lastCheckpoint time.Time
}

// eventRun owns all open-session state for one event. Every mutation runs on
// its single goroutine, fed through the inbox; callers never touch the maps.
type eventRun struct {
	tracker  *Tracker
	eventID  string
	guildID  string
	channels map[string]TrackedChannel
	open     map[sessionKey]*openSession

	inbox chan func(*eventRun)

	sendMu sync.Mutex
	closed bool

	ticker     *time.Ticker
	tickerStop chan struct{}
}

func newEventRun(t *Tracker, eventID, guildID string, channels []TrackedChannel) *eventRun {
	byID := make(map[string]TrackedChannel, len(channels))
	for _, ch := range channels {
		byID[ch.ChannelID] = ch
	}
	r := &eventRun{
		tracker:    t,
		eventID:    eventID,
		guildID:    guildID,
		channels:   byID,
		open:       make(map[sessionKey]*openSession),
		inbox:      make(chan func(*eventRun), runInboxSize),
		ticker:     time.NewTicker(time.Duration(t.cfg.TickIntervalSec) * time.Second),
		tickerStop: make(chan struct{}),
	}
	go r.loop()
	go r.tickLoop()
	return r
}

func (r *eventRun) loop() {
	for fn := range r.inbox {
		fn(r)
	}
}

func (r *eventRun) tickLoop() {
	for {
		select {
		case <-r.tickerStop:
			return
		case now := <-r.ticker.C:
			r.do(func(er *eventRun) { er.handleTick(now) })
		}
	}
}

// do schedules fn on the run's goroutine. Returns false once the run has shut
// down. The send may block when the inbox is full; that backpressure is
// intentional.
func (r *eventRun) do(fn func(*eventRun)) bool {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return false
	}
	r.inbox <- fn
	return true
}

// query runs fn on the run's goroutine and waits for its result. Returns nil
// if the run has already shut down.
func (r *eventRun) query(fn func(*eventRun) any) any {
	reply := make(chan any, 1)
	ok := r.do(func(er *eventRun) { reply <- fn(er) })
	if !ok {
		return nil
	}
	return <-reply
}

func (r *eventRun) shutdown() {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.ticker.Stop()
	close(r.tickerStop)
	close(r.inbox)
}

func (r *eventRun) handleJoin(ev Event, identity Identity) {
	if _, tracked := r.channels[ev.ChannelID]; !tracked {
		return
	}
	key := sessionKey{channelID: ev.ChannelID, participantID: ev.ParticipantID}
	if stale, exists := r.open[key]; exists {
		// Duplicate join without an intervening leave. Close the stale
		// session at the new join time and start fresh.
		slog.Warn("duplicate join, finalizing stale session",
			"event_id", r.eventID, "participant_id", ev.ParticipantID, "channel_id", ev.ChannelID)
		r.finalize(stale, ev.At)
	}
	r.open[key] = &openSession{
		participantID:  ev.ParticipantID,
		channelID:      ev.ChannelID,
		identity:       identity,
		joinedAt:       ev.At,
		lastCheckpoint: ev.At,
	}
	slog.Debug("session opened", "event_id", r.eventID, "participant_id", ev.ParticipantID, "channel_id", ev.ChannelID)
}

func (r *eventRun) handleLeave(ev Event) {
	key := sessionKey{channelID: ev.ChannelID, participantID: ev.ParticipantID}
	sess, exists := r.open[key]
	if !exists {
		// Leave without a matching join, e.g. after a tracker restart.
		slog.Debug("leave without open session ignored",
			"event_id", r.eventID, "participant_id", ev.ParticipantID, "channel_id", ev.ChannelID)
		return
	}
	r.finalize(sess, ev.At)
	delete(r.open, key)
}

// handleTick checkpoints every open session so a crash loses at most one tick
// interval. Sessions whose participant is no longer confirmed present are
// finalized at their last confirmed presence time.
func (r *eventRun) handleTick(now time.Time) {
	present := make(map[string]map[string]bool, len(r.channels))
	skip := make(map[string]bool)
	for channelID := range r.channels {
		live, err := r.tracker.presence.LiveParticipants(r.guildID, channelID)
		if err != nil {
			// Leave this channel's sessions untouched rather than
			// finalizing on a failed lookup.
			slog.Warn("presence lookup failed, skipping channel this tick",
				"event_id", r.eventID, "channel_id", channelID, "error", err)
			skip[channelID] = true
			continue
		}
		set := make(map[string]bool, len(live))
		for _, id := range live {
			set[id] = true
		}
		present[channelID] = set
	}

	for key, sess := range r.open {
		if skip[sess.channelID] {
			continue
		}
		if present[sess.channelID][sess.participantID] {
			if !now.After(sess.lastCheckpoint) {
				continue
			}
			r.flush(sess, now)
			sess.lastCheckpoint = now
			continue
		}
		// Missed leave: the participant vanished between ticks.
		slog.Info("participant absent on tick, finalizing at last confirmed presence",
			"event_id", r.eventID, "participant_id", sess.participantID, "channel_id", sess.channelID)
		r.finalize(sess, sess.lastCheckpoint)
		delete(r.open, key)
	}
}

func (r *eventRun) forceCloseAll(at time.Time) {
	for key, sess := range r.open {
		r.finalize(sess, at)
		delete(r.open, key)
	}
}

func (r *eventRun) liveParticipants() []string {
	seen := make(map[string]bool, len(r.open))
	for _, sess := range r.open {
		seen[sess.participantID] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// finalize emits the session's record up to leftAt. Checkpoint flushes and
// final records share this path: the record always carries the cumulative
// duration since joinedAt, and the ledger's upsert extends the same row.
func (r *eventRun) finalize(sess *openSession, leftAt time.Time) {
	r.flush(sess, leftAt)
}

func (r *eventRun) flush(sess *openSession, until time.Time) {
	duration := int64(until.Sub(sess.joinedAt) / time.Second)
	if duration < 0 {
		duration = 0
		until = sess.joinedAt
	}
	r.tracker.enqueueFlush(ledger.ParticipationRecord{
		EventID:         r.eventID,
		ParticipantID:   sess.participantID,
		ParticipantName: sess.identity.DisplayName,
		ChannelID:       sess.channelID,
		JoinedAt:        sess.joinedAt,
		LeftAt:          until,
		DurationSeconds: duration,
		EligibleMember:  sess.identity.EligibleMember,
	})
}
