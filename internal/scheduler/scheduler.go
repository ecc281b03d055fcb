// Package scheduler implements the Scheduler actor: the four-bucket
// ring timing core described by this repository's event model,
// grounded on the original bot's Timer actor. It runs as a single
// goroutine with a private inbox; every exported method sends a
// request and waits for its reply, so the bucket state is never
// touched from more than one goroutine.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asonix/eventbot/internal/domain"
	"github.com/asonix/eventbot/internal/obs"
)

// State is one of the four states an admitted event can be in.
type State int

const (
	WaitingNotify State = iota
	WaitingStart
	Future
	WaitingEnd
)

func (s State) String() string {
	switch s {
	case WaitingNotify:
		return "waiting_notify"
	case WaitingStart:
		return "waiting_start"
	case Future:
		return "future"
	case WaitingEnd:
		return "waiting_end"
	default:
		return "unknown"
	}
}

// NotificationKind identifies which message the Chat Gateway should send.
type NotificationKind int

const (
	EventSoon NotificationKind = iota
	EventStarted
	EventOver
)

// Store is the subset of the Store Gateway the Scheduler needs.
type Store interface {
	EventsInRange(ctx context.Context, from, to time.Time) ([]domain.Event, error)
	DeleteEvent(ctx context.Context, id int32) error
}

// Notifier is the subset of the Chat Gateway the Scheduler needs.
type Notifier interface {
	Notify(ctx context.Context, kind NotificationKind, event domain.Event)
}

const (
	notifyWindow = 45 * time.Minute
	endWindow    = time.Hour
	dropWindow   = time.Hour
)

var bucketGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "eventbot_scheduler_bucket_size",
	Help: "Number of events currently tracked per scheduler state.",
}, []string{"state"})

var notificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "eventbot_scheduler_notifications_total",
	Help: "Notifications emitted by the scheduler, by kind.",
}, []string{"kind"})

func init() {
	prometheus.MustRegister(bucketGauge, notificationsSent)
}

type bucketSet = map[int32]struct{}

// Scheduler is the actor. Construct with New and call Run in its own
// goroutine; interact only through the exported methods.
type Scheduler struct {
	store    Store
	notifier Notifier
	log      *slog.Logger

	waitingNotify [60]bucketSet
	waitingStart  [60]bucketSet
	waitingEnd    [60]bucketSet
	future        [60]bucketSet

	states map[int32]State
	slots  map[int32]int // which bucket index holds this event in its current state
	events map[int32]domain.Event

	reqCh chan request
}

type request struct {
	op   func()
	done chan struct{}
}

// New constructs a Scheduler. now is injectable so tests can control
// bucket placement deterministically; production callers pass time.Now.
func New(store Store, notifier Notifier, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		store:    store,
		notifier: notifier,
		log:      log,
		states:   make(map[int32]State),
		slots:    make(map[int32]int),
		events:   make(map[int32]domain.Event),
		reqCh:    make(chan request),
	}
	for i := range s.waitingNotify {
		s.waitingNotify[i] = make(bucketSet)
		s.waitingStart[i] = make(bucketSet)
		s.waitingEnd[i] = make(bucketSet)
		s.future[i] = make(bucketSet)
	}
	return s
}

// Run is the actor's mailbox loop. It returns when ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.reqCh:
			req.op()
			close(req.done)
		}
	}
}

// send executes op on the actor goroutine and blocks until it's done.
func (s *Scheduler) send(ctx context.Context, op func()) {
	done := make(chan struct{})
	select {
	case s.reqCh <- request{op: op, done: done}:
		select {
		case <-done:
		case <-ctx.Done():
		}
	case <-ctx.Done():
	}
}

// RunTicker runs an hourly tick loop until ctx is canceled: refresh
// from the store, ingest, then migrate. interval is injectable for
// tests; production callers pass time.Hour.
func (s *Scheduler) RunTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, time.Now())
		}
	}
}

// Tick runs one full tick: refresh the [-1h, +1h] window from the
// store, ingest each event, then run the four bucket migrations, in
// that order — futures, notifies, starts, ends, matching the original
// Timer's migrate_events ordering.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	corrID := obs.CorrelationID()
	log := s.log.With("correlation_id", corrID, "tick", now.UTC())

	events, err := s.store.EventsInRange(ctx, now.Add(-dropWindow), now.Add(endWindow))
	if err != nil {
		log.Error("scheduler: could not refresh events in range", "error", err)
	} else {
		s.send(ctx, func() { s.ingestLocked(ctx, events, now) })
	}

	s.send(ctx, func() {
		s.migrateFuturesLocked(ctx, now)
		s.migrateNotifiesLocked(ctx, now)
		s.migrateStartsLocked(ctx, now)
		s.migrateEndsLocked(ctx, now)
		s.reportGauges()
	})
}

// Edit removes event from its current bucket, if tracked, and
// re-ingests it with fresh timestamps.
func (s *Scheduler) Edit(ctx context.Context, event domain.Event) {
	s.send(ctx, func() {
		s.removeLocked(event.ID)
		s.ingestLocked(ctx, []domain.Event{event}, time.Now())
	})
}

// Remove drops an event from tracking without notifying anyone, for
// callers (the /delete command) that already deleted it from the
// store and sent their own confirmation message.
func (s *Scheduler) Remove(ctx context.Context, eventID int32) {
	s.send(ctx, func() { s.removeLocked(eventID) })
}

func m(t time.Time) int {
	return t.UTC().Minute()
}

// ingestLocked runs the per-event admission decision. Already-tracked
// events are ignored: this is what lets an hourly window overlap the
// same event across ticks without duplicating work.
func (s *Scheduler) ingestLocked(ctx context.Context, events []domain.Event, now time.Time) {
	for _, event := range events {
		if _, tracked := s.states[event.ID]; tracked {
			continue
		}

		start := event.StartDate.UTC()
		end := event.EndDate.UTC()

		shouldHaveEnded := now.After(end)
		endingSoon := now.Add(endWindow).After(end)
		shouldHaveStarted := now.After(start)
		startingSoon := now.Add(notifyWindow).After(start)
		shouldDrop := now.Add(-dropWindow).After(start)

		switch {
		case shouldHaveEnded:
			s.deleteEventLocked(ctx, event)
		case shouldHaveStarted:
			s.notify(ctx, EventStarted, event)
			if endingSoon {
				s.placeLocked(event.ID, WaitingEnd, m(end))
			} else {
				s.placeLocked(event.ID, Future, m(end))
			}
			s.events[event.ID] = event
		case startingSoon:
			s.notify(ctx, EventSoon, event)
			s.placeLocked(event.ID, WaitingStart, m(start))
			s.events[event.ID] = event
		case !shouldDrop:
			s.placeLocked(event.ID, WaitingNotify, m(start))
			s.events[event.ID] = event
		default:
			s.log.Debug("scheduler: dropping event too far in the past", "event_id", event.ID)
		}
	}
}

func (s *Scheduler) migrateNotifiesLocked(ctx context.Context, now time.Time) {
	idx := m(now.Add(notifyWindow))
	ids := s.waitingNotify[idx]
	s.waitingNotify[idx] = make(bucketSet)

	for id := range ids {
		event, ok := s.events[id]
		if !ok {
			s.log.Error("scheduler: tracked event missing from events map", "event_id", id)
			delete(s.states, id)
			continue
		}
		s.notify(ctx, EventSoon, event)
		s.placeLocked(id, WaitingStart, idx)
	}
}

func (s *Scheduler) migrateStartsLocked(ctx context.Context, now time.Time) {
	idx := m(now)
	ids := s.waitingStart[idx]
	s.waitingStart[idx] = make(bucketSet)

	hourFromNow := now.Add(endWindow)

	for id := range ids {
		event, ok := s.events[id]
		if !ok {
			s.log.Error("scheduler: tracked event missing from events map", "event_id", id)
			delete(s.states, id)
			continue
		}
		s.notify(ctx, EventStarted, event)
		endIdx := m(event.EndDate)
		if hourFromNow.After(event.EndDate.UTC()) {
			s.placeLocked(id, WaitingEnd, endIdx)
		} else {
			s.placeLocked(id, Future, endIdx)
		}
	}
}

func (s *Scheduler) migrateFuturesLocked(ctx context.Context, now time.Time) {
	idx := m(now)
	nextHour := now.Add(endWindow)

	for id := range s.future[idx] {
		event, ok := s.events[id]
		if !ok {
			s.log.Error("scheduler: tracked event missing from events map", "event_id", id)
			delete(s.future[idx], id)
			delete(s.states, id)
			continue
		}
		// WaitingEnd is always placed at m(end_date), never m(now): the
		// original Timer used now's minute here, which could file an
		// event under a bucket its end date never revisits.
		if nextHour.After(event.EndDate.UTC()) {
			delete(s.future[idx], id)
			s.placeLocked(id, WaitingEnd, m(event.EndDate))
		}
	}
}

func (s *Scheduler) migrateEndsLocked(ctx context.Context, now time.Time) {
	idx := m(now)
	ids := s.waitingEnd[idx]
	s.waitingEnd[idx] = make(bucketSet)

	for id := range ids {
		event, ok := s.events[id]
		if !ok {
			continue
		}
		delete(s.states, id)
		delete(s.events, id)
		delete(s.slots, id)
		s.deleteEventLocked(ctx, event)
	}
}

// placeLocked repositions the event to state/idx, wherever it
// currently sits (if anywhere). It leaves s.events untouched: a
// migration only changes which bucket an event waits in, it never
// stops tracking the event, so the next migration must still be able
// to find it.
func (s *Scheduler) placeLocked(id int32, state State, idx int) {
	s.removeFromBucketLocked(id)
	s.states[id] = state
	s.slots[id] = idx
	s.bucketFor(state)[idx][id] = struct{}{}
}

// removeFromBucketLocked drops id from its current bucket/state/slot
// bookkeeping only, keeping s.events — the reposition half shared by
// placeLocked and removeLocked.
func (s *Scheduler) removeFromBucketLocked(id int32) {
	state, ok := s.states[id]
	if !ok {
		return
	}
	idx := s.slots[id]
	delete(s.bucketFor(state)[idx], id)
	delete(s.states, id)
	delete(s.slots, id)
}

// removeLocked stops tracking id entirely: bucket, state/slot
// bookkeeping, and the cached Event all go. Used when an event leaves
// the scheduler for good (Remove) or is about to be re-ingested fresh
// (Edit), never by a migration.
func (s *Scheduler) removeLocked(id int32) {
	s.removeFromBucketLocked(id)
	delete(s.events, id)
}

func (s *Scheduler) bucketFor(state State) *[60]bucketSet {
	switch state {
	case WaitingNotify:
		return &s.waitingNotify
	case WaitingStart:
		return &s.waitingStart
	case Future:
		return &s.future
	default:
		return &s.waitingEnd
	}
}

func (s *Scheduler) notify(ctx context.Context, kind NotificationKind, event domain.Event) {
	s.notifier.Notify(ctx, kind, event)
	notificationsSent.WithLabelValues(kindLabel(kind)).Inc()
}

func kindLabel(kind NotificationKind) string {
	switch kind {
	case EventSoon:
		return "soon"
	case EventStarted:
		return "started"
	default:
		return "ended"
	}
}

func (s *Scheduler) deleteEventLocked(ctx context.Context, event domain.Event) {
	if err := s.store.DeleteEvent(ctx, event.ID); err != nil {
		s.log.Error("scheduler: failed to delete ended event", "event_id", event.ID, "error", err)
	}
	s.notify(ctx, EventOver, event)
}

func (s *Scheduler) reportGauges() {
	bucketGauge.WithLabelValues(WaitingNotify.String()).Set(float64(countEvents(s.states, WaitingNotify)))
	bucketGauge.WithLabelValues(WaitingStart.String()).Set(float64(countEvents(s.states, WaitingStart)))
	bucketGauge.WithLabelValues(Future.String()).Set(float64(countEvents(s.states, Future)))
	bucketGauge.WithLabelValues(WaitingEnd.String()).Set(float64(countEvents(s.states, WaitingEnd)))
}

func countEvents(states map[int32]State, want State) int {
	n := 0
	for _, s := range states {
		if s == want {
			n++
		}
	}
	return n
}
