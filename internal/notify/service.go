package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dianabot/internal/eventbus"
	"dianabot/internal/storage"
	logx "dianabot/pkg/logx"
)

// Service is the notification aggregation engine.
//
// All per-user state (pending queue, duplicate window, scheduled flush) lives
// in a single map guarded by mu; sink deliveries always happen outside the
// lock so a slow transport for one user never blocks submissions for others.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	sink  Sink
	bus   eventbus.Bus
	store storage.Store

	cfg     Config
	limiter *rate.Limiter

	users map[int64]*userState

	// In-memory history of delivered digests (for /status)
	hmu     sync.Mutex
	history []HistoryItem
}

// userState is the single-owner record for one user. Only code holding
// Service.mu may touch it.
type userState struct {
	queue []Event
	seen  map[string]time.Time // fingerprint -> suppress until

	// Scheduled flush. gen is the scheduling epoch: it is bumped on every
	// (re)schedule, drain and cancel, so a stale timer that already fired but
	// lost the race for the lock detects it is superseded and does nothing.
	timer *time.Timer
	due   time.Time
	gen   uint64
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log,
		sink:  sink,
		bus:   bus,
		store: store,
		users: map[int64]*userState{},
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps the configuration atomically. Intended for startup, config
// hot-reload, and tests.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = normalizeConfig(cfg)
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Config returns the current configuration snapshot.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Submit accepts one event for a user.
//
// It returns an error only for programmer mistakes (nil payload, malformed
// payload, out-of-range priority). Transport failures never surface here:
// delivery is best-effort and observable via logs and the event bus.
//
// Critical events (and every event while aggregation is disabled) are
// delivered synchronously before Submit returns.
func (s *Service) Submit(ctx context.Context, userID int64, p Payload, prio Priority) error {
	if p == nil {
		return ErrNilPayload
	}
	if !prio.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(prio))
	}
	if err := p.validate(); err != nil {
		return fmt.Errorf("notify: %s payload: %w", p.Kind(), err)
	}

	now := time.Now()
	ev := Event{
		UserID:      userID,
		Payload:     p,
		Priority:    prio,
		CreatedAt:   now,
		Fingerprint: fingerprint(p),
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	dedup := cfg.Aggregation && cfg.DuplicateWindow > 0

	// Cross-restart duplicate check (best-effort, tightly bounded). A miss
	// here only means a repeat slips through after a restart.
	if dedup && cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(contextOrBackground(ctx), 25*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, dedupStoreKey(userID, ev.Fingerprint))
		cancel()
		if err == nil && ok && now.Before(until) {
			s.publish("notify.deduped", LifecycleEvent{UserID: userID, Kind: p.Kind(), Fingerprint: ev.Fingerprint, At: now})
			return nil
		}
	}

	s.mu.Lock()
	cfg = s.cfg
	st := s.userLocked(userID)

	var suppressUntil time.Time
	if dedup {
		pruneSeenLocked(st, now)
		if until, ok := st.seen[ev.Fingerprint]; ok && now.Before(until) {
			s.mu.Unlock()
			s.publish("notify.deduped", LifecycleEvent{UserID: userID, Kind: p.Kind(), Fingerprint: ev.Fingerprint, At: now})
			return nil
		}
		suppressUntil = now.Add(cfg.DuplicateWindow)
		st.seen[ev.Fingerprint] = suppressUntil
	}

	st.queue = append(st.queue, ev)

	// Immediate paths: Critical bypasses scheduling, aggregation disabled
	// behaves the same, and a queue past the cap drains right away.
	immediate := prio == PriorityCritical || !cfg.Aggregation || len(st.queue) > cfg.MaxQueueSize

	var batch []Event
	if immediate {
		batch = s.drainLocked(userID, st)
	} else {
		s.scheduleLocked(userID, st, now.Add(cfg.Delays.For(prio)))
	}
	s.mu.Unlock()

	if dedup && cfg.PersistDedup && s.store != nil {
		go s.persistFingerprint(userID, ev.Fingerprint, suppressUntil)
	}

	s.publish("notify.queued", LifecycleEvent{UserID: userID, Kind: p.Kind(), Fingerprint: ev.Fingerprint, At: now})

	if immediate {
		s.deliver(ctx, userID, batch, cfg)
	}
	return nil
}

// Flush force-sends whatever is pending for the user, synchronously. A user
// with nothing pending is a no-op: no sink call, no error.
func (s *Service) Flush(ctx context.Context, userID int64) {
	s.mu.Lock()
	st := s.users[userID]
	if st == nil {
		s.mu.Unlock()
		return
	}
	batch := s.drainLocked(userID, st)
	cfg := s.cfg
	s.mu.Unlock()

	s.deliver(ctx, userID, batch, cfg)
}

// Cancel discards the user's pending queue and scheduled flush without
// delivering. Safe to call when nothing is pending.
func (s *Service) Cancel(userID int64) {
	s.mu.Lock()
	st := s.users[userID]
	if st != nil {
		st.queue = nil
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.due = time.Time{}
		st.gen++
		pruneSeenLocked(st, time.Now())
		if len(st.seen) == 0 {
			delete(s.users, userID)
		}
	}
	s.mu.Unlock()
}

// PendingCount reports how many events are queued (not yet delivered) for the
// user. Pure read, for diagnostics and tests.
func (s *Service) PendingCount(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.users[userID]
	if st == nil {
		return 0
	}
	return len(st.queue)
}

// SweepExpired drops expired duplicate-window entries for every user and
// releases user records that hold nothing else. Queued events are never
// touched. Returns how many fingerprints were removed.
func (s *Service) SweepExpired() int {
	now := time.Now()
	removed := 0
	s.mu.Lock()
	for userID, st := range s.users {
		before := len(st.seen)
		pruneSeenLocked(st, now)
		removed += before - len(st.seen)
		if len(st.seen) == 0 && len(st.queue) == 0 && st.timer == nil {
			delete(s.users, userID)
		}
	}
	s.mu.Unlock()
	return removed
}

// Snapshot returns recently delivered digests, newest last.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

// ---- internals ----

func (s *Service) userLocked(userID int64) *userState {
	st := s.users[userID]
	if st == nil {
		st = &userState{seen: map[string]time.Time{}}
		s.users[userID] = st
	}
	return st
}

// drainLocked takes the whole queue (all-or-nothing), invalidates the
// scheduling epoch and drops the user record once both queue and duplicate
// window are empty.
func (s *Service) drainLocked(userID int64, st *userState) []Event {
	batch := st.queue
	st.queue = nil
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.due = time.Time{}
	st.gen++
	pruneSeenLocked(st, time.Now())
	if len(st.seen) == 0 {
		delete(s.users, userID)
	}
	return batch
}

// scheduleLocked arms (or pulls in) the deferred flush. A flush is never
// pushed later than already promised; only an earlier due time reschedules.
func (s *Service) scheduleLocked(userID int64, st *userState, due time.Time) {
	if st.timer != nil && !st.due.After(due) {
		return
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.gen++
	gen := st.gen
	st.due = due
	d := time.Until(due)
	if d < 0 {
		d = 0
	}
	st.timer = time.AfterFunc(d, func() { s.flushScheduled(userID, gen) })
}

// flushScheduled runs in the timer goroutine. A stale epoch means the timer
// was superseded (rescheduled, drained, or cancelled) after it was armed but
// before it got the lock; it must do nothing.
func (s *Service) flushScheduled(userID int64, gen uint64) {
	s.mu.Lock()
	st := s.users[userID]
	if st == nil || st.gen != gen {
		s.mu.Unlock()
		return
	}
	batch := s.drainLocked(userID, st)
	cfg := s.cfg
	s.mu.Unlock()

	s.deliver(context.Background(), userID, batch, cfg)
}

// deliver renders and sends one batch. Sink failures are logged and the
// batch is dropped (at-most-once; see package doc). Never called with mu
// held.
func (s *Service) deliver(ctx context.Context, userID int64, batch []Event, cfg Config) {
	if len(batch) == 0 {
		return
	}
	text := Render(batch, cfg.Format)
	if text == "" {
		return
	}

	s.mu.Lock()
	lim := s.limiter
	sink := s.sink
	s.mu.Unlock()

	if sink == nil {
		return
	}

	ctx = contextOrBackground(ctx)

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}

		// Bound per-send call. Keep tight to avoid hanging flushes.
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := sink.Deliver(callCtx, userID, text)
		cancel()
		if err == nil {
			s.appendHistory(userID, text)
			s.publish("notify.sent", LifecycleEvent{UserID: userID, Events: len(batch), At: time.Now()})
			return
		}
		lastErr = err
		s.log.Warn("digest delivery failed",
			logx.Int64("user", userID),
			logx.Int("events", len(batch)),
			logx.Int("attempt", attempt),
			logx.Err(err),
		)

		if attempt >= maxAttempts {
			break
		}
		delay := cfg.RetryBase * time.Duration(1<<(attempt-1))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	// Batch dropped. At-most-once: losing a digest on transport failure is
	// preferred over risking duplicate re-delivery.
	if lastErr != nil {
		s.publish("notify.failed", LifecycleEvent{UserID: userID, Events: len(batch), At: time.Now(), Error: lastErr.Error()})
	}
}

func (s *Service) appendHistory(userID int64, text string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), UserID: userID, Text: text})
	if len(s.history) > 300 {
		s.history = s.history[len(s.history)-300:]
	}
	s.hmu.Unlock()
}

func (s *Service) persistFingerprint(userID int64, fp string, until time.Time) {
	st := s.store
	if st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := st.PutDedup(ctx, dedupStoreKey(userID, fp), until); err != nil {
		s.log.Debug("dedup persist failed", logx.Int64("user", userID), logx.Err(err))
	}
}

func (s *Service) publish(typ string, data LifecycleEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: data.At, Data: data})
}

func pruneSeenLocked(st *userState, now time.Time) {
	for fp, until := range st.seen {
		if !now.Before(until) {
			delete(st.seen, fp)
		}
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
