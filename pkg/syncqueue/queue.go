// Package syncqueue batches UI-produced records and delivers them to the
// backend with bounded, backed-off retries. Delivery is best effort: a
// batch that exhausts its retries is dropped.
package syncqueue

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/harunnryd/livecore/pkg/api"
	"github.com/harunnryd/livecore/pkg/clock"
	"github.com/harunnryd/livecore/pkg/errorsx"
	"github.com/harunnryd/livecore/pkg/logging"
	"github.com/harunnryd/livecore/pkg/metrics"
)

// Callbacks are invoked outside the queue lock, so they may call back into
// the queue, Destroy included. A round whose outcome was already decided
// when Destroy took the lock may still report it after Destroy returns; a
// round that Destroy cancels reports nothing.
type Callbacks struct {
	OnSyncSuccess    func(records []Record)
	OnSyncError      func(err error, records []Record)
	OnRetryExhausted func(records []Record)
}

type Options struct {
	Config    Config
	Caller    api.Caller
	Callbacks Callbacks
	Clock     clock.Clock
	Logger    *slog.Logger
	Observer  metrics.Observer
}

// Stats are observability counters. They never affect control flow.
type Stats struct {
	TotalSyncs      int
	SuccessfulSyncs int
	FailedSyncs     int
	TotalRetries    int
	AvgSyncTime     time.Duration
	LastSyncTime    time.Time
}

// Status describes the records still waiting for acknowledgement.
type Status struct {
	Total    int
	ByKind   map[Kind]int
	Empty    bool
	InFlight bool
}

type entry struct {
	seq uint64
	rec Record
}

// round is one flush: the initial attempt plus its retries.
type round struct {
	through  uint64
	cancel   context.CancelFunc
	expedite chan struct{}
	waiters  []chan error
}

func (r *round) hurry() {
	select {
	case r.expedite <- struct{}{}:
	default:
	}
}

type Queue struct {
	mu        sync.Mutex
	cfg       Config
	caller    api.Caller
	cb        Callbacks
	clock     clock.Clock
	logger    *slog.Logger
	observer  metrics.Observer
	entries   []entry
	seq       uint64
	round     *round
	pending   bool
	followers []chan error
	destroyed bool
	ticker    clock.Timer
	tickSeq   uint64
	stats     Stats
}

func New(opts Options) (*Queue, error) {
	cfg := opts.Config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Caller == nil {
		return nil, errorsx.New(errorsx.ReasonConfig, "sync queue requires an api caller")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		cfg:      cfg,
		caller:   opts.Caller,
		cb:       opts.Callbacks,
		clock:    clock.OrReal(opts.Clock),
		logger:   logging.NewComponentLogger(logger, "sync_queue").With("session_id", cfg.SessionID),
		observer: metrics.OrNoop(opts.Observer),
	}, nil
}

func (q *Queue) SessionID() string { return q.cfg.SessionID }

// Config returns the effective configuration.
func (q *Queue) Config() Config {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cfg
}

// Enqueue appends one record and flushes at once when the batch is full.
func (q *Queue) Enqueue(rec Record) error {
	return q.EnqueueAll(rec)
}

// EnqueueAll appends records in order and evaluates the size trigger once.
// A nil record rejects the whole call and nothing is queued.
func (q *Queue) EnqueueAll(records ...Record) error {
	clean := make([]Record, len(records))
	for i, rec := range records {
		v, err := normalize(rec)
		if err != nil {
			return err
		}
		clean[i] = v
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return errorsx.New(errorsx.ReasonDestroyed, "sync queue destroyed")
	}
	for _, rec := range clean {
		q.seq++
		q.entries = append(q.entries, entry{seq: q.seq, rec: rec})
	}
	if len(q.entries) >= q.cfg.MaxBatchSize {
		q.triggerLocked()
	}
	return nil
}

// triggerLocked starts a flush, or marks one as owed when a round is
// already in flight.
func (q *Queue) triggerLocked() {
	if q.round != nil {
		q.pending = true
		return
	}
	q.startLocked()
}

func (q *Queue) startLocked() *round {
	if len(q.entries) == 0 {
		return nil
	}
	batch := make([]entry, len(q.entries))
	copy(batch, q.entries)
	ctx, cancel := context.WithCancel(context.Background())
	r := &round{
		through:  batch[len(batch)-1].seq,
		cancel:   cancel,
		expedite: make(chan struct{}, 1),
	}
	q.round = r
	go q.run(ctx, r, batch, q.cfg)
	return r
}

func (q *Queue) run(ctx context.Context, r *round, batch []entry, cfg Config) {
	records := make([]Record, len(batch))
	for i, e := range batch {
		records[i] = e.rec
	}
	req := BuildRequest(records)
	endpoint := cfg.Endpoint()
	tags := map[string]string{"session_id": cfg.SessionID}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := cfg.RetryDelays.Delay(attempt)
			q.bump(func(s *Stats) { s.TotalRetries++ })
			q.logger.Warn("sync_retry_scheduled",
				"attempt", attempt, "max_retries", cfg.MaxRetries, "delay", delay, "records", len(records))
			metrics.Record(q.observer, metrics.EventSyncRetry, float64(attempt), tags)
			if !q.wait(ctx, r, delay) {
				return
			}
		}

		started := q.clock.Now()
		resp, err := q.caller.Call(ctx, http.MethodPost, endpoint, req)
		if err == nil && !resp.Success {
			msg := resp.Message
			if msg == "" {
				msg = "sync failed"
			}
			err = errorsx.New(errorsx.ReasonProtocol, msg)
		}
		elapsed := q.clock.Now().Sub(started)
		if ctx.Err() != nil || !q.live(r) {
			return
		}
		q.recordAttempt(elapsed, err == nil)
		metrics.Record(q.observer, metrics.EventSyncAttempt, float64(elapsed.Milliseconds()), map[string]string{
			"session_id": cfg.SessionID,
			"attempt":    strconv.Itoa(attempt),
			"success":    strconv.FormatBool(err == nil),
		})

		if err == nil {
			q.logger.Info("sync_succeeded", "records", len(records), "attempt", attempt, "latency", elapsed)
			q.settle(r, nil, func() {
				if q.cb.OnSyncSuccess != nil {
					q.cb.OnSyncSuccess(records)
				}
			})
			return
		}

		if attempt == 0 {
			q.logger.Error("sync_failed", "error", err, "records", len(records))
			if cb := q.cb.OnSyncError; cb != nil && q.live(r) {
				cb(err, records)
			}
		} else {
			q.logger.Warn("sync_retry_failed", "attempt", attempt, "error", err)
		}

		if attempt >= cfg.MaxRetries {
			q.logger.Error("sync_retry_exhausted", "records", len(records), "retries", attempt)
			metrics.Record(q.observer, metrics.EventSyncExhausted, float64(len(records)), tags)
			exhausted := errorsx.Errorf(errorsx.ReasonExhausted, "sync retries exhausted after %d attempts: %w", attempt+1, err)
			q.settle(r, exhausted, func() {
				if q.cb.OnRetryExhausted != nil {
					q.cb.OnRetryExhausted(records)
				}
			})
			return
		}
	}
}

// wait blocks for the backoff delay. A forced sync cuts it short; Destroy
// aborts it.
func (q *Queue) wait(ctx context.Context, r *round, delay time.Duration) bool {
	fired := make(chan struct{})
	t := q.clock.AfterFunc(delay, func() { close(fired) })
	defer t.Stop()
	select {
	case <-fired:
	case <-r.expedite:
	case <-ctx.Done():
		return false
	}
	return ctx.Err() == nil
}

func (q *Queue) live(r *round) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.round == r && !q.destroyed
}

// settle removes the batch (acknowledged or given up on), runs the outcome
// callback, releases waiters and starts any owed follow-up flush.
func (q *Queue) settle(r *round, result error, notify func()) {
	q.mu.Lock()
	if q.round != r || q.destroyed {
		q.mu.Unlock()
		return
	}
	q.removeThroughLocked(r.through)
	q.mu.Unlock()

	notify()

	q.mu.Lock()
	if q.round != r || q.destroyed {
		q.mu.Unlock()
		return
	}
	q.round = nil
	waiters := r.waiters
	var followers []chan error
	if q.pending || len(q.entries) >= q.cfg.MaxBatchSize || len(q.followers) > 0 {
		q.pending = false
		if next := q.startLocked(); next != nil {
			next.waiters = q.followers
		} else {
			followers = q.followers
		}
		q.followers = nil
	}
	q.mu.Unlock()
	r.cancel()

	for _, w := range waiters {
		w <- result
	}
	for _, w := range followers {
		w <- nil
	}
}

func (q *Queue) removeThroughLocked(seq uint64) {
	i := 0
	for i < len(q.entries) && q.entries[i].seq <= seq {
		i++
	}
	if i == 0 {
		return
	}
	rest := make([]entry, len(q.entries)-i)
	copy(rest, q.entries[i:])
	q.entries = rest
}

func (q *Queue) recordAttempt(elapsed time.Duration, ok bool) {
	now := q.clock.Now()
	q.bump(func(s *Stats) {
		s.TotalSyncs++
		if ok {
			s.SuccessfulSyncs++
			n := time.Duration(s.SuccessfulSyncs)
			s.AvgSyncTime = (s.AvgSyncTime*(n-1) + elapsed) / n
		} else {
			s.FailedSyncs++
		}
		s.LastSyncTime = now
	})
}

func (q *Queue) bump(fn func(*Stats)) {
	q.mu.Lock()
	fn(&q.stats)
	q.mu.Unlock()
}

// ForceSyncNow flushes everything queued so far, bypassing the size and
// interval triggers, and waits for the outcome. An empty queue reports
// success immediately. A round in backoff is retried at once.
func (q *Queue) ForceSyncNow(ctx context.Context) (bool, error) {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return false, errorsx.New(errorsx.ReasonDestroyed, "sync queue destroyed")
	}
	done := make(chan error, 1)
	switch {
	case q.round == nil:
		r := q.startLocked()
		if r == nil {
			q.mu.Unlock()
			return true, nil
		}
		r.waiters = append(r.waiters, done)
	case len(q.entries) > 0 && q.entries[len(q.entries)-1].seq > q.round.through:
		q.pending = true
		q.followers = append(q.followers, done)
		q.round.hurry()
	default:
		q.round.waiters = append(q.round.waiters, done)
		q.round.hurry()
	}
	q.mu.Unlock()
	q.logger.Info("sync_forced")

	select {
	case err := <-done:
		return err == nil, err
	case <-ctx.Done():
		return false, errorsx.Wrap(ctx.Err(), errorsx.ReasonCanceled)
	}
}

// StartAutoSync arms the interval timer.
func (q *Queue) StartAutoSync() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed {
		return
	}
	if q.ticker != nil {
		q.logger.Warn("sync_auto_already_started")
		return
	}
	q.scheduleTickLocked()
	q.logger.Info("sync_auto_started", "interval", q.cfg.SyncInterval)
}

func (q *Queue) StopAutoSync() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopTickerLocked() {
		q.logger.Info("sync_auto_stopped")
	}
}

func (q *Queue) AutoSyncRunning() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ticker != nil
}

func (q *Queue) scheduleTickLocked() {
	q.tickSeq++
	seq := q.tickSeq
	q.ticker = q.clock.AfterFunc(q.cfg.SyncInterval, func() { q.tick(seq) })
}

func (q *Queue) stopTickerLocked() bool {
	if q.ticker == nil {
		return false
	}
	q.ticker.Stop()
	q.ticker = nil
	q.tickSeq++
	return true
}

func (q *Queue) tick(seq uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.destroyed || q.ticker == nil || seq != q.tickSeq {
		return
	}
	q.scheduleTickLocked()
	if len(q.entries) > 0 {
		q.triggerLocked()
	}
}

// UpdateConfig applies a partial change. The interval timer restarts when
// the interval changes while auto sync is running. An in-flight round keeps
// the settings it started with.
func (q *Queue) UpdateConfig(u ConfigUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if u.MaxBatchSize != nil && *u.MaxBatchSize > 0 {
		q.cfg.MaxBatchSize = *u.MaxBatchSize
	}
	if u.MaxRetries != nil && *u.MaxRetries >= 0 {
		q.cfg.MaxRetries = *u.MaxRetries
	}
	if len(u.RetryDelays) > 0 {
		q.cfg.RetryDelays = u.RetryDelays
	}
	if u.SyncInterval != nil && *u.SyncInterval > 0 {
		q.cfg.SyncInterval = *u.SyncInterval
		if q.stopTickerLocked() {
			q.scheduleTickLocked()
		}
	}
	if !q.destroyed && len(q.entries) >= q.cfg.MaxBatchSize {
		q.triggerLocked()
	}
}

// QueueStatus counts unacknowledged records, including an in-flight batch.
func (q *Queue) QueueStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Status{Total: len(q.entries), ByKind: map[Kind]int{}, Empty: len(q.entries) == 0, InFlight: q.round != nil}
	for _, e := range q.entries {
		st.ByKind[e.rec.RecordKind()]++
	}
	return st
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) ResetStats() {
	q.mu.Lock()
	q.stats = Stats{}
	q.mu.Unlock()
}

// ClearWithoutSync drops every queued record. An in-flight round still
// completes with its own snapshot.
func (q *Queue) ClearWithoutSync() {
	q.mu.Lock()
	dropped := len(q.entries)
	q.entries = nil
	q.mu.Unlock()
	q.logger.Warn("sync_queue_cleared", "dropped", dropped)
}

// Destroy abandons in-flight work: the timer stops and the queue is dropped
// unsent. It does not wait for a callback already running. Pending
// ForceSyncNow callers receive a destroyed error.
func (q *Queue) Destroy() {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	q.stopTickerLocked()
	dropped := len(q.entries)
	q.entries = nil
	q.pending = false
	r := q.round
	q.round = nil
	waiters := q.followers
	q.followers = nil
	if r != nil {
		waiters = append(waiters, r.waiters...)
	}
	q.stats = Stats{}
	q.mu.Unlock()

	if r != nil {
		r.cancel()
	}
	err := errorsx.New(errorsx.ReasonDestroyed, "sync queue destroyed")
	for _, w := range waiters {
		w <- err
	}
	q.logger.Info("sync_queue_destroyed", "dropped", dropped)
}

func (q *Queue) Destroyed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.destroyed
}
