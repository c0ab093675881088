package sync

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/events"
	"github.com/meshdoc/core/metrics"
)

// Runner executes one attempt of a strategy against ctxID/peerID and
// reports whether the failure (if any) is retryable. It is supplied by
// package replctx, which has the concrete DeltaDAG/StorageEngine/
// WireProtocols wiring the strategy bodies need; this package only
// knows how to schedule, retry, and bound calls to it.
type Runner func(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy Strategy, attempt int) error

// Config holds the retry/backoff/concurrency knobs from
// config.SyncConfig.
type Config struct {
	MaxConcurrentSyncs int
	RetryBaseMS        int
	RetryMultiplier    float64
	RetryCapMS         int
	MaxAttempts        int
}

// Scheduler is the SyncScheduler (spec.md §4.5).
type Scheduler struct {
	cfg   Config
	sinks *events.Sinks
	run   Runner
	rec   *metrics.Recorder

	sem chan struct{}

	mu       sync.Mutex
	inflight map[syncKey]*inflightRun
}

type syncKey struct {
	ctxID  core.ContextId
	peerID core.PeerId
}

type inflightRun struct {
	done chan struct{}
	res  Result
	err  error
}

// Result is what sync_context reports on completion.
type Result struct {
	Strategy Strategy
	Attempts int
	Outcome  string
}

// New constructs a Scheduler. rec may be nil (metrics are then a no-op),
// matching the teacher's pattern of optional-but-always-safe-to-call
// instrumentation.
func New(cfg Config, sinks *events.Sinks, run Runner, rec *metrics.Recorder) *Scheduler {
	if cfg.MaxConcurrentSyncs <= 0 {
		cfg.MaxConcurrentSyncs = 16
	}
	return &Scheduler{
		cfg:      cfg,
		sinks:    sinks,
		run:      run,
		rec:      rec,
		sem:      make(chan struct{}, cfg.MaxConcurrentSyncs),
		inflight: make(map[syncKey]*inflightRun),
	}
}

// SyncContext implements sync_context: records an active sync entry
// (bounded by max_concurrent_syncs), runs strategy with retry, and
// emits SyncEvent{Started, Completed|Failed}. Concurrent calls for the
// same (context, peer) coalesce onto one in-flight run (idempotency,
// spec.md §4.5).
func (s *Scheduler) SyncContext(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy Strategy) (Result, error) {
	key := syncKey{ctxID: ctxID, peerID: peerID}

	s.mu.Lock()
	if existing, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		select {
		case <-existing.done:
			return existing.res, existing.err
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	run := &inflightRun{done: make(chan struct{})}
	s.inflight[key] = run
	s.mu.Unlock()

	res, err := s.runWithCapacityAndRetry(ctx, ctxID, peerID, strategy)

	run.res, run.err = res, err
	close(run.done)

	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()

	return res, err
}

func (s *Scheduler) runWithCapacityAndRetry(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy Strategy) (Result, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
		// Capacity error kind (spec.md §7): block rather than fail fast,
		// but still respect cancellation while waiting.
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return Result{}, errors.NewErrCapacityExceeded("concurrent syncs", s.cfg.MaxConcurrentSyncs)
		}
	}

	s.emit(events.SyncEvent{ContextID: ctxID.String(), PeerID: string(peerID), Status: events.SyncStarted, Strategy: strategy.String()})

	maxAttempts := s.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{Strategy: strategy, Attempts: attempt}, err
		}

		err := s.run(ctx, ctxID, peerID, strategy, attempt)
		if err == nil {
			res := Result{Strategy: strategy, Attempts: attempt, Outcome: "ok"}
			s.emit(events.SyncEvent{
				ContextID: ctxID.String(), PeerID: string(peerID), Status: events.SyncCompleted,
				Strategy: strategy.String(), Attempt: attempt, DurationMS: time.Since(start).Milliseconds(), Outcome: "ok",
			})
			s.rec.SyncAttempt(ctx, strategy.String(), "ok")
			return res, nil
		}
		lastErr = err

		kind := errors.KindOf(err)
		if !isRetryable(kind) {
			s.emit(events.SyncEvent{
				ContextID: ctxID.String(), PeerID: string(peerID), Status: events.SyncFailed,
				Strategy: strategy.String(), Attempt: attempt, DurationMS: time.Since(start).Milliseconds(), FailKind: kind.String(),
			})
			s.rec.SyncAttempt(ctx, strategy.String(), kind.String())
			return Result{Strategy: strategy, Attempts: attempt}, err
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(s.backoff(attempt)):
		case <-ctx.Done():
			return Result{Strategy: strategy, Attempts: attempt}, ctx.Err()
		}
	}

	s.emit(events.SyncEvent{
		ContextID: ctxID.String(), PeerID: string(peerID), Status: events.SyncFailed,
		Strategy: strategy.String(), Attempt: maxAttempts, DurationMS: time.Since(start).Milliseconds(), FailKind: errors.KindOf(lastErr).String(),
	})
	s.rec.SyncAttempt(ctx, strategy.String(), errors.KindOf(lastErr).String())
	return Result{Strategy: strategy, Attempts: maxAttempts}, lastErr
}

func isRetryable(kind errors.Kind) bool {
	switch kind {
	case errors.KindMissingDependency, errors.KindCapacity, errors.KindTransport:
		return true
	default:
		return false
	}
}

// backoff computes exponential backoff with a configurable base,
// multiplier, and cap.
func (s *Scheduler) backoff(attempt int) time.Duration {
	base := float64(s.cfg.RetryBaseMS)
	if base <= 0 {
		base = 200
	}
	mult := s.cfg.RetryMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	capMS := float64(s.cfg.RetryCapMS)
	if capMS <= 0 {
		capMS = 30000
	}
	ms := base * math.Pow(mult, float64(attempt-1))
	if ms > capMS {
		ms = capMS
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Scheduler) emit(evt events.SyncEvent) {
	if s.sinks == nil {
		return
	}
	s.sinks.Sync.Publish(evt)
}
