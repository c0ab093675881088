// Package events implements the observable subscription channel spec.md
// §6 requires ("a sync event must be observable via a subscription
// channel") plus the local pub/sub bus the teacher's net package builds
// ad hoc (EvtReceivedPushLog, EvtPubSub, db.Events().Updates). Optional
// values use sourcenetwork/immutable.Option, matching the teacher's
// Events().Updates.HasValue()/Value() call shape.
package events

import (
	"sync"

	"github.com/sourcenetwork/immutable"
)

// SyncStatus enumerates the lifecycle of one SyncScheduler run, per
// spec.md §4.5's SyncEvent.
type SyncStatus int

const (
	SyncStarted SyncStatus = iota
	SyncCompleted
	SyncFailed
)

func (s SyncStatus) String() string {
	switch s {
	case SyncStarted:
		return "started"
	case SyncCompleted:
		return "completed"
	case SyncFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SyncEvent is the observability record spec.md §4.5/§6 names:
// {context_id, peer_id, status, attempt, duration_ms}.
type SyncEvent struct {
	ContextID  string
	PeerID     string
	Status     SyncStatus
	Strategy   string
	Attempt    int
	DurationMS int64
	Outcome    string // non-empty only on Completed
	FailKind   string // non-empty only on Failed
}

// VerificationFailed is emitted whenever StorageEngine or SecureStream
// rejects a tampered or mismatched artifact (spec.md §7 Integrity).
type VerificationFailed struct {
	ContextID string
	ID        string
	Expected  string
	Computed  string
}

// MergeFallback is emitted whenever an entity with a missing or None
// crdt_type falls back to plain LWW, per spec.md I5's visibility
// requirement ("loss forces LWW fallback and MUST be observable").
type MergeFallback struct {
	ContextID string
	EntityID  string
	Reason    string
}

// Update mirrors the teacher's events.Update: one locally- or
// remotely-applied mutation, broadcast to local subscribers (used by
// replctx.Runtime's internal broadcast loop before it reaches the
// gossip network).
type Update struct {
	ContextID string
	DeltaID   string
	Priority  int // 1 = genesis/create, >1 = subsequent update
}

// Bus is a minimal fan-out pub/sub, generalizing the teacher's
// EvtReceivedPushLog/EvtPubSub ad hoc channels into one reusable type per
// event payload type, bounded per subscriber so a slow consumer can't
// block the publisher indefinitely (Capacity error kind, spec.md §7).
type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	bufLen int
}

func NewBus[T any](bufLen int) *Bus[T] {
	if bufLen <= 0 {
		bufLen = 16
	}
	return &Bus[T]{subs: make(map[int]chan T), bufLen: bufLen}
}

// Subscribe returns a channel of future events plus an unsubscribe func.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan T, b.bufLen)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish fans an event out to every current subscriber. A subscriber
// whose buffer is full is skipped rather than blocking the publisher;
// this trades at-most-once delivery under backpressure for liveness,
// appropriate for observability events rather than protocol-critical
// ones (which flow through the DAG/gossip paths, not this bus).
func (b *Bus[T]) Publish(evt T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Sinks bundles the observability buses a Node exposes, so callers don't
// need to know about each event type's Bus individually.
type Sinks struct {
	Sync         *Bus[SyncEvent]
	Verification *Bus[VerificationFailed]
	MergeFall    *Bus[MergeFallback]
	updates      immutable.Option[*Bus[Update]]
}

func NewSinks() *Sinks {
	return &Sinks{
		Sync:         NewBus[SyncEvent](64),
		Verification: NewBus[VerificationFailed](64),
		MergeFall:    NewBus[MergeFallback](64),
	}
}

// EnableUpdates lazily creates the internal Update bus, matching the
// teacher's optional db.Events().Updates value that's only present when
// the DB was constructed WithUpdateEvents().
func (s *Sinks) EnableUpdates() {
	if !s.updates.HasValue() {
		s.updates = immutable.Some(NewBus[Update](64))
	}
}

func (s *Sinks) Updates() immutable.Option[*Bus[Update]] {
	return s.updates
}

func (s *Sinks) Close() {
	s.Sync.Close()
	s.Verification.Close()
	s.MergeFall.Close()
	if s.updates.HasValue() {
		s.updates.Value().Close()
	}
}
