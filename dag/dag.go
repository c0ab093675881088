// Package dag implements DeltaDAG (spec.md §4.2): the per-context causal
// DAG of deltas, deciding when a delta becomes ready to apply and
// reporting missing parents. Grounded on spec.md §4.2 directly (no
// teacher file owns a causal DAG), with the retry/periodic-loop shape of
// other_examples' delta-syncer.go informing the cascade-then-settle
// control flow, and the orphan-buffer-then-integrate pattern of
// other_examples' RGA file informing pendingEntry bookkeeping.
package dag

import (
	"context"
	"crypto/ed25519"
	"sort"
	"sync"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/crypto"
	"github.com/meshdoc/core/datastore"
	"github.com/meshdoc/core/errors"
)

// Applier applies a ready delta's actions against the StorageEngine and
// reports whether that succeeded. DAG never imports package storage directly
// so the two packages stay independently testable; ContextRuntime wires
// them together by passing storage.Engine.ApplyAction-based closures.
type Applier func(ctx context.Context, ctxID core.ContextId, delta *core.Delta) error

// DAG owns every context's causal delta graph.
type DAG struct {
	store   datastore.Store
	applier Applier

	mu     sync.Mutex
	states map[core.ContextId]*ctxState
}

func New(store datastore.Store, applier Applier) *DAG {
	return &DAG{store: store, applier: applier, states: make(map[core.ContextId]*ctxState)}
}

func (d *DAG) stateFor(ctxID core.ContextId) *ctxState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[ctxID]
	if !ok {
		st = newCtxState()
		d.states[ctxID] = st
	}
	return st
}

// HasDelta reports whether id is applied (persisted) or currently
// buffered pending.
func (d *DAG) HasDelta(ctx context.Context, ctxID core.ContextId, id core.DeltaId) bool {
	st := d.stateFor(ctxID)
	st.mu.Lock()
	_, pending := st.pending[id]
	st.mu.Unlock()
	if pending {
		return true
	}
	ok, _ := d.store.Has(ctx, datastore.DeltaKey(ctxID, id))
	return ok
}

// GetDelta returns a delta from the pending buffer or the persisted
// applied log.
func (d *DAG) GetDelta(ctx context.Context, ctxID core.ContextId, id core.DeltaId) (*core.Delta, error) {
	st := d.stateFor(ctxID)
	st.mu.Lock()
	if pe, ok := st.pending[id]; ok {
		st.mu.Unlock()
		return pe.delta, nil
	}
	st.mu.Unlock()

	raw, err := d.store.Get(ctx, datastore.DeltaKey(ctxID, id))
	if err != nil {
		return nil, errors.ErrNotFound
	}
	return core.DecodeDelta(raw)
}

// GetHeads returns the current frontier: applied deltas with no applied
// child.
func (d *DAG) GetHeads(ctxID core.ContextId) []core.DeltaId {
	st := d.stateFor(ctxID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]core.DeltaId, 0, len(st.heads))
	for id := range st.heads {
		out = append(out, id)
	}
	return out
}

// GetMissingParents returns the union of parent ids that pending deltas
// are waiting on.
func (d *DAG) GetMissingParents(ctxID core.ContextId) []core.DeltaId {
	st := d.stateFor(ctxID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]core.DeltaId, 0, len(st.waitingOn))
	for id := range st.waitingOn {
		out = append(out, id)
	}
	return out
}

// AddDelta implements add_delta (spec.md §4.2): idempotent by DeltaId,
// validates the delta, and either applies it immediately (all parents
// applied), buffers it (some parents missing), reports AlreadyHave, or
// rejects it as Invalid.
func (d *DAG) AddDelta(ctx context.Context, ctxID core.ContextId, delta *core.Delta) (Result, error) {
	id, err := delta.ID()
	if err != nil {
		return Result{Outcome: Invalid}, nil
	}

	if d.HasDelta(ctx, ctxID, id) {
		return Result{Outcome: AlreadyHave}, nil
	}

	if !crypto.Verify(ed25519.PublicKey(delta.Author), mustBytes(delta), delta.Signature) {
		return Result{Outcome: Invalid}, nil
	}

	st := d.stateFor(ctxID)
	st.mu.Lock()

	var missing []core.DeltaId
	for _, p := range delta.Parents {
		if _, isHead := st.heads[p]; isHead {
			continue
		}
		applied, _ := d.store.Has(ctx, datastore.DeltaKey(ctxID, p))
		if !applied {
			missing = append(missing, p)
		}
	}

	if len(missing) > 0 {
		remaining := make(map[core.DeltaId]struct{}, len(missing))
		for _, p := range missing {
			remaining[p] = struct{}{}
			if st.waitingOn[p] == nil {
				st.waitingOn[p] = make(map[core.DeltaId]struct{})
			}
			st.waitingOn[p][id] = struct{}{}
		}
		st.pending[id] = &pendingEntry{delta: delta, remaining: remaining}
		st.mu.Unlock()
		missingStrs := make([]string, len(missing))
		for i, m := range missing {
			missingStrs[i] = m.String()
		}
		return Result{Outcome: Buffered, MissingParents: missingStrs}, nil
	}
	st.mu.Unlock()

	if err := d.applyAndCascade(ctx, ctxID, id, delta, false); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Applied}, nil
}

// RecordLocal records a delta whose actions have already been applied
// directly against the StorageEngine by its own author (bypassing the
// Applier here). This is required for locally-originated deltas: a
// delta's ExpectedRoot (spec.md §9 OQ3) must be the real post-apply
// root_hash, which can only be known by actually applying the actions,
// but Delta.ID()/Signature cover ExpectedRoot — so a local author
// applies first, then calls RecordLocal to fold the already-signed
// delta into DAG bookkeeping (heads, applied log, cascade) without
// re-running its actions a second time.
func (d *DAG) RecordLocal(ctx context.Context, ctxID core.ContextId, delta *core.Delta) (core.DeltaId, error) {
	id, err := delta.ID()
	if err != nil {
		return core.DeltaId{}, errors.Wrap("encoding local delta for id", err)
	}
	if err := d.applyAndCascade(ctx, ctxID, id, delta, true); err != nil {
		return core.DeltaId{}, err
	}
	return id, nil
}

// applyAndCascade applies one ready delta, persists it, updates heads,
// then iteratively (not recursively, per spec.md §4.2) drains any
// pending deltas that become ready as a result, newly-ready siblings
// ordered by (hybrid_timestamp, DeltaId). skipApplier is true only for
// the initial delta of a RecordLocal call, whose actions are already
// reflected in storage; every cascaded sibling is necessarily a
// previously-buffered remote delta and always goes through the Applier.
func (d *DAG) applyAndCascade(ctx context.Context, ctxID core.ContextId, id core.DeltaId, delta *core.Delta, skipApplier bool) error {
	worklist := []core.DeltaId{}

	apply := func(applyID core.DeltaId, applyDelta *core.Delta, skip bool) error {
		if !skip {
			if err := d.applier(ctx, ctxID, applyDelta); err != nil {
				return err
			}
		}
		if err := d.persistApplied(ctx, ctxID, applyID, applyDelta); err != nil {
			return err
		}
		st := d.stateFor(ctxID)
		st.mu.Lock()
		for _, p := range applyDelta.Parents {
			delete(st.heads, p)
		}
		st.heads[applyID] = struct{}{}
		st.mu.Unlock()
		worklist = append(worklist, applyID)
		return nil
	}

	if err := apply(id, delta, skipApplier); err != nil {
		return err
	}

	for len(worklist) > 0 {
		done := worklist[0]
		worklist = worklist[1:]

		st := d.stateFor(ctxID)
		st.mu.Lock()
		waiters := st.waitingOn[done]
		delete(st.waitingOn, done)
		var readyIDs []core.DeltaId
		for waiterID := range waiters {
			pe, ok := st.pending[waiterID]
			if !ok {
				continue
			}
			delete(pe.remaining, done)
			if len(pe.remaining) == 0 {
				readyIDs = append(readyIDs, waiterID)
			}
		}
		sort.Slice(readyIDs, func(i, j int) bool {
			di, dj := st.pending[readyIDs[i]].delta, st.pending[readyIDs[j]].delta
			if c := di.HybridTimestamp.Compare(dj.HybridTimestamp); c != 0 {
				return c < 0
			}
			return readyIDs[i].Less(readyIDs[j])
		})
		ready := make([]*core.Delta, len(readyIDs))
		for i, rid := range readyIDs {
			ready[i] = st.pending[rid].delta
			delete(st.pending, rid)
		}
		st.mu.Unlock()

		for i, rid := range readyIDs {
			if err := apply(rid, ready[i], false); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DAG) persistApplied(ctx context.Context, ctxID core.ContextId, id core.DeltaId, delta *core.Delta) error {
	b, err := delta.Encode()
	if err != nil {
		return errors.Wrap("encoding applied delta "+id.String(), err)
	}
	if err := d.store.Put(ctx, datastore.DeltaKey(ctxID, id), b); err != nil {
		return errors.Wrap("persisting applied delta "+id.String(), err)
	}
	st := d.stateFor(ctxID)
	st.mu.Lock()
	seq := st.appliedSeq
	st.appliedSeq++
	st.mu.Unlock()
	if err := d.store.Put(ctx, datastore.AppliedLogKey(ctxID, seq), id.Bytes()); err != nil {
		return errors.Wrap("appending applied-delta log", err)
	}
	return nil
}

func mustBytes(delta *core.Delta) []byte {
	b, err := delta.CanonicalBytes()
	if err != nil {
		return nil
	}
	return b
}
