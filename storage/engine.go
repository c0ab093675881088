package storage

import (
	"context"
	"sort"

	"github.com/sourcenetwork/immutable"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/crdt"
	"github.com/meshdoc/core/datastore"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/events"
)

// Engine is the StorageEngine (spec.md §4.1): persists the entity tree,
// computes Merkle hashes incrementally, and executes CRDT-aware merges.
// One Engine instance is shared across every context's entities (the
// context id is threaded through every call), matching the Badger/
// go-datastore column-family-by-prefix layout in datastore.Keys rather
// than one Engine per context.
type Engine struct {
	store  datastore.Store
	cache  *entityCache
	sinks  *events.Sinks
}

// NewEngine constructs a StorageEngine over store. sinks may be nil, in
// which case fallback/verification events are computed but dropped
// rather than published (used by tests that don't care about
// observability).
func NewEngine(store datastore.Store, cacheSize int, sinks *events.Sinks) *Engine {
	return &Engine{store: store, cache: newEntityCache(cacheSize), sinks: sinks}
}

func (e *Engine) reportFallback(ctxID core.ContextId, fb crdt.FallbackEvent) {
	if e.sinks == nil {
		return
	}
	e.sinks.MergeFall.Publish(events.MergeFallback{
		ContextID: ctxID.String(),
		EntityID:  fb.EntityID.String(),
		Reason:    fb.Reason,
	})
}

func (e *Engine) reportVerificationFailed(ctxID core.ContextId, id, expected, computed string) {
	if e.sinks == nil {
		return
	}
	e.sinks.Verification.Publish(events.VerificationFailed{
		ContextID: ctxID.String(),
		ID:        id,
		Expected:  expected,
		Computed:  computed,
	})
}

// RootHash returns the context's current root_hash, or a zero hash if
// the context has no entities yet.
func (e *Engine) RootHash(ctx context.Context, ctxID core.ContextId) (core.Hash32, error) {
	raw, err := e.store.Get(ctx, datastore.MetaKey(ctxID, "root_hash"))
	if err != nil {
		if isNotFound(err) {
			return core.Hash32{}, nil
		}
		return core.Hash32{}, errors.Wrap("loading context root_hash", err)
	}
	var h core.Hash32
	copy(h[:], raw)
	return h, nil
}

// GetEntity returns the stored entity plus metadata, or errors.ErrNotFound.
func (e *Engine) GetEntity(ctx context.Context, ctxID core.ContextId, id core.EntityId) (*Entity, error) {
	if ent, ok := e.cache.get(id); ok {
		return ent, nil
	}
	raw, err := e.store.Get(ctx, datastore.EntityKey(ctxID, id))
	if err != nil {
		if isNotFound(err) {
			return nil, errors.ErrNotFound
		}
		return nil, errors.Wrap("loading entity "+id.String(), err)
	}
	var r record
	if err := core.CanonicalDecode(raw, &r); err != nil {
		return nil, errors.NewErrMalformedDelta("decoding stored entity " + id.String())
	}
	ent := fromRecord(r)
	e.cache.put(ent)
	return ent, nil
}

func (e *Engine) putEntity(ctx context.Context, ctxID core.ContextId, ent *Entity) error {
	b, err := core.CanonicalEncode(ent.toRecord())
	if err != nil {
		return errors.Wrap("encoding entity "+ent.ID.String(), err)
	}
	if err := e.store.Put(ctx, datastore.EntityKey(ctxID, ent.ID), b); err != nil {
		return errors.Wrap("storing entity "+ent.ID.String(), err)
	}
	e.cache.put(ent)
	return nil
}

// putEntityAndIndex writes the entity and registers it in its parent's
// children index (a no-op for the root, which has no parent).
func (e *Engine) putEntityAndIndex(ctx context.Context, ctxID core.ContextId, ent *Entity) error {
	if err := e.putEntity(ctx, ctxID, ent); err != nil {
		return err
	}
	if ent.ParentID.HasValue() {
		cs, err := loadChildren(ctx, e.store, ctxID, ent.ParentID.Value())
		if err != nil {
			return err
		}
		cs.add(ent.ID)
		if err := saveChildren(ctx, e.store, ctxID, ent.ParentID.Value(), cs); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAction implements apply_action: insert/update/delete an entity,
// recompute own_hash, then propagate full_hash up to the root (spec.md
// §4.1). ts is the owning delta's hybrid_timestamp.
func (e *Engine) ApplyAction(ctx context.Context, ctxID core.ContextId, action core.Action, ts core.HybridTimestamp) (core.Hash32, error) {
	switch action.Kind {
	case core.ActionAdd:
		if _, err := e.GetEntity(ctx, ctxID, action.EntityID); err == nil {
			return core.Hash32{}, errors.NewErrMalformedDelta("Add on already-existing entity " + action.EntityID.String())
		}
		ent := &Entity{
			ID:        action.EntityID,
			Value:     action.Value,
			CrdtType:  action.CrdtType,
			UpdatedAt: ts,
		}
		if !action.ParentID.IsZero() {
			ent.ParentID = immutable.Some(action.ParentID)
			if _, err := e.GetEntity(ctx, ctxID, action.ParentID); err != nil {
				return core.Hash32{}, errors.NewErrMissingParent(action.EntityID.String(), action.ParentID.String())
			}
		}
		ent.OwnHash = computeOwnHash(ent)
		if err := e.putEntityAndIndex(ctx, ctxID, ent); err != nil {
			return core.Hash32{}, err
		}
		return e.recomputeAncestors(ctx, ctxID, ent.ID)

	case core.ActionUpdate:
		ent, err := e.GetEntity(ctx, ctxID, action.EntityID)
		if err != nil {
			return core.Hash32{}, errors.NewErrMalformedDelta("Update on missing entity " + action.EntityID.String())
		}
		if ent.Tombstone.HasValue() {
			return core.Hash32{}, errors.NewErrMalformedDelta("Update on tombstoned entity " + action.EntityID.String())
		}
		merged, fallback, err := e.mergeLeafValue(ent.CrdtType, ent.Value, action.Value, ent.UpdatedAt, ts, ent.ID)
		if err != nil {
			return core.Hash32{}, err
		}
		if fallback != nil {
			e.reportFallback(ctxID, *fallback)
		}
		ent.Value = merged
		if ts.Compare(ent.UpdatedAt) > 0 {
			ent.UpdatedAt = ts
		}
		ent.OwnHash = computeOwnHash(ent)
		if err := e.putEntity(ctx, ctxID, ent); err != nil {
			return core.Hash32{}, err
		}
		return e.recomputeAncestors(ctx, ctxID, ent.ID)

	case core.ActionDelete:
		ent, err := e.GetEntity(ctx, ctxID, action.EntityID)
		if err != nil {
			return core.Hash32{}, errors.NewErrMalformedDelta("Delete on missing entity " + action.EntityID.String())
		}
		if !ent.Tombstone.HasValue() {
			ent.Tombstone = immutable.Some(ts)
			ent.OwnHash = computeOwnHash(ent)
			if err := e.putEntity(ctx, ctxID, ent); err != nil {
				return core.Hash32{}, err
			}
		}
		return e.recomputeAncestors(ctx, ctxID, ent.ID)
	}
	return core.Hash32{}, errors.NewErrMalformedDelta("unknown action kind")
}

// recomputeAncestors recomputes full_hash from changedID up to the root,
// amortized O(depth) since only the ancestor chain of a mutated entity is
// touched (spec.md §4.1 algorithmic specifics), and returns the new root
// hash.
func (e *Engine) recomputeAncestors(ctx context.Context, ctxID core.ContextId, changedID core.EntityId) (core.Hash32, error) {
	id := changedID
	var rootHash core.Hash32
	for {
		ent, err := e.GetEntity(ctx, ctxID, id)
		if err != nil {
			return core.Hash32{}, err
		}
		cs, err := loadChildren(ctx, e.store, ctxID, id)
		if err != nil {
			return core.Hash32{}, err
		}
		full, err := e.computeFullHash(ctx, ctxID, ent.OwnHash, cs.ascend())
		if err != nil {
			return core.Hash32{}, err
		}
		ent.FullHash = full
		if err := e.putEntity(ctx, ctxID, ent); err != nil {
			return core.Hash32{}, err
		}
		rootHash = full
		if !ent.ParentID.HasValue() {
			if err := e.store.Put(ctx, datastore.MetaKey(ctxID, "root_hash"), full.Bytes()); err != nil {
				return core.Hash32{}, errors.Wrap("storing context root_hash", err)
			}
			return rootHash, nil
		}
		id = ent.ParentID.Value()
	}
}

// computeFullHash implements I4: full_hash = H(own_hash || ordered
// children's full_hash), children ordered by EntityId bytes ascending.
func (e *Engine) computeFullHash(ctx context.Context, ctxID core.ContextId, ownHash core.Hash32, children []core.EntityId) (core.Hash32, error) {
	buf := append([]byte(nil), ownHash.Bytes()...)
	for _, childID := range children {
		child, err := e.GetEntity(ctx, ctxID, childID)
		if err != nil {
			return core.Hash32{}, err
		}
		buf = append(buf, child.FullHash.Bytes()...)
	}
	return core.HashBytes(buf), nil
}

// WalkSubtree performs the deterministic depth-first traversal spec.md
// §4.1 requires, visiting rootID then each child in sorted order,
// recursively. visitor returning false stops the whole walk.
func (e *Engine) WalkSubtree(ctx context.Context, ctxID core.ContextId, rootID core.EntityId, visitor func(*Entity) bool) error {
	ent, err := e.GetEntity(ctx, ctxID, rootID)
	if err != nil {
		return err
	}
	if !visitor(ent) {
		return nil
	}
	cs, err := loadChildren(ctx, e.store, ctxID, rootID)
	if err != nil {
		return err
	}
	for _, childID := range cs.ascend() {
		if err := e.WalkSubtree(ctx, ctxID, childID, visitor); err != nil {
			return err
		}
	}
	return nil
}

// recomputeFullHashesBottomUp recomputes full_hash for every entity in
// snap, processing deepest-first so a parent's children are already
// up-to-date when the parent is processed, then refreshes the stored
// context-wide root_hash via recomputeAncestors from the root (which at
// that point is a cheap single-path confirmation, not a second full
// recompute).
func (e *Engine) recomputeFullHashesBottomUp(ctx context.Context, ctxID core.ContextId, snap *Snapshot) error {
	ordered := append([]SnapshotEntity(nil), snap.Entities...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return depthOf(ordered[i], snap.Entities) > depthOf(ordered[j], snap.Entities)
	})
	for _, se := range ordered {
		ent, err := e.GetEntity(ctx, ctxID, se.ID)
		if err != nil {
			return err
		}
		cs, err := loadChildren(ctx, e.store, ctxID, se.ID)
		if err != nil {
			return err
		}
		full, err := e.computeFullHash(ctx, ctxID, ent.OwnHash, cs.ascend())
		if err != nil {
			return err
		}
		ent.FullHash = full
		if err := e.putEntity(ctx, ctxID, ent); err != nil {
			return err
		}
	}
	_, err := e.recomputeAncestors(ctx, ctxID, snap.RootID)
	return err
}
