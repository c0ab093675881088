package storage

import (
	"context"
	"sort"

	"github.com/sourcenetwork/immutable"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/errors"
)

// SnapshotEntity is one entity's wire representation within a Snapshot,
// matching spec.md §6's "for-each-entity: id, parent_id, crdt_type_tag,
// updated_at, value_len, value" layout (length-prefixing is implicit in
// the canonical CBOR encoding rather than an explicit value_len field).
type SnapshotEntity struct {
	ID          core.EntityId        `cbor:"1,keyasint"`
	HasParent   bool                 `cbor:"2,keyasint"`
	ParentID    core.EntityId        `cbor:"3,keyasint"`
	Value       []byte               `cbor:"4,keyasint"`
	CrdtType    core.CrdtType        `cbor:"5,keyasint"`
	UpdatedAt   core.HybridTimestamp `cbor:"6,keyasint"`
	Tombstoned  bool                 `cbor:"7,keyasint"`
	TombstoneAt core.HybridTimestamp `cbor:"8,keyasint"`
	OwnHash     core.Hash32          `cbor:"9,keyasint"`
}

// Snapshot is a verifiable dump of a subtree plus its id -> own_hash
// index (spec.md §4.1 generate_snapshot).
type Snapshot struct {
	RootID   core.EntityId    `cbor:"1,keyasint"`
	Entities []SnapshotEntity `cbor:"2,keyasint"`
}

func entityToSnapshot(e *Entity) SnapshotEntity {
	se := SnapshotEntity{
		ID:        e.ID,
		Value:     e.Value,
		CrdtType:  e.CrdtType,
		UpdatedAt: e.UpdatedAt,
		OwnHash:   e.OwnHash,
	}
	if e.ParentID.HasValue() {
		se.HasParent = true
		se.ParentID = e.ParentID.Value()
	}
	if e.Tombstone.HasValue() {
		se.Tombstoned = true
		se.TombstoneAt = e.Tombstone.Value()
	}
	return se
}

// GenerateSnapshot produces a verifiable dump of every entity in the
// subtree rooted at subtreeRoot, in deterministic depth-first order.
func (e *Engine) GenerateSnapshot(ctx context.Context, ctxID core.ContextId, subtreeRoot core.EntityId) (*Snapshot, error) {
	snap := &Snapshot{RootID: subtreeRoot}
	err := e.WalkSubtree(ctx, ctxID, subtreeRoot, func(ent *Entity) bool {
		snap.Entities = append(snap.Entities, entityToSnapshot(ent))
		return true
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// VerifySnapshot recomputes each entity's own_hash, then the full_hash
// tree bottom-up purely from the snapshot's own contents (no datastore
// access), and rejects if any own_hash mismatches or the recomputed root
// full_hash differs from claimedRoot. This MUST run, and succeed, before
// any state modification (spec.md §4.1: "verification-before-apply").
func VerifySnapshot(snap *Snapshot, claimedRoot core.Hash32) error {
	byID := make(map[core.EntityId]SnapshotEntity, len(snap.Entities))
	children := make(map[core.EntityId][]core.EntityId)
	for _, se := range snap.Entities {
		view := ownHashView{ID: se.ID, Value: se.Value, CrdtType: se.CrdtType, Tombstoned: se.Tombstoned}
		b, err := core.CanonicalEncode(view)
		if err != nil {
			return errors.Wrap("re-encoding snapshot entity "+se.ID.String(), err)
		}
		computed := core.HashBytes(b)
		if computed != se.OwnHash {
			return errors.NewErrVerificationFailed(se.ID.String(), se.OwnHash.String(), computed.String())
		}
		byID[se.ID] = se
		if se.HasParent {
			children[se.ParentID] = append(children[se.ParentID], se.ID)
		}
	}

	fullHashes := make(map[core.EntityId]core.Hash32, len(byID))
	var computeFull func(id core.EntityId) core.Hash32
	computeFull = func(id core.EntityId) core.Hash32 {
		if h, ok := fullHashes[id]; ok {
			return h
		}
		se := byID[id]
		kids := append([]core.EntityId(nil), children[id]...)
		sort.Slice(kids, func(i, j int) bool { return kids[i].Less(kids[j]) })
		buf := append([]byte(nil), se.OwnHash.Bytes()...)
		for _, c := range kids {
			buf = append(buf, computeFull(c).Bytes()...)
		}
		h := core.HashBytes(buf)
		fullHashes[id] = h
		return h
	}

	root, ok := byID[snap.RootID]
	if !ok {
		return errors.NewErrMalformedDelta("snapshot root id not present among its own entities")
	}
	computedRoot := computeFull(root.ID)
	if computedRoot != claimedRoot {
		return errors.NewErrVerificationFailed(snap.RootID.String(), claimedRoot.String(), computedRoot.String())
	}
	return nil
}

// SnapshotMode selects apply_snapshot's overwrite-vs-merge behavior
// (spec.md §4.1).
type SnapshotMode int

const (
	// FreshBootstrap direct-overwrites; the caller must ensure local
	// state is empty first (no existing entity at snap.RootID).
	FreshBootstrap SnapshotMode = iota
	// MergeWith merges each remote entity with any local counterpart
	// per its crdt_type, per I6 (no silent overwrite).
	MergeWith
)

// ApplySnapshot installs snap into ctxID's entity tree under mode.
// Callers MUST have already called VerifySnapshot successfully.
func (e *Engine) ApplySnapshot(ctx context.Context, ctxID core.ContextId, snap *Snapshot, mode SnapshotMode) error {
	if mode == FreshBootstrap {
		if _, err := e.GetEntity(ctx, ctxID, snap.RootID); err == nil {
			return errors.Newf("apply_snapshot FreshBootstrap requires empty local state, but %s already exists", snap.RootID)
		}
	}

	// Entities must be written parent-before-child so ancestor full_hash
	// recomputation always finds an already-persisted parent chain.
	ordered := append([]SnapshotEntity(nil), snap.Entities...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return depthOf(ordered[i], snap.Entities) < depthOf(ordered[j], snap.Entities)
	})

	for _, se := range ordered {
		incoming := snapshotToEntity(se)
		if mode == FreshBootstrap {
			if err := e.putEntityAndIndex(ctx, ctxID, incoming); err != nil {
				return err
			}
			continue
		}
		local, err := e.GetEntity(ctx, ctxID, incoming.ID)
		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return err
		}
		if local == nil {
			if err := e.putEntityAndIndex(ctx, ctxID, incoming); err != nil {
				return err
			}
			continue
		}
		merged, fallback, err := e.mergeValues(local, incoming)
		if err != nil {
			return err
		}
		if fallback != nil {
			e.reportFallback(ctxID, *fallback)
		}
		local.Value = merged
		if incoming.UpdatedAt.Compare(local.UpdatedAt) > 0 {
			local.UpdatedAt = incoming.UpdatedAt
		}
		if incoming.Tombstone.HasValue() && !local.Tombstone.HasValue() {
			local.Tombstone = incoming.Tombstone
		}
		local.OwnHash = computeOwnHash(local)
		if err := e.putEntityAndIndex(ctx, ctxID, local); err != nil {
			return err
		}
	}

	return e.recomputeFullHashesBottomUp(ctx, ctxID, snap)
}

func snapshotToEntity(se SnapshotEntity) *Entity {
	e := &Entity{
		ID:        se.ID,
		Value:     se.Value,
		CrdtType:  se.CrdtType,
		UpdatedAt: se.UpdatedAt,
	}
	if se.HasParent {
		e.ParentID = immutable.Some(se.ParentID)
	}
	if se.Tombstoned {
		e.Tombstone = immutable.Some(se.TombstoneAt)
	}
	e.OwnHash = computeOwnHash(e)
	return e
}

func depthOf(se SnapshotEntity, all []SnapshotEntity) int {
	byID := make(map[core.EntityId]SnapshotEntity, len(all))
	for _, s := range all {
		byID[s.ID] = s
	}
	depth := 0
	cur := se
	for cur.HasParent {
		depth++
		parent, ok := byID[cur.ParentID]
		if !ok {
			break
		}
		cur = parent
	}
	return depth
}
