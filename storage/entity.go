// Package storage implements the StorageEngine component (spec.md §4.1):
// the entity tree, incremental Merkle hashing, CRDT-aware merge
// dispatch, and snapshot transfer. No teacher file owns this
// responsibility directly (DefraDB's merge logic lives inside
// core/crdt/*.go keyed by a flat datastore, with no explicit tree/Merkle
// layer), so the tree-walking and hashing code here is new, grounded on
// spec.md §3/§4.1 and the teacher's habit of threading a
// datastore.DSReaderWriter through storage calls (core/crdt/lwwreg.go);
// the datastore plumbing itself is package datastore.
package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sourcenetwork/immutable"

	"github.com/meshdoc/core"
)

// Entity is the in-memory representation of one node in a context's
// entity tree (spec.md §3).
type Entity struct {
	ID        core.EntityId
	ParentID  immutable.Option[core.EntityId]
	Value     []byte
	CrdtType  core.CrdtType
	OwnHash   core.Hash32
	FullHash  core.Hash32
	UpdatedAt core.HybridTimestamp
	Tombstone immutable.Option[core.HybridTimestamp]
}

// record is the canonically-encoded, persisted form of an Entity: a
// plain struct with no Option wrapper, since fxamacker/cbor has no
// knowledge of immutable.Option's private fields. HasParent records
// whether ParentID is set (only the context root lacks a parent).
type record struct {
	ID          core.EntityId    `cbor:"1,keyasint"`
	HasParent   bool             `cbor:"2,keyasint"`
	ParentID    core.EntityId    `cbor:"3,keyasint"`
	Value       []byte           `cbor:"4,keyasint"`
	CrdtType    core.CrdtType    `cbor:"5,keyasint"`
	UpdatedAt   core.HybridTimestamp `cbor:"6,keyasint"`
	Tombstoned  bool             `cbor:"7,keyasint"`
	TombstoneAt core.HybridTimestamp `cbor:"8,keyasint"`
	FullHash    core.Hash32      `cbor:"9,keyasint"`
}

func (e *Entity) toRecord() record {
	r := record{
		ID:        e.ID,
		Value:     e.Value,
		CrdtType:  e.CrdtType,
		UpdatedAt: e.UpdatedAt,
		FullHash:  e.FullHash,
	}
	if e.ParentID.HasValue() {
		r.HasParent = true
		r.ParentID = e.ParentID.Value()
	}
	if e.Tombstone.HasValue() {
		r.Tombstoned = true
		r.TombstoneAt = e.Tombstone.Value()
	}
	return r
}

func fromRecord(r record) *Entity {
	e := &Entity{
		ID:        r.ID,
		Value:     r.Value,
		CrdtType:  r.CrdtType,
		UpdatedAt: r.UpdatedAt,
		FullHash:  r.FullHash,
	}
	if r.HasParent {
		e.ParentID = immutable.Some(r.ParentID)
	}
	if r.Tombstoned {
		e.Tombstone = immutable.Some(r.TombstoneAt)
	}
	e.OwnHash = computeOwnHash(e)
	return e
}

// ownHashView is the subset of entity state own_hash covers (spec.md
// §3: "hash of canonical serialization of (id, value, crdt_type,
// tombstone)"), deliberately excluding full_hash/updated_at so own_hash
// only changes when the entity's own observable state changes.
type ownHashView struct {
	ID         core.EntityId `cbor:"1,keyasint"`
	Value      []byte        `cbor:"2,keyasint"`
	CrdtType   core.CrdtType `cbor:"3,keyasint"`
	Tombstoned bool          `cbor:"4,keyasint"`
}

func computeOwnHash(e *Entity) core.Hash32 {
	view := ownHashView{ID: e.ID, Value: e.Value, CrdtType: e.CrdtType, Tombstoned: e.Tombstone.HasValue()}
	b, err := core.CanonicalEncode(view)
	if err != nil {
		// CanonicalEncode only fails on cyclic or unsupported types; an
		// Entity's fields are all plain data, so this is unreachable in
		// practice and indicates a programming error if it ever fires.
		panic("storage: encoding entity for own_hash: " + err.Error())
	}
	return core.HashBytes(b)
}

// entityCache is an I7-bounded LRU of recently touched entities, one per
// Engine and shared by every context that Engine serves, to avoid a
// datastore round trip on every ancestor walk during full_hash
// recomputation.
type entityCache struct {
	cache *lru.Cache[core.EntityId, *Entity]
}

func newEntityCache(size int) *entityCache {
	c, err := lru.New[core.EntityId, *Entity](size)
	if err != nil {
		// Only returns an error for a non-positive size, which is a
		// config bug the caller should have caught at startup.
		panic("storage: constructing entity cache: " + err.Error())
	}
	return &entityCache{cache: c}
}

func (c *entityCache) get(id core.EntityId) (*Entity, bool) {
	return c.cache.Get(id)
}

func (c *entityCache) put(e *Entity) {
	c.cache.Add(e.ID, e)
}

func (c *entityCache) remove(id core.EntityId) {
	c.cache.Remove(id)
}
