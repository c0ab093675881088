package wire

import (
	"github.com/meshdoc/core"
	"github.com/meshdoc/core/storage"
)

// DeltaRequest/DeltaResponse fetch known-missing deltas (spec.md §4.4).
type DeltaRequest struct {
	ContextID core.ContextId `cbor:"1,keyasint"`
	IDs       []core.DeltaId `cbor:"2,keyasint"`
}

type DeltaResponse struct {
	Deltas []*core.Delta `cbor:"1,keyasint"`
}

// HeadRequest/HeadResponse discover a peer's frontier.
type HeadRequest struct {
	ContextID core.ContextId `cbor:"1,keyasint"`
}

type HeadResponse struct {
	Heads    []core.DeltaId `cbor:"1,keyasint"`
	RootHash core.Hash32    `cbor:"2,keyasint"`
}

// StateSnapshotRequest/Response transfer full state for a subtree.
type StateSnapshotRequest struct {
	ContextID   core.ContextId `cbor:"1,keyasint"`
	SubtreeRoot core.EntityId  `cbor:"2,keyasint"`
}

type StateSnapshotResponse struct {
	Snapshot *storage.Snapshot `cbor:"1,keyasint"`
	RootHash core.Hash32       `cbor:"2,keyasint"`
}

// EntityDiffRequest/Response implement Merkle-pruned reconciliation: the
// requester sends its own own_hash per id under a subtree, the responder
// returns only the entities whose own_hash differs.
type EntityDiffRequest struct {
	ContextID      core.ContextId           `cbor:"1,keyasint"`
	SubtreeRoot    core.EntityId            `cbor:"2,keyasint"`
	LocalOwnHashes map[core.EntityId]core.Hash32 `cbor:"3,keyasint"`
}

type DifferingEntity struct {
	ID        core.EntityId `cbor:"1,keyasint"`
	Value     []byte        `cbor:"2,keyasint"`
	OwnHash   core.Hash32   `cbor:"3,keyasint"`
	CrdtType  core.CrdtType `cbor:"4,keyasint"`
	HasParent bool          `cbor:"5,keyasint"`
	ParentID  core.EntityId `cbor:"6,keyasint"` // valid only if HasParent
}

type EntityDiffResponse struct {
	DifferingEntities []DifferingEntity `cbor:"1,keyasint"`
}

// KeyExchange carries an authenticated member_key + shared_key payload
// on join or rekey.
type KeyExchange struct {
	ContextID core.ContextId `cbor:"1,keyasint"`
	MemberKey []byte         `cbor:"2,keyasint"`
	SharedKey []byte         `cbor:"3,keyasint"`
	Epoch     uint64         `cbor:"4,keyasint"` // incremented on every rekey
}

// BlobRequest/Response transfer application binary data out of band from
// the CRDT-managed entity tree.
type BlobRequest struct {
	BlobID     string `cbor:"1,keyasint"`
	ChunkStart uint64 `cbor:"2,keyasint"`
	ChunkEnd   uint64 `cbor:"3,keyasint"`
}

type BlobResponse struct {
	ChunkBytes []byte `cbor:"1,keyasint"`
}

// SyncHintVerbosity selects how much context a DeltaBroadcast attaches
// (spec.md §4.4): lightweight (~40 bytes) or full (~200 bytes).
type SyncHintVerbosity uint8

const (
	HintLightweight SyncHintVerbosity = iota
	HintFull
)

// SyncHint is attached to a DeltaBroadcast so the receiver can decide
// how to react without first fetching the delta's ancestry.
type SyncHint struct {
	Verbosity         SyncHintVerbosity `cbor:"1,keyasint"`
	RootHash          core.Hash32       `cbor:"2,keyasint"`
	DeltaHeight       uint64            `cbor:"3,keyasint"`
	EntityCount       uint64            `cbor:"4,keyasint"` // full only
	KnownDeltaBloom   []byte            `cbor:"5,keyasint"` // full only
	OldestPendingParent core.DeltaId    `cbor:"6,keyasint"` // full only
}

// DeltaBroadcast publishes a new delta to the context's gossip topic.
type DeltaBroadcast struct {
	ContextID core.ContextId `cbor:"1,keyasint"`
	Delta     *core.Delta    `cbor:"2,keyasint"`
	Hints     SyncHint       `cbor:"3,keyasint"`
}

// HashHeartbeat is a periodic divergence probe (spec.md §4.4).
type HashHeartbeat struct {
	ContextID core.ContextId `cbor:"1,keyasint"`
	Heads     []core.DeltaId `cbor:"2,keyasint"`
	RootHash  core.Hash32    `cbor:"3,keyasint"`
}
