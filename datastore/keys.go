// Package datastore wraps github.com/ipfs/go-datastore with the
// key-prefix layout spec.md §6 specifies for a context's persisted
// state, and a badger/v3-backed implementation of that interface
// (grounded on the teacher's net/peer.go and core/crdt/lwwreg.go, both
// of which thread a datastore.DSReaderWriter / ds.Datastore through
// their storage calls rather than touching badger directly).
package datastore

import (
	"fmt"

	ds "github.com/ipfs/go-datastore"

	"github.com/meshdoc/core"
)

// Namespace prefixes from spec.md §6: deltas by id, the applied-delta
// log, entities by id, secondary indexes, per-context metadata, and
// per-context member keys.
const (
	nsDelta      = "D"
	nsAppliedLog = "A"
	nsEntity     = "E"
	nsIndex      = "I"
	nsMeta       = "M"
	nsKeys       = "K"
	nsReplicator = "R"
)

func ctxRoot(ctxID core.ContextId) ds.Key {
	return ds.NewKey(ctxID.String())
}

// DeltaKey addresses a Delta by its content-addressed id.
func DeltaKey(ctxID core.ContextId, deltaID core.DeltaId) ds.Key {
	return ctxRoot(ctxID).ChildString(nsDelta).ChildString(deltaID.String())
}

// AppliedLogKey addresses one entry in the monotonic applied-delta log,
// used to replay application order without re-deriving it from the DAG.
func AppliedLogKey(ctxID core.ContextId, seq uint64) ds.Key {
	return ctxRoot(ctxID).ChildString(nsAppliedLog).ChildString(fmt.Sprintf("%020d", seq))
}

// EntityKey addresses a stored Entity by its id.
func EntityKey(ctxID core.ContextId, entityID core.EntityId) ds.Key {
	return ctxRoot(ctxID).ChildString(nsEntity).ChildString(entityID.String())
}

// IndexKey addresses a secondary index entry, e.g. "children" or
// "by-field" indexes over an entity's id.
func IndexKey(ctxID core.ContextId, indexName, suffix string) ds.Key {
	return ctxRoot(ctxID).ChildString(nsIndex).ChildString(indexName).ChildString(suffix)
}

// MetaKey addresses a single named piece of context metadata (root hash,
// schema version, membership epoch, etc).
func MetaKey(ctxID core.ContextId, name string) ds.Key {
	return ctxRoot(ctxID).ChildString(nsMeta).ChildString(name)
}

// MemberKeyEntry addresses a known member's public key within a context.
func MemberKeyEntry(ctxID core.ContextId, memberID string) ds.Key {
	return ctxRoot(ctxID).ChildString(nsKeys).ChildString(memberID)
}

// ReplicatorKey addresses one (context, peer) replication relationship.
func ReplicatorKey(ctxID core.ContextId, peerID string) ds.Key {
	return ctxRoot(ctxID).ChildString(nsReplicator).ChildString(peerID)
}

// ReplicatorPrefix returns the key prefix under which every replicator
// of a context is stored.
func ReplicatorPrefix(ctxID core.ContextId) ds.Key {
	return ctxRoot(ctxID).ChildString(nsReplicator)
}

// EntityPrefix returns the key prefix under which every Entity of a
// context is stored, for prefix-scanned Query calls (e.g. full-context
// snapshot generation).
func EntityPrefix(ctxID core.ContextId) ds.Key {
	return ctxRoot(ctxID).ChildString(nsEntity)
}

// AppliedLogPrefix returns the key prefix for a context's applied log.
func AppliedLogPrefix(ctxID core.ContextId) ds.Key {
	return ctxRoot(ctxID).ChildString(nsAppliedLog)
}
