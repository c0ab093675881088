// Package core defines the engine's data model (spec.md §3): content
// addressed identifiers, the hybrid logical clock, and the Delta type
// that the DeltaDAG, StorageEngine, WireProtocols, and SyncScheduler all
// share. No teacher file exposes this layer directly (DefraDB's
// equivalent core/ package, aside from core/crdt, wasn't in the
// retrieval pack) so it is built straight from spec.md §3, using the
// teacher's content-addressing dependencies (ipfs/go-cid,
// multiformats/go-multihash, multiformats/go-multibase).
package core

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"

	"github.com/meshdoc/core/errors"
)

// idLen is the fixed byte length of every content-addressed identifier
// in this module (ContextId, DeltaId, EntityId): a 32-byte hash, per
// spec.md §3.
const idLen = 32

// Hash32 is a 32-byte content hash shared by ContextId, DeltaId, and
// EntityId. It is backed by a multihash-wrapped sha2-256 digest so it
// can be round-tripped through a CID for debugging/printing while the
// wire/storage layers deal in the raw 32 bytes.
type Hash32 [idLen]byte

func (h Hash32) Bytes() []byte { return h[:] }

func (h Hash32) IsZero() bool { return h == Hash32{} }

// String renders the hash as a CIDv1 string (raw codec) for logs and
// debugging, matching the teacher's habit of using go-cid/multibase for
// human-readable identifiers.
func (h Hash32) String() string {
	mhash, err := mh.Encode(h[:], mh.SHA2_256)
	if err != nil {
		return fmt.Sprintf("%x", h[:])
	}
	c := cid.NewCidV1(cid.Raw, mhash)
	return c.String()
}

// Less gives Hash32 (and therefore ContextId/DeltaId/EntityId) a total
// byte-ascending order, used for child ordering (spec.md §4.1) and as a
// DeltaId tiebreaker (spec.md §4.2/§5).
func (h Hash32) Less(other Hash32) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

func HashBytes(data []byte) Hash32 {
	return Hash32(sha256.Sum256(data))
}

// ParseHash32FromBytes wraps a raw 32-byte slice as a Hash32, used when
// decoding one off the wire (e.g. a CLI invitation string) rather than
// from its printable CID form.
func ParseHash32FromBytes(b []byte) (Hash32, error) {
	if len(b) != idLen {
		return Hash32{}, errors.Newf("hash has unexpected length %d, want %d", len(b), idLen)
	}
	var h Hash32
	copy(h[:], b)
	return h, nil
}

// ParseHash32 recovers a Hash32 from the CIDv1 string produced by
// Hash32.String, used by the CLI to accept a context/delta/entity id on
// the command line in the same form the engine prints it in logs.
func ParseHash32(s string) (Hash32, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return Hash32{}, errors.Wrap("parsing content id", err)
	}
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return Hash32{}, errors.Wrap("decoding multihash", err)
	}
	if len(decoded.Digest) != idLen {
		return Hash32{}, errors.Newf("hash has unexpected length %d, want %d", len(decoded.Digest), idLen)
	}
	var h Hash32
	copy(h[:], decoded.Digest)
	return h, nil
}

// ContextId identifies a replicated document (spec.md §3).
type ContextId = Hash32

// DeltaId is the content hash of a delta's canonical encoding (spec.md §3 I3).
type DeltaId = Hash32

// PeerId is an opaque network identity string (libp2p peer.ID's text
// encoding); kept as a string rather than a fixed-size hash because
// transport-layer identities aren't content-addressed.
type PeerId string

// EntityId is deterministically derived from parent-id + field-name hash
// (spec.md I9): no randomness is used for persistent entities.
type EntityId = Hash32

// DeriveEntityID computes the deterministic EntityId for a child entity
// given its parent and field name, satisfying I2 (same code + same field
// name yields the same id on every node) and I9 (no randomness).
func DeriveEntityID(parent EntityId, fieldName string) EntityId {
	buf := make([]byte, 0, idLen+len(fieldName))
	buf = append(buf, parent[:]...)
	buf = append(buf, []byte(fieldName)...)
	return HashBytes(buf)
}

// RootEntityID derives the well-known root entity id for a context: it
// has no parent, so it is derived from the context id alone.
func RootEntityID(ctxID ContextId) EntityId {
	return HashBytes(append([]byte("root:"), ctxID[:]...))
}

// DeriveContextID computes a ContextId from the founding member's public
// key and a creation nonce chosen by that member (still deterministic
// given those inputs, not re-derived from randomness at use time).
func DeriveContextID(founderPubKey []byte, creationNonce []byte) ContextId {
	buf := make([]byte, 0, len(founderPubKey)+len(creationNonce))
	buf = append(buf, founderPubKey...)
	buf = append(buf, creationNonce...)
	return HashBytes(buf)
}
