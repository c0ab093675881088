package core

import (
	"sort"

	"github.com/meshdoc/core/errors"
)

// Delta represents one atomic, causally-ordered state mutation (spec.md
// §3). Its content hash is its DeltaId (I3): two deltas with identical
// field sets MUST produce identical DeltaIds, so every field that
// participates in identity is canonically encoded, in a fixed field
// order, and Parents is always sorted before hashing/encoding so the
// constructing order of the parent set doesn't affect the hash.
type Delta struct {
	Parents         []DeltaId       `cbor:"1,keyasint"`
	Author          []byte          `cbor:"2,keyasint"` // MemberKey public half
	HybridTimestamp HybridTimestamp `cbor:"3,keyasint"`
	Payload         []Action        `cbor:"4,keyasint"`
	Artifact        EncryptedArtifact `cbor:"5,keyasint"`
	ExpectedRoot    Hash32          `cbor:"6,keyasint"`
	Signature       []byte          `cbor:"7,keyasint"`
}

// EncryptedArtifact is the encrypted envelope of a delta's payload under
// the context-shared key (spec.md §3), carried alongside the plaintext
// Payload so a node that already has the shared key doesn't need it, but
// a node relaying the delta without decrypting can still forward the
// artifact.
type EncryptedArtifact struct {
	Ciphertext []byte `cbor:"1,keyasint"`
	Nonce      []byte `cbor:"2,keyasint"`
}

// signingView is the subset of Delta fields covered by Author's
// signature and by DeltaId: everything except Signature itself (a
// signature cannot cover its own bytes).
type signingView struct {
	Parents         []DeltaId         `cbor:"1,keyasint"`
	Author          []byte            `cbor:"2,keyasint"`
	HybridTimestamp HybridTimestamp   `cbor:"3,keyasint"`
	Payload         []Action          `cbor:"4,keyasint"`
	Artifact        EncryptedArtifact `cbor:"5,keyasint"`
	ExpectedRoot    Hash32            `cbor:"6,keyasint"`
}

// SortParents canonicalizes the parent set's order in place.
func (d *Delta) SortParents() {
	sort.Slice(d.Parents, func(i, j int) bool { return d.Parents[i].Less(d.Parents[j]) })
}

func (d *Delta) signingViewCopy() signingView {
	d.SortParents()
	return signingView{
		Parents:         d.Parents,
		Author:          d.Author,
		HybridTimestamp: d.HybridTimestamp,
		Payload:         d.Payload,
		Artifact:        d.Artifact,
		ExpectedRoot:    d.ExpectedRoot,
	}
}

// CanonicalBytes returns the canonical encoding used both to compute
// DeltaId (I3) and to compute/verify Author's signature.
func (d *Delta) CanonicalBytes() ([]byte, error) {
	return CanonicalEncode(d.signingViewCopy())
}

// ID computes this delta's content-addressed DeltaId.
func (d *Delta) ID() (DeltaId, error) {
	b, err := d.CanonicalBytes()
	if err != nil {
		return DeltaId{}, errors.Wrap("encoding delta for id", err)
	}
	return HashBytes(b), nil
}

// IsGenesis reports whether this delta has no parents, the only case in
// which an empty parent set is valid (spec.md §3).
func (d *Delta) IsGenesis() bool {
	return len(d.Parents) == 0
}

// Encode produces the full wire encoding of the delta, including its
// signature, for transport over WireProtocols.
func (d *Delta) Encode() ([]byte, error) {
	return CanonicalEncode(d)
}

func DecodeDelta(data []byte) (*Delta, error) {
	var d Delta
	if err := CanonicalDecode(data, &d); err != nil {
		return nil, errors.Wrap("decoding delta", err)
	}
	return &d, nil
}
