package core

import (
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// canonEncMode is the single canonical CBOR encoding mode used
// everywhere a reproducible hash must be computed across nodes (I3, I4):
// deterministic map-key/field ordering and smallest-form integers, so
// two nodes running different Go/cbor versions still produce byte-
// identical encodings for identical values. fxamacker/cbor's "core
// deterministic encoding" profile is used rather than ugorji/go/codec
// (which the teacher uses one layer down, for per-CRDT delta payload
// bodies) because it exposes this canonical mode directly.
var canonEncMode cbor.EncMode

var canonOnce sync.Once

func canon() cbor.EncMode {
	canonOnce.Do(func() {
		opts := cbor.CanonicalEncOptions()
		mode, err := opts.EncMode()
		if err != nil {
			panic("core: building canonical cbor encode mode: " + err.Error())
		}
		canonEncMode = mode
	})
	return canonEncMode
}

// CanonicalEncode produces the deterministic byte encoding of v used for
// content-addressing (DeltaId, own_hash).
func CanonicalEncode(v any) ([]byte, error) {
	return canon().Marshal(v)
}

// CanonicalDecode decodes bytes produced by CanonicalEncode. Decoding
// does not need to be canonical, just compatible.
func CanonicalDecode(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}
