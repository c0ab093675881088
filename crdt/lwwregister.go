package crdt

import (
	"bytes"

	"github.com/meshdoc/core"
)

// LwwValue is the value + metadata an LwwRegister-tagged Entity stores.
type LwwValue struct {
	Data      []byte              `cbor:"1,keyasint"`
	Timestamp core.HybridTimestamp `cbor:"2,keyasint"`
}

// MergeLWW implements spec.md §4.1's LwwRegister rule: compare hybrid
// timestamps, higher wins; on an exact tie, compare value bytes
// lexicographically (adapted from the teacher's LWWRegister.setValue,
// which compares a stored "priority" then falls back to
// bytes.Compare(curValue, val) >= 0 to decide whether to keep the
// current value).
func MergeLWW(local, remote LwwValue) LwwValue {
	switch local.Timestamp.Compare(remote.Timestamp) {
	case -1:
		return remote
	case 1:
		return local
	default:
		if bytes.Compare(remote.Data, local.Data) > 0 {
			return remote
		}
		return local
	}
}

// SetLWW constructs the delta value a local Set() operation produces
// (mirroring the teacher's LWWRegister.Set returning an LWWRegDelta).
func SetLWW(value []byte, ts core.HybridTimestamp) LwwValue {
	return LwwValue{Data: value, Timestamp: ts}
}
