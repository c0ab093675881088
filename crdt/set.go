package crdt

import "github.com/meshdoc/core"

// SetEntry is one member of an UnorderedSet: an opaque byte value plus
// the timestamp of its most recent add or remove and a tombstone flag.
type SetEntry struct {
	Value     []byte              `cbor:"1,keyasint"`
	Timestamp core.HybridTimestamp `cbor:"2,keyasint"`
	Removed   bool                `cbor:"3,keyasint"`
}

// SetValue is keyed by a caller-supplied member key (typically
// hash(Value) or an explicit element id) so entries can be looked up and
// merged without an O(n) scan.
type SetValue map[string]SetEntry

func (s SetValue) Clone() SetValue {
	out := make(SetValue, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// MergeSet implements spec.md §4.1's UnorderedSet rule: add-wins union,
// tombstoned members preserved by timestamp. A member present on only
// one side is kept as-is; a member present on both sides keeps whichever
// has the later timestamp, with add-wins on an exact timestamp tie
// (mirrors LWW's lexicographic tiebreak, but biased toward "not removed"
// since add-wins is the set's defining property).
func MergeSet(local, remote SetValue) SetValue {
	out := local.Clone()
	for key, r := range remote {
		l, ok := out[key]
		if !ok {
			out[key] = r
			continue
		}
		switch l.Timestamp.Compare(r.Timestamp) {
		case -1:
			out[key] = r
		case 1:
			// keep l
		default:
			if l.Removed != r.Removed {
				merged := l
				merged.Removed = false // add-wins tiebreak
				out[key] = merged
			}
		}
	}
	return out
}

// Members returns the currently-visible (non-removed) member values.
func (s SetValue) Members() [][]byte {
	out := make([][]byte, 0, len(s))
	for _, e := range s {
		if !e.Removed {
			out = append(out, e.Value)
		}
	}
	return out
}
