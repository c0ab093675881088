package storage

import (
	"github.com/meshdoc/core"
	"github.com/meshdoc/core/crdt"
	"github.com/meshdoc/core/errors"
)

// mergeLeafValue dispatches on crdtType (spec.md §4.1 merge): the sole
// merge entry point for both a local apply_action Update (merging the
// stored value with an incoming action's value) and an apply_snapshot
// MergeWith pass (merging the stored value with a remote entity's
// value). UnorderedMap and Vector are tree-structured in general, but
// their own stored value blob is just the ordered index of child keys;
// each child entity merges independently through its own EntityId, so
// at this layer the index blob merges the same way UnorderedSet does:
// add-wins union of keys, which satisfies "every key present on either
// side is retained" (spec.md §8).
func (e *Engine) mergeLeafValue(crdtType core.CrdtType, localVal, remoteVal []byte, localTS, remoteTS core.HybridTimestamp, entityID core.EntityId) ([]byte, *crdt.FallbackEvent, error) {
	switch crdtType.Tag {
	case core.CrdtCounter:
		var l, r crdt.CounterValue
		if err := decodeOrEmptyCounter(localVal, &l); err != nil {
			return nil, nil, err
		}
		if err := decodeOrEmptyCounter(remoteVal, &r); err != nil {
			return nil, nil, err
		}
		merged := crdt.MergeCounter(l, r)
		return encodeOrFail(merged)

	case core.CrdtLwwRegister:
		winner := crdt.MergeLWW(
			crdt.LwwValue{Data: localVal, Timestamp: localTS},
			crdt.LwwValue{Data: remoteVal, Timestamp: remoteTS},
		)
		return winner.Data, nil, nil

	case core.CrdtUnorderedSet, core.CrdtUnorderedMap, core.CrdtVector:
		var l, r crdt.SetValue
		if err := decodeOrEmptySet(localVal, &l); err != nil {
			return nil, nil, err
		}
		if err := decodeOrEmptySet(remoteVal, &r); err != nil {
			return nil, nil, err
		}
		merged := crdt.MergeSet(l, r)
		return encodeOrFail(merged)

	case core.CrdtRGA:
		l, err := decodeRga(localVal)
		if err != nil {
			return nil, nil, err
		}
		r, err := decodeRga(remoteVal)
		if err != nil {
			return nil, nil, err
		}
		merged := crdt.MergeRGA(l, r)
		return encodeOrFail(merged.Nodes())

	case core.CrdtCustom:
		res, err := crdt.MergeCustom(entityID, crdtType.TypeName, localVal, remoteVal, localTS, remoteTS)
		if err != nil {
			return nil, nil, err
		}
		return res.Value, res.Fallback, nil

	default: // core.CrdtNone
		res := crdt.MergeNone(entityID, localVal, remoteVal, localTS, remoteTS, "entity has CrdtNone type")
		return res.Value, res.Fallback, nil
	}
}

// mergeValues is the full-Entity-level convenience wrapper ApplySnapshot
// uses.
func (e *Engine) mergeValues(local, remote *Entity) ([]byte, *crdt.FallbackEvent, error) {
	return e.mergeLeafValue(local.CrdtType, local.Value, remote.Value, local.UpdatedAt, remote.UpdatedAt, local.ID)
}

func decodeOrEmptyCounter(b []byte, out *crdt.CounterValue) error {
	if len(b) == 0 {
		*out = crdt.CounterValue{}
		return nil
	}
	if err := core.CanonicalDecode(b, out); err != nil {
		return errors.NewErrMalformedDelta("decoding counter value: " + err.Error())
	}
	return nil
}

func decodeOrEmptySet(b []byte, out *crdt.SetValue) error {
	if len(b) == 0 {
		*out = crdt.SetValue{}
		return nil
	}
	if err := core.CanonicalDecode(b, out); err != nil {
		return errors.NewErrMalformedDelta("decoding set value: " + err.Error())
	}
	return nil
}

func decodeRga(b []byte) (*crdt.RgaSequence, error) {
	seq := crdt.NewRgaSequence()
	if len(b) == 0 {
		return seq, nil
	}
	var nodes []crdt.RgaNode
	if err := core.CanonicalDecode(b, &nodes); err != nil {
		return nil, errors.NewErrMalformedDelta("decoding RGA sequence: " + err.Error())
	}
	for _, n := range nodes {
		seq.Insert(n.ID.OriginTS, n.ID.OriginAuthor, n.InserterID, n.Value)
		if n.Tombstone {
			seq.Delete(n.ID.OriginTS, n.ID.OriginAuthor)
		}
	}
	return seq, nil
}

func encodeOrFail[T any](v T) ([]byte, *crdt.FallbackEvent, error) {
	b, err := core.CanonicalEncode(v)
	if err != nil {
		return nil, nil, errors.Wrap("encoding merged value", err)
	}
	return b, nil, nil
}
