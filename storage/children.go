package storage

import (
	"context"

	"github.com/tidwall/btree"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/datastore"
	errs "github.com/meshdoc/core/errors"
)

// childSet keeps one parent's children ordered by EntityId bytes
// ascending, the fixed order spec.md §4.1 requires for both hash
// computation and walk_subtree traversal. tidwall/btree gives sorted
// insert/delete/ascend without the engine hand-rolling a sort on every
// mutation.
type childSet struct {
	tree *btree.BTreeG[core.EntityId]
}

func newChildSet() *childSet {
	less := func(a, b core.EntityId) bool { return a.Less(b) }
	return &childSet{tree: btree.NewBTreeG(less)}
}

func (c *childSet) add(id core.EntityId)    { c.tree.Set(id) }
func (c *childSet) remove(id core.EntityId) { c.tree.Delete(id) }

// ascend returns children in sorted order.
func (c *childSet) ascend() []core.EntityId {
	out := make([]core.EntityId, 0, c.tree.Len())
	c.tree.Ascend(core.EntityId{}, func(id core.EntityId) bool {
		out = append(out, id)
		return true
	})
	return out
}

// loadChildren reads the persisted, already-sorted child list for
// parentID and rebuilds an in-memory childSet from it.
func loadChildren(ctx context.Context, store datastore.Store, ctxID core.ContextId, parentID core.EntityId) (*childSet, error) {
	key := datastore.IndexKey(ctxID, "children", parentID.String())
	raw, err := store.Get(ctx, key)
	cs := newChildSet()
	if err != nil {
		if isNotFound(err) {
			return cs, nil
		}
		return nil, errs.Wrap("loading children index", err)
	}
	var ids []core.EntityId
	if err := core.CanonicalDecode(raw, &ids); err != nil {
		return nil, errs.Wrap("decoding children index", err)
	}
	for _, id := range ids {
		cs.add(id)
	}
	return cs, nil
}

func saveChildren(ctx context.Context, store datastore.Store, ctxID core.ContextId, parentID core.EntityId, cs *childSet) error {
	ids := cs.ascend()
	b, err := core.CanonicalEncode(ids)
	if err != nil {
		return errs.Wrap("encoding children index", err)
	}
	key := datastore.IndexKey(ctxID, "children", parentID.String())
	if err := store.Put(ctx, key, b); err != nil {
		return errs.Wrap("storing children index", err)
	}
	return nil
}
