package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/datastore"
)

func newTestEngine() *Engine {
	return NewEngine(datastore.NewMemory(), 64, nil)
}

func TestEngine_ApplyAction_AddUpdatesRootHash(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	ctxID := core.HashBytes([]byte("ctx"))

	rootID := core.RootEntityID(ctxID)
	ts := core.HybridTimestamp{PhysicalMS: 1}
	_, err := e.ApplyAction(ctx, ctxID, core.Action{
		Kind:     core.ActionAdd,
		EntityID: rootID,
		CrdtType: core.Simple(core.CrdtLwwRegister),
		Value:    []byte("root value"),
	}, ts)
	require.NoError(t, err)

	beforeChild, err := e.RootHash(ctx, ctxID)
	require.NoError(t, err)
	assert.False(t, beforeChild.IsZero())

	childID := core.DeriveEntityID(rootID, "child")
	_, err = e.ApplyAction(ctx, ctxID, core.Action{
		Kind:     core.ActionAdd,
		EntityID: childID,
		ParentID: rootID,
		CrdtType: core.Simple(core.CrdtLwwRegister),
		Value:    []byte("child value"),
	}, ts)
	require.NoError(t, err)

	afterChild, err := e.RootHash(ctx, ctxID)
	require.NoError(t, err)
	assert.NotEqual(t, beforeChild, afterChild)
}

func TestEngine_ApplyAction_AddOnExistingEntityFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	ctxID := core.HashBytes([]byte("ctx"))
	rootID := core.RootEntityID(ctxID)
	ts := core.HybridTimestamp{PhysicalMS: 1}

	action := core.Action{Kind: core.ActionAdd, EntityID: rootID, CrdtType: core.Simple(core.CrdtLwwRegister), Value: []byte("v")}
	_, err := e.ApplyAction(ctx, ctxID, action, ts)
	require.NoError(t, err)

	_, err = e.ApplyAction(ctx, ctxID, action, ts)
	assert.Error(t, err)
}

func TestEngine_ApplyAction_MissingParentFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	ctxID := core.HashBytes([]byte("ctx"))
	ghostParent := core.HashBytes([]byte("no-such-parent"))

	_, err := e.ApplyAction(ctx, ctxID, core.Action{
		Kind:     core.ActionAdd,
		EntityID: core.HashBytes([]byte("child")),
		ParentID: ghostParent,
		CrdtType: core.Simple(core.CrdtLwwRegister),
		Value:    []byte("v"),
	}, core.HybridTimestamp{PhysicalMS: 1})
	assert.Error(t, err)
}

func TestEngine_ApplyAction_DeleteIsIdempotentAndTombstones(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	ctxID := core.HashBytes([]byte("ctx"))
	rootID := core.RootEntityID(ctxID)
	ts := core.HybridTimestamp{PhysicalMS: 1}

	_, err := e.ApplyAction(ctx, ctxID, core.Action{Kind: core.ActionAdd, EntityID: rootID, CrdtType: core.Simple(core.CrdtLwwRegister), Value: []byte("v")}, ts)
	require.NoError(t, err)

	_, err = e.ApplyAction(ctx, ctxID, core.Action{Kind: core.ActionDelete, EntityID: rootID}, core.HybridTimestamp{PhysicalMS: 2})
	require.NoError(t, err)

	ent, err := e.GetEntity(ctx, ctxID, rootID)
	require.NoError(t, err)
	assert.True(t, ent.Tombstone.HasValue())

	hashAfterFirstDelete, err := e.RootHash(ctx, ctxID)
	require.NoError(t, err)

	_, err = e.ApplyAction(ctx, ctxID, core.Action{Kind: core.ActionDelete, EntityID: rootID}, core.HybridTimestamp{PhysicalMS: 3})
	require.NoError(t, err)
	hashAfterSecondDelete, err := e.RootHash(ctx, ctxID)
	require.NoError(t, err)
	assert.Equal(t, hashAfterFirstDelete, hashAfterSecondDelete)
}

func TestEngine_WalkSubtree_VisitsChildrenInAscendingOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine()
	ctxID := core.HashBytes([]byte("ctx"))
	rootID := core.RootEntityID(ctxID)
	ts := core.HybridTimestamp{PhysicalMS: 1}

	_, err := e.ApplyAction(ctx, ctxID, core.Action{Kind: core.ActionAdd, EntityID: rootID, CrdtType: core.Simple(core.CrdtLwwRegister), Value: []byte("root")}, ts)
	require.NoError(t, err)

	fieldNames := []string{"zeta", "alpha", "mu"}
	for _, name := range fieldNames {
		childID := core.DeriveEntityID(rootID, name)
		_, err := e.ApplyAction(ctx, ctxID, core.Action{
			Kind: core.ActionAdd, EntityID: childID, ParentID: rootID,
			CrdtType: core.Simple(core.CrdtLwwRegister), Value: []byte(name),
		}, ts)
		require.NoError(t, err)
	}

	var visited []core.EntityId
	err = e.WalkSubtree(ctx, ctxID, rootID, func(ent *Entity) bool {
		visited = append(visited, ent.ID)
		return true
	})
	require.NoError(t, err)
	require.Len(t, visited, 4) // root + 3 children

	for i := 2; i < len(visited); i++ {
		assert.True(t, visited[i-1].Less(visited[i]) || visited[i-1] == visited[i])
	}
}

func TestEngine_RootHash_UnknownContextIsZero(t *testing.T) {
	e := newTestEngine()
	h, err := e.RootHash(context.Background(), core.HashBytes([]byte("never-touched")))
	require.NoError(t, err)
	assert.True(t, h.IsZero())
}
