package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/replctx"
)

func TestSaveAndLoadPendingInvitations(t *testing.T) {
	dir := t.TempDir()

	a := replctx.Invitation{
		ContextID: core.HashBytes([]byte("context-a")),
		SharedKey: []byte("shared-key-a-shared-key-a-shared"),
		Members:   [][]byte{[]byte("member-a")},
	}
	b := replctx.Invitation{
		ContextID: core.HashBytes([]byte("context-b")),
		SharedKey: []byte("shared-key-b-shared-key-b-shared"),
		Members:   [][]byte{[]byte("member-b")},
	}

	require.NoError(t, savePendingInvitation(dir, a))
	require.NoError(t, savePendingInvitation(dir, b))

	loaded, err := loadPendingInvitations(dir)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byCtx := map[core.ContextId]replctx.Invitation{}
	for _, inv := range loaded {
		byCtx[inv.ContextID] = inv
	}
	assert.Equal(t, a.SharedKey, byCtx[a.ContextID].SharedKey)
	assert.Equal(t, b.SharedKey, byCtx[b.ContextID].SharedKey)
}

func TestLoadPendingInvitations_MissingDirectoryIsNotAnError(t *testing.T) {
	loaded, err := loadPendingInvitations(t.TempDir() + "/does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
