package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreateIdentity_PersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()

	first, err := loadOrCreateIdentity(dir)
	require.NoError(t, err)
	assert.True(t, first.HasPrivate())

	second, err := loadOrCreateIdentity(dir)
	require.NoError(t, err)
	assert.Equal(t, first.Public, second.Public)

	msg := []byte("message")
	assert.Equal(t, first.Sign(msg), second.Sign(msg))
}

func TestLoadOrCreateIdentity_DifferentRootdirsGetDifferentKeys(t *testing.T) {
	a, err := loadOrCreateIdentity(t.TempDir())
	require.NoError(t, err)
	b, err := loadOrCreateIdentity(t.TempDir())
	require.NoError(t, err)
	assert.NotEqual(t, a.Public, b.Public)
}
