package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/replctx"
)

func TestEncodeDecodeInvitation_RoundTrip(t *testing.T) {
	inv := replctx.Invitation{
		ContextID: core.HashBytes([]byte("context")),
		SharedKey: []byte("0123456789abcdef0123456789abcdef"),
		Members:   [][]byte{[]byte("member-one"), []byte("member-two")},
	}

	encoded, err := EncodeInvitation(inv)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	decoded, err := DecodeInvitation(encoded)
	require.NoError(t, err)
	assert.Equal(t, inv.ContextID, decoded.ContextID)
	assert.Equal(t, inv.SharedKey, decoded.SharedKey)
	assert.Equal(t, inv.Members, decoded.Members)
}

func TestDecodeInvitation_RejectsGarbage(t *testing.T) {
	_, err := DecodeInvitation("not a valid invitation string")
	assert.Error(t, err)
}
