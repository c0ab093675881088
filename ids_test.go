package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash32_StringRoundTrip(t *testing.T) {
	h := HashBytes([]byte("hello world"))
	parsed, err := ParseHash32(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseHash32FromBytes_WrongLength(t *testing.T) {
	_, err := ParseHash32FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseHash32FromBytes_RoundTrip(t *testing.T) {
	h := HashBytes([]byte("some data"))
	parsed, err := ParseHash32FromBytes(h.Bytes())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestHash32_IsZero(t *testing.T) {
	var zero Hash32
	assert.True(t, zero.IsZero())
	assert.False(t, HashBytes([]byte("x")).IsZero())
}

func TestHash32_Less_TotalOrder(t *testing.T) {
	a := Hash32{0x01}
	b := Hash32{0x02}
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))
}

func TestDeriveEntityID_Deterministic(t *testing.T) {
	parent := HashBytes([]byte("parent"))
	a := DeriveEntityID(parent, "field")
	b := DeriveEntityID(parent, "field")
	assert.Equal(t, a, b)

	other := DeriveEntityID(parent, "other-field")
	assert.NotEqual(t, a, other)
}

func TestRootEntityID_DiffersPerContext(t *testing.T) {
	ctxA := HashBytes([]byte("context-a"))
	ctxB := HashBytes([]byte("context-b"))
	assert.NotEqual(t, RootEntityID(ctxA), RootEntityID(ctxB))
	assert.Equal(t, RootEntityID(ctxA), RootEntityID(ctxA))
}

func TestDeriveContextID_Deterministic(t *testing.T) {
	pub := []byte("founder-public-key")
	nonce := []byte("creation-nonce")
	a := DeriveContextID(pub, nonce)
	b := DeriveContextID(pub, nonce)
	assert.Equal(t, a, b)

	otherNonce := DeriveContextID(pub, []byte("different-nonce"))
	assert.NotEqual(t, a, otherNonce)
}
