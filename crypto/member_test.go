package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMemberKey_CanSignAndVerify(t *testing.T) {
	key, err := GenerateMemberKey()
	require.NoError(t, err)
	assert.True(t, key.HasPrivate())

	msg := []byte("delta content")
	sig := key.Sign(msg)
	assert.True(t, Verify(key.Public, msg, sig))
}

func TestMemberKeyFromSeed_ReconstructsSameKey(t *testing.T) {
	original, err := GenerateMemberKey()
	require.NoError(t, err)

	reconstructed, err := MemberKeyFromSeed(original.Seed())
	require.NoError(t, err)

	assert.Equal(t, original.Public, reconstructed.Public)
	msg := []byte("some message")
	assert.Equal(t, original.Sign(msg), reconstructed.Sign(msg))
}

func TestMemberKeyFromSeed_WrongLengthErrors(t *testing.T) {
	_, err := MemberKeyFromSeed([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestPublicOnly_CannotSign(t *testing.T) {
	full, err := GenerateMemberKey()
	require.NoError(t, err)

	pubOnly := PublicOnly(full.Public)
	assert.False(t, pubOnly.HasPrivate())
	assert.Equal(t, full.Public, pubOnly.Public)
}

func TestVerify_RejectsWrongKeyOrTamperedMessage(t *testing.T) {
	key, err := GenerateMemberKey()
	require.NoError(t, err)
	other, err := GenerateMemberKey()
	require.NoError(t, err)

	msg := []byte("payload")
	sig := key.Sign(msg)

	assert.False(t, Verify(other.Public, msg, sig))
	assert.False(t, Verify(key.Public, []byte("tampered"), sig))
	assert.False(t, Verify([]byte("not-a-key"), msg, sig))
}
