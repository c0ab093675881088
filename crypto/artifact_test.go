package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptArtifact_RoundTrip(t *testing.T) {
	key, err := NewSharedKey()
	require.NoError(t, err)

	plaintext := []byte("entity payload bytes")
	ciphertext, nonce, err := EncryptArtifact(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptArtifact(key, ciphertext, nonce)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptArtifact_WrongKeyFails(t *testing.T) {
	key, err := NewSharedKey()
	require.NoError(t, err)
	otherKey, err := NewSharedKey()
	require.NoError(t, err)

	ciphertext, nonce, err := EncryptArtifact(key, []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptArtifact(otherKey, ciphertext, nonce)
	assert.Error(t, err)
}

func TestDecryptArtifact_TamperedCiphertextFails(t *testing.T) {
	key, err := NewSharedKey()
	require.NoError(t, err)

	ciphertext, nonce, err := EncryptArtifact(key, []byte("secret"))
	require.NoError(t, err)
	ciphertext[0] ^= 0xFF

	_, err = DecryptArtifact(key, ciphertext, nonce)
	assert.Error(t, err)
}

func TestNewSharedKey_ProducesDistinctKeys(t *testing.T) {
	a, err := NewSharedKey()
	require.NoError(t, err)
	b, err := NewSharedKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
