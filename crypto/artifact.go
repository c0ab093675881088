package crypto

import (
	"crypto/rand"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/meshdoc/core/errors"
)

// EncryptArtifact seals plaintext under the context-wide shared_key
// (spec.md §3/§9 OQ1), used to produce a Delta's EncryptedArtifact. Each
// call draws a fresh random nonce since deltas, unlike SecureStream
// frames, aren't sequentially numbered.
func EncryptArtifact(sharedKey, plaintext []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(sharedKey)
	if err != nil {
		return nil, nil, errors.Wrap("constructing artifact AEAD", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, errors.Wrap("generating artifact nonce", err)
	}
	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptArtifact opens an EncryptedArtifact under the context-wide
// shared_key.
func DecryptArtifact(sharedKey, ciphertext, nonce []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(sharedKey)
	if err != nil {
		return nil, errors.Wrap("constructing artifact AEAD", err)
	}
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.Wrap("artifact authentication failed", err)
	}
	return pt, nil
}

// NewSharedKey generates a fresh context-wide shared_key, used at
// context creation and on every KeyExchange rekey (spec.md §9 OQ1).
func NewSharedKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap("generating shared key", err)
	}
	return key, nil
}
