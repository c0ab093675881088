package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/meshdoc/core/errors"
)

const NonceSize = 24 // chacha20poly1305.NonceSizeX

// EphemeralKeyPair is a per-handshake X25519 key pair used only to
// derive the session's shared secret (spec.md §4.3 step 4); it is
// distinct from the long-lived MemberKey signing keys.
type EphemeralKeyPair struct {
	Public  [32]byte
	private [32]byte
}

func GenerateEphemeralKeyPair() (EphemeralKeyPair, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return EphemeralKeyPair{}, errors.Wrap("generating ephemeral key", err)
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return EphemeralKeyPair{}, errors.Wrap("computing ephemeral public key", err)
	}
	var pubArr [32]byte
	copy(pubArr[:], pub)
	return EphemeralKeyPair{Public: pubArr, private: priv}, nil
}

// SharedSecret computes the X25519 Diffie-Hellman shared secret with a
// peer's ephemeral public key.
func (kp EphemeralKeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.private[:], peerPublic[:])
	if err != nil {
		return nil, errors.Wrap("computing shared secret", err)
	}
	return secret, nil
}

// NewNonce generates a fresh random nonce for the handshake (N_i/N_r in
// spec.md §4.3 step 1/2).
func NewNonce() ([]byte, error) {
	n := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return nil, errors.Wrap("generating handshake nonce", err)
	}
	return n, nil
}

// DeriveSessionKey implements spec.md §4.3 step 4: derive a session key
// from (shared-secret || N_i || N_r) via a KDF. HKDF-SHA256 is used,
// grounded on the teacher's golang.org/x/crypto dependency.
func DeriveSessionKey(sharedSecret, nI, nR []byte, info string) ([]byte, error) {
	ikm := append(append(append([]byte{}, sharedSecret...), nI...), nR...)
	r := hkdf.New(sha256.New, ikm, nil, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errors.Wrap("deriving session key", err)
	}
	return key, nil
}

// AEAD wraps a derived session key with a monotonic frame counter
// folded into the associated data, per spec.md §4.3's replay-prevention
// requirement ("a monotonic frame counter included in the AEAD
// associated-data").
type AEAD struct {
	aead cipherAEAD
}

// cipherAEAD is the minimal interface chacha20poly1305.NewX satisfies;
// declared locally so tests can substitute a fake without importing the
// concrete cipher package.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
	Overhead() int
}

func NewAEAD(sessionKey []byte) (*AEAD, error) {
	aead, err := chacha20poly1305.NewX(sessionKey)
	if err != nil {
		return nil, errors.Wrap("constructing AEAD cipher", err)
	}
	return &AEAD{aead: aead}, nil
}

// frameNonce deterministically derives a per-frame nonce from a random
// session-level base nonce and the monotonic counter, so no per-frame
// randomness (and therefore no nonce-reuse risk) is required.
func frameNonce(base []byte, counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	copy(nonce, base)
	for i := 0; i < 8; i++ {
		nonce[len(nonce)-1-i] ^= byte(counter >> (8 * i))
	}
	return nonce
}

// Seal encrypts plaintext for the given monotonic frame counter, folding
// the counter into the associated data so a replayed ciphertext at a
// stale counter value fails to authenticate on the receive side.
func (a *AEAD) Seal(baseNonce []byte, counter uint64, plaintext []byte) []byte {
	ad := counterAD(counter)
	return a.aead.Seal(nil, frameNonce(baseNonce, counter), plaintext, ad)
}

func (a *AEAD) Open(baseNonce []byte, counter uint64, ciphertext []byte) ([]byte, error) {
	ad := counterAD(counter)
	pt, err := a.aead.Open(nil, frameNonce(baseNonce, counter), ciphertext, ad)
	if err != nil {
		return nil, errors.Wrap("AEAD frame authentication failed", err)
	}
	return pt, nil
}

func (a *AEAD) NonceSize() int { return a.aead.NonceSize() }

func counterAD(counter uint64) []byte {
	ad := make([]byte, 8)
	for i := 0; i < 8; i++ {
		ad[i] = byte(counter >> (8 * i))
	}
	return ad
}
