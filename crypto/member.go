// Package crypto implements the per-context member identity and the
// session-key derivation/AEAD primitives SecureStream's handshake uses
// (spec.md §4.3). It is grounded on the teacher's golang.org/x/crypto
// dependency: ed25519 (stdlib, teacher-equivalent) for MemberKey
// signing, and x/crypto's hkdf + chacha20poly1305 for handshake key
// derivation and framed AEAD, since no teacher file exposes this layer
// directly — the teacher delegates peer authentication to libp2p's own
// noise/TLS transport security, but spec.md §4.3 asks for an explicit,
// engine-level mutual-auth handshake independent of the transport.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/meshdoc/core/errors"
)

// MemberKey is a per-context identity: a signing keypair generated at
// join (spec.md §3). Only the public half travels in a Delta's Author
// field and in context membership lists; the private half never leaves
// the process.
type MemberKey struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// GenerateMemberKey creates a fresh MemberKey, used when a member joins
// a context for the first time (spec.md §3 Lifecycle).
func GenerateMemberKey() (MemberKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return MemberKey{}, errors.Wrap("generating member key", err)
	}
	return MemberKey{Public: pub, private: priv}, nil
}

// MemberKeyFromSeed reconstructs a MemberKey from a persisted 32-byte
// seed (used when loading a previously-joined context's key material
// from the K/ column family, spec.md §6).
func MemberKeyFromSeed(seed []byte) (MemberKey, error) {
	if len(seed) != ed25519.SeedSize {
		return MemberKey{}, errors.Newf("member key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return MemberKey{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
}

// Seed returns the 32-byte seed to persist for later reconstruction.
func (k MemberKey) Seed() []byte {
	return k.private.Seed()
}

// Sign signs msg with this member's private key (used for Delta.Signature
// and for the SecureStream handshake's signature-over-nonces step).
func (k MemberKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.private, msg)
}

// Verify checks sig against msg under pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// HasPrivate reports whether this MemberKey can sign (false for a
// MemberKey constructed from just a public key, e.g. another member
// listed in a context's member_keys).
func (k MemberKey) HasPrivate() bool {
	return len(k.private) == ed25519.PrivateKeySize
}

// PublicOnly constructs a MemberKey usable only for verification, as
// recorded in a context's membership list for peers other than self.
func PublicOnly(pub ed25519.PublicKey) MemberKey {
	return MemberKey{Public: pub}
}
