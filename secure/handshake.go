// Package secure implements SecureStream (spec.md §4.3): a mutually
// authenticated, encrypted framed channel over a raw bidirectional byte
// stream. Grounded on spec.md §4.3 directly (the teacher delegates peer
// authentication to libp2p's own transport security, see package
// crypto's doc comment), using package crypto's ed25519 MemberKey signing and
// X25519/HKDF/chacha20poly1305-X session primitives.
package secure

import (
	"context"
	"io"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/crypto"
	"github.com/meshdoc/core/errors"
)

// RawStream is the minimal bidirectional byte-stream contract
// SecureStream wraps (satisfied by a libp2p Stream or a net.Conn).
type RawStream interface {
	io.Reader
	io.Writer
	io.Closer
}

// KnownMembers resolves a context member's public key by its identity
// bytes, used to verify the peer's handshake signature against the
// context's membership list rather than trusting whatever key the peer
// presents.
type KnownMembers interface {
	MemberPublicKey(ctxID core.ContextId, memberID []byte) (crypto.MemberKey, bool)
}

// Stream is an open, authenticated, encrypted SecureStream.
type Stream struct {
	raw       RawStream
	aead      *crypto.AEAD
	sendNonce []byte
	recvNonce []byte
	sendCtr   uint64
	recvCtr   uint64
}

const sessionInfo = "meshdoc-securestream-v1"

// handshakeMsg1 is the initiator's opening message: its member public
// key plus a fresh nonce N_i (spec.md §4.3 step 1).
type handshakeMsg1 struct {
	MemberPub []byte `cbor:"1,keyasint"`
	EphPub    [32]byte `cbor:"2,keyasint"`
	Nonce     []byte `cbor:"3,keyasint"`
	ContextID core.ContextId `cbor:"4,keyasint"`
}

// handshakeMsg2 is the responder's reply: its public key, a fresh nonce
// N_r, and a signature over (N_i || its_pk || initiator_pk) (step 2).
type handshakeMsg2 struct {
	MemberPub []byte   `cbor:"1,keyasint"`
	EphPub    [32]byte `cbor:"2,keyasint"`
	Nonce     []byte   `cbor:"3,keyasint"`
	Signature []byte   `cbor:"4,keyasint"`
}

// handshakeMsg3 is the initiator's closing message: its signature over
// (N_r || initiator_pk || responder_pk) (step 3).
type handshakeMsg3 struct {
	Signature []byte `cbor:"1,keyasint"`
}

func sigPayload2(nI []byte, responderPub, initiatorPub []byte) []byte {
	buf := append([]byte{}, nI...)
	buf = append(buf, responderPub...)
	buf = append(buf, initiatorPub...)
	return buf
}

func sigPayload3(nR []byte, initiatorPub, responderPub []byte) []byte {
	buf := append([]byte{}, nR...)
	buf = append(buf, initiatorPub...)
	buf = append(buf, responderPub...)
	return buf
}

// Open runs the initiator side of the handshake over raw and returns an
// authenticated, encrypted Stream scoped to ctxID. Any failure — unknown
// key, bad signature, or a ctx already done on entry — aborts before any
// protocol payload is sent or received (spec.md §4.3); ctx is not
// consulted again once the handshake messages are being exchanged.
func Open(ctx context.Context, raw RawStream, ctxID core.ContextId, self crypto.MemberKey, members KnownMembers) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewErrTimeout("handshake open")
	}

	eph, err := crypto.GenerateEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	nI, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}

	msg1 := handshakeMsg1{MemberPub: self.Public, EphPub: eph.Public, Nonce: nI, ContextID: ctxID}
	if err := writeFrame(raw, must(core.CanonicalEncode(msg1))); err != nil {
		return nil, errors.NewErrTransport("sending handshake msg1", err)
	}

	raw2, err := readFrame(raw)
	if err != nil {
		return nil, errors.NewErrTransport("reading handshake msg2", err)
	}
	var msg2 handshakeMsg2
	if err := core.CanonicalDecode(raw2, &msg2); err != nil {
		return nil, errors.NewErrMalformedDelta("decoding handshake msg2")
	}

	responderKey, ok := members.MemberPublicKey(ctxID, msg2.MemberPub)
	if !ok {
		return nil, errors.NewErrUnknownMemberKey(string(msg2.MemberPub))
	}
	if !crypto.Verify(responderKey.Public, sigPayload2(nI, msg2.MemberPub, self.Public), msg2.Signature) {
		return nil, errors.NewErrSignatureInvalid(string(msg2.MemberPub))
	}

	sig3 := self.Sign(sigPayload3(msg2.Nonce, self.Public, msg2.MemberPub))
	if err := writeFrame(raw, must(core.CanonicalEncode(handshakeMsg3{Signature: sig3}))); err != nil {
		return nil, errors.NewErrTransport("sending handshake msg3", err)
	}

	shared, err := eph.SharedSecret(msg2.EphPub)
	if err != nil {
		return nil, err
	}
	sessionKey, err := crypto.DeriveSessionKey(shared, nI, msg2.Nonce, sessionInfo)
	if err != nil {
		return nil, err
	}
	aead, err := crypto.NewAEAD(sessionKey)
	if err != nil {
		return nil, err
	}

	return &Stream{raw: raw, aead: aead, sendNonce: nI, recvNonce: msg2.Nonce}, nil
}

// Accept runs the responder side of the handshake.
func Accept(ctx context.Context, raw RawStream, self crypto.MemberKey, members KnownMembers) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewErrTimeout("handshake accept")
	}

	raw1, err := readFrame(raw)
	if err != nil {
		return nil, errors.NewErrTransport("reading handshake msg1", err)
	}
	var msg1 handshakeMsg1
	if err := core.CanonicalDecode(raw1, &msg1); err != nil {
		return nil, errors.NewErrMalformedDelta("decoding handshake msg1")
	}

	initiatorKey, ok := members.MemberPublicKey(msg1.ContextID, msg1.MemberPub)
	if !ok {
		return nil, errors.NewErrUnknownMemberKey(string(msg1.MemberPub))
	}

	eph, err := crypto.GenerateEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	nR, err := crypto.NewNonce()
	if err != nil {
		return nil, err
	}
	sig2 := self.Sign(sigPayload2(msg1.Nonce, self.Public, msg1.MemberPub))
	msg2 := handshakeMsg2{MemberPub: self.Public, EphPub: eph.Public, Nonce: nR, Signature: sig2}
	if err := writeFrame(raw, must(core.CanonicalEncode(msg2))); err != nil {
		return nil, errors.NewErrTransport("sending handshake msg2", err)
	}

	raw3, err := readFrame(raw)
	if err != nil {
		return nil, errors.NewErrTransport("reading handshake msg3", err)
	}
	var msg3 handshakeMsg3
	if err := core.CanonicalDecode(raw3, &msg3); err != nil {
		return nil, errors.NewErrMalformedDelta("decoding handshake msg3")
	}
	if !crypto.Verify(initiatorKey.Public, sigPayload3(nR, msg1.MemberPub, self.Public), msg3.Signature) {
		return nil, errors.NewErrSignatureInvalid(string(msg1.MemberPub))
	}

	shared, err := eph.SharedSecret(msg1.EphPub)
	if err != nil {
		return nil, err
	}
	sessionKey, err := crypto.DeriveSessionKey(shared, msg1.Nonce, nR, sessionInfo)
	if err != nil {
		return nil, err
	}
	aead, err := crypto.NewAEAD(sessionKey)
	if err != nil {
		return nil, err
	}

	return &Stream{raw: raw, aead: aead, sendNonce: nR, recvNonce: msg1.Nonce}, nil
}

func must(b []byte, err error) []byte {
	if err != nil {
		panic("secure: encoding handshake message: " + err.Error())
	}
	return b
}
