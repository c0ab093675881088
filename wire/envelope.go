// Package wire implements WireProtocols (spec.md §4.4): stateless
// request/response message types plus gossip broadcast encoders, all
// canonically CBOR-encoded. Grounded on spec.md §4.4/§6 directly; the
// teacher's own net package generates equivalent messages from
// protobuf + gRPC (net/pb, now dropped — see DESIGN.md), so this
// package reuses the teacher's other CBOR dependency surface
// (fxamacker/cbor via package core's canonical encoding) instead of
// regenerating protobuf stubs this module cannot build.
package wire

import (
	"github.com/meshdoc/core"
	"github.com/meshdoc/core/errors"
)

// CurrentVersion is the wire format version this build speaks. Every
// message is a canonically CBOR-encoded envelope whose version and
// message-type tag are fields of that envelope; there is no raw
// two-byte version/type prefix ahead of it. An unrecognized version is a
// hard error (spec.md §4.4).
const CurrentVersion = 1

// MessageType tags an envelope's payload (spec.md §4.4 protocol surface
// table).
type MessageType uint8

const (
	MsgHandshake MessageType = iota + 1
	MsgDeltaRequest
	MsgDeltaResponse
	MsgHeadRequest
	MsgHeadResponse
	MsgStateSnapshotRequest
	MsgStateSnapshotResponse
	MsgEntityDiffRequest
	MsgEntityDiffResponse
	MsgKeyExchange
	MsgBlobRequest
	MsgBlobResponse
	MsgDeltaBroadcast
	MsgHashHeartbeat
)

func (t MessageType) String() string {
	switch t {
	case MsgHandshake:
		return "Handshake"
	case MsgDeltaRequest:
		return "DeltaRequest"
	case MsgDeltaResponse:
		return "DeltaResponse"
	case MsgHeadRequest:
		return "HeadRequest"
	case MsgHeadResponse:
		return "HeadResponse"
	case MsgStateSnapshotRequest:
		return "StateSnapshotRequest"
	case MsgStateSnapshotResponse:
		return "StateSnapshotResponse"
	case MsgEntityDiffRequest:
		return "EntityDiffRequest"
	case MsgEntityDiffResponse:
		return "EntityDiffResponse"
	case MsgKeyExchange:
		return "KeyExchange"
	case MsgBlobRequest:
		return "BlobRequest"
	case MsgBlobResponse:
		return "BlobResponse"
	case MsgDeltaBroadcast:
		return "DeltaBroadcast"
	case MsgHashHeartbeat:
		return "HashHeartbeat"
	default:
		return "Unknown"
	}
}

// envelope is the on-wire framing: version, type tag, canonically
// encoded body.
type envelope struct {
	Version uint8       `cbor:"1,keyasint"`
	Type    MessageType `cbor:"2,keyasint"`
	Body    []byte      `cbor:"3,keyasint"`
}

// Encode wraps payload in a versioned envelope for msgType.
func Encode(msgType MessageType, payload any) ([]byte, error) {
	body, err := core.CanonicalEncode(payload)
	if err != nil {
		return nil, errors.Wrap("encoding wire payload", err)
	}
	env := envelope{Version: CurrentVersion, Type: msgType, Body: body}
	return core.CanonicalEncode(env)
}

// Decode unwraps an envelope, validating its version, and decodes Body
// into out. Callers branch on the returned MessageType before choosing
// out's concrete type.
func Decode(data []byte, out any) (MessageType, error) {
	var env envelope
	if err := core.CanonicalDecode(data, &env); err != nil {
		return 0, errors.NewErrMalformedDelta("decoding wire envelope")
	}
	if env.Version != CurrentVersion {
		return 0, errors.NewErrUnsupportedVersion(int(env.Version), CurrentVersion)
	}
	if out != nil {
		if err := core.CanonicalDecode(env.Body, out); err != nil {
			return env.Type, errors.NewErrMalformedDelta("decoding wire body for " + env.Type.String())
		}
	}
	return env.Type, nil
}

// PeekType decodes only the envelope header, letting a dispatcher
// allocate the right body type before fully decoding.
func PeekType(data []byte) (MessageType, error) {
	return Decode(data, nil)
}
