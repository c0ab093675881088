package replctx

import (
	"context"

	gonet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/logging"
	"github.com/meshdoc/core/secure"
	"github.com/meshdoc/core/storage"
	"github.com/meshdoc/core/wire"
)

// OnStream is the server side of one request/response exchange over a
// Transport.Listen-accepted stream: complete the SecureStream handshake
// as responder, dispatch exactly one request, and write exactly one
// response frame (skipped for fire-and-forget messages like a direct
// replicator push). This mirrors the teacher's one-call-per-stream
// gRPC unary shape without gRPC itself (see DESIGN.md).
func (r *Runtime) OnStream(stream gonet.Stream) {
	defer stream.Close()
	ctx := context.Background()
	from := stream.Conn().RemotePeer()

	sec, err := secure.Accept(ctx, stream, r.self, r)
	if err != nil {
		log.ErrorE(ctx, "secure stream handshake (accept) failed", err, logging.NewKV("Peer", from.String()))
		return
	}
	defer sec.Close()

	reqData, err := sec.ReadFrame()
	if err != nil {
		log.ErrorE(ctx, "reading request frame failed", err, logging.NewKV("Peer", from.String()))
		return
	}

	respData, err := r.dispatchRequest(ctx, from, reqData)
	if err != nil {
		log.ErrorE(ctx, "dispatching request failed", err, logging.NewKV("Peer", from.String()))
		return
	}
	if respData == nil {
		return
	}
	if err := sec.WriteFrame(respData); err != nil {
		log.ErrorE(ctx, "writing response frame failed", err, logging.NewKV("Peer", from.String()))
	}
}

// dispatchRequest decodes one wire envelope and produces the matching
// response envelope, or nil for message types that expect no reply.
func (r *Runtime) dispatchRequest(ctx context.Context, from peer.ID, data []byte) ([]byte, error) {
	msgType, err := wire.PeekType(data)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case wire.MsgDeltaBroadcast:
		var b wire.DeltaBroadcast
		if _, err := wire.Decode(data, &b); err != nil {
			return nil, err
		}
		r.handleDeltaBroadcast(ctx, from, b)
		return nil, nil

	case wire.MsgDeltaRequest:
		var req wire.DeltaRequest
		if _, err := wire.Decode(data, &req); err != nil {
			return nil, err
		}
		return r.respondDeltaRequest(ctx, req)

	case wire.MsgHeadRequest:
		var req wire.HeadRequest
		if _, err := wire.Decode(data, &req); err != nil {
			return nil, err
		}
		return r.respondHeadRequest(ctx, req)

	case wire.MsgStateSnapshotRequest:
		var req wire.StateSnapshotRequest
		if _, err := wire.Decode(data, &req); err != nil {
			return nil, err
		}
		return r.respondStateSnapshotRequest(ctx, req)

	case wire.MsgEntityDiffRequest:
		var req wire.EntityDiffRequest
		if _, err := wire.Decode(data, &req); err != nil {
			return nil, err
		}
		return r.respondEntityDiffRequest(ctx, req)

	default:
		return nil, errors.Newf("unsupported request message type %s", msgType.String())
	}
}

func (r *Runtime) respondDeltaRequest(ctx context.Context, req wire.DeltaRequest) ([]byte, error) {
	deltas := make([]*core.Delta, 0, len(req.IDs))
	for _, id := range req.IDs {
		d, err := r.dag.GetDelta(ctx, req.ContextID, id)
		if err != nil {
			continue // best-effort: reply with whatever this node actually has
		}
		deltas = append(deltas, d)
	}
	return wire.Encode(wire.MsgDeltaResponse, wire.DeltaResponse{Deltas: deltas})
}

func (r *Runtime) respondHeadRequest(ctx context.Context, req wire.HeadRequest) ([]byte, error) {
	rootHash, err := r.engine.RootHash(ctx, req.ContextID)
	if err != nil {
		return nil, err
	}
	return wire.Encode(wire.MsgHeadResponse, wire.HeadResponse{
		Heads:    r.dag.GetHeads(req.ContextID),
		RootHash: rootHash,
	})
}

func (r *Runtime) respondStateSnapshotRequest(ctx context.Context, req wire.StateSnapshotRequest) ([]byte, error) {
	snap, err := r.engine.GenerateSnapshot(ctx, req.ContextID, req.SubtreeRoot)
	if err != nil {
		return nil, err
	}
	rootHash, err := r.engine.RootHash(ctx, req.ContextID)
	if err != nil {
		return nil, err
	}
	return wire.Encode(wire.MsgStateSnapshotResponse, wire.StateSnapshotResponse{Snapshot: snap, RootHash: rootHash})
}

func (r *Runtime) respondEntityDiffRequest(ctx context.Context, req wire.EntityDiffRequest) ([]byte, error) {
	var differing []wire.DifferingEntity
	err := r.engine.WalkSubtree(ctx, req.ContextID, req.SubtreeRoot, func(ent *storage.Entity) bool {
		localOwn, known := req.LocalOwnHashes[ent.ID]
		if known && localOwn == ent.OwnHash {
			return true
		}
		de := wire.DifferingEntity{ID: ent.ID, Value: ent.Value, OwnHash: ent.OwnHash, CrdtType: ent.CrdtType}
		if ent.ParentID.HasValue() {
			de.HasParent = true
			de.ParentID = ent.ParentID.Value()
		}
		differing = append(differing, de)
		return true
	})
	if err != nil {
		return nil, err
	}
	return wire.Encode(wire.MsgEntityDiffResponse, wire.EntityDiffResponse{DifferingEntities: differing})
}

// openStream dials pid and runs the SecureStream handshake as initiator.
func (r *Runtime) openStream(ctx context.Context, pid peer.ID, ctxID core.ContextId) (*secure.Stream, error) {
	raw, err := r.transport.Dial(ctx, pid)
	if err != nil {
		return nil, err
	}
	sec, err := secure.Open(ctx, raw, ctxID, r.self, r)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return sec, nil
}

// pushDirect fire-and-forgets an already wire.Encode'd envelope to pid,
// used to push a locally-authored delta to an out-of-gossip replicator.
func (r *Runtime) pushDirect(ctx context.Context, ctxID core.ContextId, pid peer.ID, data []byte) error {
	sec, err := r.openStream(ctx, pid, ctxID)
	if err != nil {
		return err
	}
	defer sec.Close()
	return sec.WriteFrame(data)
}

// requestResponse dials pid, sends one request envelope, and decodes the
// single response envelope it writes back, used by every client-side
// sync strategy and by requestMissingParents.
func (r *Runtime) requestResponse(ctx context.Context, ctxID core.ContextId, pid peer.ID, msgType wire.MessageType, payload, out any) error {
	sec, err := r.openStream(ctx, pid, ctxID)
	if err != nil {
		return errors.NewErrTransport("opening sync stream", err)
	}
	defer sec.Close()

	reqData, err := wire.Encode(msgType, payload)
	if err != nil {
		return err
	}
	if err := sec.WriteFrame(reqData); err != nil {
		return errors.NewErrTransport("writing request frame", err)
	}
	respData, err := sec.ReadFrame()
	if err != nil {
		return errors.NewErrTransport("reading response frame", err)
	}
	if _, err := wire.Decode(respData, out); err != nil {
		return err
	}
	return nil
}
