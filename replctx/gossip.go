package replctx

import (
	"context"
	"reflect"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/crypto"
	"github.com/meshdoc/core/dag"
	"github.com/meshdoc/core/events"
	"github.com/meshdoc/core/logging"
	syncsched "github.com/meshdoc/core/sync"
	"github.com/meshdoc/core/wire"
)

// OnGossip is net.MessageHandler: it decodes one gossip message and
// reacts per spec.md §4.4's receiver decision table.
func (r *Runtime) OnGossip(ctx context.Context, from peer.ID, ctxID core.ContextId, data []byte) {
	msgType, err := wire.PeekType(data)
	if err != nil {
		log.ErrorE(ctx, "peeking gossip message type failed", err)
		return
	}
	r.cfg.Metrics.GossipReceived(ctx, msgType.String())

	switch msgType {
	case wire.MsgDeltaBroadcast:
		var b wire.DeltaBroadcast
		if _, err := wire.Decode(data, &b); err != nil {
			log.ErrorE(ctx, "decoding delta broadcast failed", err)
			return
		}
		r.handleDeltaBroadcast(ctx, from, b)
	case wire.MsgHashHeartbeat:
		var hb wire.HashHeartbeat
		if _, err := wire.Decode(data, &hb); err != nil {
			log.ErrorE(ctx, "decoding hash heartbeat failed", err)
			return
		}
		r.handleHeartbeat(ctx, from, hb)
	default:
		log.Debug(ctx, "ignoring unexpected gossip message type", logging.NewKV("Type", msgType.String()))
	}
}

// handleDeltaBroadcast implements the receiver side of spec.md §4.4:
// verify the artifact as a defense-in-depth check, then decide whether
// to apply, request missing parents, escalate to state sync, or ignore.
func (r *Runtime) handleDeltaBroadcast(ctx context.Context, from peer.ID, b wire.DeltaBroadcast) {
	if b.Delta == nil {
		return
	}
	r.verifyArtifact(ctx, b.ContextID, b.Delta)

	localRoot, err := r.engine.RootHash(ctx, b.ContextID)
	if err != nil {
		log.ErrorE(ctx, "reading local root hash failed", err)
		return
	}

	missing := 0
	for _, p := range b.Delta.Parents {
		if !r.dag.HasDelta(ctx, b.ContextID, p) {
			missing++
		}
	}

	decision := wire.DecideOnBroadcast(wire.BroadcastDecisionInput{
		LocalRootHash:            localRoot,
		RemoteRootHash:           b.Hints.RootHash,
		MissingParentCount:       missing,
		ParentGapThreshold:       r.cfg.ParentGapThreshold,
		EntityCountDivergencePct: r.cfg.EntityCountDivergencePct,
	})

	switch decision {
	case wire.ActionNoOp:
		return

	case wire.ActionRequestMissingParents:
		r.requestMissingParents(ctx, from, b.ContextID, b.Delta.Parents)

	case wire.ActionEscalateStateSync:
		r.TriggerSync(ctx, b.ContextID, core.PeerId(from.String()), syncsched.StateResync)

	case wire.ActionApplyDelta:
		res, err := r.dag.AddDelta(ctx, b.ContextID, b.Delta)
		if err != nil {
			log.ErrorE(ctx, "applying gossiped delta failed", err)
			return
		}
		if res.Outcome == dag.Buffered {
			r.requestMissingParents(ctx, from, b.ContextID, b.Delta.Parents)
		}
	}
}

// verifyArtifact decrypts a broadcast delta's EncryptedArtifact under
// the context's shared_key, when known, and cross-checks it against the
// plaintext Payload: the Payload is what the DAG actually applies (a
// relaying peer without the shared_key can't be asked to decrypt), so
// the artifact serves as confidentiality for at-rest/relay storage plus
// a tamper check here, rather than being the only source of the applied
// actions.
func (r *Runtime) verifyArtifact(ctx context.Context, ctxID core.ContextId, delta *core.Delta) {
	sharedKey, ok := r.sharedKeyFor(ctxID)
	if !ok || len(delta.Artifact.Ciphertext) == 0 {
		return
	}
	plaintext, err := crypto.DecryptArtifact(sharedKey, delta.Artifact.Ciphertext, delta.Artifact.Nonce)
	if err != nil {
		log.ErrorE(ctx, "decrypting delta artifact failed", err)
		r.reportArtifactMismatch(ctx, ctxID, "decrypt-failed")
		return
	}
	var decoded []core.Action
	if err := core.CanonicalDecode(plaintext, &decoded); err != nil {
		r.reportArtifactMismatch(ctx, ctxID, "decode-failed")
		return
	}
	if !reflect.DeepEqual(decoded, delta.Payload) {
		r.reportArtifactMismatch(ctx, ctxID, "payload-mismatch")
	}
}

func (r *Runtime) reportArtifactMismatch(ctx context.Context, ctxID core.ContextId, reason string) {
	r.cfg.Metrics.VerificationFailure(ctx, reason)
	if r.sinks == nil {
		return
	}
	r.sinks.Verification.Publish(events.VerificationFailed{
		ContextID: ctxID.String(),
		ID:        "artifact",
		Expected:  "payload-match",
		Computed:  reason,
	})
}

// requestMissingParents fetches exactly the parents still unknown
// locally from from, then folds each one into the DAG.
func (r *Runtime) requestMissingParents(ctx context.Context, from peer.ID, ctxID core.ContextId, parents []core.DeltaId) {
	var missing []core.DeltaId
	for _, p := range parents {
		if !r.dag.HasDelta(ctx, ctxID, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return
	}

	var resp wire.DeltaResponse
	req := wire.DeltaRequest{ContextID: ctxID, IDs: missing}
	if err := r.requestResponse(ctx, ctxID, from, wire.MsgDeltaRequest, req, &resp); err != nil {
		log.ErrorE(ctx, "requesting missing parents failed", err, logging.NewKV("Peer", from.String()))
		return
	}
	for _, d := range resp.Deltas {
		if _, err := r.dag.AddDelta(ctx, ctxID, d); err != nil {
			log.ErrorE(ctx, "applying fetched delta failed", err)
		}
	}
}

// handleHeartbeat implements spec.md §4.4's HashHeartbeat divergence
// check: identical heads but different root hashes means real, provable
// divergence, which MUST trigger state-based reconciliation.
func (r *Runtime) handleHeartbeat(ctx context.Context, from peer.ID, hb wire.HashHeartbeat) {
	localHeads := r.dag.GetHeads(hb.ContextID)
	localRoot, err := r.engine.RootHash(ctx, hb.ContextID)
	if err != nil {
		log.ErrorE(ctx, "reading local root hash failed", err)
		return
	}
	if wire.DetectDivergence(localHeads, hb.Heads, localRoot, hb.RootHash) {
		r.TriggerSync(ctx, hb.ContextID, core.PeerId(from.String()), syncsched.StateResync)
	}
}

// TriggerSync runs sync.Scheduler.SyncContext in the background, so
// gossip/heartbeat handlers never block waiting on a full sync round.
func (r *Runtime) TriggerSync(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy syncsched.Strategy) {
	go func() {
		if _, err := r.sched.SyncContext(ctx, ctxID, peerID, strategy); err != nil {
			log.ErrorE(ctx, "sync_context failed", err,
				logging.NewKV("Context", ctxID.String()), logging.NewKV("Peer", string(peerID)), logging.NewKV("Strategy", strategy.String()))
		}
	}()
}
