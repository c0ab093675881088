// Package replctx implements ContextRuntime (spec.md §4.6): the
// per-node coordinator binding DeltaDAG, StorageEngine, the net
// transport/gossip/replicator layer, and SyncScheduler together,
// multiplexed across every context the node currently participates in.
// Grounded on the teacher's net/peer.go Peer type — one struct owning
// the host, DAG service, replicators, and update channel, serializing
// per-document mutations through a docQueue — generalized here from
// "one DB, many document collections" to "one node, many contexts".
package replctx

import (
	"context"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/crypto"
	"github.com/meshdoc/core/dag"
	"github.com/meshdoc/core/datastore"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/events"
	"github.com/meshdoc/core/logging"
	"github.com/meshdoc/core/metrics"
	"github.com/meshdoc/core/net"
	"github.com/meshdoc/core/storage"
	"github.com/meshdoc/core/wire"

	syncsched "github.com/meshdoc/core/sync"
)

var log = logging.MustNewLogger("replctx")

// memberSet is one context's known signing keys plus its shared_key,
// adapted from the teacher's per-collection replicator/member
// bookkeeping (net/peer.go) to the membership + shared-key model
// spec.md §3/§9 OQ1 requires.
type memberSet struct {
	mu        sync.RWMutex
	members   map[string]crypto.MemberKey // keyed by public-key bytes
	sharedKey []byte
}

func newMemberSet() *memberSet {
	return &memberSet{members: make(map[string]crypto.MemberKey)}
}

func (m *memberSet) add(mk crypto.MemberKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[string(mk.Public)] = mk
}

func (m *memberSet) lookup(memberID []byte) (crypto.MemberKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.members[string(memberID)]
	return mk, ok
}

func (m *memberSet) setSharedKey(key []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sharedKey = key
}

func (m *memberSet) getSharedKey() ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sharedKey, len(m.sharedKey) > 0
}

// Invitation carries what a joining node needs: the context id, its
// current shared_key, and the public keys of its known members
// (spec.md §3 Lifecycle "join").
type Invitation struct {
	ContextID core.ContextId
	SharedKey []byte
	Members   [][]byte
}

// Config bundles Runtime's construction dependencies.
type Config struct {
	Self            crypto.MemberKey
	Store           datastore.Store
	Sinks           *events.Sinks
	Transport       *net.Transport
	SyncCfg         syncsched.Config
	Metrics         *metrics.Recorder
	EngineCacheSize int
	// ParentGapThreshold/EntityCountDivergencePct feed
	// wire.DecideOnBroadcast (spec.md §4.4); taken from config.SyncConfig
	// by the caller (cli/start.go), not read from it directly here so
	// this package stays independently testable without package config.
	ParentGapThreshold       int
	EntityCountDivergencePct int
}

// Runtime is ContextRuntime. One Runtime multiplexes every context a
// node currently participates in: DeltaDAG and StorageEngine are each
// already internally keyed by core.ContextId, so Runtime only needs to
// own per-context membership and mutation-ordering state on top of them.
type Runtime struct {
	self  crypto.MemberKey
	clock *core.Clock

	store  datastore.Store
	engine *storage.Engine
	dag    *dag.DAG
	sched  *syncsched.Scheduler
	sinks  *events.Sinks
	cfg    Config

	transport   *net.Transport
	topics      *net.Topics
	replicators *net.Replicators

	mu      sync.Mutex
	memsets map[core.ContextId]*memberSet
	// entityQs serializes SubmitLocalActionSet per context: two
	// concurrent local submissions for the same context must not read
	// the same head set and each build a delta parenting the other away,
	// adapted from the teacher's docQueue (net/server.go) which
	// serialized concurrent pushes for one document key.
	entityQs sync.Map // core.ContextId -> *sync.Mutex
}

// New constructs a Runtime. The DeltaDAG's Applier is wired to apply a
// gossip-received delta's already-decided plaintext Payload against the
// StorageEngine; a locally-authored delta instead reaches storage via
// SubmitLocalActionSet before the delta object even exists, then folds
// into the DAG via dag.DAG.RecordLocal without invoking this Applier a
// second time (see that method's doc comment).
func New(cfg Config) *Runtime {
	r := &Runtime{
		self:        cfg.Self,
		clock:       core.NewClock(),
		store:       cfg.Store,
		sinks:       cfg.Sinks,
		cfg:         cfg,
		transport:   cfg.Transport,
		memsets:     make(map[core.ContextId]*memberSet),
	}
	r.engine = storage.NewEngine(cfg.Store, cfg.EngineCacheSize, cfg.Sinks)
	r.dag = dag.New(cfg.Store, r.applyDeltaPayload)
	r.replicators = net.NewReplicators(cfg.Transport, cfg.Store)
	r.topics = net.NewTopics(cfg.Transport, r.OnGossip)
	r.sched = syncsched.New(cfg.SyncCfg, cfg.Sinks, r.runStrategy, cfg.Metrics)
	return r
}

func (r *Runtime) memberSetFor(ctxID core.ContextId) *memberSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.memsets[ctxID]
	if !ok {
		ms = newMemberSet()
		r.memsets[ctxID] = ms
	}
	return ms
}

// MemberPublicKey implements secure.KnownMembers, resolving a
// SecureStream peer's claimed identity against ctxID's membership list.
func (r *Runtime) MemberPublicKey(ctxID core.ContextId, memberID []byte) (crypto.MemberKey, bool) {
	r.mu.Lock()
	ms, ok := r.memsets[ctxID]
	r.mu.Unlock()
	if !ok {
		return crypto.MemberKey{}, false
	}
	return ms.lookup(memberID)
}

func (r *Runtime) sharedKeyFor(ctxID core.ContextId) ([]byte, bool) {
	r.mu.Lock()
	ms, ok := r.memsets[ctxID]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	return ms.getSharedKey()
}

func (r *Runtime) mutationLock(ctxID core.ContextId) *sync.Mutex {
	v, _ := r.entityQs.LoadOrStore(ctxID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Join admits this node to an existing context: registers its known
// members and shared_key, then subscribes to its gossip topic.
func (r *Runtime) Join(ctx context.Context, inv Invitation) error {
	ms := r.memberSetFor(inv.ContextID)
	for _, pub := range inv.Members {
		ms.add(crypto.PublicOnly(pub))
	}
	ms.add(r.self)
	ms.setSharedKey(inv.SharedKey)
	if err := r.topics.Join(inv.ContextID); err != nil {
		return errors.Wrap("joining context gossip topic", err)
	}
	log.Info(ctx, "joined context", logging.NewKV("Context", inv.ContextID.String()))
	return nil
}

// Leave removes this node from a context's gossip topic and forgets its
// membership/shared-key state (the persisted DAG/entity state is left
// intact, matching spec.md's no-pruning stance, see DESIGN.md OQ2).
func (r *Runtime) Leave(ctxID core.ContextId) error {
	r.mu.Lock()
	delete(r.memsets, ctxID)
	r.mu.Unlock()
	return r.topics.Leave(ctxID)
}

// RootHash exposes the context's current Merkle root hash, used by
// callers (and by runStrategy/gossip handling) to decide divergence.
func (r *Runtime) RootHash(ctx context.Context, ctxID core.ContextId) (core.Hash32, error) {
	return r.engine.RootHash(ctx, ctxID)
}

// AddReplicator registers paddr as an out-of-gossip push target for
// ctxID on a running Runtime.
func (r *Runtime) AddReplicator(ctx context.Context, ctxID core.ContextId, paddr ma.Multiaddr) (peer.ID, error) {
	return r.replicators.Add(ctx, ctxID, paddr)
}

// RemoveReplicator deregisters pid as a replicator of ctxID.
func (r *Runtime) RemoveReplicator(ctx context.Context, ctxID core.ContextId, pid peer.ID) error {
	return r.replicators.Remove(ctx, ctxID, pid)
}

// LoadReplicators restores persisted replicator relationships for every
// context this node currently participates in, called once on startup.
func (r *Runtime) LoadReplicators(ctx context.Context, ctxIDs []core.ContextId) error {
	return r.replicators.LoadAll(ctx, ctxIDs)
}

// Close tears down every joined gossip topic and the underlying
// transport, mirroring the teacher's defraInstance.close (cli/start.go).
func (r *Runtime) Close(ctx context.Context) error {
	if err := r.topics.LeaveAll(); err != nil {
		log.ErrorE(ctx, "leaving gossip topics failed", err)
	}
	return r.transport.Close()
}

// applyDeltaPayload is dag.Applier: it applies every action in a
// gossip-received (or cascaded) delta's plaintext Payload in order.
// Locally-authored deltas never reach this function — SubmitLocalActionSet
// applies directly to the engine before the Delta is constructed, and
// dag.DAG.RecordLocal skips the Applier for that first delta.
func (r *Runtime) applyDeltaPayload(ctx context.Context, ctxID core.ContextId, delta *core.Delta) error {
	var rootHash core.Hash32
	for i := range delta.Payload {
		h, err := r.engine.ApplyAction(ctx, ctxID, delta.Payload[i], delta.HybridTimestamp)
		if err != nil {
			return err
		}
		rootHash = h
	}
	if !delta.ExpectedRoot.IsZero() && rootHash != delta.ExpectedRoot {
		// A sequential-apply (DagCatchup/gossip) mismatch is a hard
		// integrity failure, per spec.md §9 OQ3. The state-based paths
		// (syncStateResync/syncEntityDiff) compare no expected root at
		// all, so a root that differs after a merge is not reported or
		// re-synced there.
		return errors.NewErrVerificationFailed(ctxID.String(), delta.ExpectedRoot.String(), rootHash.String())
	}
	r.clock.Observe(delta.HybridTimestamp)
	r.cfg.Metrics.DeltaApplied(ctx, ctxID.String())
	return nil
}

// SubmitLocalActionSet implements submit_local_action_set (spec.md
// §4.6): applies actions directly to the StorageEngine to learn the
// real post-apply root hash (resolving the ExpectedRoot chicken-and-egg
// problem — see dag.DAG.RecordLocal), builds and signs a Delta
// referencing the current heads, folds it into the DAG, and broadcasts
// it to the context's gossip topic and any out-of-gossip replicators.
func (r *Runtime) SubmitLocalActionSet(ctx context.Context, ctxID core.ContextId, actions []core.Action) (core.DeltaId, error) {
	lock := r.mutationLock(ctxID)
	lock.Lock()
	defer lock.Unlock()

	ts := r.clock.Tick()

	var rootHash core.Hash32
	for i := range actions {
		h, err := r.engine.ApplyAction(ctx, ctxID, actions[i], ts)
		if err != nil {
			return core.DeltaId{}, errors.Wrap("applying local action set", err)
		}
		rootHash = h
	}

	payloadBytes, err := core.CanonicalEncode(actions)
	if err != nil {
		return core.DeltaId{}, errors.Wrap("encoding local payload", err)
	}
	artifact, err := r.encryptPayload(ctxID, payloadBytes)
	if err != nil {
		return core.DeltaId{}, err
	}

	delta := &core.Delta{
		Parents:         r.dag.GetHeads(ctxID),
		Author:          r.self.Public,
		HybridTimestamp: ts,
		Payload:         actions,
		Artifact:        artifact,
		ExpectedRoot:    rootHash,
	}
	signBytes, err := delta.CanonicalBytes()
	if err != nil {
		return core.DeltaId{}, errors.Wrap("encoding local delta for signing", err)
	}
	delta.Signature = r.self.Sign(signBytes)

	id, err := r.dag.RecordLocal(ctx, ctxID, delta)
	if err != nil {
		return core.DeltaId{}, errors.Wrap("recording local delta", err)
	}

	if err := r.broadcastDelta(ctx, ctxID, delta, rootHash); err != nil {
		log.ErrorE(ctx, "broadcasting local delta failed", err, logging.NewKV("Context", ctxID.String()), logging.NewKV("Delta", id.String()))
	}
	r.cfg.Metrics.DeltaAuthored(ctx, ctxID.String())
	return id, nil
}

// encryptPayload seals payloadBytes under ctxID's shared_key, leaving
// the Artifact zero-valued (no shared_key yet, e.g. the context's
// genesis delta before any KeyExchange) rather than failing the submit.
func (r *Runtime) encryptPayload(ctxID core.ContextId, payloadBytes []byte) (core.EncryptedArtifact, error) {
	sharedKey, ok := r.sharedKeyFor(ctxID)
	if !ok {
		return core.EncryptedArtifact{}, nil
	}
	ciphertext, nonce, err := crypto.EncryptArtifact(sharedKey, payloadBytes)
	if err != nil {
		return core.EncryptedArtifact{}, errors.Wrap("encrypting delta artifact", err)
	}
	return core.EncryptedArtifact{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// broadcastDelta publishes delta to ctxID's gossip topic and pushes it
// directly to any replicator not already reachable via that topic,
// mirroring the teacher's pushLogToReplicators peer-dedup check
// (net/server.go).
func (r *Runtime) broadcastDelta(ctx context.Context, ctxID core.ContextId, delta *core.Delta, rootHash core.Hash32) error {
	broadcast := wire.DeltaBroadcast{
		ContextID: ctxID,
		Delta:     delta,
		Hints:     wire.SyncHint{Verbosity: wire.HintLightweight, RootHash: rootHash},
	}
	data, err := wire.Encode(wire.MsgDeltaBroadcast, broadcast)
	if err != nil {
		return errors.Wrap("encoding delta broadcast", err)
	}
	if err := r.topics.Publish(ctx, ctxID, data); err != nil {
		return err
	}
	return r.pushToReplicators(ctx, ctxID, data)
}

func (r *Runtime) pushToReplicators(ctx context.Context, ctxID core.ContextId, data []byte) error {
	topicPeers := make(map[string]struct{})
	for _, pid := range r.topics.ListPeers(ctxID) {
		topicPeers[pid.String()] = struct{}{}
	}
	var lastErr error
	for _, pid := range r.replicators.List(ctxID) {
		if _, already := topicPeers[pid.String()]; already {
			continue
		}
		if err := r.pushDirect(ctx, ctxID, pid, data); err != nil {
			log.ErrorE(ctx, "direct replicator push failed", err, logging.NewKV("Peer", pid.String()))
			lastErr = err
		}
	}
	return lastErr
}
