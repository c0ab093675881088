package net

import (
	"context"
	stderrors "errors"
	"sync"

	ds "github.com/ipfs/go-datastore"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/datastore"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/logging"
)

// Replicators tracks, per context, the set of peers a node pushes every
// locally-applied delta to regardless of gossip membership, adapted
// from the teacher's Peer.replicators map plus
// SetReplicator/DeleteReplicator/loadReplicators (net/peer.go), keyed
// here by core.ContextId instead of a collection schema id.
type Replicators struct {
	transport *Transport
	store     datastore.Store

	mu   sync.Mutex
	byCtx map[core.ContextId]map[peer.ID]struct{}
}

func NewReplicators(t *Transport, store datastore.Store) *Replicators {
	return &Replicators{transport: t, store: store, byCtx: make(map[core.ContextId]map[peer.ID]struct{})}
}

// LoadAll restores persisted replicator relationships into memory and
// the peerstore, mirroring the teacher's loadReplicators call on Peer
// construction.
func (r *Replicators) LoadAll(ctx context.Context, ctxIDs []core.ContextId) error {
	for _, ctxID := range ctxIDs {
		entries, err := datastore.ScanPrefix(ctx, r.store, datastore.ReplicatorPrefix(ctxID))
		if err != nil {
			return errors.Wrap("scanning replicators", err)
		}
		for _, e := range entries {
			addr, err := ma.NewMultiaddr(string(e.Value))
			if err != nil {
				log.ErrorE(ctx, "skipping malformed replicator address", err, logging.NewKV("Context", ctxID.String()))
				continue
			}
			info, err := peer.AddrInfoFromP2pAddr(addr)
			if err != nil {
				continue
			}
			r.addToMemory(ctxID, info.ID)
			r.transport.Host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
		}
	}
	return nil
}

func (r *Replicators) addToMemory(ctxID core.ContextId, pid peer.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byCtx[ctxID]
	if !ok {
		set = make(map[peer.ID]struct{})
		r.byCtx[ctxID] = set
	}
	set[pid] = struct{}{}
}

// Add registers paddr as a replication destination for ctxID, persisting
// the relationship so it survives restart.
func (r *Replicators) Add(ctx context.Context, ctxID core.ContextId, paddr ma.Multiaddr) (peer.ID, error) {
	info, err := peer.AddrInfoFromP2pAddr(paddr)
	if err != nil {
		return "", errors.Wrap("parsing replicator address", err)
	}
	if info.ID == r.transport.LocalPeerID() {
		return "", errors.New("cannot target self as a replicator")
	}

	r.mu.Lock()
	if set, ok := r.byCtx[ctxID]; ok {
		if _, exists := set[info.ID]; exists {
			r.mu.Unlock()
			return info.ID, errors.Newf("replicator %s already registered for context %s", info.ID, ctxID.String())
		}
	}
	r.mu.Unlock()

	r.transport.Host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.PermanentAddrTTL)
	r.addToMemory(ctxID, info.ID)

	key := datastore.ReplicatorKey(ctxID, info.ID.String())
	if err := r.store.Put(ctx, key, []byte(paddr.String())); err != nil {
		return info.ID, errors.Wrap("persisting replicator", err)
	}
	return info.ID, nil
}

// Remove deregisters pid as a replicator of ctxID.
func (r *Replicators) Remove(ctx context.Context, ctxID core.ContextId, pid peer.ID) error {
	r.mu.Lock()
	if set, ok := r.byCtx[ctxID]; ok {
		delete(set, pid)
		if len(set) == 0 {
			delete(r.byCtx, ctxID)
			r.transport.Host.Peerstore().ClearAddrs(pid)
		}
	}
	r.mu.Unlock()

	err := r.store.Delete(ctx, datastore.ReplicatorKey(ctxID, pid.String()))
	if err != nil && !stderrors.Is(err, ds.ErrNotFound) {
		return errors.Wrap("removing persisted replicator", err)
	}
	return nil
}

// List returns every peer currently registered as a replicator of ctxID.
func (r *Replicators) List(ctxID core.ContextId) []peer.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byCtx[ctxID]
	if !ok {
		return nil
	}
	out := make([]peer.ID, 0, len(set))
	for pid := range set {
		out = append(out, pid)
	}
	return out
}
