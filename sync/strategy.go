// Package sync implements SyncScheduler (spec.md §4.5): strategy
// selection, retry with backoff, concurrency caps, and event emission.
// Grounded on spec.md §4.5 directly; the retry control flow echoes
// other_examples' delta-syncer.go. This package runs no periodic sync
// loop of its own: a sync happens only when SyncContext is called.
package sync

import "github.com/meshdoc/core/errors"

// Strategy identifies one of spec.md §4.5's sync strategies. SubtreePrefetch,
// named only in the selection-priority table and never given its own
// contract, is folded into a plain EntityDiff candidate (same walk
// order as any other EntityDiff run) rather than a sixth strategy.
type Strategy int

const (
	DagCatchup Strategy = iota
	StateResync
	EntityDiff
	BloomFilter
	LevelWise
)

func (s Strategy) String() string {
	switch s {
	case DagCatchup:
		return "DagCatchup"
	case StateResync:
		return "StateResync"
	case EntityDiff:
		return "EntityDiff"
	case BloomFilter:
		return "BloomFilter"
	case LevelWise:
		return "LevelWise"
	default:
		return "Unknown"
	}
}

// PeerCapabilities reports which strategies a peer supports, for the
// selection-table's "fallback when peer does not support the preferred
// strategy" rule.
type PeerCapabilities struct {
	PeerID    string
	Supported map[Strategy]bool
}

func (p PeerCapabilities) supports(s Strategy) bool {
	if p.Supported == nil {
		return true // unknown peer capability defaults to "assume supported"
	}
	return p.Supported[s]
}

// SelectionInput bundles the facts spec.md §4.5's priority table
// conditions on.
type SelectionInput struct {
	LocalHasNoState    bool
	DagGapSmall        bool
	ParentsKnown       bool
	HeartbeatDivergent bool // same heads, different root_hash
	DivergencePctOverHalf bool
	TreeIsDeep         bool
	DivergenceSmall    bool
	TreeIsWideShallow  bool
	TreeIsLarge        bool
	Peer               PeerCapabilities
}

// Select implements the priority-ordered selection table, falling back
// to the next priority's strategy when the peer doesn't support the
// first match.
func Select(in SelectionInput) (Strategy, error) {
	candidates := candidateOrder(in)
	for _, s := range candidates {
		if in.Peer.supports(s) {
			return s, nil
		}
	}
	return 0, errors.NewErrNoMutualStrategy(in.Peer.PeerID)
}

func candidateOrder(in SelectionInput) []Strategy {
	var order []Strategy
	if in.LocalHasNoState {
		order = append(order, StateResync)
	}
	if in.DagGapSmall && in.ParentsKnown {
		order = append(order, DagCatchup)
	}
	if in.HeartbeatDivergent {
		if in.DivergencePctOverHalf {
			order = append(order, StateResync)
		} else {
			order = append(order, EntityDiff)
		}
	}
	if in.TreeIsDeep && in.DivergenceSmall {
		order = append(order, EntityDiff) // SubtreePrefetch folded into EntityDiff
	}
	if in.TreeIsWideShallow {
		order = append(order, LevelWise)
	}
	if in.TreeIsLarge && in.DivergenceSmall {
		order = append(order, BloomFilter)
	}
	order = append(order, EntityDiff) // default
	return order
}
