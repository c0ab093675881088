package wire

import "github.com/meshdoc/core"

// ReceiverAction is the decision a node makes on receiving a
// DeltaBroadcast (spec.md §4.4).
type ReceiverAction int

const (
	ActionNoOp ReceiverAction = iota
	ActionRequestMissingParents
	ActionEscalateStateSync
	ActionApplyDelta
)

func (a ReceiverAction) String() string {
	switch a {
	case ActionNoOp:
		return "NoOp"
	case ActionRequestMissingParents:
		return "RequestMissingParents"
	case ActionEscalateStateSync:
		return "EscalateStateSync"
	case ActionApplyDelta:
		return "ApplyDelta"
	default:
		return "Unknown"
	}
}

// BroadcastDecisionInput collects every fact the receiver decision logic
// needs, computed by the caller (ContextRuntime/SyncScheduler) from its
// local DAG/storage state plus the broadcast's hints, so this function
// stays a pure function of typed inputs per spec.md §4.4's "all are
// pure" requirement.
type BroadcastDecisionInput struct {
	LocalRootHash     core.Hash32
	RemoteRootHash    core.Hash32
	MissingParentCount int
	ParentGapThreshold int
	BloomEstimate      int // estimated number of entities the peer has that we don't, from the broadcast's Bloom hint
	BloomThreshold     int
	LocalEntityCount   uint64
	RemoteEntityCount  uint64
	// EntityCountDivergencePct is the configured threshold (e.g. 50 for
	// 50%) above which divergence escalates regardless of parent gap.
	EntityCountDivergencePct int
}

// DecideOnBroadcast implements spec.md §4.4's receiver decision table,
// evaluated in order.
func DecideOnBroadcast(in BroadcastDecisionInput) ReceiverAction {
	if in.LocalRootHash == in.RemoteRootHash {
		return ActionNoOp
	}
	if in.MissingParentCount > 0 && in.MissingParentCount <= in.ParentGapThreshold {
		return ActionRequestMissingParents
	}
	if in.MissingParentCount > in.ParentGapThreshold || in.BloomEstimate > in.BloomThreshold {
		return ActionEscalateStateSync
	}
	if entityCountDivergencePct(in.LocalEntityCount, in.RemoteEntityCount) > in.EntityCountDivergencePct {
		return ActionEscalateStateSync
	}
	return ActionApplyDelta
}

func entityCountDivergencePct(local, remote uint64) int {
	if local == 0 && remote == 0 {
		return 0
	}
	bigger, smaller := local, remote
	if smaller > bigger {
		bigger, smaller = smaller, bigger
	}
	if bigger == 0 {
		return 0
	}
	diff := bigger - smaller
	return int(diff * 100 / bigger)
}

// DetectDivergence implements spec.md §4.4's HashHeartbeat check:
// identical head sets but different root hashes means the nodes are
// *provably* divergent (state corruption, not merely behind), a hard
// error that MUST trigger state-based reconciliation.
func DetectDivergence(localHeads, remoteHeads []core.DeltaId, localRoot, remoteRoot core.Hash32) bool {
	if localRoot == remoteRoot {
		return false
	}
	return sameHeadSet(localHeads, remoteHeads)
}

func sameHeadSet(a, b []core.DeltaId) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[core.DeltaId]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
