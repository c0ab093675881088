package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meshdoc/core"
)

func TestDecideOnBroadcast_SameRoot_NoOp(t *testing.T) {
	root := core.HashBytes([]byte("same"))
	action := DecideOnBroadcast(BroadcastDecisionInput{
		LocalRootHash:  root,
		RemoteRootHash: root,
	})
	assert.Equal(t, ActionNoOp, action)
}

func TestDecideOnBroadcast_SmallParentGap_RequestMissingParents(t *testing.T) {
	action := DecideOnBroadcast(BroadcastDecisionInput{
		LocalRootHash:      core.HashBytes([]byte("local")),
		RemoteRootHash:     core.HashBytes([]byte("remote")),
		MissingParentCount: 3,
		ParentGapThreshold: 32,
	})
	assert.Equal(t, ActionRequestMissingParents, action)
}

func TestDecideOnBroadcast_LargeParentGap_EscalatesStateSync(t *testing.T) {
	action := DecideOnBroadcast(BroadcastDecisionInput{
		LocalRootHash:      core.HashBytes([]byte("local")),
		RemoteRootHash:     core.HashBytes([]byte("remote")),
		MissingParentCount: 40,
		ParentGapThreshold: 32,
	})
	assert.Equal(t, ActionEscalateStateSync, action)
}

func TestDecideOnBroadcast_BloomEstimateOverThreshold_EscalatesStateSync(t *testing.T) {
	action := DecideOnBroadcast(BroadcastDecisionInput{
		LocalRootHash:  core.HashBytes([]byte("local")),
		RemoteRootHash: core.HashBytes([]byte("remote")),
		BloomEstimate:  500,
		BloomThreshold: 100,
	})
	assert.Equal(t, ActionEscalateStateSync, action)
}

func TestDecideOnBroadcast_EntityCountDivergence_EscalatesStateSync(t *testing.T) {
	action := DecideOnBroadcast(BroadcastDecisionInput{
		LocalRootHash:            core.HashBytes([]byte("local")),
		RemoteRootHash:           core.HashBytes([]byte("remote")),
		LocalEntityCount:         10,
		RemoteEntityCount:        100,
		EntityCountDivergencePct: 50,
	})
	assert.Equal(t, ActionEscalateStateSync, action)
}

func TestDecideOnBroadcast_NoEscalationConditions_ApplyDelta(t *testing.T) {
	action := DecideOnBroadcast(BroadcastDecisionInput{
		LocalRootHash:            core.HashBytes([]byte("local")),
		RemoteRootHash:           core.HashBytes([]byte("remote")),
		LocalEntityCount:         98,
		RemoteEntityCount:        100,
		EntityCountDivergencePct: 50,
	})
	assert.Equal(t, ActionApplyDelta, action)
}

func TestEntityCountDivergencePct_BothZero(t *testing.T) {
	assert.Equal(t, 0, entityCountDivergencePct(0, 0))
}

func TestDetectDivergence_SameRoot_NotDivergent(t *testing.T) {
	root := core.HashBytes([]byte("same"))
	heads := []core.DeltaId{core.HashBytes([]byte("a"))}
	assert.False(t, DetectDivergence(heads, heads, root, root))
}

func TestDetectDivergence_SameHeadsDifferentRoot_Divergent(t *testing.T) {
	local := core.HashBytes([]byte("local"))
	remote := core.HashBytes([]byte("remote"))
	heads := []core.DeltaId{core.HashBytes([]byte("a")), core.HashBytes([]byte("b"))}
	assert.True(t, DetectDivergence(heads, heads, local, remote))
}

func TestDetectDivergence_DifferentHeads_NotProvablyDivergent(t *testing.T) {
	local := core.HashBytes([]byte("local"))
	remote := core.HashBytes([]byte("remote"))
	headsA := []core.DeltaId{core.HashBytes([]byte("a"))}
	headsB := []core.DeltaId{core.HashBytes([]byte("c"))}
	assert.False(t, DetectDivergence(headsA, headsB, local, remote))
}

func TestReceiverAction_String(t *testing.T) {
	assert.Equal(t, "NoOp", ActionNoOp.String())
	assert.Equal(t, "RequestMissingParents", ActionRequestMissingParents.String())
	assert.Equal(t, "EscalateStateSync", ActionEscalateStateSync.String())
	assert.Equal(t, "ApplyDelta", ActionApplyDelta.String())
	assert.Equal(t, "Unknown", ReceiverAction(99).String())
}
