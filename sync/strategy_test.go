package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect_NoLocalState_PrefersStateResync(t *testing.T) {
	s, err := Select(SelectionInput{LocalHasNoState: true})
	require.NoError(t, err)
	assert.Equal(t, StateResync, s)
}

func TestSelect_SmallDagGapWithKnownParents_PrefersDagCatchup(t *testing.T) {
	s, err := Select(SelectionInput{DagGapSmall: true, ParentsKnown: true})
	require.NoError(t, err)
	assert.Equal(t, DagCatchup, s)
}

func TestSelect_HeartbeatDivergentOverHalf_EscalatesToStateResync(t *testing.T) {
	s, err := Select(SelectionInput{HeartbeatDivergent: true, DivergencePctOverHalf: true})
	require.NoError(t, err)
	assert.Equal(t, StateResync, s)
}

func TestSelect_HeartbeatDivergentSmall_UsesEntityDiff(t *testing.T) {
	s, err := Select(SelectionInput{HeartbeatDivergent: true})
	require.NoError(t, err)
	assert.Equal(t, EntityDiff, s)
}

func TestSelect_WideShallowTree_PrefersLevelWise(t *testing.T) {
	s, err := Select(SelectionInput{TreeIsWideShallow: true})
	require.NoError(t, err)
	assert.Equal(t, LevelWise, s)
}

func TestSelect_NoSignal_DefaultsToEntityDiff(t *testing.T) {
	s, err := Select(SelectionInput{})
	require.NoError(t, err)
	assert.Equal(t, EntityDiff, s)
}

func TestSelect_FallsBackWhenPeerDoesNotSupportFirstChoice(t *testing.T) {
	s, err := Select(SelectionInput{
		LocalHasNoState: true, // would select StateResync
		Peer: PeerCapabilities{
			PeerID:    "peer-1",
			Supported: map[Strategy]bool{EntityDiff: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, EntityDiff, s)
}

func TestSelect_NoMutuallySupportedStrategy_Errors(t *testing.T) {
	_, err := Select(SelectionInput{
		Peer: PeerCapabilities{
			PeerID:    "peer-1",
			Supported: map[Strategy]bool{},
		},
	})
	assert.Error(t, err)
}

func TestStrategy_String(t *testing.T) {
	assert.Equal(t, "DagCatchup", DagCatchup.String())
	assert.Equal(t, "StateResync", StateResync.String())
	assert.Equal(t, "EntityDiff", EntityDiff.String())
	assert.Equal(t, "BloomFilter", BloomFilter.String())
	assert.Equal(t, "LevelWise", LevelWise.String())
	assert.Equal(t, "Unknown", Strategy(99).String())
}
