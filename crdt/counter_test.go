package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterValue_IncrementAndTotal(t *testing.T) {
	c := CounterValue{}
	c = c.Increment("alice", 3)
	c = c.Increment("alice", 2)
	c = c.Increment("bob", 10)

	assert.Equal(t, int64(5), c["alice"])
	assert.Equal(t, int64(15), c.Total())
}

func TestCounterValue_Clone_IsIndependent(t *testing.T) {
	c := CounterValue{"alice": 1}
	clone := c.Clone()
	clone["alice"] = 99
	clone["bob"] = 5

	assert.Equal(t, int64(1), c["alice"])
	assert.NotContains(t, c, "bob")
}

func TestMergeCounter_ElementWiseMaxConvergesRegardlessOfOrder(t *testing.T) {
	local := CounterValue{"alice": 5, "bob": 2}
	remote := CounterValue{"alice": 3, "bob": 7, "carol": 1}

	merged := MergeCounter(local, remote)
	assert.Equal(t, int64(5), merged["alice"])
	assert.Equal(t, int64(7), merged["bob"])
	assert.Equal(t, int64(1), merged["carol"])

	// commutative: merging the other direction yields the same totals
	other := MergeCounter(remote, local)
	assert.Equal(t, merged.Total(), other.Total())
}

func TestMergeCounter_DoesNotMutateInputs(t *testing.T) {
	local := CounterValue{"alice": 5}
	remote := CounterValue{"alice": 9}

	MergeCounter(local, remote)

	assert.Equal(t, int64(5), local["alice"])
	assert.Equal(t, int64(9), remote["alice"])
}
