package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meshdoc/core"
)

func TestMergeLWW_HigherTimestampWins(t *testing.T) {
	local := LwwValue{Data: []byte("a"), Timestamp: core.HybridTimestamp{PhysicalMS: 1}}
	remote := LwwValue{Data: []byte("b"), Timestamp: core.HybridTimestamp{PhysicalMS: 2}}

	assert.Equal(t, remote, MergeLWW(local, remote))
	assert.Equal(t, remote, MergeLWW(remote, local))
}

func TestMergeLWW_TieBreaksOnLexicallyGreaterValue(t *testing.T) {
	ts := core.HybridTimestamp{PhysicalMS: 1}
	low := LwwValue{Data: []byte("aaa"), Timestamp: ts}
	high := LwwValue{Data: []byte("zzz"), Timestamp: ts}

	assert.Equal(t, high, MergeLWW(low, high))
	assert.Equal(t, high, MergeLWW(high, low))
}

func TestMergeLWW_ExactTieIsDeterministicOnBothNodes(t *testing.T) {
	ts := core.HybridTimestamp{PhysicalMS: 1}
	a := LwwValue{Data: []byte("same"), Timestamp: ts}
	b := LwwValue{Data: []byte("same"), Timestamp: ts}

	// Both orderings must converge to the same result independent of
	// which side called Merge first (commutativity).
	assert.Equal(t, MergeLWW(a, b), MergeLWW(b, a))
}

func TestSetLWW(t *testing.T) {
	ts := core.HybridTimestamp{PhysicalMS: 42, Logical: 1}
	v := SetLWW([]byte("value"), ts)
	assert.Equal(t, []byte("value"), v.Data)
	assert.Equal(t, ts, v.Timestamp)
}
