package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecorder_CountersCallableWithoutPanicking(t *testing.T) {
	rec, err := NewRecorder()
	require.NoError(t, err)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		rec.DeltaApplied(ctx, "ctx-1")
		rec.DeltaAuthored(ctx, "ctx-1")
		rec.SyncAttempt(ctx, "EntityDiff", "ok")
		rec.GossipReceived(ctx, "DeltaBroadcast")
		rec.VerificationFailure(ctx, "artifact-mismatch")
	})

	assert.NoError(t, rec.Close(ctx))
}

func TestNilRecorder_IsSafeNoOp(t *testing.T) {
	var rec *Recorder
	ctx := context.Background()

	assert.NotPanics(t, func() {
		rec.DeltaApplied(ctx, "ctx-1")
		rec.DeltaAuthored(ctx, "ctx-1")
		rec.SyncAttempt(ctx, "EntityDiff", "ok")
		rec.GossipReceived(ctx, "DeltaBroadcast")
		rec.VerificationFailure(ctx, "artifact-mismatch")
	})
	assert.NoError(t, rec.Close(ctx))
}
