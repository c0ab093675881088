package sync

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshdoc/core"
	"github.com/meshdoc/core/errors"
	"github.com/meshdoc/core/events"
)

func TestScheduler_SyncContext_SucceedsOnFirstAttempt(t *testing.T) {
	var calls int32
	sched := New(Config{MaxAttempts: 3}, events.NewSinks(), func(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy Strategy, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, nil)

	res, err := sched.SyncContext(context.Background(), core.ContextId{}, "peer-1", EntityDiff)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "ok", res.Outcome)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_SyncContext_RetriesTransportErrorsThenSucceeds(t *testing.T) {
	var calls int32
	sched := New(Config{MaxAttempts: 5, RetryBaseMS: 1, RetryCapMS: 1}, events.NewSinks(), func(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy Strategy, attempt int) error {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			return errors.NewErrTimeout("dial")
		}
		return nil
	}, nil)

	res, err := sched.SyncContext(context.Background(), core.ContextId{}, "peer-1", DagCatchup)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
}

func TestScheduler_SyncContext_NonRetryableErrorStopsImmediately(t *testing.T) {
	var calls int32
	sched := New(Config{MaxAttempts: 5}, events.NewSinks(), func(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy Strategy, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return errors.NewErrSignatureInvalid("author-1")
	}, nil)

	_, err := sched.SyncContext(context.Background(), core.ContextId{}, "peer-1", StateResync)
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestScheduler_SyncContext_ExhaustsRetriesAndReturnsLastError(t *testing.T) {
	var calls int32
	sched := New(Config{MaxAttempts: 3, RetryBaseMS: 1, RetryCapMS: 1}, events.NewSinks(), func(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy Strategy, attempt int) error {
		atomic.AddInt32(&calls, 1)
		return errors.NewErrTimeout("dial")
	}, nil)

	res, err := sched.SyncContext(context.Background(), core.ContextId{}, "peer-1", DagCatchup)
	assert.Error(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestScheduler_SyncContext_CoalescesConcurrentCallsForSamePeer(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	sched := New(Config{MaxAttempts: 1}, events.NewSinks(), func(ctx context.Context, ctxID core.ContextId, peerID core.PeerId, strategy Strategy, attempt int) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	}, nil)

	ctxID := core.HashBytes([]byte("ctx"))
	done := make(chan Result, 2)
	go func() {
		res, _ := sched.SyncContext(context.Background(), ctxID, "peer-1", EntityDiff)
		done <- res
	}()

	<-started
	go func() {
		res, _ := sched.SyncContext(context.Background(), ctxID, "peer-1", EntityDiff)
		done <- res
	}()

	close(release)
	first := <-done
	second := <-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, first, second)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(errors.KindTransport))
	assert.True(t, isRetryable(errors.KindMissingDependency))
	assert.True(t, isRetryable(errors.KindCapacity))
	assert.False(t, isRetryable(errors.KindIntegrity))
}
