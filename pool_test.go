package memcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gomemcache/metaclient/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockConnection() *Connection {
	return NewConnection(testutils.NewConnectionMock())
}

func TestPoolAcquireNeverBlocksAtCapacity(t *testing.T) {
	p, err := NewPool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Acquire(context.Background())
			assert.NoError(t, err)
			if err == nil {
				res.ReleaseUnused()
			}
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire blocked despite maxIdleSize cap")
	}
}

func TestPoolReleaseCapsIdleAtMaxSize(t *testing.T) {
	p, err := NewPool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 1)
	require.NoError(t, err)

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	r1.Release()
	r2.Release()

	stats := p.Stats()
	assert.LessOrEqual(t, stats.IdleConns, int32(1))
}

func TestPoolPoisonedConnectionIsNotReturnedToIdle(t *testing.T) {
	p, err := NewPool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 2)
	require.NoError(t, err)

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	res.Value().Poison()
	res.Release()

	idle := p.AcquireAllIdle()
	assert.Empty(t, idle)
}

func TestPoolMarkDownAfterConstructorFailure(t *testing.T) {
	var calls atomic.Int32
	failingErr := errors.New("dial refused")

	p, err := NewPoolWithMarkDown(func(ctx context.Context) (*Connection, error) {
		calls.Add(1)
		return nil, failingErr
	}, 1, time.Hour)
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Second acquire lands inside the mark-down window: it becomes the
	// prober, retries the constructor, and fails again.
	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(2), calls.Load())

	// A third acquire, still inside the (re-extended) window, must fast-fail
	// without re-probing: the prober slot is held across a failed probe,
	// not released immediately, so only one caller dials per window.
	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrServerMarkedDown)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPoolStatsUsableImmediatelyAfterConstruction(t *testing.T) {
	p, err := NewPool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 1)
	require.NoError(t, err)

	// Acquire's first line records a stat; this must not panic on a nil
	// inner *PoolStats.
	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	res.Release()

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.AcquireCount)
}

func TestPoolOnlyOneProberDuringMarkDown(t *testing.T) {
	internalPool, ok := mustNewPool(t).(*pool)
	require.True(t, ok)

	internalPool.markedDownUntil.Store(time.Now().Add(time.Hour).UnixNano())
	internalPool.proberClaimed.Store(true)

	_, err := internalPool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrServerMarkedDown)
}

func mustNewPool(t *testing.T) Pool {
	t.Helper()
	p, err := NewPool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 1)
	require.NoError(t, err)
	return p
}

func TestPoolAcquireAllIdleDrainsIdleSet(t *testing.T) {
	p, err := NewPool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 2)
	require.NoError(t, err)

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r1.Release()
	r2.Release()

	drained := p.AcquireAllIdle()
	assert.Len(t, drained, 2)
	assert.Empty(t, p.AcquireAllIdle())
}
