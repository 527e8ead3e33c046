package memcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPuddlePoolAcquireAndRelease(t *testing.T) {
	p, err := NewPuddlePool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 2)
	require.NoError(t, err)
	defer p.Close()

	res, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, res.Value())
	res.Release()

	stats := p.Stats()
	assert.Equal(t, int32(1), stats.TotalConns)
	assert.Equal(t, int32(1), stats.IdleConns)
}

func TestPuddlePoolBlocksAtMaxSize(t *testing.T) {
	p, err := NewPuddlePool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 1)
	require.NoError(t, err)
	defer p.Close()

	held, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	acquired := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		res, err := p.Acquire(context.Background())
		assert.NoError(t, err)
		close(acquired)
		if err == nil {
			res.Release()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire returned before the held resource was released")
	case <-time.After(50 * time.Millisecond):
	}

	held.Release()
	wg.Wait()
}

func TestPuddlePoolAcquireAllIdleDrainsIdleSet(t *testing.T) {
	p, err := NewPuddlePool(func(ctx context.Context) (*Connection, error) {
		return newMockConnection(), nil
	}, 2)
	require.NoError(t, err)
	defer p.Close()

	r1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	r1.Release()
	r2.Release()

	drained := p.AcquireAllIdle()
	assert.Len(t, drained, 2)
	assert.Empty(t, p.AcquireAllIdle())
	for _, r := range drained {
		r.Destroy()
	}
}

func TestNewServerPoolAcceptsPuddlePoolFactory(t *testing.T) {
	config := NewConfig()
	config.Dialer = &fakeServerDialer{handle: func(cmd, key string, flags []string, data []byte) string {
		return "HD\r\n"
	}}
	config.NewPool = NewPuddlePool

	sp, err := NewServerPool("fake:11211", config)
	require.NoError(t, err)

	stats := sp.Stats()
	assert.Equal(t, "fake:11211", stats.Addr)
}
