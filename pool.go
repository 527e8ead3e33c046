package memcache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gomemcache/metaclient/internal/coarsetime"
)

// Resource is a leased Connection plus the bookkeeping a Pool needs to
// take it back. Value returns the Connection to use; exactly one of
// Release, ReleaseUnused, or Destroy must be called when done with it.
type Resource interface {
	Value() *Connection
	Release()
	ReleaseUnused()
	Destroy()
	CreationTime() time.Time
	IdleDuration() time.Duration
}

// Pool manages Connections to a single server. In the default pool
// (NewPool) Acquire never blocks waiting for a free connection (spec
// §4.3): it pops an idle connection if one is available, otherwise it
// always opens a new one, so max_pool_size caps only the retained *idle*
// set, enforced on Release, not the total number of connections in
// flight. NewPuddlePool is the exception: its Acquire blocks once
// maxSize connections are in use.
type Pool interface {
	Acquire(ctx context.Context) (Resource, error)
	AcquireAllIdle() []Resource
	Close()
	Stats() PoolStats
}

// PoolFactory builds a Pool for one server. Config.NewPool is the
// injection point a Router uses when constructing per-server pools.
type PoolFactory func(constructor func(ctx context.Context) (*Connection, error), maxIdleSize int32) (Pool, error)

// NewPool creates the default Pool implementation: a no-block
// idle-connection cache backed by a buffered channel, with a mark-down
// circuit per spec §4.3's acquisition policy. maxIdleSize bounds only
// how many Idle connections are retained across Releases.
func NewPool(constructor func(ctx context.Context) (*Connection, error), maxIdleSize int32) (Pool, error) {
	return NewPoolWithMarkDown(constructor, maxIdleSize, defaultMarkDownPeriod)
}

// NewPoolWithMarkDown is NewPool with an explicit mark-down window,
// matching spec §6's `mark_down_period_s` configuration knob.
func NewPoolWithMarkDown(constructor func(ctx context.Context) (*Connection, error), maxIdleSize int32, markDownPeriod time.Duration) (Pool, error) {
	if maxIdleSize <= 0 {
		maxIdleSize = 1
	}
	return &pool{
		constructor:    constructor,
		maxIdleSize:    maxIdleSize,
		markDownPeriod: markDownPeriod,
		idle:           make(chan *poolResource, maxIdleSize),
		stats:          newPoolStatsCollector(),
	}, nil
}

const defaultMarkDownPeriod = 10 * time.Second

// poolResource implements Resource for the default pool.
type poolResource struct {
	conn         *Connection
	pool         *pool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *poolResource) Value() *Connection { return r.conn }

func (r *poolResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.release(r)
}

func (r *poolResource) ReleaseUnused() {
	r.pool.release(r)
}

func (r *poolResource) Destroy() {
	r.conn.Close()
	r.pool.discard()
}

func (r *poolResource) CreationTime() time.Time { return r.creationTime }

func (r *poolResource) IdleDuration() time.Duration { return time.Since(r.lastUsedTime) }

// pool is the default Pool: Acquire pops Idle or opens new (never
// blocks); Release caps the retained Idle set at maxIdleSize. Mark-down
// state is a pair of atomics (deadline, prober-claimed) per spec §5: "an
// atomic record {deadline, prober_claimed_at}; claiming the prober slot
// uses compare-and-set."
type pool struct {
	constructor    func(ctx context.Context) (*Connection, error)
	maxIdleSize    int32
	markDownPeriod time.Duration

	idle chan *poolResource

	markedDownUntil atomic.Int64 // unix nanoseconds; 0 == healthy
	proberClaimed   atomic.Bool

	closed atomic.Bool
	stats  *poolStatsCollector
}

func (p *pool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	if p.closed.Load() {
		p.stats.recordAcquireError()
		return nil, context.Canceled
	}

	if deadline := p.markedDownUntil.Load(); deadline != 0 {
		if time.Now().UnixNano() < deadline {
			return p.acquireDuringMarkDown(ctx)
		}
		// Window elapsed: release the held prober slot so the next
		// acquirer becomes the implicit prober.
		if p.markedDownUntil.CompareAndSwap(deadline, 0) {
			p.proberClaimed.Store(false)
		}
	}

	select {
	case res := <-p.idle:
		p.stats.recordAcquireFromIdle()
		return res, nil
	default:
	}

	return p.open(ctx)
}

// acquireDuringMarkDown implements spec §4.3 step 1: while MarkedDown,
// only the single request that wins the prober compare-and-swap
// attempts a real connect; everyone else fails fast.
func (p *pool) acquireDuringMarkDown(ctx context.Context) (Resource, error) {
	if !p.proberClaimed.CompareAndSwap(false, true) {
		p.stats.recordAcquireError()
		return nil, ErrServerMarkedDown
	}

	res, err := p.open(ctx)
	if err != nil {
		// Still down: open already extended markedDownUntil. Keep holding
		// the prober slot until that window actually elapses (released in
		// Acquire's window-elapsed branch) so only one probe happens per
		// mark-down window, instead of every in-window caller re-probing.
		return nil, err
	}

	p.markedDownUntil.Store(0)
	p.proberClaimed.Store(false)
	return res, nil
}

func (p *pool) open(ctx context.Context) (Resource, error) {
	conn, err := p.constructor(ctx)
	if err != nil {
		p.markedDownUntil.Store(time.Now().Add(p.markDownPeriod).UnixNano())
		p.stats.recordAcquireError()
		return nil, err
	}

	p.stats.recordCreate()
	p.stats.recordActivate()

	now := coarsetime.Now()
	return &poolResource{conn: conn, pool: p, creationTime: now, lastUsedTime: now}, nil
}

// release implements spec §4.3's release policy: poisoned connections
// close and trip mark-down; otherwise return to Idle if there's room,
// else close.
func (p *pool) release(r *poolResource) {
	if r.conn.IsPoisoned() {
		r.conn.Close()
		p.stats.recordDestroy()
		p.markedDownUntil.Store(time.Now().Add(p.markDownPeriod).UnixNano())
		return
	}

	if p.closed.Load() {
		r.conn.Close()
		p.stats.recordDestroy()
		return
	}

	select {
	case p.idle <- r:
		p.stats.recordRelease()
	default:
		r.conn.Close()
		p.stats.recordDestroy()
	}
}

func (p *pool) discard() {
	p.stats.recordDestroy()
}

func (p *pool) AcquireAllIdle() []Resource {
	var out []Resource
	for {
		select {
		case res := <-p.idle:
			p.stats.recordAcquireFromIdle()
			out = append(out, res)
		default:
			return out
		}
	}
}

func (p *pool) Close() {
	p.closed.Store(true)
	close(p.idle)
	for res := range p.idle {
		res.conn.Close()
	}
}

func (p *pool) Stats() PoolStats {
	return p.stats.snapshot()
}
