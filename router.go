package memcache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/gomemcache/metaclient/meta"
)

// WriteFailureHandler is invoked when a write-class op (set/delete/
// arithmetic) fails with a server error and tracking wasn't suppressed.
// Handlers run synchronously outside any pool lock, after the failing
// op has returned control from I/O (spec §5); they must be
// non-blocking.
type WriteFailureHandler func(Key)

// RouterOptions controls per-call failure handling, overriding the
// Router's defaults (spec §4.5/§7 FailureHandling).
type RouterOptions struct {
	// RaiseOnServerError overrides Config.RaiseOnServerError for this
	// call when non-nil.
	RaiseOnServerError *bool
	// TrackWriteFailures controls whether a server-error on this call
	// invokes the write-failure hook. Only meaningful for write-class
	// ops (set/delete/arithmetic).
	TrackWriteFailures bool
	// IsWrite marks this call as write-class so the gutter fallback
	// clamps TTL flags to GutterTTL (spec §4.5).
	IsWrite bool
}

// Router maps a Key to a server pool via a ketama ring, with an
// optional secondary ("gutter") ring used when the primary server is
// down (spec §4.5).
type Router struct {
	ring  *ring
	pools map[string]*ServerPool

	gutterRing  *ring
	gutterPools map[string]*ServerPool
	gutterTTL   time.Duration

	raiseOnServerError bool

	mu       sync.Mutex
	handlers []WriteFailureHandler
}

// NewRouter builds per-server pools for servers (and, if non-empty,
// gutterServers) and wires them into two independent rings.
func NewRouter(servers []ServerAddress, gutterServers []ServerAddress, config Config) (*Router, error) {
	config = config.withDefaults()

	r := &Router{
		pools:              make(map[string]*ServerPool),
		gutterTTL:          config.GutterTTL,
		raiseOnServerError: config.RaiseOnServerError,
	}

	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		sp, err := NewServerPool(s.String(), config)
		if err != nil {
			return nil, err
		}
		r.pools[s.ID()] = sp
		ids = append(ids, s.ID())
	}
	r.ring = newRing(ids)

	if len(gutterServers) > 0 {
		r.gutterPools = make(map[string]*ServerPool)
		gutterIDs := make([]string, 0, len(gutterServers))
		for _, s := range gutterServers {
			sp, err := NewServerPool(s.String(), config)
			if err != nil {
				return nil, err
			}
			r.gutterPools[s.ID()] = sp
			gutterIDs = append(gutterIDs, s.ID())
		}
		r.gutterRing = newRing(gutterIDs)
	}

	return r, nil
}

// OnWriteFailure registers a handler invoked for write-class ops that
// fail with a server error and TrackWriteFailures is true. Per spec
// §9 OQ(c), a write the gutter absorbs does not invoke these handlers;
// a write that fails on both the primary and the gutter invokes them
// once.
func (r *Router) OnWriteFailure(h WriteFailureHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

func (r *Router) emitWriteFailure(key Key) {
	r.mu.Lock()
	handlers := append([]WriteFailureHandler(nil), r.handlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(key)
	}
}

// Exec routes req for key through the ring, falling back to the gutter
// ring on a primary server error if one is configured, then reduces the
// result per spec §7: a server-error-class failure either raises (as a
// Go error) or is silenced into a Miss-shaped response, depending on
// RaiseOnServerError.
func (r *Router) Exec(ctx context.Context, key Key, req *meta.Request, opts RouterOptions) (*meta.Response, error) {
	if r.ring.empty() {
		return nil, ErrNoServers
	}

	sp, ok := r.poolFor(key)
	if !ok {
		return nil, ErrNoServers
	}

	resp, err := sp.Execute(ctx, req)
	if err == nil && !resp.HasError() {
		return resp, nil
	}
	if err == nil {
		err = &ServerError{Server: sp.Address(), Err: resp.Error}
	}

	if r.gutterRing != nil && !r.gutterRing.empty() {
		gutterReq := req
		// Writes, and gets carrying a touch TTL (T), have their TTLs clamped.
		if opts.IsWrite || req.HasFlag(meta.FlagTTL) {
			gutterReq = clampRequestTTL(req, r.gutterTTL)
		}
		if gsp, ok := r.gutterPoolFor(key); ok {
			gresp, gerr := gsp.Execute(ctx, gutterReq)
			if gerr == nil && !gresp.HasError() {
				return gresp, nil
			}
			// Gutter failed too: fall through to the primary error; only
			// a write the gutter absorbed skips on_write_failure (spec §9 OQ-c).
		}
	}

	if opts.IsWrite && opts.TrackWriteFailures {
		r.emitWriteFailure(key)
	}

	raise := r.raiseOnServerError
	if opts.RaiseOnServerError != nil {
		raise = *opts.RaiseOnServerError
	}
	if raise {
		return nil, err
	}
	return &meta.Response{Status: meta.StatusEN}, nil
}

// GroupByServer partitions keys by the primary ServerPool their routing
// token maps to, so a caller (e.g. MultiGet) can pipeline one batch per
// server instead of one round trip per key (spec §4.7 multi_get).
func (r *Router) GroupByServer(keys []Key) map[*ServerPool][]Key {
	groups := make(map[*ServerPool][]Key)
	for _, k := range keys {
		sp, ok := r.poolFor(k)
		if !ok {
			continue
		}
		groups[sp] = append(groups[sp], k)
	}
	return groups
}

func (r *Router) poolFor(key Key) (*ServerPool, bool) {
	id, ok := r.ring.pick(key.RoutingToken)
	if !ok {
		return nil, false
	}
	sp, ok := r.pools[id]
	return sp, ok
}

func (r *Router) gutterPoolFor(key Key) (*ServerPool, bool) {
	id, ok := r.gutterRing.pick(key.RoutingToken)
	if !ok {
		return nil, false
	}
	sp, ok := r.gutterPools[id]
	return sp, ok
}

// GetCounters reports per-server pool counters for stats/metrics
// integration (spec §6's get_counters).
func (r *Router) GetCounters() map[string]PoolStats {
	out := make(map[string]PoolStats, len(r.pools))
	for id, sp := range r.pools {
		out[id] = sp.Stats().PoolStats
	}
	return out
}

// ServerStats reports the classic-protocol "stats" output for every
// primary server this Router routes to, keyed by server address. A
// single server's failure doesn't abort the others.
func (r *Router) ServerStats(ctx context.Context) map[string]map[string]string {
	out := make(map[string]map[string]string, len(r.pools))
	for id, sp := range r.pools {
		stats, err := sp.ServerStats(ctx)
		if err != nil {
			continue
		}
		out[id] = stats
	}
	return out
}

// Close closes every pool the Router owns, primary and gutter.
func (r *Router) Close() {
	for _, sp := range r.pools {
		sp.pool.Close()
	}
	for _, sp := range r.gutterPools {
		sp.pool.Close()
	}
}

// HealthCheck sweeps every idle connection in every pool: connections
// idle longer than maxIdleTime are closed outright, the rest are
// probed with a CmdNoOp and either put back or destroyed on failure.
// Not part of spec.md; supplements the original's connection pool
// maintenance loop (original_source/base/connection_pool.py keeps no
// background sweep of its own, but meta_memcache's higher-level
// CachePool documents the same idle-reap intent).
func (r *Router) HealthCheck(ctx context.Context, maxIdleTime time.Duration) {
	for _, sp := range r.pools {
		healthCheckPool(ctx, sp.pool, maxIdleTime)
	}
	for _, sp := range r.gutterPools {
		healthCheckPool(ctx, sp.pool, maxIdleTime)
	}
}

func healthCheckPool(ctx context.Context, p Pool, maxIdleTime time.Duration) {
	for _, res := range p.AcquireAllIdle() {
		if maxIdleTime > 0 && res.IdleDuration() > maxIdleTime {
			res.Destroy()
			continue
		}
		if _, err := res.Value().Send(meta.NewRequest(meta.CmdNoOp, "", nil, nil)); err != nil {
			res.Destroy()
			continue
		}
		res.ReleaseUnused()
	}
}

// clampRequestTTL returns a copy of req with any T (FlagTTL) or I
// (FlagInvalidate) token clamped to at most maxTTL seconds, per spec
// §4.5's gutter write/touch TTL override.
func clampRequestTTL(req *meta.Request, maxTTL time.Duration) *meta.Request {
	maxSeconds := int(maxTTL / time.Second)
	newFlags := make([]meta.Flag, len(req.Flags))
	copy(newFlags, req.Flags)
	for i, f := range newFlags {
		if f.Type != meta.FlagTTL && f.Type != meta.FlagInvalidate {
			continue
		}
		if f.Token == "" {
			continue
		}
		n, err := strconv.Atoi(f.Token)
		if err != nil || n < 0 {
			continue
		}
		if n > maxSeconds {
			newFlags[i].Token = strconv.Itoa(maxSeconds)
		}
	}
	return meta.NewRequest(req.Command, req.Key, req.Data, newFlags)
}
