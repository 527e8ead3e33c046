package memcache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gomemcache/metaclient/meta"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

// CacheClient is the High-Level Command Layer (spec §4.7). It composes a
// MetaCommands dispatcher and a Codec by value, so callers never hand
// back a pointer cycle into the Router (spec §9). Construct with
// NewCacheClient rather than a bare struct literal, so the policies get
// their documented defaults.
type CacheClient struct {
	meta   MetaCommands
	codec  Codec
	stats  *clientStatsCollector
	failureHandling FailureHandling

	recachePolicy RecachePolicy
	leasePolicy   LeasePolicy
	stalePolicy   StalePolicy
}

// NewCacheClient builds a CacheClient over servers (and, optionally,
// gutterServers) using config. Policies default to DefaultRecachePolicy/
// DefaultLeasePolicy/an empty StalePolicy (stale-on-delete disabled);
// override via the With* methods.
func NewCacheClient(servers []ServerAddress, gutterServers []ServerAddress, config Config) (*CacheClient, error) {
	router, err := NewRouter(servers, gutterServers, config)
	if err != nil {
		return nil, err
	}
	config = config.withDefaults()
	return &CacheClient{
		meta:            *newMetaCommands(router),
		codec:           config.Codec,
		stats:           newClientStatsCollector(),
		failureHandling: DefaultFailureHandling,
		recachePolicy:   DefaultRecachePolicy,
		leasePolicy:     DefaultLeasePolicy,
	}, nil
}

// WithRecachePolicy returns a copy of c using policy for Get/MultiGet
// early-recache herd control.
func (c CacheClient) WithRecachePolicy(policy RecachePolicy) *CacheClient {
	c.recachePolicy = policy
	return &c
}

// WithLeasePolicy returns a copy of c using policy for GetOrLease.
func (c CacheClient) WithLeasePolicy(policy LeasePolicy) *CacheClient {
	c.leasePolicy = policy
	return &c
}

// WithStalePolicy returns a copy of c using policy for Delete/Set
// stale-marking behavior.
func (c CacheClient) WithStalePolicy(policy StalePolicy) *CacheClient {
	c.stalePolicy = policy
	return &c
}

// Close releases every underlying server pool.
func (c *CacheClient) Close() { c.meta.router.Close() }

// Stats returns a snapshot of operation counters.
func (c *CacheClient) Stats() ClientStats { return c.stats.snapshot() }

// GetCounters exposes per-server pool counters (spec §6).
func (c *CacheClient) GetCounters() map[string]PoolStats { return c.meta.router.GetCounters() }

// ServerStats reports the classic-protocol "stats" output for every
// primary server, keyed by server address.
func (c *CacheClient) ServerStats(ctx context.Context) map[string]map[string]string {
	return c.meta.ServerStats(ctx)
}

// OnWriteFailure registers a hook invoked when a write-class op fails
// with a server error (spec §4.5).
func (c *CacheClient) OnWriteFailure(h WriteFailureHandler) { c.meta.router.OnWriteFailure(h) }

// HealthCheckLoop runs Router.HealthCheck every interval until ctx is
// canceled, reaping idle connections older than maxIdleTime and
// probing the rest with a NoOp. Intended to run in its own goroutine:
//
//	go client.HealthCheckLoop(ctx, time.Minute, 5*time.Minute)
func (c *CacheClient) HealthCheckLoop(ctx context.Context, interval, maxIdleTime time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.meta.router.HealthCheck(ctx, maxIdleTime)
		}
	}
}

// Set stores value under key with the given ttl, encoding it with the
// client's Codec (spec §4.7).
func (c *CacheClient) Set(ctx context.Context, key Key, value any, ttl time.Duration, casToken uint64) (bool, error) {
	data, clientFlag, err := c.codec.Encode(value)
	if err != nil {
		return false, err
	}
	flags := RequestFlags{CacheTTL: ttl, ClientFlag: clientFlag}
	if casToken != 0 {
		flags.CASToken = casToken
		if c.stalePolicy.MarkStaleOnCASMismatch {
			flags.MarkStale = true
		}
	}
	resp, err := c.meta.Set(ctx, key, data, flags, c.failureHandling)
	c.stats.recordSet()
	if err != nil {
		c.stats.recordError()
		return false, err
	}
	return resp.IsSuccess(), nil
}

// Refill stores value only if key does not already exist (ModeAdd).
func (c *CacheClient) Refill(ctx context.Context, key Key, value any, ttl time.Duration) (bool, error) {
	data, clientFlag, err := c.codec.Encode(value)
	if err != nil {
		return false, err
	}
	flags := RequestFlags{CacheTTL: ttl, ClientFlag: clientFlag, Mode: ModeAdd}
	resp, err := c.meta.Set(ctx, key, data, flags, c.failureHandling)
	c.stats.recordAdd()
	if err != nil {
		c.stats.recordError()
		return false, err
	}
	return resp.IsSuccess(), nil
}

// Delete removes key, or marks it stale if StalePolicy.MarkStaleOnDeletionTTL
// is set (spec §4.7).
func (c *CacheClient) Delete(ctx context.Context, key Key, casToken uint64) (bool, error) {
	flags := RequestFlags{}
	if casToken != 0 {
		flags.CASToken = casToken
	}
	if c.stalePolicy.MarkStaleOnDeletionTTL > 0 {
		flags.MarkStale = true
		flags.CacheTTL = c.stalePolicy.MarkStaleOnDeletionTTL
	}
	resp, err := c.meta.Delete(ctx, key, flags, c.failureHandling)
	c.stats.recordDelete()
	if err != nil {
		c.stats.recordError()
		return false, err
	}
	return resp.IsSuccess(), nil
}

// Invalidate marks key stale immediately with the given grace ttl,
// bypassing StalePolicy (spec §4.7's explicit invalidate operation).
// Like Delete, but a NotFound also counts as true.
func (c *CacheClient) Invalidate(ctx context.Context, key Key, ttl time.Duration) (bool, error) {
	flags := RequestFlags{MarkStale: true, CacheTTL: ttl}
	resp, err := c.meta.Delete(ctx, key, flags, c.failureHandling)
	c.stats.recordDelete()
	if err != nil {
		c.stats.recordError()
		return false, err
	}
	// Unlike Delete, a NotFound counts as success here: invalidating an
	// already-absent key is the outcome the caller wanted.
	return resp.IsSuccess() || resp.IsMiss(), nil
}

// Touch refreshes key's TTL without fetching its value.
func (c *CacheClient) Touch(ctx context.Context, key Key, ttl time.Duration) (bool, error) {
	flags := RequestFlags{CacheTTL: ttl}
	resp, err := c.meta.Get(ctx, key, flags, c.failureHandling)
	if err != nil {
		c.stats.recordError()
		return false, err
	}
	return resp.IsSuccess(), nil
}

func (c *CacheClient) getFlags(touchTTL time.Duration, leaseTTL time.Duration, returnCAS bool) RequestFlags {
	flags := NewRequestFlags()
	flags.ReturnTTL = true
	flags.ReturnClientFlag = true
	flags.ReturnLastAccess = true
	flags.ReturnHit = true
	flags.RecacheTTL = c.recachePolicy.TTL
	if returnCAS {
		flags.ReturnCASToken = true
	}
	if leaseTTL > 0 {
		flags.VivifyOnMissTTL = leaseTTL
	}
	if touchTTL > 0 {
		flags.CacheTTL = touchTTL
	}
	return flags
}

// decodeGetResult decodes resp into v, mimicking a Miss when the W
// (win) flag is present (spec §4.7: the winner of a recache/lease race
// must behave as if it got nothing, so it repopulates).
func (c *CacheClient) decodeGetResult(resp *meta.Response, v any) (hit bool, err error) {
	if !resp.IsSuccess() || resp.Status != meta.StatusVA {
		return false, nil
	}
	if resp.HasWinFlag() {
		return false, nil
	}
	clientFlag, _ := resp.GetFlagInt(meta.FlagReturnClientFlags)
	if err := c.codec.Decode(resp.Data, uint32(clientFlag), v); err != nil {
		return false, err
	}
	return true, nil
}

// Get fetches key's value into v, returning whether it was found.
func (c *CacheClient) Get(ctx context.Context, key Key, v any, touchTTL time.Duration) (bool, error) {
	found, _, err := c.GetCAS(ctx, key, v, touchTTL)
	return found, err
}

// GetCAS fetches key's value into v, also returning its CAS token.
func (c *CacheClient) GetCAS(ctx context.Context, key Key, v any, touchTTL time.Duration) (bool, uint64, error) {
	flags := c.getFlags(touchTTL, 0, true)
	resp, err := c.meta.Get(ctx, key, flags, c.failureHandling)
	if err != nil {
		c.stats.recordError()
		return false, 0, err
	}
	found, err := c.decodeGetResult(resp, v)
	c.stats.recordGet(found)
	if err != nil {
		return false, 0, err
	}
	cas, _ := resp.GetFlagUint64(meta.FlagReturnCAS)
	return found, cas, nil
}

// GetTyped is Get with ErrorOnTypeMismatch honored via FailureHandling:
// by default a decode type mismatch is silently treated as a miss.
func (c *CacheClient) GetTyped(ctx context.Context, key Key, v any, touchTTL time.Duration) (bool, error) {
	found, err := c.Get(ctx, key, v, touchTTL)
	if err != nil {
		if _, ok := err.(*TypeMismatchError); ok && !c.failureHandling.ErrorOnTypeMismatch {
			return false, nil
		}
		return false, err
	}
	return found, nil
}

// GetOrLease fetches key, vivifying a lease placeholder on miss so only
// one concurrent caller repopulates while the rest retry with backoff
// (spec §4.7). A real Miss is also treated as a winner, and so is a
// caller still losing the lease on its last attempt: the caller is
// expected to populate the value itself.
func (c *CacheClient) GetOrLease(ctx context.Context, key Key, v any, touchTTL time.Duration) (won bool, err error) {
	won, _, err = c.GetOrLeaseCAS(ctx, key, v, touchTTL)
	return won, err
}

// GetOrLeaseCAS is GetOrLease, also returning the CAS token the server
// sent with the reply: the value's token, or the placeholder's token
// when the caller won the lease (0 on a real Miss).
func (c *CacheClient) GetOrLeaseCAS(ctx context.Context, key Key, v any, touchTTL time.Duration) (won bool, cas uint64, err error) {
	if c.leasePolicy.MissRetries <= 0 {
		return false, 0, fmt.Errorf("memcache: lease policy MissRetries must be > 0")
	}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			wait := c.leasePolicy.nextWait(attempt - 1)
			timer := time.NewTimer(jitter(key, attempt, wait))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return false, 0, ctx.Err()
			}
		}

		flags := c.getFlags(touchTTL, c.leasePolicy.TTL, true)
		resp, err := c.meta.Get(ctx, key, flags, c.failureHandling)
		if err != nil {
			c.stats.recordError()
			return false, 0, err
		}
		// A real Miss (no vivify token reached the server, or the server
		// doesn't support vivify-on-miss) is also treated as a winner: the
		// caller is expected to populate the value itself, same as when it
		// holds the lease.
		if resp.IsMiss() {
			c.stats.recordGet(false)
			return true, 0, nil
		}
		if !resp.IsSuccess() {
			return false, 0, fmt.Errorf("memcache: unexpected response %v for lease get on %v", resp.Status, key)
		}

		casToken, _ := resp.GetFlagUint64(meta.FlagReturnCAS)

		if resp.HasWinFlag() {
			// We hold the lease: caller must populate. Mimic a miss.
			c.stats.recordGet(false)
			return true, casToken, nil
		}
		if len(resp.Data) == 0 && resp.HasAlreadyWonFlag() {
			if attempt+1 < c.leasePolicy.MissRetries {
				continue
			}
			c.stats.recordGet(false)
			return true, casToken, nil
		}

		clientFlag, _ := resp.GetFlagInt(meta.FlagReturnClientFlags)
		if err := c.codec.Decode(resp.Data, uint32(clientFlag), v); err != nil {
			return false, casToken, err
		}
		c.stats.recordGet(true)
		return false, casToken, nil
	}
}

// jitter derives a small, per-key deterministic jitter (0-20%) added to
// wait, spreading out retries from callers contending on the same key
// instead of waking in lockstep.
func jitter(key Key, attempt int, wait time.Duration) time.Duration {
	h := xxh3.HashString(fmt.Sprintf("%s#%d", key.RoutingToken, attempt))
	pct := float64(h%20) / 100.0
	return wait + time.Duration(float64(wait)*pct)
}

// MultiGet fetches many keys in one pipelined round trip per server
// (spec §4.7). results is keyed by the StorageToken of each input Key.
func (c *CacheClient) MultiGet(ctx context.Context, keys []Key, into func(key Key) any) (map[string]bool, error) {
	groups := c.meta.router.GroupByServer(keys)
	found := make(map[string]bool, len(keys))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for sp, groupKeys := range groups {
		sp, groupKeys := sp, groupKeys
		g.Go(func() error {
			reqs := make([]*meta.Request, len(groupKeys))
			flagsByOpaque := make(map[string]Key, len(groupKeys))
			for i, k := range groupKeys {
				flags := c.getFlags(0, 0, false)
				flags.Opaque = fmt.Sprintf("%x", xxh3.HashString(k.StorageToken))
				req := newWireRequest(meta.CmdGet, k, nil)
				flags.applyGet(req)
				reqs[i] = req
				flagsByOpaque[flags.Opaque] = k
			}

			resps, err := sp.ExecuteBatch(ctx, reqs)
			if err != nil {
				// Connection-level failure: fall back to per-key routing
				// (which includes gutter fallback) instead of failing the
				// whole group.
				for _, k := range groupKeys {
					flags := c.getFlags(0, 0, false)
					resp, ferr := c.meta.Get(ctx, k, flags, c.failureHandling)
					if ferr != nil {
						continue
					}
					hit, _ := c.decodeGetResult(resp, into(k))
					mu.Lock()
					found[k.StorageToken] = hit
					mu.Unlock()
				}
				return nil
			}

			for _, resp := range resps {
				opaque, _ := resp.GetFlagToken(meta.FlagOpaque)
				k, ok := flagsByOpaque[opaque]
				if !ok {
					continue
				}
				hit, _ := c.decodeGetResult(resp, into(k))
				mu.Lock()
				found[k.StorageToken] = hit
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return found, err
	}
	for _, k := range keys {
		c.stats.recordGet(found[k.StorageToken])
	}
	return found, nil
}

// Delta applies delta (positive increments, negative decrements) to
// key's numeric value.
func (c *CacheClient) Delta(ctx context.Context, key Key, delta int64, refreshTTL time.Duration, casToken uint64) (bool, error) {
	flags := c.deltaFlags(delta, refreshTTL, casToken, false)
	resp, err := c.meta.Arithmetic(ctx, key, flags, c.failureHandling)
	c.stats.recordIncrement()
	if err != nil {
		c.stats.recordError()
		return false, err
	}
	return resp.IsSuccess(), nil
}

// DeltaInitialize applies delta, vivifying the key with initialValue
// and initialTTL if it doesn't exist yet.
func (c *CacheClient) DeltaInitialize(ctx context.Context, key Key, delta, initialValue int64, initialTTL time.Duration, refreshTTL time.Duration, casToken uint64) (bool, error) {
	flags := c.deltaFlags(delta, refreshTTL, casToken, false)
	flags.VivifyOnMissTTL = initialTTL
	flags.InitialValue = absInt64(initialValue)
	resp, err := c.meta.Arithmetic(ctx, key, flags, c.failureHandling)
	c.stats.recordIncrement()
	if err != nil {
		c.stats.recordError()
		return false, err
	}
	return resp.IsSuccess(), nil
}

// DeltaAndGet is Delta, additionally returning the new value.
func (c *CacheClient) DeltaAndGet(ctx context.Context, key Key, delta int64, refreshTTL time.Duration, casToken uint64) (int64, bool, error) {
	flags := c.deltaFlags(delta, refreshTTL, casToken, true)
	resp, err := c.meta.Arithmetic(ctx, key, flags, c.failureHandling)
	c.stats.recordIncrement()
	if err != nil {
		c.stats.recordError()
		return 0, false, err
	}
	if resp.Status != meta.StatusVA {
		return 0, false, nil
	}
	// Arithmetic replies are always a plain ASCII integer on the wire,
	// never gob/binary/compressed, so this bypasses the value codec
	// entirely rather than guessing a client flag.
	n, err := strconv.ParseInt(string(resp.Data), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("memcache: parse arithmetic result: %w", err)
	}
	return n, true, nil
}

// DeltaInitializeAndGet is DeltaAndGet, vivifying on miss.
func (c *CacheClient) DeltaInitializeAndGet(ctx context.Context, key Key, delta, initialValue int64, initialTTL time.Duration, refreshTTL time.Duration, casToken uint64) (int64, bool, error) {
	flags := c.deltaFlags(delta, refreshTTL, casToken, true)
	flags.VivifyOnMissTTL = initialTTL
	flags.InitialValue = absInt64(initialValue)
	resp, err := c.meta.Arithmetic(ctx, key, flags, c.failureHandling)
	c.stats.recordIncrement()
	if err != nil {
		c.stats.recordError()
		return 0, false, err
	}
	if resp.Status != meta.StatusVA {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(string(resp.Data), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("memcache: parse arithmetic result: %w", err)
	}
	return n, true, nil
}

func (c *CacheClient) deltaFlags(delta int64, refreshTTL time.Duration, casToken uint64, returnValue bool) RequestFlags {
	flags := RequestFlags{
		DeltaValue:  absInt64(delta),
		ReturnValue: returnValue,
		Mode:        ModeIncrement,
	}
	if delta < 0 {
		flags.Mode = ModeDecrement
	}
	if refreshTTL > 0 {
		flags.CacheTTL = refreshTTL
	}
	if casToken != 0 {
		flags.CASToken = casToken
	}
	return flags
}

func absInt64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
