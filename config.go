package memcache

import (
	"context"
	"net"
	"time"

	"github.com/gomemcache/metaclient/meta"
	"github.com/sony/gobreaker/v2"
)

// Dialer opens the TCP connection to a server. The default applies
// ConnectTimeout (NoDelay is applied afterwards to any *net.TCPConn a
// Dialer returns); inject your own to add TLS, auth, or unix
// sockets, per spec §9's SocketFactory abstraction.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config configures a CacheClient's pools, ring, and policies. Zero
// value Config is valid; NewConfig returns the effective defaults
// it falls back to, mirroring
// original_source/src/meta_memcache/configuration.py's
// connection_pool_factory_builder.
type Config struct {
	// InitialPoolSize is eagerly opened per server on construction.
	// Default 1.
	InitialPoolSize int
	// MaxSize caps the retained Idle connections per server pool.
	// Default 3.
	MaxSize int32
	// MarkDownPeriod is how long a server stays MarkedDown after a
	// failed connect before the next prober tries again. Default 10s.
	MarkDownPeriod time.Duration
	// ConnectTimeout bounds opening a new socket. Default 1s.
	ConnectTimeout time.Duration
	// RecvTimeout bounds each read. Default 1s.
	RecvTimeout time.Duration
	// NoDelay disables Nagle's algorithm. Default true.
	NoDelay bool
	// ReadBufferSize sizes each Connection's bufio.Reader. Default 4096.
	ReadBufferSize int

	// GutterTTL clamps write/touch TTLs when a request falls back to the
	// gutter pool (spec §4.5). Default 30s.
	GutterTTL time.Duration

	// RaiseOnServerError is the default FailureHandling.RaiseOnServerError
	// applied when a call doesn't override it. Default false (reads
	// surface Miss, writes surface false).
	RaiseOnServerError bool

	// Dialer opens sockets; defaults to a net.Dialer built from
	// ConnectTimeout.
	Dialer Dialer

	// NewPool builds the per-server Pool; defaults to the no-block pool
	// (pool.go). Inject NewPuddlePool for a bounded, blocking pool.
	NewPool PoolFactory

	// NewCircuitBreaker builds the per-server gobreaker wrapper used by
	// ServerPool. A nil value is replaced by the default breaker
	// (NewCircuitBreakerConfig with MaxRequests 1 and MarkDownPeriod as
	// its timeout), so circuit breaking cannot be turned off through
	// Config; the pool's own mark-down state machine applies as well.
	NewCircuitBreaker func(serverAddr string) *gobreaker.CircuitBreaker[*meta.Response]

	// Codec encodes/decodes user values. Defaults to MixedCodec.
	Codec Codec
}

// withDefaults fills zero-valued fields with their documented defaults.
// Returns a new Config; the receiver is not mutated.
func (c Config) withDefaults() Config {
	out := c
	if out.InitialPoolSize == 0 {
		out.InitialPoolSize = 1
	}
	if out.MaxSize == 0 {
		out.MaxSize = 3
	}
	if out.MarkDownPeriod == 0 {
		out.MarkDownPeriod = defaultMarkDownPeriod
	}
	if out.ConnectTimeout == 0 {
		out.ConnectTimeout = time.Second
	}
	if out.RecvTimeout == 0 {
		out.RecvTimeout = time.Second
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = DefaultReadBufferSize
	}
	if out.GutterTTL == 0 {
		out.GutterTTL = 30 * time.Second
	}
	if out.Dialer == nil {
		out.Dialer = &net.Dialer{Timeout: out.ConnectTimeout}
	}
	if out.NewPool == nil {
		markDownPeriod := out.MarkDownPeriod
		out.NewPool = func(constructor func(ctx context.Context) (*Connection, error), maxIdleSize int32) (Pool, error) {
			return NewPoolWithMarkDown(constructor, maxIdleSize, markDownPeriod)
		}
	}
	if out.Codec == nil {
		out.Codec = NewMixedCodec()
	}
	if out.NewCircuitBreaker == nil {
		out.NewCircuitBreaker = NewCircuitBreakerConfig(1, 0, out.MarkDownPeriod)
	}
	// NoDelay is left as given: its zero value false cannot be told apart
	// from an explicit false, so the default of true comes from NewConfig;
	// a Config built by hand gets literal false.
	return out
}

// NewConfig returns Config with every documented default applied,
// including NoDelay=true, which the bare zero value can't represent.
func NewConfig() Config {
	cfg := Config{NoDelay: true}
	return cfg.withDefaults()
}
