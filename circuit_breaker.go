package memcache

import (
	"time"

	"github.com/gomemcache/metaclient/meta"
	"github.com/sony/gobreaker/v2"
)

// NewCircuitBreakerConfig returns a function that builds one
// CircuitBreaker[*meta.Response] per server address. This is the
// gobreaker-based stand-in for spec §4.3's per-server mark-down state
// machine: StateOpen corresponds to MarkedDown (fail fast), the
// half-open state with MaxRequests=1 is the single designated prober,
// and Timeout is mark_down_period_s.
func NewCircuitBreakerConfig(maxRequests uint32, interval, timeout time.Duration) func(string) *gobreaker.CircuitBreaker[*meta.Response] {
	return func(serverAddr string) *gobreaker.CircuitBreaker[*meta.Response] {
		settings := gobreaker.Settings{
			Name:        serverAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return gobreaker.NewCircuitBreaker[*meta.Response](settings)
	}
}
