package memcache

import (
	"strconv"
	"strings"
)

// ServerAddress identifies a memcached server: its dial target plus the
// identity used for ring placement and pool keying. ID normally derives
// from Host/Port, but can be overridden so a server can be swapped
// in-place (new IP, same ring position) without reshuffling the ring.
type ServerAddress struct {
	Host string
	Port int

	// OverrideID, when non-empty, is used instead of "host:port" for the
	// ring identity and pool map key. Useful for maintaining ring
	// continuity across a planned IP change.
	OverrideID string
}

// ID returns the identity string used to place this server on the hash
// ring and to key the per-server pool map.
func (s ServerAddress) ID() string {
	if s.OverrideID != "" {
		return s.OverrideID
	}
	return s.String()
}

// String renders "host:port", bracketing the host if it looks like an
// IPv6 literal.
func (s ServerAddress) String() string {
	port := strconv.Itoa(s.Port)
	if strings.Contains(s.Host, ":") {
		return "[" + s.Host + "]:" + port
	}
	return s.Host + ":" + port
}
