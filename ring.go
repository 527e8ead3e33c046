package memcache

import (
	"crypto/md5"
	"encoding/binary"
	"sort"
	"strconv"
)

// vnodesPerServer is fixed at 160, matching the widely deployed ketama
// scheme referenced in spec §6. Changing it reshuffles routing for an
// existing deployment, so it is not exposed as a config knob.
const vnodesPerServer = 160

// ring is a ketama-style consistent hash ring: each server contributes
// vnodesPerServer points, keyed by MD5("{address}-{vnode_idx}"). Key
// lookup hashes the routing token with MD5 and walks to the first ring
// point whose hash is >= the key's hash, wrapping around. The ring is
// immutable after construction (spec §5: "lookups are lock-free").
type ring struct {
	points  []uint32
	servers []string // servers[i] is the ServerAddress.ID() for points[i]
}

// newRing builds a ring from server identities. Order of serverIDs does
// not affect the resulting point set (P4: routing determinism is a pure
// function of the server set and the key, not of input order), but
// newRing sorts internally regardless so construction is deterministic.
func newRing(serverIDs []string) *ring {
	ids := append([]string(nil), serverIDs...)
	sort.Strings(ids)

	r := &ring{}
	for _, id := range ids {
		for v := 0; v < vnodesPerServer; v++ {
			sum := md5.Sum([]byte(id + "-" + strconv.Itoa(v)))
			h := binary.BigEndian.Uint32(sum[0:4])
			r.points = append(r.points, h)
			r.servers = append(r.servers, id)
		}
	}

	idx := make([]int, len(r.points))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return r.points[idx[a]] < r.points[idx[b]] })

	sortedPoints := make([]uint32, len(idx))
	sortedServers := make([]string, len(idx))
	for i, j := range idx {
		sortedPoints[i] = r.points[j]
		sortedServers[i] = r.servers[j]
	}
	r.points = sortedPoints
	r.servers = sortedServers
	return r
}

// pick maps a routing token to a server ID via MD5(routingToken) and a
// smallest-hash->=key binary search over the sorted ring points, with
// wraparound to index 0 past the end.
func (r *ring) pick(routingToken string) (string, bool) {
	if len(r.points) == 0 {
		return "", false
	}
	sum := md5.Sum([]byte(routingToken))
	h := binary.BigEndian.Uint32(sum[0:4])

	i := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.servers[i], true
}

// empty reports whether the ring has no servers.
func (r *ring) empty() bool {
	return len(r.points) == 0
}
