package memcache

import (
	"encoding/base64"

	"github.com/gomemcache/metaclient/meta"
)

// Key is a cache key: a routing token used for ring placement and a
// storage token sent on the wire, which may differ so related keys can
// be colocated on the same server. Domain optionally tags the key for
// per-domain codec selection and metrics.
type Key struct {
	RoutingToken string
	StorageToken string
	Domain       string
}

// NewKey builds a Key whose routing and storage tokens are the same
// string, the common case.
func NewKey(key string) Key {
	return Key{RoutingToken: key, StorageToken: key}
}

// NewKeyWithRoute builds a Key that hashes on routingToken but stores
// under storageToken, letting related keys share a server.
func NewKeyWithRoute(routingToken, storageToken string) Key {
	return Key{RoutingToken: routingToken, StorageToken: storageToken}
}

// needsBinaryEncoding reports whether the storage token must be sent as
// base64 per spec §3/§4.1: non-ASCII bytes, over the protocol's key
// length limit, or containing whitespace.
func (k Key) needsBinaryEncoding() bool {
	if len(k.StorageToken) == 0 || len(k.StorageToken) > meta.MaxKeyLength {
		return true
	}
	for i := 0; i < len(k.StorageToken); i++ {
		c := k.StorageToken[i]
		if c > 0x7e || c < 0x21 {
			return true
		}
	}
	return false
}

// wireKey returns the key as it should appear on the wire, plus whether
// the FlagBase64Key flag must be set. Base64-encoded keys exceeding the
// protocol limit are not re-validated here; WriteRequest enforces length.
func (k Key) wireKey() (wire string, base64Encoded bool) {
	if !k.needsBinaryEncoding() {
		return k.StorageToken, false
	}
	return base64.StdEncoding.EncodeToString([]byte(k.StorageToken)), true
}

// decodeWireKey reverses wireKey, used by tests and debug tooling that
// need to recover the original storage token from a logged wire key.
func decodeWireKey(wire string, base64Encoded bool) (string, error) {
	if !base64Encoded {
		return wire, nil
	}
	raw, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
