package memcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyRoutesAndStoresSameToken(t *testing.T) {
	k := NewKey("user:42")
	assert.Equal(t, "user:42", k.RoutingToken)
	assert.Equal(t, "user:42", k.StorageToken)
}

func TestNewKeyWithRouteColocatesOnRoutingToken(t *testing.T) {
	k := NewKeyWithRoute("user:42", "user:42:profile")
	assert.Equal(t, "user:42", k.RoutingToken)
	assert.Equal(t, "user:42:profile", k.StorageToken)
}

func TestWireKeyPlainASCII(t *testing.T) {
	k := NewKey("plain-ascii-key")
	wire, b64 := k.wireKey()
	assert.Equal(t, "plain-ascii-key", wire)
	assert.False(t, b64)
}

func TestWireKeyBase64EncodesWhitespace(t *testing.T) {
	k := NewKey("has space")
	wire, b64 := k.wireKey()
	assert.True(t, b64)
	decoded, err := decodeWireKey(wire, true)
	require.NoError(t, err)
	assert.Equal(t, "has space", decoded)
}

func TestWireKeyBase64EncodesOverlongKeys(t *testing.T) {
	k := NewKey(strings.Repeat("a", 251))
	_, b64 := k.wireKey()
	assert.True(t, b64)
}

func TestWireKeyBase64EncodesNonPrintableBytes(t *testing.T) {
	k := NewKey(string([]byte{0x00, 0x01, 0xff}))
	wire, b64 := k.wireKey()
	assert.True(t, b64)
	decoded, err := decodeWireKey(wire, true)
	require.NoError(t, err)
	assert.Equal(t, string([]byte{0x00, 0x01, 0xff}), decoded)
}

func TestDecodeWireKeyPassesThroughWhenNotBase64(t *testing.T) {
	decoded, err := decodeWireKey("plain", false)
	require.NoError(t, err)
	assert.Equal(t, "plain", decoded)
}

func TestServerAddressStringAndID(t *testing.T) {
	s := ServerAddress{Host: "10.0.0.1", Port: 11211}
	assert.Equal(t, "10.0.0.1:11211", s.String())
	assert.Equal(t, s.String(), s.ID())
}

func TestServerAddressIPv6Bracketed(t *testing.T) {
	s := ServerAddress{Host: "::1", Port: 11211}
	assert.Equal(t, "[::1]:11211", s.String())
}

func TestServerAddressOverrideID(t *testing.T) {
	s := ServerAddress{Host: "10.0.0.2", Port: 11211, OverrideID: "cache-shard-3"}
	assert.Equal(t, "cache-shard-3", s.ID())
	assert.Equal(t, "10.0.0.2:11211", s.String())
}
