package memcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMixedCodecStringRoundTrip(t *testing.T) {
	c := NewMixedCodec()
	data, flag, err := c.Encode("hello")
	require.NoError(t, err)
	assert.Equal(t, encStr, flag)

	var out string
	require.NoError(t, c.Decode(data, flag, &out))
	assert.Equal(t, "hello", out)
}

func TestMixedCodecIntRoundTrip(t *testing.T) {
	c := NewMixedCodec()
	data, flag, err := c.Encode(42)
	require.NoError(t, err)
	assert.Equal(t, encInt, flag)

	var out int
	require.NoError(t, c.Decode(data, flag, &out))
	assert.Equal(t, 42, out)
}

func TestMixedCodecInt64RoundTrip(t *testing.T) {
	c := NewMixedCodec()
	data, flag, err := c.Encode(int64(1 << 40))
	require.NoError(t, err)
	assert.Equal(t, encLong, flag)

	var out int64
	require.NoError(t, c.Decode(data, flag, &out))
	assert.Equal(t, int64(1<<40), out)
}

func TestMixedCodecBinaryRoundTrip(t *testing.T) {
	c := NewMixedCodec()
	payload := []byte{0x00, 0x01, 0x02, 0xff}
	data, flag, err := c.Encode(payload)
	require.NoError(t, err)
	assert.Equal(t, encBinary, flag)

	var out []byte
	require.NoError(t, c.Decode(data, flag, &out))
	assert.Equal(t, payload, out)
}

func TestMixedCodecGobFallbackForStructs(t *testing.T) {
	type profile struct {
		Name string
		Age  int
	}
	c := NewMixedCodec()
	in := profile{Name: "ada", Age: 30}
	data, flag, err := c.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, encGob, flag)

	var out profile
	require.NoError(t, c.Decode(data, flag, &out))
	assert.Equal(t, in, out)
}

func TestMixedCodecCompressesLargePayloads(t *testing.T) {
	c := NewMixedCodec()
	big := strings.Repeat("x", CompressionThreshold+1)
	data, flag, err := c.Encode(big)
	require.NoError(t, err)
	assert.NotEqual(t, uint32(0), flag&encZlib)
	assert.Less(t, len(data), len(big))

	var out string
	require.NoError(t, c.Decode(data, flag, &out))
	assert.Equal(t, big, out)
}

func TestMixedCodecDecodeTypeMismatch(t *testing.T) {
	c := NewMixedCodec()
	data, flag, err := c.Encode("hello")
	require.NoError(t, err)

	var wrongType int
	err = c.Decode(data, flag, &wrongType)
	require.Error(t, err)
	var tm *TypeMismatchError
	assert.ErrorAs(t, err, &tm)
}
