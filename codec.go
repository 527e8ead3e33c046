package memcache

import (
	"bytes"
	"compress/zlib"
	"encoding/gob"
	"fmt"
	"strconv"
)

// Codec turns a user value into wire bytes plus a small integer type tag
// (client_flag) and back (spec §4.7/§9). Inject a custom Codec for a
// different serialization format; MixedCodec is the default.
type Codec interface {
	Encode(v any) (data []byte, clientFlag uint32, err error)
	Decode(data []byte, clientFlag uint32, v any) error
}

// Encoding ids packed into the low bits of client_flag, mirroring
// original_source/src/meta_memcache/serializer.py's MixedSerializer.
const (
	encStr    uint32 = 0
	encGob    uint32 = 1
	encInt    uint32 = 2
	encLong   uint32 = 4
	encZlib   uint32 = 8 // bit flag, OR'd with the base encoding id
	encBinary uint32 = 16
)

// CompressionThreshold is the payload size above which MixedCodec
// compresses with zlib, matching MixedSerializer.COMPRESSION_THRESHOLD.
const CompressionThreshold = 128

// MixedCodec is the default Codec: strings and []byte pass through
// largely as-is, ints are ASCII-encoded, everything else goes through
// encoding/gob. Payloads over CompressionThreshold are zlib-compressed
// and the ZLIB_COMPRESSED bit is set in client_flag, exactly as the
// Python MixedSerializer this is ported from does with its own
// bit-packed encoding id.
type MixedCodec struct{}

// NewMixedCodec returns the default Codec.
func NewMixedCodec() *MixedCodec { return &MixedCodec{} }

// decodeScratchPool recycles the scratch buffer Decode reads a zlib
// stream into before copying out a right-sized result, same pattern as
// meta/writer.go's bufferPool for request encoding.
var decodeScratchPool = newByteBufferPool(256)

func (c *MixedCodec) Encode(v any) ([]byte, uint32, error) {
	var data []byte
	var encID uint32

	switch val := v.(type) {
	case []byte:
		data = val
		encID = encBinary
	case string:
		data = []byte(val)
		encID = encStr
	case int:
		data = []byte(strconv.Itoa(val))
		encID = encInt
	case int64:
		data = []byte(strconv.FormatInt(val, 10))
		encID = encLong
	default:
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(v); err != nil {
			return nil, 0, fmt.Errorf("memcache: gob encode: %w", err)
		}
		data = buf.Bytes()
		encID = encGob
	}

	if len(data) > CompressionThreshold {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, 0, fmt.Errorf("memcache: zlib compress: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, 0, fmt.Errorf("memcache: zlib compress: %w", err)
		}
		data = buf.Bytes()
		encID |= encZlib
	}

	return data, encID, nil
}

func (c *MixedCodec) Decode(data []byte, clientFlag uint32, v any) error {
	if clientFlag&encZlib != 0 {
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("memcache: zlib decompress: %w", err)
		}
		defer zr.Close()

		buf := decodeScratchPool.Get()
		_, err = buf.ReadFrom(zr)
		if err != nil {
			decodeScratchPool.Put(buf)
			return fmt.Errorf("memcache: zlib decompress: %w", err)
		}
		// buf is reset and returned to the pool for reuse, so the result
		// must be copied out rather than handed back by reference.
		data = append([]byte(nil), buf.Bytes()...)
		decodeScratchPool.Put(buf)
		clientFlag ^= encZlib
	}

	switch clientFlag {
	case encStr:
		ptr, ok := v.(*string)
		if !ok {
			return &TypeMismatchError{Expected: "*string", Got: fmt.Sprintf("%T", v)}
		}
		*ptr = string(data)
	case encInt, encLong:
		n, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("memcache: decode int: %w", err)
		}
		switch ptr := v.(type) {
		case *int:
			*ptr = int(n)
		case *int64:
			*ptr = n
		default:
			return &TypeMismatchError{Expected: "*int or *int64", Got: fmt.Sprintf("%T", v)}
		}
	case encBinary:
		ptr, ok := v.(*[]byte)
		if !ok {
			return &TypeMismatchError{Expected: "*[]byte", Got: fmt.Sprintf("%T", v)}
		}
		*ptr = append([]byte(nil), data...)
	default:
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
			return fmt.Errorf("memcache: gob decode: %w", err)
		}
	}
	return nil
}
