// Package compress shrinks finding evidence before it is persisted.
// Evidence (HTTP request/response pairs, extracted snippets) is often large
// and highly repetitive, so it is stored zstd-compressed.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Algorithm names the encoding of a stored payload.
type Algorithm string

const (
	AlgorithmZSTD Algorithm = "zstd"
	AlgorithmNone Algorithm = "none"
)

// DefaultThreshold is the payload size below which compression is skipped.
const DefaultThreshold = 256

// Codec compresses payloads larger than a threshold with pooled zstd coders.
// It is safe for concurrent use.
type Codec struct {
	threshold int
	encoders  sync.Pool
	decoders  sync.Pool
}

// NewCodec creates a codec. threshold <= 0 compresses every payload.
func NewCodec(threshold int) *Codec {
	c := &Codec{threshold: threshold}
	c.encoders = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	c.decoders = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
	return c
}

// Default is the codec used by the store.
var Default = NewCodec(DefaultThreshold)

// Encode returns the stored form of data and the algorithm used.
func (c *Codec) Encode(data []byte) ([]byte, Algorithm, error) {
	if len(data) < c.threshold {
		return data, AlgorithmNone, nil
	}

	enc := c.encoders.Get().(*zstd.Encoder)
	defer c.encoders.Put(enc)

	var buf bytes.Buffer
	enc.Reset(&buf)
	if _, err := enc.Write(data); err != nil {
		return nil, "", fmt.Errorf("zstd write: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, "", fmt.Errorf("zstd close: %w", err)
	}

	// Incompressible payloads are kept as-is.
	if buf.Len() >= len(data) {
		return data, AlgorithmNone, nil
	}
	return buf.Bytes(), AlgorithmZSTD, nil
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte, alg Algorithm) ([]byte, error) {
	switch alg {
	case AlgorithmNone, "":
		return data, nil
	case AlgorithmZSTD:
		dec := c.decoders.Get().(*zstd.Decoder)
		defer c.decoders.Put(dec)

		if err := dec.Reset(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("zstd reset: %w", err)
		}
		out, err := io.ReadAll(dec)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}
