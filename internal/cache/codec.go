package cache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// Codec serializes snapshots as CBOR compressed with zstd. It is safe for
// concurrent use.
type Codec struct {
	enc  cbor.EncMode
	zenc *zstd.Encoder
	zdec *zstd.Decoder
}

// NewCodec builds a codec. Timestamps keep nanosecond precision.
func NewCodec() (*Codec, error) {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor enc mode: %w", err)
	}
	zenc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	zdec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &Codec{enc: enc, zenc: zenc, zdec: zdec}, nil
}

// Marshal encodes v.
func (c *Codec) Marshal(v any) ([]byte, error) {
	raw, err := c.enc.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal: %w", err)
	}
	return c.zenc.EncodeAll(raw, nil), nil
}

// Unmarshal decodes data into v.
func (c *Codec) Unmarshal(data []byte, v any) error {
	raw, err := c.zdec.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("zstd decode: %w", err)
	}
	if err := cbor.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("cbor unmarshal: %w", err)
	}
	return nil
}

// Close releases the compressor resources.
func (c *Codec) Close() {
	_ = c.zenc.Close()
	c.zdec.Close()
}
