package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// ErrCorruptData marks a byte stream that failed decompression or
// structural parsing during decode.
var ErrCorruptData = errors.New("corrupt checkpoint data")

// Codec serializes checkpoints to a canonical JSON form and applies zstd
// compression. It assumes pre-validated records; the manager validates
// before encoding. With compression disabled it stores the JSON as-is.
type Codec struct {
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// NewCodec creates a Codec. Level follows zstd's own scale; 3 is the
// default used by the store.
func NewCodec(compress bool, level int) (*Codec, error) {
	c := &Codec{compress: compress}
	if compress {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("create zstd encoder: %w", err)
		}
		c.encoder = encoder
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	c.decoder = decoder
	return c, nil
}

// zstd frames start with this magic; used to detect whether a stored
// payload was written with compression enabled.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Encode serializes a checkpoint and returns the payload plus the
// uncompressed size for metrics.
func (c *Codec) Encode(cp *Checkpoint) (payload []byte, uncompressed int, err error) {
	raw, err := json.Marshal(cp)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal checkpoint: %w", err)
	}
	if !c.compress {
		return raw, len(raw), nil
	}
	return c.encoder.EncodeAll(raw, nil), len(raw), nil
}

// Decode is the inverse of Encode. Round-trips are exact for all fields.
// Payloads that fail decompression or JSON parsing return ErrCorruptData.
func (c *Codec) Decode(payload []byte) (*Checkpoint, error) {
	raw := payload
	if len(payload) >= len(zstdMagic) && string(payload[:4]) == string(zstdMagic) {
		decoded, err := c.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptData, err)
		}
		raw = decoded
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrCorruptData, err)
	}
	if cp.ID == "" || cp.SessionID == "" {
		return nil, fmt.Errorf("%w: missing identity fields", ErrCorruptData)
	}
	return &cp, nil
}
