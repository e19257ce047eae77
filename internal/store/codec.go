package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Payload encodings stored in stream_deltas.payload_encoding.
const (
	encodingIdentity = "identity"
	encodingZstd     = "zstd"
)

// compressThreshold is the payload size at which deltas are stored compressed.
const compressThreshold = 1024

// payloadCodec compresses large delta payloads. The zstd encoder and decoder
// are safe for concurrent EncodeAll/DecodeAll calls.
type payloadCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newPayloadCodec() (*payloadCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &payloadCodec{enc: enc, dec: dec}, nil
}

// encode returns the stored form of payload and its encoding name.
func (c *payloadCodec) encode(payload []byte) ([]byte, string) {
	if len(payload) < compressThreshold {
		return payload, encodingIdentity
	}
	return c.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2)), encodingZstd
}

// decode reverses encode.
func (c *payloadCodec) decode(stored []byte, encoding string) ([]byte, error) {
	switch encoding {
	case encodingIdentity, "":
		return stored, nil
	case encodingZstd:
		out, err := c.dec.DecodeAll(stored, nil)
		if err != nil {
			return nil, fmt.Errorf("decode zstd payload: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", encoding)
	}
}

func (c *payloadCodec) close() {
	c.enc.Close()
	c.dec.Close()
}
