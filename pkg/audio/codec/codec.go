// Package codec decodes inbound synthesized-audio chunks into renderable
// 16-bit little-endian PCM.
//
// The platform can deliver assistant audio either as raw PCM16 (the default)
// or as Opus packets; the playback scheduler decodes each chunk through a
// [Decoder] before rendering. A decode failure affects only the chunk that
// produced it — the scheduler discards the chunk and moves on.
package codec

import (
	"errors"
	"fmt"
)

// ErrMalformedChunk reports a chunk that cannot possibly decode to PCM16
// (e.g. an odd byte count in a raw PCM stream).
var ErrMalformedChunk = errors.New("codec: malformed audio chunk")

// Decoder turns one opaque inbound audio chunk into 16-bit little-endian PCM.
// Decoders may carry per-stream state (Opus does); create one per session and
// use it from a single goroutine.
type Decoder interface {
	Decode(chunk []byte) ([]byte, error)
}

// pcmDecoder passes raw PCM16 through unchanged, rejecting byte counts that
// cannot represent whole int16 samples.
type pcmDecoder struct{}

// NewPCM returns a pass-through [Decoder] for raw PCM16 streams.
func NewPCM() Decoder { return pcmDecoder{} }

func (pcmDecoder) Decode(chunk []byte) ([]byte, error) {
	if len(chunk)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedChunk, len(chunk))
	}
	return chunk, nil
}
