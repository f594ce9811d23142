package codec

import (
	"fmt"

	"layeh.com/gopus"
)

// Opus packets carry 20 ms of audio per frame in this pipeline.
const opusFrameMs = 20

// opusDecoder wraps a stateful gopus decoder for a single inbound stream.
// Opus decoders maintain prediction state across consecutive packets, so a
// decoder must never be shared between sessions.
type opusDecoder struct {
	dec       *gopus.Decoder
	frameSize int // samples per channel per packet
}

// NewOpus creates an Opus [Decoder] producing PCM16 at the given sample rate
// and channel count.
func NewOpus(sampleRate, channels int) (Decoder, error) {
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}
	return &opusDecoder{
		dec:       dec,
		frameSize: sampleRate * opusFrameMs / 1000,
	}, nil
}

func (d *opusDecoder) Decode(chunk []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(chunk, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
