package audio

import "encoding/binary"

// EncodeSample converts one normalised float32 sample to a 16-bit signed
// integer using saturating conversion: the sample is clamped to [-1, 1],
// negative values scale by 0x8000 and non-negative values by 0x7FFF, and the
// result is truncated toward zero. -1.0 maps exactly to -32768 and 1.0 maps
// exactly to 32767.
func EncodeSample(s float32) int16 {
	if s < -1 {
		s = -1
	} else if s > 1 {
		s = 1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// EncodePCM16 converts normalised float32 samples to 16-bit signed
// little-endian PCM bytes using [EncodeSample] per sample.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(EncodeSample(s)))
	}
	return out
}

// PCM16ToFloat32 converts 16-bit signed little-endian PCM bytes to float32
// samples normalised to [-1, 1]. Any trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// BlockEncoder accumulates a continuous stream of float32 samples and emits
// fixed-size PCM16 wire frames. Capture devices rarely deliver reads aligned
// to the frame size, so the encoder buffers the remainder between pushes.
//
// Every emitted frame holds exactly blockSamples samples; a trailing partial
// block is held until more samples arrive and is discarded on [BlockEncoder.Reset].
// There is no voice-activity gating — silence is encoded like any other block.
//
// Not safe for concurrent use; create one per capture stream.
type BlockEncoder struct {
	blockSamples int
	buf          []float32
}

// NewBlockEncoder creates a BlockEncoder emitting frames of blockSamples
// samples. A blockSamples value <= 0 falls back to [DefaultBlockSamples].
func NewBlockEncoder(blockSamples int) *BlockEncoder {
	if blockSamples <= 0 {
		blockSamples = DefaultBlockSamples
	}
	return &BlockEncoder{
		blockSamples: blockSamples,
		buf:          make([]float32, 0, blockSamples),
	}
}

// Push appends samples to the internal buffer and returns every complete
// frame that became available, in capture order. Returns nil when no frame
// completed.
func (e *BlockEncoder) Push(samples []float32) [][]byte {
	e.buf = append(e.buf, samples...)

	var frames [][]byte
	for len(e.buf) >= e.blockSamples {
		frames = append(frames, EncodePCM16(e.buf[:e.blockSamples]))
		e.buf = e.buf[e.blockSamples:]
	}
	if len(e.buf) == 0 {
		e.buf = make([]float32, 0, e.blockSamples)
	}
	return frames
}

// Pending returns the number of buffered samples not yet forming a complete
// frame.
func (e *BlockEncoder) Pending() int { return len(e.buf) }

// Reset discards any buffered partial block.
func (e *BlockEncoder) Reset() { e.buf = e.buf[:0] }
