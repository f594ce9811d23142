package audio

import "context"

// CaptureDevice is an exclusively-owned microphone-like audio source.
//
// A device is acquired by calling Start exactly once; a second Start without
// an intervening Close must fail rather than hand out a second stream. The
// returned channel delivers normalised float32 sample blocks of
// implementation-defined length in capture order and is closed when the
// device stops (Close, context cancellation, or source exhaustion).
//
// Acquisition failure (missing hardware, denied permission) is reported by
// Start; it is the caller's responsibility to surface it to the user.
type CaptureDevice interface {
	// Start acquires the device and begins capturing. The supplied ctx bounds
	// the capture stream: when it is cancelled the stream ends and the
	// channel is closed.
	Start(ctx context.Context) (<-chan []float32, error)

	// Close releases the device. Safe to call multiple times and before
	// Start; subsequent calls are no-ops.
	Close() error
}

// OutputDevice is a speaker-like sink for 16-bit little-endian PCM.
//
// Write blocks until the device has accepted the data for rendering — the
// playback scheduler relies on this to serialise frames. Implementations
// must be safe for sequential use from a single goroutine; Close releases
// the underlying device and is idempotent.
type OutputDevice interface {
	Write(pcm []byte) error
	Close() error
}
