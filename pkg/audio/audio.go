// Package audio defines the sample formats, conversion primitives, and device
// interfaces for the Voxwire streaming pipeline.
//
// The pipeline works in exactly one wire format: 16-bit signed little-endian
// PCM, mono, 24 kHz. Capture devices deliver normalised float32 samples in
// [-1, 1]; [EncodePCM16] and [BlockEncoder] turn those into fixed-size wire
// frames, and [PCM16ToFloat32] goes the other way for analysis and tests.
//
// The two device abstractions are:
//
//   - [CaptureDevice] — exclusive ownership of a microphone-like source that
//     streams float32 sample blocks.
//   - [OutputDevice] — a speaker-like sink; Write blocks until the device has
//     accepted the PCM for rendering, which is what gives the playback
//     scheduler its "one frame at a time" guarantee.
//
// Implementations are provided by adapter packages (e.g. audio/ffmpeg); the
// interfaces are intentionally narrow so the session orchestrator stays
// decoupled from how audio actually reaches the hardware.
package audio

// DefaultSampleRate is the sample rate of the Voxwire wire format in Hz.
const DefaultSampleRate = 24000

// DefaultBlockSamples is the number of samples per outbound capture block.
// Every complete block becomes exactly one wire frame; partial blocks are
// never sent.
const DefaultBlockSamples = 4096
