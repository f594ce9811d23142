package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/arveliot/voxwire/pkg/audio"
)

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestEncodeSample(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"full negative", -1.0, -32768},
		{"full positive", 1.0, 32767},
		{"below range clamps", -2.5, -32768},
		{"above range clamps", 3.0, 32767},
		{"half positive", 0.5, 16383},
		{"half negative", -0.5, -16384},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := audio.EncodeSample(tc.in); got != tc.want {
				t.Errorf("EncodeSample(%v) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestEncodePCM16_LittleEndian(t *testing.T) {
	pcm := audio.EncodePCM16([]float32{-1.0, 0, 1.0})
	got := bytesToSamples(pcm)
	want := []int16{-32768, 0, 32767}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEncodePCM16_RoundTrip(t *testing.T) {
	in := []float32{-0.75, -0.25, 0, 0.25, 0.75}
	back := audio.PCM16ToFloat32(audio.EncodePCM16(in))
	if len(back) != len(in) {
		t.Fatalf("length mismatch: got %d, want %d", len(back), len(in))
	}
	for i := range in {
		diff := back[i] - in[i]
		if diff < 0 {
			diff = -diff
		}
		// Quantisation error of 16-bit PCM is bounded by one step.
		if diff > 1.0/32768.0 {
			t.Errorf("sample %d: got %v, want %v (±1/32768)", i, back[i], in[i])
		}
	}
}

func TestBlockEncoder_EmitsOnlyCompleteFrames(t *testing.T) {
	e := audio.NewBlockEncoder(4)

	if frames := e.Push(make([]float32, 3)); frames != nil {
		t.Fatalf("expected no frames after 3/4 samples, got %d", len(frames))
	}
	if e.Pending() != 3 {
		t.Errorf("Pending = %d, want 3", e.Pending())
	}

	frames := e.Push(make([]float32, 6))
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames after 9 samples, got %d", len(frames))
	}
	for i, f := range frames {
		if len(f) != 8 {
			t.Errorf("frame %d: %d bytes, want 8", i, len(f))
		}
	}
	if e.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", e.Pending())
	}
}

func TestBlockEncoder_PreservesSampleOrder(t *testing.T) {
	e := audio.NewBlockEncoder(2)
	frames := e.Push([]float32{0.25, 0.5, 0.75, -0.5})
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	first := bytesToSamples(frames[0])
	second := bytesToSamples(frames[1])
	if first[0] != audio.EncodeSample(0.25) || first[1] != audio.EncodeSample(0.5) {
		t.Errorf("first frame = %v, want encoded [0.25 0.5]", first)
	}
	if second[0] != audio.EncodeSample(0.75) || second[1] != audio.EncodeSample(-0.5) {
		t.Errorf("second frame = %v, want encoded [0.75 -0.5]", second)
	}
}

func TestBlockEncoder_Reset(t *testing.T) {
	e := audio.NewBlockEncoder(4)
	e.Push(make([]float32, 3))
	e.Reset()
	if e.Pending() != 0 {
		t.Errorf("Pending after Reset = %d, want 0", e.Pending())
	}
	// The discarded partial block must not leak into the next frame.
	frames := e.Push([]float32{1, 1, 1, 1})
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	for i, s := range bytesToSamples(frames[0]) {
		if s != 32767 {
			t.Errorf("sample %d = %d, want 32767", i, s)
		}
	}
}
