package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/arveliot/voxwire/pkg/audio"
)

var _ audio.CaptureDevice = (*Capture)(nil)

// CaptureConfig configures a microphone capture subprocess.
type CaptureConfig struct {
	// FFmpegPath is the ffmpeg binary; defaults to "ffmpeg" on PATH.
	FFmpegPath string
	// Device selects the input device; empty uses the platform default.
	Device string
	// SampleRate in Hz; defaults to audio.DefaultSampleRate.
	SampleRate int
}

// Capture reads mono PCM16 from an ffmpeg subprocess and delivers it as
// float32 sample batches. Implements [audio.CaptureDevice].
type Capture struct {
	cfg CaptureConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool
	closed  bool
	cancel  context.CancelFunc
}

// NewCapture creates an unstarted capture device.
func NewCapture(cfg CaptureConfig) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	cfg.FFmpegPath = binaryOr(cfg.FFmpegPath, "ffmpeg")
	return &Capture{cfg: cfg}
}

// Start launches ffmpeg and begins streaming samples. The device is
// exclusive: a second Start fails until the first is closed. The returned
// channel closes when the subprocess exits or Close is called.
func (c *Capture) Start(ctx context.Context) (<-chan []float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("ffmpeg: capture closed")
	}
	if c.started {
		return nil, fmt.Errorf("ffmpeg: capture already started")
	}

	runCtx, cancel := context.WithCancel(ctx)

	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, defaultInputArgs(c.cfg.Device)...)
	args = append(args,
		"-ac", "1",
		"-ar", itoa(c.cfg.SampleRate),
		"-f", "s16le",
		"-",
	)
	cmd := exec.CommandContext(runCtx, c.cfg.FFmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: start capture: %w", err)
	}

	c.cmd = cmd
	c.cancel = cancel
	c.started = true

	ch := make(chan []float32, 16)
	go c.readLoop(runCtx, stdout, ch)
	return ch, nil
}

// readLoop converts the s16le byte stream to float32 batches. It owns ch and
// closes it when the stream ends.
func (c *Capture) readLoop(ctx context.Context, stdout io.Reader, ch chan<- []float32) {
	defer close(ch)
	defer func() {
		if c.cmd != nil {
			_ = c.cmd.Wait()
		}
	}()

	reader := bufio.NewReaderSize(stdout, readChunkBytes*4)
	tmp := make([]byte, readChunkBytes)
	var pending []byte

	for {
		n, err := reader.Read(tmp)
		if n > 0 {
			pending = append(pending, tmp[:n]...)
			// Samples are 2 bytes; hold back a trailing odd byte.
			usable := len(pending) &^ 1
			if usable > 0 {
				samples := audio.PCM16ToFloat32(pending[:usable])
				pending = append(pending[:0], pending[usable:]...)
				select {
				case ch <- samples:
				case <-ctx.Done():
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// Close stops the subprocess and releases the device. Idempotent.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	return nil
}
