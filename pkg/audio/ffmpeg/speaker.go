package ffmpeg

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"

	"github.com/arveliot/voxwire/pkg/audio"
)

var _ audio.OutputDevice = (*Speaker)(nil)

// SpeakerConfig configures an ffplay output subprocess.
type SpeakerConfig struct {
	// FFplayPath is the ffplay binary; defaults to "ffplay" on PATH.
	FFplayPath string
	// SampleRate in Hz; defaults to audio.DefaultSampleRate.
	SampleRate int
	// Channels defaults to 1.
	Channels int
	// Volume is 0-100; defaults to 80.
	Volume int
}

// Speaker renders PCM16 audio by piping it into an ffplay subprocess.
// Implements [audio.OutputDevice].
type Speaker struct {
	cfg SpeakerConfig

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	closed bool
}

// NewSpeaker creates a Speaker; the subprocess is launched lazily on the
// first Write.
func NewSpeaker(cfg SpeakerConfig) *Speaker {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 80
	}
	cfg.FFplayPath = binaryOr(cfg.FFplayPath, "ffplay")
	return &Speaker{cfg: cfg}
}

// Write streams pcm to the speaker, starting ffplay if needed. Write returns
// once the bytes are handed to the subprocess.
func (s *Speaker) Write(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("ffmpeg: speaker closed")
	}
	if s.stdin == nil {
		if err := s.startLocked(); err != nil {
			return err
		}
	}
	if _, err := s.stdin.Write(pcm); err != nil {
		return fmt.Errorf("ffmpeg: speaker write: %w", err)
	}
	return nil
}

func (s *Speaker) startLocked() error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-volume", itoa(s.cfg.Volume),
		"-nodisp",
		"-f", "s16le",
		"-ch_layout", chLayout(s.cfg.Channels),
		"-ar", itoa(s.cfg.SampleRate),
		"-i", "-",
	}
	cmd := exec.Command(s.cfg.FFplayPath, args...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL can pick a silent dummy backend on macOS; prefer CoreAudio.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdin pipe: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("ffmpeg: start ffplay: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

// Close terminates the subprocess. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
	return nil
}
