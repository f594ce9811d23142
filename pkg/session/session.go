// Package session orchestrates one voice conversation end to end: it owns
// the capture device, the relay transport, the playback scheduler and the
// transcript, and drives them through a strict lifecycle.
//
// A session moves Idle -> Connecting -> Active -> Ended, with Failed
// reachable from any live state. Sessions are single-shot: once ended or
// failed they cannot be restarted.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arveliot/voxwire/pkg/audio"
	"github.com/arveliot/voxwire/pkg/audio/codec"
	"github.com/arveliot/voxwire/pkg/audio/playback"
	"github.com/arveliot/voxwire/pkg/transcript"
	"github.com/arveliot/voxwire/pkg/transport"
)

// State is the lifecycle phase of a session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateEnded
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Transport is the duplex relay link the session drives. Satisfied by
// *transport.Client.
type Transport interface {
	Open(ctx context.Context) error
	IsOpen() bool
	Send(frame []byte) error
	Events() <-chan transport.Event
	Err() error
	Close() error
}

// Observer receives lifecycle and traffic notifications, typically to feed
// metrics. All methods may be called from session goroutines and must not
// block.
type Observer interface {
	SessionStarted()
	SessionEnded(state State, duration time.Duration)
	FrameSent(bytes int)
	FrameDropped()
	ChunkReceived(bytes int)
	DecodeError()
}

// NopObserver is an Observer that ignores everything.
type NopObserver struct{}

func (NopObserver) SessionStarted()                   {}
func (NopObserver) SessionEnded(State, time.Duration) {}
func (NopObserver) FrameSent(int)                     {}
func (NopObserver) FrameDropped()                     {}
func (NopObserver) ChunkReceived(int)                 {}
func (NopObserver) DecodeError()                      {}

// Config wires a session's collaborators together.
type Config struct {
	// ID identifies the session in logs and call records.
	ID string
	// Transport is the relay link. Must be unopened.
	Transport Transport
	// Capture provides the microphone sample stream.
	Capture audio.CaptureDevice
	// Output renders synthesized speech.
	Output audio.OutputDevice
	// Decoder decodes inbound audio chunks before rendering.
	Decoder codec.Decoder
	// Assembler accumulates the conversation transcript.
	Assembler *transcript.Assembler
	// BlockSamples is the outbound frame size in samples; defaults to
	// audio.DefaultBlockSamples when zero.
	BlockSamples int
	// Observer receives lifecycle and traffic notifications. Optional.
	Observer Observer
	// OnSpeaking is invoked when the assistant starts or stops speaking.
	// Optional.
	OnSpeaking func(bool)
}

// Session is one voice conversation. All exported methods are safe for
// concurrent use.
type Session struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	state    State
	errVal   error
	stopping bool

	elapsed  atomic.Int64 // whole seconds while live, reset on teardown
	duration atomic.Int64 // final duration in seconds, set at teardown

	scheduler *playback.Scheduler

	runCtx    context.Context
	runCancel context.CancelFunc

	teardownOnce sync.Once
	done         chan struct{}
}

// New validates cfg and returns a session in the Idle state.
func New(cfg Config) (*Session, error) {
	var errs []error
	if cfg.Transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	if cfg.Capture == nil {
		errs = append(errs, errors.New("capture device is required"))
	}
	if cfg.Output == nil {
		errs = append(errs, errors.New("output device is required"))
	}
	if cfg.Decoder == nil {
		errs = append(errs, errors.New("decoder is required"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("session: invalid config: %w", errors.Join(errs...))
	}

	if cfg.Assembler == nil {
		cfg.Assembler = transcript.NewAssembler()
	}
	if cfg.BlockSamples <= 0 {
		cfg.BlockSamples = audio.DefaultBlockSamples
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}

	return &Session{
		cfg:  cfg,
		log:  slog.Default().With("session_id", cfg.ID),
		done: make(chan struct{}),
	}, nil
}

// Start acquires the microphone, connects to the relay and begins streaming.
// It returns once the session is Active (or has failed). Start on a session
// that already left Idle is rejected.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: start in state %s", state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.runCtx, s.runCancel = context.WithCancel(context.Background())

	samples, err := s.cfg.Capture.Start(s.runCtx)
	if err != nil {
		err = fmt.Errorf("session: capture: %w", err)
		s.fail(err)
		return err
	}

	if err := s.cfg.Transport.Open(ctx); err != nil {
		err = fmt.Errorf("session: connect: %w", err)
		s.fail(err)
		return err
	}

	s.scheduler = playback.New(s.cfg.Output, s.cfg.Decoder,
		playback.WithDecodeErrorHook(func(error) { s.cfg.Observer.DecodeError() }),
		playback.WithSpeakingChange(func(v bool) {
			if s.cfg.OnSpeaking != nil {
				s.cfg.OnSpeaking(v)
			}
		}),
	)

	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()

	s.log.Info("session active")
	s.cfg.Observer.SessionStarted()

	g, gCtx := errgroup.WithContext(s.runCtx)
	g.Go(func() error { return s.sendLoop(gCtx, samples) })
	g.Go(func() error { return s.recvLoop(gCtx) })
	g.Go(func() error { s.tickLoop(gCtx); return nil })
	go s.finish(g)

	return nil
}

// Stop ends the session gracefully and blocks until teardown completes.
// Stopping an Idle session is a no-op; stopping an already-ended session
// returns immediately.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.mu.Unlock()
		return nil
	case StateEnded, StateFailed:
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	// Closing the transport delivers the end control message and unwinds the
	// receive loop, which drives the rest of the shutdown.
	_ = s.cfg.Transport.Close()
	<-s.done
	return nil
}

// Done returns a channel closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to Failed, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Elapsed returns whole seconds since the session became active. Resets to
// zero once the session tears down; use Duration for the final figure.
func (s *Session) Elapsed() int64 { return s.elapsed.Load() }

// Duration returns the total active time, available after the session ends.
func (s *Session) Duration() time.Duration {
	return time.Duration(s.duration.Load()) * time.Second
}

// Speaking reports whether assistant audio is queued or rendering.
func (s *Session) Speaking() bool {
	s.mu.Lock()
	sched := s.scheduler
	s.mu.Unlock()
	return sched != nil && sched.Speaking()
}

// Transcript returns the conversation accumulated so far.
func (s *Session) Transcript() []transcript.Message {
	return s.cfg.Assembler.Messages()
}

// sendLoop frames microphone samples and streams them to the relay. Frames
// produced while the link is down are dropped rather than buffered; stale
// audio is worse than missing audio in a live conversation.
func (s *Session) sendLoop(ctx context.Context, samples <-chan []float32) error {
	enc := audio.NewBlockEncoder(s.cfg.BlockSamples)
	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-samples:
			if !ok {
				return nil
			}
			for _, frame := range enc.Push(batch) {
				if !s.cfg.Transport.IsOpen() {
					s.cfg.Observer.FrameDropped()
					continue
				}
				if err := s.cfg.Transport.Send(frame); err != nil {
					s.cfg.Observer.FrameDropped()
					continue
				}
				s.cfg.Observer.FrameSent(len(frame))
			}
		}
	}
}

// recvLoop dispatches inbound relay events to the scheduler and the
// transcript. It returns when the event stream closes; a server-reported
// error event terminates the session.
func (s *Session) recvLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-s.cfg.Transport.Events():
			if !ok {
				// Link is gone; unwind the other loops.
				s.runCancel()
				return nil
			}
			switch evt.Kind {
			case transport.EventAudio:
				s.cfg.Observer.ChunkReceived(len(evt.Audio))
				s.scheduler.Enqueue(evt.Audio)
			case transport.EventUserTranscript:
				s.cfg.Assembler.AddUserMessage(evt.Content)
			case transport.EventAssistantDelta:
				s.cfg.Assembler.AppendAssistantDelta(evt.Content)
			case transport.EventAssistantDone:
				s.cfg.Assembler.CompleteAssistantTurn()
			case transport.EventReady:
				s.log.Info("relay ready")
			case transport.EventError:
				return fmt.Errorf("session: relay error: %s", evt.Content)
			}
		}
	}
}

// tickLoop advances the elapsed-seconds counter while the session is live.
func (s *Session) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.elapsed.Add(1)
		}
	}
}

// finish waits for the streaming loops, settles the terminal state and tears
// everything down. Runs exactly once per started session.
func (s *Session) finish(g *errgroup.Group) {
	loopErr := g.Wait()

	err := loopErr
	if err == nil {
		err = s.cfg.Transport.Err()
	}

	s.mu.Lock()
	if s.stopping {
		err = nil
	}
	if err != nil {
		s.errVal = err
		s.state = StateFailed
	} else {
		s.state = StateEnded
	}
	final := s.state
	s.mu.Unlock()

	s.teardown()

	dur := s.Duration()
	if err != nil {
		s.log.Error("session failed", "err", err, "duration", dur)
	} else {
		s.log.Info("session ended", "duration", dur)
	}
	s.cfg.Observer.SessionEnded(final, dur)
	close(s.done)
}

// fail settles a session that never reached Active.
func (s *Session) fail(err error) {
	s.mu.Lock()
	s.errVal = err
	s.state = StateFailed
	s.mu.Unlock()

	s.teardown()
	s.log.Error("session failed", "err", err)
	s.cfg.Observer.SessionEnded(StateFailed, 0)
	close(s.done)
}

// teardown releases every resource the session acquired. Idempotent; safe to
// call from any terminal path.
func (s *Session) teardown() {
	s.teardownOnce.Do(func() {
		s.duration.Store(s.elapsed.Load())
		s.elapsed.Store(0)

		if s.runCancel != nil {
			s.runCancel()
		}
		if err := s.cfg.Capture.Close(); err != nil {
			s.log.Warn("closing capture device", "err", err)
		}
		if s.scheduler != nil {
			_ = s.scheduler.Close()
		}
		if err := s.cfg.Output.Close(); err != nil {
			s.log.Warn("closing output device", "err", err)
		}
		_ = s.cfg.Transport.Close()
	})
}
