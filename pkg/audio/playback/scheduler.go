// Package playback renders inbound synthesized-speech chunks to an output
// device strictly in arrival order.
//
// The [Scheduler] owns a FIFO queue of pending chunks and a single drain
// goroutine: it pops the head, decodes it, renders it, and only then advances
// to the next chunk. Advancing on render completion (not decode completion)
// is what keeps playback gapless and ordered even when decode latency varies
// per chunk. A chunk that fails to decode is discarded so one malformed
// payload cannot stall the rest of the queue.
//
// The scheduler is the sole source of the externally observable "assistant
// is speaking" state: speaking is true exactly while the queue is non-empty
// or a chunk is actively rendering.
package playback

import (
	"log/slog"
	"sync"

	"github.com/arveliot/voxwire/pkg/audio"
	"github.com/arveliot/voxwire/pkg/audio/codec"
)

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithDecodeErrorHook registers fn to be invoked for every chunk discarded
// because it failed to decode. Invoked from the drain goroutine; fn must not
// block.
func WithDecodeErrorHook(fn func(error)) Option {
	return func(s *Scheduler) { s.onDecodeErr = fn }
}

// WithSpeakingChange registers fn to be invoked whenever the speaking state
// flips. Invoked outside the scheduler's lock, from whichever goroutine
// triggered the transition; fn must not block.
func WithSpeakingChange(fn func(bool)) Option {
	return func(s *Scheduler) { s.onSpeaking = fn }
}

// Scheduler buffers inbound audio chunks and drains them to an
// [audio.OutputDevice] one at a time. All exported methods are safe for
// concurrent use.
type Scheduler struct {
	out audio.OutputDevice
	dec codec.Decoder

	onDecodeErr func(error)
	onSpeaking  func(bool)

	mu        sync.Mutex
	queue     [][]byte
	rendering bool
	speaking  bool
	closed    bool

	notify chan struct{} // signalled when a chunk is enqueued
	done   chan struct{} // closed by Close to stop the drain goroutine
}

// New creates a Scheduler draining to out through dec and starts its drain
// goroutine immediately. The scheduler does not own the output device; the
// caller remains responsible for closing it after [Scheduler.Close].
func New(out audio.OutputDevice, dec codec.Decoder, opts ...Option) *Scheduler {
	s := &Scheduler{
		out:    out,
		dec:    dec,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.drain()
	return s
}

// Enqueue appends chunk to the playback queue. If nothing is currently
// rendering the drain goroutine picks it up immediately. Enqueue after Close
// is a no-op.
func (s *Scheduler) Enqueue(chunk []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, chunk)
	transition := s.updateSpeakingLocked()
	s.mu.Unlock()

	s.fireSpeaking(transition)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Speaking reports whether the assistant is audibly speaking: the queue is
// non-empty or a chunk is actively rendering.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0 || s.rendering
}

// QueueLen returns the number of chunks awaiting decode-and-render.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close stops the drain goroutine and discards any queued chunks. Idempotent;
// subsequent calls are no-ops and return nil.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	transition := s.updateSpeakingLocked()
	s.mu.Unlock()

	s.fireSpeaking(transition)
	close(s.done)
	return nil
}

// drain is the background goroutine that serialises decode-and-render. It
// runs until Close is called.
func (s *Scheduler) drain() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			chunk, ok := s.dequeue()
			if !ok {
				break
			}

			pcm, err := s.dec.Decode(chunk)
			if err != nil {
				// Non-fatal: drop this chunk and keep draining.
				slog.Warn("playback: discarding undecodable chunk", "bytes", len(chunk), "err", err)
				if s.onDecodeErr != nil {
					s.onDecodeErr(err)
				}
				s.fireSpeaking(s.finishRender())
				continue
			}

			if err := s.out.Write(pcm); err != nil {
				slog.Warn("playback: output write failed", "bytes", len(pcm), "err", err)
			}
			s.fireSpeaking(s.finishRender())
		}
	}
}

// dequeue pops the head chunk and marks the scheduler as rendering.
// Returns ok=false when the queue is empty or the scheduler is closed.
func (s *Scheduler) dequeue() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return nil, false
	}
	chunk := s.queue[0]
	s.queue = s.queue[1:]
	s.rendering = true
	return chunk, true
}

// finishRender clears the rendering flag and returns any speaking transition.
func (s *Scheduler) finishRender() *bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendering = false
	return s.updateSpeakingLocked()
}

// updateSpeakingLocked recomputes the speaking state. Returns the new value
// when it changed, nil otherwise. Must be called with s.mu held.
func (s *Scheduler) updateSpeakingLocked() *bool {
	now := len(s.queue) > 0 || s.rendering
	if now == s.speaking {
		return nil
	}
	s.speaking = now
	return &now
}

// fireSpeaking invokes the speaking-change hook for a non-nil transition.
func (s *Scheduler) fireSpeaking(transition *bool) {
	if transition == nil || s.onSpeaking == nil {
		return
	}
	s.onSpeaking(*transition)
}
