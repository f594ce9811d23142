package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arveliot/voxwire/pkg/audio/codec"
	"github.com/arveliot/voxwire/pkg/transcript"
	"github.com/arveliot/voxwire/pkg/transport"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeCapture struct {
	mu      sync.Mutex
	ch      chan []float32
	started bool
	closed  bool
	failErr error
}

func newFakeCapture() *fakeCapture {
	return &fakeCapture{ch: make(chan []float32, 16)}
}

func (c *fakeCapture) Start(context.Context) (<-chan []float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failErr != nil {
		return nil, c.failErr
	}
	if c.started {
		return nil, errors.New("already started")
	}
	c.started = true
	return c.ch, nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}

func (c *fakeCapture) push(samples []float32) { c.ch <- samples }

type fakeOutput struct {
	mu     sync.Mutex
	writes [][]byte
}

func (o *fakeOutput) Write(pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writes = append(o.writes, append([]byte(nil), pcm...))
	return nil
}

func (o *fakeOutput) Close() error { return nil }

func (o *fakeOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.writes)
}

type fakeTransport struct {
	mu      sync.Mutex
	events  chan transport.Event
	sent    [][]byte
	open    bool
	openErr error
	errVal  error
	once    sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan transport.Event, 16)}
}

func (t *fakeTransport) Open(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return t.openErr
	}
	t.open = true
	return nil
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return errors.New("not open")
	}
	t.sent = append(t.sent, append([]byte(nil), frame...))
	return nil
}

func (t *fakeTransport) Events() <-chan transport.Event { return t.events }

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errVal
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.open = false
	t.mu.Unlock()
	t.once.Do(func() { close(t.events) })
	return nil
}

func (t *fakeTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type countingObserver struct {
	mu       sync.Mutex
	started  int
	ended    int
	endState State
	sent     int
	dropped  int
	received int
}

func (o *countingObserver) SessionStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) SessionEnded(state State, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended++
	o.endState = state
}

func (o *countingObserver) FrameSent(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent++
}

func (o *countingObserver) FrameDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

func (o *countingObserver) ChunkReceived(int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received++
}

func (o *countingObserver) DecodeError() {}

func (o *countingObserver) snapshot() countingObserver {
	o.mu.Lock()
	defer o.mu.Unlock()
	return countingObserver{
		started: o.started, ended: o.ended, endState: o.endState,
		sent: o.sent, dropped: o.dropped, received: o.received,
	}
}

type fixture struct {
	capture   *fakeCapture
	output    *fakeOutput
	transport *fakeTransport
	observer  *countingObserver
	assembler *transcript.Assembler
}

func newFixture(t *testing.T) (*Session, *fixture) {
	t.Helper()
	f := &fixture{
		capture:   newFakeCapture(),
		output:    &fakeOutput{},
		transport: newFakeTransport(),
		observer:  &countingObserver{},
		assembler: transcript.NewAssembler(),
	}
	s, err := New(Config{
		ID:           "test",
		Transport:    f.transport,
		Capture:      f.capture,
		Output:       f.output,
		Decoder:      codec.NewPCM(),
		Assembler:    f.assembler,
		BlockSamples: 4,
		Observer:     f.observer,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, f
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session never finished")
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	if err == nil {
		t.Fatal("New with empty config succeeded")
	}
	for _, want := range []string{"transport", "capture", "output", "decoder"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSession_StartMovesToActive(t *testing.T) {
	t.Parallel()

	s, f := newFixture(t)
	if got := s.State(); got != StateIdle {
		t.Fatalf("initial state = %s, want idle", got)
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := s.State(); got != StateActive {
		t.Errorf("state after Start = %s, want active", got)
	}
	if f.observer.snapshot().started != 1 {
		t.Error("observer never notified of start")
	}

	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.State(); got != StateEnded {
		t.Errorf("state after Stop = %s, want ended", got)
	}
}

func TestSession_StartTwiceRejected(t *testing.T) {
	t.Parallel()

	s, _ := newFixture(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start succeeded, want error")
	}
}

func TestSession_StopInIdleIsNoOp(t *testing.T) {
	t.Parallel()

	s, _ := newFixture(t)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop in idle: %v", err)
	}
	if got := s.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
}

func TestSession_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := newFixture(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if got := s.State(); got != StateEnded {
		t.Errorf("state = %s, want ended", got)
	}
}

func TestSession_CaptureFailureFailsSession(t *testing.T) {
	t.Parallel()

	s, f := newFixture(t)
	f.capture.failErr = errors.New("device busy")

	err := s.Start(context.Background())
	if err == nil {
		t.Fatal("Start succeeded with failing capture")
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	if s.Err() == nil {
		t.Error("Err() is nil after failure")
	}
	waitDone(t, s)
}

func TestSession_ConnectFailureFailsSession(t *testing.T) {
	t.Parallel()

	s, f := newFixture(t)
	f.transport.openErr = errors.New("relay unreachable")

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with failing transport")
	}
	if got := s.State(); got != StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	waitDone(t, s)
}

func TestSession_RelayErrorEventFailsSession(t *testing.T) {
	t.Parallel()

	s, f := newFixture(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.transport.events <- transport.Event{Kind: transport.EventError, Content: "quota exceeded"}
	waitDone(t, s)

	if got := s.State(); got != StateFailed {
		t.Errorf("state = %s, want failed", got)
	}
	if err := s.Err(); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("Err() = %v, want relay error mentioning quota", err)
	}
}

func TestSession_LinkLossWithoutErrorEndsCleanly(t *testing.T) {
	t.Parallel()

	s, f := newFixture(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.transport.Close()
	waitDone(t, s)

	if got := s.State(); got != StateEnded {
		t.Errorf("state = %s, want ended", got)
	}
	if obs := f.observer.snapshot(); obs.ended != 1 || obs.endState != StateEnded {
		t.Errorf("observer ended=%d endState=%s", obs.ended, obs.endState)
	}
}

func TestSession_MicrophoneFramesReachRelay(t *testing.T) {
	t.Parallel()

	s, f := newFixture(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// BlockSamples is 4; eight samples produce exactly two frames.
	f.capture.push([]float32{0.1, 0.2, 0.3, 0.4})
	f.capture.push([]float32{0.5, 0.6, 0.7, 0.8})

	deadline := time.Now().Add(3 * time.Second)
	for f.transport.sentCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("relay received %d frames, want 2", f.transport.sentCount())
		}
		time.Sleep(time.Millisecond)
	}

	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	for i, frame := range f.transport.sent {
		if len(frame) != 8 {
			t.Errorf("frame %d is %d bytes, want 8", i, len(frame))
		}
	}
}

func TestSession_FramesDroppedWhileLinkDown(t *testing.T) {
	t.Parallel()

	s, f := newFixture(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	// Take the link down without ending the session; the microphone keeps
	// producing frames and every one of them must be discarded, not queued.
	f.transport.mu.Lock()
	f.transport.open = false
	f.transport.mu.Unlock()

	f.capture.push([]float32{0.1, 0.2, 0.3, 0.4})
	f.capture.push([]float32{0.5, 0.6, 0.7, 0.8})

	deadline := time.Now().Add(3 * time.Second)
	for f.observer.snapshot().dropped < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("observer saw %d drops, want 2", f.observer.snapshot().dropped)
		}
		time.Sleep(time.Millisecond)
	}
	if got := f.transport.sentCount(); got != 0 {
		t.Errorf("relay received %d frames while link down, want 0", got)
	}
	if obs := f.observer.snapshot(); obs.sent != 0 {
		t.Errorf("observer counted %d sent frames, want 0", obs.sent)
	}
}

func TestSession_InboundEventsDriveTranscriptAndPlayback(t *testing.T) {
	t.Parallel()

	s, f := newFixture(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.transport.events <- transport.Event{Kind: transport.EventAudio, Audio: []byte{1, 2, 3, 4}}
	f.transport.events <- transport.Event{Kind: transport.EventUserTranscript, Content: "hello"}
	f.transport.events <- transport.Event{Kind: transport.EventAssistantDelta, Content: "hi "}
	f.transport.events <- transport.Event{Kind: transport.EventAssistantDelta, Content: "there"}
	f.transport.events <- transport.Event{Kind: transport.EventAssistantDone}

	deadline := time.Now().Add(3 * time.Second)
	for f.output.count() < 1 || f.assembler.Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("playback=%d transcript=%d, want 1 and 2", f.output.count(), f.assembler.Len())
		}
		time.Sleep(time.Millisecond)
	}

	msgs := s.Transcript()
	if msgs[0].Role != transcript.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("message 0 = %+v", msgs[0])
	}
	if msgs[1].Role != transcript.RoleAssistant || msgs[1].Content != "hi there" || !msgs[1].Complete {
		t.Errorf("message 1 = %+v", msgs[1])
	}

	s.Stop()
}

func TestSession_ElapsedResetsOnTeardown(t *testing.T) {
	t.Parallel()

	s, _ := newFixture(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := s.Elapsed(); got != 0 {
		t.Errorf("Elapsed after teardown = %d, want 0", got)
	}
}
