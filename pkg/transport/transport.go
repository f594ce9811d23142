// Package transport maintains the duplex WebSocket link to the voice relay.
//
// Outbound microphone audio travels as binary WebSocket frames; inbound
// traffic is a mix of binary synthesized-audio chunks and JSON text events
// (transcripts, readiness, errors). The link is deliberately single-shot:
// once it closes, for any reason, the client does not reconnect. A caller
// that wants a new conversation opens a new client.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
)

// EventKind classifies an inbound event from the relay.
type EventKind int

const (
	// EventAudio carries a chunk of synthesized assistant speech.
	EventAudio EventKind = iota
	// EventUserTranscript carries a completed user utterance.
	EventUserTranscript
	// EventAssistantDelta carries an incremental piece of assistant text.
	EventAssistantDelta
	// EventAssistantDone marks the current assistant turn complete.
	EventAssistantDone
	// EventReady signals the relay has finished session setup.
	EventReady
	// EventError carries a server-reported error message. The link stays up.
	EventError
)

// Event is one inbound message from the relay, already classified.
type Event struct {
	Kind    EventKind
	Audio   []byte // set for EventAudio
	Content string // transcript text or error message
}

// relayEvent is the wire shape of the relay's JSON text messages. Transcript
// text arrives in "content"; the error event carries its message in "error".
// "delta" is accepted as a legacy alias for assistant delta text.
type relayEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Delta   string `json:"delta,omitempty"`
	Error   string `json:"error,omitempty"`
}

// endMessage is the control frame that tells the relay to finish the session
// gracefully instead of treating the disconnect as an abort.
type endMessage struct {
	Type string `json:"type"`
}

// Config describes where and how to connect.
type Config struct {
	// URL is the relay base, e.g. "wss://relay.example.com".
	URL string
	// SessionPath selects the conversation mode, e.g. "test-agent" or
	// "voice-chat".
	SessionPath string
	// AgentID is appended as a path segment when non-empty.
	AgentID string
	// Token is the caller's credential, sent as a query parameter.
	Token string
}

// Client is a duplex connection to the voice relay. Zero value is not usable;
// construct with [New] and call [Client.Open] before sending.
type Client struct {
	cfg Config

	mu     sync.Mutex
	conn   *websocket.Conn
	open   bool
	closed bool
	errVal error

	events chan Event

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Client for the given relay. No network traffic happens until
// Open.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		events: make(chan Event, 64),
	}
}

// sessionURL assembles the WebSocket URL from base, session path, optional
// agent segment and the token query parameter.
func (c *Client) sessionURL() string {
	base := strings.TrimRight(c.cfg.URL, "/")
	path := strings.Trim(c.cfg.SessionPath, "/")
	u := base + "/" + path
	if c.cfg.AgentID != "" {
		u += "/" + url.PathEscape(c.cfg.AgentID)
	}
	return u + "?token=" + url.QueryEscape(c.cfg.Token)
}

// Open dials the relay and starts the receive loop. Open on an already-open
// client is a no-op; Open after Close is an error since the client is
// single-shot.
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: client closed")
	}
	if c.open {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.sessionURL(), nil)
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}
	// Synthesized audio chunks can be large; the default read limit is 32 KiB.
	conn.SetReadLimit(1 << 20)

	c.mu.Lock()
	c.conn = conn
	c.open = true
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	go c.receiveLoop()
	return nil
}

// IsOpen reports whether the link is currently established.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

// Send writes one binary audio frame to the relay.
func (c *Client) Send(frame []byte) error {
	c.mu.Lock()
	if !c.open || c.closed {
		c.mu.Unlock()
		return fmt.Errorf("transport: not open")
	}
	conn, ctx := c.conn, c.ctx
	c.mu.Unlock()

	if err := conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// Events returns the inbound event stream. The channel is closed when the
// link terminates; check Err afterwards to distinguish a clean close from a
// failure.
func (c *Client) Events() <-chan Event { return c.events }

// Err returns the first error that terminated the link, or nil after a clean
// close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close sends the end control message, closes the connection and releases
// resources. Idempotent. Closing a never-opened client just marks it closed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	conn, ctx, cancel := c.conn, c.ctx, c.cancel
	c.mu.Unlock()

	if conn == nil {
		c.closeEvents()
		return nil
	}

	// Best effort: the relay uses the end message to finalize the session.
	if data, err := json.Marshal(endMessage{Type: "end"}); err == nil {
		_ = conn.Write(ctx, websocket.MessageText, data)
	}
	cancel()
	conn.Close(websocket.StatusNormalClosure, "session ended")
	return nil
}

// receiveLoop reads frames until the connection drops. It owns the events
// channel and closes it on exit.
func (c *Client) receiveLoop() {
	defer func() {
		c.mu.Lock()
		c.open = false
		c.mu.Unlock()
		c.closeEvents()
	}()

	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				c.setErr(fmt.Errorf("transport: read: %w", err))
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			c.deliver(Event{Kind: EventAudio, Audio: data})
		case websocket.MessageText:
			c.handleText(data)
		}
	}
}

// handleText parses a JSON text frame and delivers the matching event.
// Malformed payloads and unknown event types are dropped without tearing
// down the link.
func (c *Client) handleText(data []byte) {
	var evt relayEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return
	}

	switch evt.Type {
	case "transcript.user.complete":
		c.deliver(Event{Kind: EventUserTranscript, Content: evt.Content})
	case "transcript.assistant.delta":
		text := evt.Content
		if text == "" {
			text = evt.Delta
		}
		c.deliver(Event{Kind: EventAssistantDelta, Content: text})
	case "transcript.assistant.complete":
		c.deliver(Event{Kind: EventAssistantDone})
	case "session.ready":
		c.deliver(Event{Kind: EventReady})
	case "error":
		msg := evt.Error
		if msg == "" {
			msg = "unknown relay error"
		}
		c.deliver(Event{Kind: EventError, Content: msg})
	}
}

func (c *Client) deliver(evt Event) {
	select {
	case c.events <- evt:
	case <-c.ctx.Done():
	}
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *Client) closeEvents() {
	c.closeOnce.Do(func() { close(c.events) })
}
