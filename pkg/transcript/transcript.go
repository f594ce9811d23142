// Package transcript accumulates the conversation log of a voice session.
//
// User speech arrives as already-complete utterances; assistant speech arrives
// as incremental text deltas followed by a completion marker. The [Assembler]
// merges both streams into a single append-only message list ordered by
// arrival.
package transcript

import (
	"sync"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one utterance in the conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	// Complete is false for an assistant turn still receiving deltas, or one
	// abandoned before its completion marker arrived.
	Complete bool `json:"complete"`
}

// Assembler builds the transcript from interleaved user utterances and
// assistant deltas. Messages are append-only: existing entries never change
// position and user entries never change content. Safe for concurrent use.
type Assembler struct {
	mu       sync.Mutex
	messages []Message
	// open indexes the assistant message currently receiving deltas,
	// or -1 when no turn is open.
	open int
	now  func() time.Time
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{open: -1, now: time.Now}
}

// AddUserMessage appends a completed user utterance. Any assistant turn that
// was still open is abandoned: it stays in the transcript at its original
// position but will never be marked complete and receives no further deltas.
func (a *Assembler) AddUserMessage(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.open = -1
	a.messages = append(a.messages, Message{
		Role:      RoleUser,
		Content:   content,
		CreatedAt: a.now(),
		Complete:  true,
	})
}

// AppendAssistantDelta extends the open assistant turn with delta, or starts
// a new assistant message when none is open.
func (a *Assembler) AppendAssistantDelta(delta string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open >= 0 {
		a.messages[a.open].Content += delta
		return
	}
	a.open = len(a.messages)
	a.messages = append(a.messages, Message{
		Role:      RoleAssistant,
		Content:   delta,
		CreatedAt: a.now(),
	})
}

// CompleteAssistantTurn marks the open assistant turn complete and closes it.
// A completion with no open turn is ignored.
func (a *Assembler) CompleteAssistantTurn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open < 0 {
		return
	}
	a.messages[a.open].Complete = true
	a.open = -1
}

// Messages returns a copy of the transcript in arrival order.
func (a *Assembler) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Message(nil), a.messages...)
}

// Len returns the number of messages accumulated so far.
func (a *Assembler) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}
