// Package stream owns the live output subscription for active sessions:
// exactly one set of listener handles per session, arrival-order message
// appends, and the mounted/identity guards that keep late or foreign
// events from mutating shared state.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/nacre/internal/engine"
)

// MessageKind classifies an entry in the message list.
type MessageKind string

const (
	KindUser       MessageKind = "user"
	KindAssistant  MessageKind = "assistant"
	KindToolUse    MessageKind = "tool_use"
	KindToolResult MessageKind = "tool_result"
	KindSystem     MessageKind = "system"
	KindError      MessageKind = "error"
)

// Message is one rendered entry in a session's conversation.
type Message struct {
	ID   string
	Kind MessageKind
	Text string

	ToolName   string
	ToolOutput string

	// Synthetic marks locally generated entries (cancellation notices,
	// revert failures) that never came from the engine.
	Synthetic bool

	Timestamp time.Time
}

// MessageList is an ordered, deduplicating message collection.
// Events append in arrival order; the only reordering exception is
// dropping a redelivered event whose engine-supplied identity was already
// seen. Events with no identity always append (documented at-least-once
// gap for engines without stable ids).
type MessageList struct {
	mu   sync.RWMutex
	msgs []Message
	seen map[string]struct{}
}

// NewMessageList creates an empty list.
func NewMessageList() *MessageList {
	return &MessageList{seen: make(map[string]struct{})}
}

// AppendEvent converts a stream event into a message and appends it.
// Returns false when the event was deduplicated or carries nothing to show.
func (l *MessageList) AppendEvent(ev engine.OutputEvent) (Message, bool) {
	msg, ok := fromEvent(ev)
	if !ok {
		return Message{}, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if id := ev.Identity(); id != "" {
		if _, dup := l.seen[id]; dup {
			return Message{}, false
		}
		l.seen[id] = struct{}{}
	}
	l.msgs = append(l.msgs, msg)
	return msg, true
}

// AppendSynthetic appends a locally generated system or error entry.
func (l *MessageList) AppendSynthetic(kind MessageKind, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Text:      text,
		Synthetic: true,
		Timestamp: time.Now(),
	})
}

// Replace swaps the whole list, used after a history reload.
func (l *MessageList) Replace(events []engine.OutputEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = l.msgs[:0]
	l.seen = make(map[string]struct{})
	for _, ev := range events {
		msg, ok := fromEvent(ev)
		if !ok {
			continue
		}
		if id := ev.Identity(); id != "" {
			l.seen[id] = struct{}{}
		}
		l.msgs = append(l.msgs, msg)
	}
}

// Messages returns a copy of the list in order.
func (l *MessageList) Messages() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Len returns the number of messages.
func (l *MessageList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

func fromEvent(ev engine.OutputEvent) (Message, bool) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	switch {
	case ev.Type == engine.EventAssistant:
		text := ev.Message.GetText()
		if text == "" {
			return Message{}, false
		}
		return Message{ID: uuid.NewString(), Kind: KindAssistant, Text: text, Timestamp: ts}, true
	case ev.Type == engine.EventToolUse && ev.Tool != nil:
		return Message{ID: uuid.NewString(), Kind: KindToolUse, ToolName: ev.Tool.Name, Text: string(ev.Tool.Input), Timestamp: ts}, true
	case ev.Type == engine.EventToolResult && ev.Tool != nil:
		return Message{ID: uuid.NewString(), Kind: KindToolResult, ToolName: ev.Tool.Name, ToolOutput: ev.Tool.GetOutput(), Timestamp: ts}, true
	case ev.Type == engine.EventError:
		return Message{ID: uuid.NewString(), Kind: KindError, Text: ev.GetErrorMessage(), Timestamp: ts}, true
	case ev.Type == engine.EventResult && ev.IsErrorResult:
		return Message{ID: uuid.NewString(), Kind: KindError, Text: ev.Result, Timestamp: ts}, true
	default:
		// Init and bare result events carry state, not content.
		return Message{}, false
	}
}
