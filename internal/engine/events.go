package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType identifies the kind of output event.
type EventType string

const (
	// EventSystem is a system-level event (init is a subtype).
	EventSystem EventType = "system"
	// EventAssistant is an assistant message event.
	EventAssistant EventType = "assistant"
	// EventToolUse is a tool invocation event.
	EventToolUse EventType = "tool_use"
	// EventToolResult is a tool result event.
	EventToolResult EventType = "tool_result"
	// EventResult is the terminal completion event.
	EventResult EventType = "result"
	// EventError is an error event.
	EventError EventType = "error"
)

// OutputEvent is a parsed event from an engine's output stream.
// All engines map their native events to this unified structure.
type OutputEvent struct {
	Type      EventType `json:"type"`
	SubType   string    `json:"subtype,omitempty"`
	Timestamp time.Time `json:"-"`

	// SessionID is the engine-issued session identifier. Present on init
	// and result events; used to upgrade a session-less tab in place.
	SessionID string `json:"session_id,omitempty"`
	WorkDir   string `json:"cwd,omitempty"`

	// Message holds assistant message content.
	Message *MessageContent `json:"message,omitempty"`

	// Tool holds tool_use / tool_result content.
	Tool *ToolContent `json:"tool,omitempty"`

	// ContentIndex is the position of this block within its message.
	// Engines that redeliver events after a reconnect keep it stable,
	// which makes it usable as a dedupe key alongside the message id.
	ContentIndex int `json:"content_index,omitempty"`

	// Error information.
	Error *ErrorInfo `json:"error,omitempty"`

	// Result fields (terminal events).
	IsErrorResult bool   `json:"is_error,omitempty"`
	Result        string `json:"result,omitempty"`

	// Raw payload, kept for debugging.
	Raw json.RawMessage `json:"-"`
}

// IsInit returns true if this is a system init event.
func (e *OutputEvent) IsInit() bool {
	return e.Type == EventSystem && e.SubType == "init"
}

// IsTerminal returns true if this event ends the in-flight turn.
func (e *OutputEvent) IsTerminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// IsError returns true if this event carries an error.
// This includes explicit error events and result events with is_error=true.
func (e *OutputEvent) IsError() bool {
	return e.Type == EventError || e.Error != nil || e.IsErrorResult
}

// GetErrorMessage returns the error message from this event.
func (e *OutputEvent) GetErrorMessage() string {
	if e.Error != nil && e.Error.Message != "" {
		return e.Error.Message
	}
	if e.IsErrorResult && e.Result != "" {
		return e.Result
	}
	return "unknown error"
}

// Identity returns a stable identifier for deduplication across redelivery,
// or "" when the engine supplies none. Tool events use the tool-call id;
// assistant blocks use message id plus content index.
func (e *OutputEvent) Identity() string {
	if e.Tool != nil && e.Tool.ID != "" {
		return string(e.Type) + ":" + e.Tool.ID
	}
	if e.Message != nil && e.Message.ID != "" {
		return fmt.Sprintf("%s:%s:%d", e.Type, e.Message.ID, e.ContentIndex)
	}
	return ""
}

// MessageContent holds assistant message content.
type MessageContent struct {
	ID      string         `json:"id,omitempty"`
	Role    string         `json:"role,omitempty"`
	Content []ContentBlock `json:"content,omitempty"`
	Model   string         `json:"model,omitempty"`
}

// GetText returns the concatenated text content from all text blocks.
func (m *MessageContent) GetText() string {
	if m == nil {
		return ""
	}
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ContentBlock represents a single content block in a message.
// Can be text, tool_use, or tool_result.
type ContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text,omitempty"`
	// Tool use fields (when Type == "tool_use")
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ToolContent holds tool use/result content.
type ToolContent struct {
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Input   json.RawMessage `json:"input,omitempty"`
	Content string          `json:"content,omitempty"`
	Output  string          `json:"output,omitempty"`
}

// GetOutput returns the tool output, preferring Output over Content.
// Engines disagree on the field name.
func (t *ToolContent) GetOutput() string {
	if t == nil {
		return ""
	}
	if t.Output != "" {
		return t.Output
	}
	return t.Content
}

// ErrorInfo holds error details.
type ErrorInfo struct {
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}
