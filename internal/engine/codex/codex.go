// Package codex binds the uniform engine contract to the Codex CLI backend
// operations.
package codex

import (
	"encoding/json"
	"fmt"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/host"
)

func init() {
	engine.Register(engine.TypeCodex, func(h host.Host) engine.Backend {
		return New(h)
	})
}

var ops = engine.Ops{
	Execute:  "execute_codex",
	Continue: "resume_last_codex",
	Resume:   "resume_codex",
	Cancel:   "cancel_codex",
	History:  "load_codex_session_history",
	Revert:   "revert_codex_to_prompt",
	Output:   "codex-output",
	Complete: "codex-complete",
	Error:    "codex-error",
}

// New creates the Codex backend bound to the host.
func New(h host.Host) engine.Backend {
	return engine.NewHostBackend(engine.TypeCodex, h, ops, Parse)
}

// codexMsg is the native Codex protocol envelope: a flat msg object rather
// than Claude's nested message/content shape.
type codexMsg struct {
	ID  string `json:"id"`
	Msg struct {
		Type      string          `json:"type"`
		Text      string          `json:"text,omitempty"`
		Message   string          `json:"message,omitempty"`
		SessionID string          `json:"session_id,omitempty"`
		CallID    string          `json:"call_id,omitempty"`
		Name      string          `json:"name,omitempty"`
		Arguments json.RawMessage `json:"arguments,omitempty"`
		Output    string          `json:"output,omitempty"`
	} `json:"msg"`
}

// Parse converts one Codex protocol message into a unified OutputEvent.
func Parse(raw json.RawMessage) (engine.OutputEvent, error) {
	var native codexMsg
	if err := json.Unmarshal(raw, &native); err != nil {
		return engine.OutputEvent{}, fmt.Errorf("decoding codex event: %w", err)
	}

	text := native.Msg.Text
	if text == "" {
		text = native.Msg.Message
	}

	switch native.Msg.Type {
	case "session_configured":
		return engine.OutputEvent{
			Type:      engine.EventSystem,
			SubType:   "init",
			SessionID: native.Msg.SessionID,
		}, nil
	case "agent_message", "agent_message_delta", "agent_reasoning":
		return engine.OutputEvent{
			Type: engine.EventAssistant,
			Message: &engine.MessageContent{
				ID:      native.ID,
				Role:    "assistant",
				Content: []engine.ContentBlock{{Type: "text", Text: text}},
			},
		}, nil
	case "exec_command_begin", "mcp_tool_call_begin":
		return engine.OutputEvent{
			Type: engine.EventToolUse,
			Tool: &engine.ToolContent{
				ID:    native.Msg.CallID,
				Name:  native.Msg.Name,
				Input: native.Msg.Arguments,
			},
		}, nil
	case "exec_command_end", "mcp_tool_call_end":
		return engine.OutputEvent{
			Type: engine.EventToolResult,
			Tool: &engine.ToolContent{
				ID:     native.Msg.CallID,
				Output: native.Msg.Output,
			},
		}, nil
	case "task_complete":
		return engine.OutputEvent{
			Type:      engine.EventResult,
			SessionID: native.Msg.SessionID,
			Result:    text,
		}, nil
	case "error":
		return engine.OutputEvent{
			Type:  engine.EventError,
			Error: &engine.ErrorInfo{Message: text},
		}, nil
	default:
		// Unknown protocol messages pass through as system events so the
		// message list can ignore them without losing ordering.
		return engine.OutputEvent{Type: engine.EventSystem, SubType: native.Msg.Type}, nil
	}
}
