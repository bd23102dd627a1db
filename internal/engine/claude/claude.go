// Package claude binds the uniform engine contract to the Claude Code CLI
// backend operations.
package claude

import (
	"encoding/json"
	"fmt"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/host"
)

func init() {
	engine.Register(engine.TypeClaude, func(h host.Host) engine.Backend {
		return New(h)
	})
}

var ops = engine.Ops{
	Execute:  "execute_claude_code",
	Continue: "continue_claude_code",
	Resume:   "resume_claude_code",
	Cancel:   "cancel_claude_execution",
	History:  "load_session_history",
	Revert:   "revert_to_prompt",
	Output:   "claude-output",
	Complete: "claude-complete",
	Error:    "claude-error",
}

// New creates the Claude backend bound to the host.
func New(h host.Host) engine.Backend {
	return engine.NewHostBackend(engine.TypeClaude, h, ops, Parse)
}

// Parse converts one Claude stream-json line into a unified OutputEvent.
// Claude emits {"type":"system","subtype":"init",...}, assistant messages
// with content blocks, and result events.
func Parse(raw json.RawMessage) (engine.OutputEvent, error) {
	var ev engine.OutputEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return engine.OutputEvent{}, fmt.Errorf("decoding claude event: %w", err)
	}

	// Claude nests tool calls inside assistant message content blocks.
	// Surface the first tool_use block as a tool event so the message list
	// can key it by tool-call id.
	if ev.Type == engine.EventAssistant && ev.Tool == nil && ev.Message != nil {
		for i, block := range ev.Message.Content {
			if block.Type == "tool_use" {
				ev.Type = engine.EventToolUse
				ev.ContentIndex = i
				ev.Tool = &engine.ToolContent{
					ID:    block.ID,
					Name:  block.Name,
					Input: block.Input,
				}
				break
			}
		}
	}

	return ev, nil
}
