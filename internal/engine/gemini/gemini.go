// Package gemini binds the uniform engine contract to the Gemini CLI
// backend operations.
package gemini

import (
	"encoding/json"
	"fmt"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/host"
)

func init() {
	engine.Register(engine.TypeGemini, func(h host.Host) engine.Backend {
		return New(h)
	})
}

var ops = engine.Ops{
	Execute:  "execute_gemini",
	Continue: "continue_gemini",
	Resume:   "resume_gemini",
	Cancel:   "cancel_gemini",
	History:  "load_gemini_session_history",
	Revert:   "revert_gemini_to_prompt",
	Output:   "gemini-output",
	Complete: "gemini-complete",
	Error:    "gemini-error",
}

// New creates the Gemini backend bound to the host.
func New(h host.Host) engine.Backend {
	return engine.NewHostBackend(engine.TypeGemini, h, ops, Parse)
}

// Parse converts one Gemini stream payload into a unified OutputEvent.
// Gemini's stream is close to the unified shape but carries no stable
// message or tool-call ids, so Identity() is empty and duplicate delivery
// after a reconnect cannot be deduplicated. Known gap.
func Parse(raw json.RawMessage) (engine.OutputEvent, error) {
	var ev engine.OutputEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return engine.OutputEvent{}, fmt.Errorf("decoding gemini event: %w", err)
	}
	if ev.Type == "" {
		// Bare text chunks arrive as {"content": "..."}.
		var chunk struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &chunk); err != nil || chunk.Content == "" {
			return engine.OutputEvent{}, fmt.Errorf("unrecognized gemini payload")
		}
		ev = engine.OutputEvent{
			Type: engine.EventAssistant,
			Message: &engine.MessageContent{
				Role:    "assistant",
				Content: []engine.ContentBlock{{Type: "text", Text: chunk.Content}},
			},
		}
	}
	return ev, nil
}
