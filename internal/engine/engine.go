// Package engine models the execution backends a session can run against.
//
// A Backend does not spawn processes itself. It maps the uniform session
// operations (execute, continue, resume, cancel, history, revert) onto the
// named host operations and event streams of one concrete engine, and
// parses that engine's native output into unified OutputEvents.
package engine

import (
	"context"
	"fmt"

	"github.com/zjrosen/nacre/internal/host"
)

// Type identifies an execution engine.
type Type string

const (
	// TypeClaude is the Claude Code CLI engine.
	TypeClaude Type = "claude"
	// TypeCodex is the OpenAI Codex CLI engine.
	TypeCodex Type = "codex"
	// TypeGemini is the Gemini CLI engine.
	TypeGemini Type = "gemini"
)

// RevertMode selects what a revert operation rolls back.
type RevertMode string

const (
	// RevertConversationOnly rolls back the conversation history.
	RevertConversationOnly RevertMode = "conversation_only"
	// RevertCodeOnly rolls back file changes.
	RevertCodeOnly RevertMode = "code_only"
	// RevertBoth rolls back both.
	RevertBoth RevertMode = "both"
)

// ExecSpec holds the arguments for execute/continue/resume operations.
type ExecSpec struct {
	ProjectPath string `json:"project_path"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`

	// SessionID is required for resume and ignored by execute.
	SessionID string `json:"session_id,omitempty"`

	// Extensions holds engine-specific options (plan mode, sandbox level).
	Extensions map[string]any `json:"extensions,omitempty"`
}

// RevertSpec holds the arguments for a revert operation.
type RevertSpec struct {
	SessionID   string     `json:"session_id"`
	ProjectPath string     `json:"project_path"`
	PromptIndex int        `json:"prompt_index"`
	Mode        RevertMode `json:"mode"`
}

// Backend is the uniform contract every engine satisfies.
//
// Execute, Continue and Resume start a turn; their streamed output arrives
// through Subscribe, ending with a terminal result or error event. All
// methods are safe to call from the event loop; blocking work happens in
// the host.
type Backend interface {
	// Type returns the engine identifier.
	Type() Type

	// Execute starts a brand-new conversation.
	Execute(ctx context.Context, spec ExecSpec) error

	// Continue sends a prompt to the most recent conversation for the
	// project without naming a session.
	Continue(ctx context.Context, spec ExecSpec) error

	// Resume sends a prompt to the session named by spec.SessionID.
	Resume(ctx context.Context, spec ExecSpec) error

	// Cancel requests cancellation of the in-flight turn. Best effort:
	// callers must reset local state whether or not this succeeds.
	Cancel(ctx context.Context, sessionID string) error

	// LoadHistory returns the full message history for a session.
	LoadHistory(ctx context.Context, sessionID, projectPath string) ([]OutputEvent, error)

	// Revert rolls the session back to a prior prompt and returns that
	// prompt's original text so it can be restored into the input surface.
	Revert(ctx context.Context, spec RevertSpec) (string, error)

	// Subscribe registers listeners for this engine's output events and
	// returns a channel of parsed events plus an unsubscribe handle.
	Subscribe() (<-chan OutputEvent, host.Unsubscribe)
}

// ErrUnknownEngine is returned when an unregistered engine type is requested.
var ErrUnknownEngine = fmt.Errorf("unknown engine type")

// backendRegistry holds registered backend factories.
var backendRegistry = make(map[Type]func(h host.Host) Backend)

// Register registers a backend factory for the given engine type.
// Called from init() functions of the engine subpackages.
func Register(t Type, factory func(h host.Host) Backend) {
	backendRegistry[t] = factory
}

// New creates a Backend of the given type bound to the host.
// Returns ErrUnknownEngine if the type is not registered.
func New(t Type, h host.Host) (Backend, error) {
	factory, ok := backendRegistry[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEngine, t)
	}
	return factory(h), nil
}

// Registered returns all registered engine types.
func Registered() []Type {
	types := make([]Type, 0, len(backendRegistry))
	for t := range backendRegistry {
		types = append(types, t)
	}
	return types
}

// IsRegistered returns true if the given engine type has been registered.
func IsRegistered(t Type) bool {
	_, ok := backendRegistry[t]
	return ok
}
