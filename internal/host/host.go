// Package host abstracts the environment the client runs inside.
//
// The core never spawns processes or opens windows itself. It asks the host
// to invoke named backend operations with JSON arguments, to deliver named
// asynchronous events, and to create new top-level windows. The production
// host is backed by the local window-sync hub (see the wshub subpackage);
// tests use MockHost.
package host

import (
	"context"
	"encoding/json"
)

// WindowID identifies a top-level window of the application.
type WindowID string

// WindowDescriptor seeds a newly created window with enough state to
// reconstruct a tab on its side.
type WindowDescriptor struct {
	TabID       string `json:"tabId"`
	SessionID   string `json:"sessionId,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`
	Engine      string `json:"engine,omitempty"`
	Title       string `json:"title,omitempty"`
}

// WindowHandle references a window created through the host.
type WindowHandle struct {
	ID    WindowID
	Label string
}

// Unsubscribe removes a previously registered event listener.
// Safe to call more than once.
type Unsubscribe func()

// Host is the contract the environment must satisfy.
//
// All operations are asynchronous from the caller's point of view: Invoke
// resolves once, while streamed output from execute/continue/resume
// operations arrives through listeners registered with Listen.
type Host interface {
	// Invoke calls a named backend operation with JSON-encodable args and
	// returns the raw response body.
	Invoke(ctx context.Context, op string, args any) (json.RawMessage, error)

	// Listen subscribes to a named event delivered to this window.
	// The returned channel receives raw payloads until Unsubscribe is called.
	Listen(event string) (<-chan json.RawMessage, Unsubscribe)

	// Emit broadcasts a named event to all windows of the application,
	// including this one.
	Emit(event string, payload any) error

	// CreateWindow asks the host to open a new top-level window seeded with
	// the descriptor.
	CreateWindow(ctx context.Context, desc WindowDescriptor) (*WindowHandle, error)
}
