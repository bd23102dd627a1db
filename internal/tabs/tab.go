// Package tabs holds the authoritative tab collection, the active-tab
// pointer, and the cleanup registry. All mutation goes through the Store;
// consumers receive references, never copies.
package tabs

import (
	"time"

	"github.com/zjrosen/nacre/internal/engine"
)

// Kind distinguishes a blank tab from one bound to a session.
type Kind string

const (
	// KindNew is a tab with no session bound yet.
	KindNew Kind = "new"
	// KindSession is a tab bound to a session.
	KindSession Kind = "session"
)

// Status is the streaming state surfaced on the tab itself.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusError     Status = "error"
)

// Session identifies one backend conversation.
type Session struct {
	// ID is the engine-issued identifier. Empty until the first successful
	// turn of a brand-new conversation.
	ID          string      `json:"id,omitempty"`
	ProjectID   string      `json:"projectId,omitempty"`
	ProjectPath string      `json:"projectPath,omitempty"`
	Engine      engine.Type `json:"engine,omitempty"`
	CreatedAt   time.Time   `json:"createdAt,omitempty"`
}

// PendingPrompt is a one-shot prompt handed from the home screen to a newly
// created tab. It is consumed exactly once and never persisted.
type PendingPrompt struct {
	Text  string
	Model string
}

// Tab is one unit of UI real estate, bound to at most one session.
type Tab struct {
	ID          string
	Title       string
	Kind        Kind
	ProjectPath string
	Session     *Session
	Engine      engine.Type

	// PendingPrompt survives only in memory; the persisted projection
	// drops it so it cannot replay after a restart.
	PendingPrompt *PendingPrompt

	Status       Status
	ErrorMessage string

	HasUnsavedChanges bool

	CreatedAt    time.Time
	LastActiveAt time.Time
}

// SessionID returns the bound session's id, or "" for a new tab.
func (t *Tab) SessionID() string {
	if t.Session == nil {
		return ""
	}
	return t.Session.ID
}
