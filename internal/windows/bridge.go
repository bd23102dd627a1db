// Package windows moves tabs between top-level windows. Detaching hands a
// tab's session identity to a freshly created window; attaching merges a
// detached window's session back into the tab store without duplication.
package windows

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/zjrosen/nacre/internal/host"
	"github.com/zjrosen/nacre/internal/log"
	"github.com/zjrosen/nacre/internal/tabs"
)

// Sync event names broadcast to every window of the application.
const (
	EventTabDetached = "tab_detached"
	EventTabAttached = "tab_attached"
)

// ErrAlreadyDetached is returned when a detach targets a tab that already
// lives in its own window.
var ErrAlreadyDetached = errors.New("tab is already detached")

// ErrTabNotFound is returned when a detach targets an unknown tab.
var ErrTabNotFound = errors.New("tab not found")

// DetachedPayload is the tab_detached event body.
type DetachedPayload struct {
	TabID       string `json:"tabId"`
	SessionID   string `json:"sessionId,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`
}

// AttachedPayload is the tab_attached event body.
type AttachedPayload struct {
	TabID       string        `json:"tabId"`
	SessionID   string        `json:"sessionId,omitempty"`
	ProjectPath string        `json:"projectPath,omitempty"`
	Data        *AttachedData `json:"data,omitempty"`
}

// AttachedData carries the full session record when the detached window
// still has one.
type AttachedData struct {
	Session *tabs.Session `json:"session,omitempty"`
}

// Bridge owns the detached-window registry and the inbound attach handler.
//
// Invariant: a tab id is present in at most one of the tab store and the
// detached registry. Detach moves it store -> registry, attach moves it
// back.
type Bridge struct {
	host  host.Host
	store *tabs.Store

	mu       sync.Mutex
	detached map[string]*host.WindowHandle

	unsub host.Unsubscribe
}

// NewBridge creates a Bridge over the given host and store.
func NewBridge(h host.Host, store *tabs.Store) *Bridge {
	return &Bridge{
		host:     h,
		store:    store,
		detached: make(map[string]*host.WindowHandle),
	}
}

// Start registers the inbound tab_attached handler. Only the main window
// calls Start; detached windows emit but never reconstruct tabs.
func (b *Bridge) Start() {
	ch, unsub := b.host.Listen(EventTabAttached)
	b.unsub = unsub
	log.SafeGo("windows.attachLoop", func() {
		for raw := range ch {
			var payload AttachedPayload
			if err := json.Unmarshal(raw, &payload); err != nil {
				log.ErrorErr(log.CatWindows, "discarding malformed attach event", err)
				continue
			}
			b.handleAttached(payload)
		}
	})
}

// Stop removes the inbound handler.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
}

// Detach moves a tab into its own window: creates the window seeded with
// the tab's identity, records it as detached, broadcasts the sync event,
// and force-closes the originating tab. The session lives on; only the
// binding moves. Rejects tabs that are unknown or already detached.
func (b *Bridge) Detach(ctx context.Context, tabID string) (*host.WindowHandle, error) {
	b.mu.Lock()
	if _, dup := b.detached[tabID]; dup {
		b.mu.Unlock()
		return nil, ErrAlreadyDetached
	}
	b.mu.Unlock()

	tab := b.store.Get(tabID)
	if tab == nil {
		return nil, ErrTabNotFound
	}

	desc := host.WindowDescriptor{
		TabID:       tabID,
		SessionID:   tab.SessionID(),
		ProjectPath: tab.ProjectPath,
		Engine:      string(tab.Engine),
		Title:       tab.Title,
	}
	handle, err := b.host.CreateWindow(ctx, desc)
	if err != nil {
		log.ErrorErr(log.CatWindows, "detach window creation failed", err, "tabID", tabID)
		return nil, err
	}

	b.mu.Lock()
	b.detached[tabID] = handle
	b.mu.Unlock()

	if err := b.host.Emit(EventTabDetached, DetachedPayload{
		TabID:       tabID,
		SessionID:   desc.SessionID,
		ProjectPath: desc.ProjectPath,
	}); err != nil {
		log.ErrorErr(log.CatWindows, "broadcasting tab_detached failed", err, "tabID", tabID)
	}

	b.store.ForceClose(tabID)
	log.Info(log.CatWindows, "detached tab into window", "tabID", tabID, "window", handle.Label)
	return handle, nil
}

// CreateAsWindow opens a session (or a blank project workspace) directly in
// a new window, without ever creating a tab in the current one. Used for
// "open in new window" requests originating outside any existing tab.
func (b *Bridge) CreateAsWindow(ctx context.Context, session *tabs.Session, projectPath string) (*host.WindowHandle, error) {
	desc := host.WindowDescriptor{ProjectPath: projectPath}
	if session != nil {
		desc.SessionID = session.ID
		desc.Engine = string(session.Engine)
		if desc.ProjectPath == "" {
			desc.ProjectPath = session.ProjectPath
		}
	}
	desc.Title = tabs.DeriveTitle(desc.ProjectPath)

	handle, err := b.host.CreateWindow(ctx, desc)
	if err != nil {
		return nil, err
	}
	log.Info(log.CatWindows, "opened session in new window", "window", handle.Label, "sessionID", desc.SessionID)
	return handle, nil
}

// handleAttached merges a detached window's tab back into the store.
// Idempotent against duplicate delivery: a session id that already has a
// tab only gets activated, never duplicated.
func (b *Bridge) handleAttached(payload AttachedPayload) {
	b.mu.Lock()
	delete(b.detached, payload.TabID)
	b.mu.Unlock()

	session := payload.Session()
	if session != nil && session.ID != "" {
		if existing := b.store.FindBySessionID(session.ID); existing != nil {
			log.Debug(log.CatWindows, "attach for known session, activating existing tab", "sessionID", session.ID)
			b.store.SwitchTo(existing.ID)
			return
		}
		b.store.CreateTab(tabs.CreateOptions{
			Session:     session,
			ProjectPath: session.ProjectPath,
			Engine:      session.Engine,
		})
		log.Info(log.CatWindows, "attached session into new tab", "sessionID", session.ID)
		return
	}

	if payload.ProjectPath != "" {
		b.store.CreateTab(tabs.CreateOptions{ProjectPath: payload.ProjectPath})
		log.Info(log.CatWindows, "attached project into new tab", "projectPath", payload.ProjectPath)
		return
	}

	log.Debug(log.CatWindows, "attach event carried nothing to reconstruct", "tabID", payload.TabID)
}

// Session resolves the attached session from the richest available source:
// the full record under data, or a synthesized one from the flat fields.
func (p AttachedPayload) Session() *tabs.Session {
	if p.Data != nil && p.Data.Session != nil {
		return p.Data.Session
	}
	if p.SessionID == "" {
		return nil
	}
	return &tabs.Session{ID: p.SessionID, ProjectPath: p.ProjectPath}
}

// IsDetached reports whether the tab currently lives in its own window.
func (b *Bridge) IsDetached(tabID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.detached[tabID]
	return ok
}

// DetachedCount returns the number of tabs currently detached.
func (b *Bridge) DetachedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.detached)
}

// Forget removes a tab from the detached registry without reconstructing
// it, used when a detached window closes permanently.
func (b *Bridge) Forget(tabID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.detached, tabID)
}
