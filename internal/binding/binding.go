// Package binding connects one tab to one session surface. It decides when
// the surface must be rebuilt and when an in-place update suffices, and it
// owns the per-tab coordinator lifecycle (creation, pending-prompt
// hand-off, cleanup registration).
package binding

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/host"
	"github.com/zjrosen/nacre/internal/log"
	"github.com/zjrosen/nacre/internal/session"
	"github.com/zjrosen/nacre/internal/stream"
	"github.com/zjrosen/nacre/internal/tabs"
)

// View is the identity snapshot the rebind decision is made from.
type View struct {
	TabID       string
	Active      bool
	ProjectPath string
	SessionID   string // "" when the tab has no session id yet
}

// ViewOf builds a View from a tab.
func ViewOf(t *tabs.Tab, active bool) View {
	if t == nil {
		return View{}
	}
	return View{
		TabID:       t.ID,
		Active:      active,
		ProjectPath: t.ProjectPath,
		SessionID:   t.SessionID(),
	}
}

// ShouldRebind reports whether the session surface must be torn down and
// rebuilt for the new view.
//
// A tab whose session id just appeared is NOT a rebind: the surface
// already tracks the id it acquired mid-stream, and rebuilding at that
// moment would drop buffered messages. Only a genuinely different tab,
// activation flip, project move, or session replacement rebinds.
func ShouldRebind(prev, next View) bool {
	if prev.TabID != next.TabID {
		return true
	}
	if prev.Active != next.Active {
		return true
	}
	if prev.ProjectPath != next.ProjectPath {
		return true
	}
	if prev.SessionID == next.SessionID {
		return false
	}
	// Upgrade in place: absent -> present keeps the surface.
	if prev.SessionID == "" && next.SessionID != "" {
		return false
	}
	return true
}

// Binder owns one Coordinator per session-bound tab and keeps the tab
// store's per-tab facts (status, engine, session identity) in sync with
// what the stream reports.
type Binder struct {
	store   *tabs.Store
	streams *stream.Manager
	history *session.HistoryLoader
	host    host.Host
	tracer  trace.Tracer

	mu           sync.Mutex
	coordinators map[string]*session.Coordinator
}

// NewBinder creates a Binder.
func NewBinder(store *tabs.Store, streams *stream.Manager, history *session.HistoryLoader, h host.Host, tracer trace.Tracer) *Binder {
	return &Binder{
		store:        store,
		streams:      streams,
		history:      history,
		host:         h,
		tracer:       tracer,
		coordinators: make(map[string]*session.Coordinator),
	}
}

// Bind returns the tab's coordinator, creating it on first mount. Creation
// registers the tab's cleanup callback and consumes the tab's pending
// prompt, sending it exactly once.
func (b *Binder) Bind(ctx context.Context, tabID string) (*session.Coordinator, error) {
	b.mu.Lock()
	if c, ok := b.coordinators[tabID]; ok {
		b.mu.Unlock()
		return c, nil
	}
	b.mu.Unlock()

	tab := b.store.Get(tabID)
	if tab == nil {
		return nil, fmt.Errorf("bind: tab %s not found", tabID)
	}
	if tab.Engine == "" {
		return nil, fmt.Errorf("bind: tab %s has no engine selected", tabID)
	}

	backend, err := engine.New(tab.Engine, b.host)
	if err != nil {
		return nil, err
	}

	coord := session.NewCoordinator(session.Options{
		TabID:       tabID,
		ProjectPath: tab.ProjectPath,
		SessionID:   tab.SessionID(),
		Backend:     backend,
		Streams:     b.streams,
		History:     b.history,
		Tracer:      b.tracer,
		Hooks: session.Hooks{
			OnStatus: func(status, errorMessage string) {
				b.store.UpdateStatus(tabID, tabs.Status(status), errorMessage)
			},
			OnSessionAcquired: func(sessionID string) {
				b.store.UpgradeSession(tabID, tabs.UpgradeInfo{
					SessionID:   sessionID,
					ProjectPath: tab.ProjectPath,
					Engine:      backend.Type(),
				})
			},
		},
	})

	b.mu.Lock()
	b.coordinators[tabID] = coord
	b.mu.Unlock()

	b.store.Cleanups().Register(tabID, func() error {
		b.unbind(tabID)
		return nil
	})

	if pending := tab.PendingPrompt; pending != nil {
		b.store.UpdatePendingPrompt(tabID, nil)
		log.Debug(log.CatExec, "consuming pending prompt", "tabID", tabID)
		coord.Send(ctx, pending.Text, pending.Model)
	}

	return coord, nil
}

// Coordinator returns the coordinator bound to tabID, or nil.
func (b *Binder) Coordinator(tabID string) *session.Coordinator {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coordinators[tabID]
}

// LoadHistory populates the tab's message list from the stored
// conversation, used when opening an existing session from history.
func (b *Binder) LoadHistory(ctx context.Context, tabID string) error {
	coord, err := b.Bind(ctx, tabID)
	if err != nil {
		return err
	}
	sessionID := coord.SessionID()
	if sessionID == "" {
		return nil
	}
	tab := b.store.Get(tabID)
	if tab == nil {
		return fmt.Errorf("load history: tab %s not found", tabID)
	}
	backend, err := engine.New(tab.Engine, b.host)
	if err != nil {
		return err
	}
	events, err := b.history.Load(ctx, backend, sessionID, tab.ProjectPath)
	if err != nil {
		return err
	}
	coord.Messages().Replace(events)
	return nil
}

// unbind tears down the tab's coordinator and stream attachment.
func (b *Binder) unbind(tabID string) {
	b.mu.Lock()
	coord := b.coordinators[tabID]
	delete(b.coordinators, tabID)
	b.mu.Unlock()

	if coord != nil {
		coord.Teardown()
	}
}
