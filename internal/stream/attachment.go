package stream

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/host"
	"github.com/zjrosen/nacre/internal/log"
)

// Hooks receive attachment-derived facts. All hooks are invoked from the
// attachment's pump goroutine; implementations forward into the store.
type Hooks struct {
	// OnStatus reports streaming/idle/error transitions.
	OnStatus func(status string, errorMessage string)

	// OnSessionID fires once when a session-less attachment learns its
	// engine-issued identifier (from an init or terminal event).
	OnSessionID func(sessionID string)

	// OnTerminal fires on every terminal event, after OnStatus. err is nil
	// on clean completion.
	OnTerminal func(err error)

	// OnMessage fires after a message was appended to the list.
	OnMessage func(msg Message)
}

// Status values reported through Hooks.OnStatus. These mirror the tab
// store's status vocabulary without importing it.
const (
	StatusStreaming = "streaming"
	StatusIdle      = "idle"
	StatusError     = "error"
)

// Attachment is the single live subscription for one session.
// It owns the engine listener handles, the session's message list, and the
// mounted guard that drops events arriving after teardown.
type Attachment struct {
	key string // stable key: the owning tab id

	mu        sync.Mutex
	sessionID string // engine-issued; may start empty and be learned
	hooks     Hooks

	backend  engine.Backend
	events   <-chan engine.OutputEvent
	unsub    host.Unsubscribe
	mounted  atomic.Bool
	messages *MessageList
}

// Key returns the attachment's stable key (the owning tab id).
func (a *Attachment) Key() string { return a.key }

// SessionID returns the engine session id, or "" if not yet learned.
func (a *Attachment) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Messages exposes the session's message list.
func (a *Attachment) Messages() *MessageList { return a.messages }

// Backend returns the engine backend this attachment streams from.
func (a *Attachment) Backend() engine.Backend { return a.backend }

// SetHooks replaces the hook set, rebinding the attachment to whichever
// window currently renders it.
func (a *Attachment) SetHooks(hooks Hooks) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hooks = hooks
}

// pump consumes stream events until the channel closes or the attachment
// unmounts. Every event passes the mounted and session-identity guards
// before touching shared state.
func (a *Attachment) pump() {
	for ev := range a.events {
		if !a.mounted.Load() {
			// Late event racing teardown; a cancelled session must not
			// mutate state it no longer owns.
			log.Debug(log.CatStream, "dropping event after detach", "key", a.key, "type", ev.Type)
			continue
		}
		if !a.accepts(ev) {
			continue
		}
		a.handle(ev)
	}
}

// accepts applies the session-identity guard: events stamped with a
// different session id belong to another conversation on the same engine.
func (a *Attachment) accepts(ev engine.OutputEvent) bool {
	if ev.SessionID == "" {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID == "" || a.sessionID == ev.SessionID
}

func (a *Attachment) handle(ev engine.OutputEvent) {
	a.mu.Lock()
	hooks := a.hooks
	learned := ""
	if ev.SessionID != "" && a.sessionID == "" {
		a.sessionID = ev.SessionID
		learned = ev.SessionID
	}
	a.mu.Unlock()

	if learned != "" {
		log.Info(log.CatStream, "attachment learned session id", "key", a.key, "sessionID", learned)
		if hooks.OnSessionID != nil {
			hooks.OnSessionID(learned)
		}
	}

	if msg, appended := a.messages.AppendEvent(ev); appended && hooks.OnMessage != nil {
		hooks.OnMessage(msg)
	}

	if !ev.IsTerminal() {
		return
	}

	if ev.IsError() {
		msg := ev.GetErrorMessage()
		if hooks.OnStatus != nil {
			hooks.OnStatus(StatusError, msg)
		}
		if hooks.OnTerminal != nil {
			hooks.OnTerminal(fmt.Errorf("%s", msg))
		}
		return
	}
	if hooks.OnStatus != nil {
		hooks.OnStatus(StatusIdle, "")
	}
	if hooks.OnTerminal != nil {
		hooks.OnTerminal(nil)
	}
}

// detach unmounts the attachment and releases its listener handles.
func (a *Attachment) detach() {
	a.mounted.Store(false)
	if a.unsub != nil {
		a.unsub()
	}
}

// Manager tracks one Attachment per session-bound tab and guarantees the
// attach contract: repeated Attach calls across tab switches reuse the
// existing subscription instead of stacking duplicate listeners.
type Manager struct {
	mu          sync.Mutex
	attachments map[string]*Attachment
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{attachments: make(map[string]*Attachment)}
}

// Attach returns the live attachment for key, creating listeners only if
// none exist yet. Idempotent: switching back to an already-attached tab
// reuses the subscription, which is the duplication hazard this type
// exists to prevent. The hooks are rebound on every call so events flow to
// whichever window currently owns the tab.
//
// The message list is owned by the caller so it survives detach/reattach
// cycles (a cancelled turn must not erase the conversation).
func (m *Manager) Attach(key, sessionID string, backend engine.Backend, messages *MessageList, hooks Hooks) *Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.attachments[key]; ok {
		a.SetHooks(hooks)
		return a
	}

	if messages == nil {
		messages = NewMessageList()
	}
	events, unsub := backend.Subscribe()
	a := &Attachment{
		key:       key,
		sessionID: sessionID,
		hooks:     hooks,
		backend:   backend,
		events:    events,
		unsub:     unsub,
		messages:  messages,
	}
	a.mounted.Store(true)
	m.attachments[key] = a

	log.Debug(log.CatStream, "attached session stream", "key", key, "sessionID", sessionID, "engine", backend.Type())
	log.SafeGo(fmt.Sprintf("stream.pump[%s]", key), a.pump)
	return a
}

// Get returns the attachment for key, or nil.
func (m *Manager) Get(key string) *Attachment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attachments[key]
}

// Detach tears down one attachment: invoked on explicit cancellation,
// session completion, or tab teardown. Never called merely because a tab
// lost focus; backgrounded tabs keep listening so output is not lost.
func (m *Manager) Detach(key string) {
	m.mu.Lock()
	a, ok := m.attachments[key]
	delete(m.attachments, key)
	m.mu.Unlock()

	if ok {
		a.detach()
		log.Debug(log.CatStream, "detached session stream", "key", key)
	}
}

// DetachAll tears down every attachment. Component teardown only.
func (m *Manager) DetachAll() {
	m.mu.Lock()
	all := m.attachments
	m.attachments = make(map[string]*Attachment)
	m.mu.Unlock()

	for key, a := range all {
		a.detach()
		log.Debug(log.CatStream, "detached session stream", "key", key)
	}
}

// Count returns the number of live attachments.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attachments)
}
