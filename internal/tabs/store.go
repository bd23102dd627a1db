package tabs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/log"
	"github.com/zjrosen/nacre/internal/pubsub"
)

// Change describes one store mutation, published to subscribers so bound
// surfaces can refresh.
type Change struct {
	Op    string
	TabID string
}

// CreateOptions configures CreateTab. The zero value creates a blank,
// activated "new" tab.
type CreateOptions struct {
	Session     *Session
	ProjectPath string
	Engine      engine.Type

	// Background suppresses activation of the new tab.
	Background bool

	// PendingPrompt is a one-shot prompt to send once the tab's session
	// surface mounts. Never persisted.
	PendingPrompt *PendingPrompt
}

// CloseResult reports the outcome of a Close call.
type CloseResult struct {
	Closed            bool
	NeedsConfirmation bool
	HasUnsavedChanges bool
}

// UpgradeInfo carries the session identity acquired from the first
// successful backend response of a brand-new conversation.
type UpgradeInfo struct {
	SessionID   string
	ProjectID   string
	ProjectPath string
	Engine      engine.Type
}

// Store holds the authoritative tab collection and the active-tab pointer.
// Every state change persists the filtered projection through the
// repository; persistence failures are logged, never surfaced as tab
// operation failures.
type Store struct {
	mu       sync.RWMutex
	tabs     []*Tab
	activeID string

	cleanups *CleanupRegistry
	repo     StateRepository
	broker   *pubsub.Broker[Change]
	now      func() time.Time
}

// NewStore creates a Store and restores the persisted projection from repo.
// A nil repo disables persistence (used by tests and detached windows that
// do not own durable state). A corrupt persisted blob is discarded
// wholesale and logged; the store starts empty.
func NewStore(repo StateRepository) *Store {
	s := &Store{
		cleanups: NewCleanupRegistry(),
		repo:     repo,
		broker:   pubsub.NewBroker[Change](),
		now:      time.Now,
	}
	s.restore()
	return s
}

func (s *Store) restore() {
	if s.repo == nil {
		return
	}
	blob, ok, err := s.repo.Load()
	if err != nil {
		log.ErrorErr(log.CatTabs, "loading persisted tab state", err)
		return
	}
	if !ok {
		return
	}
	tabList, activeID, err := decodeState(blob)
	if err != nil {
		log.ErrorErr(log.CatTabs, "discarding corrupt persisted tab state", err)
		return
	}
	s.tabs = tabList
	s.activeID = activeID
	log.Info(log.CatTabs, "restored tab state", "tabs", len(tabList), "activeID", activeID)
}

// persist writes the current projection. Callers must hold s.mu.
func (s *Store) persist() {
	if s.repo == nil {
		return
	}
	blob, err := encodeState(s.tabs, s.activeID)
	if err != nil {
		log.ErrorErr(log.CatTabs, "encoding tab state", err)
		return
	}
	if err := s.repo.Save(blob); err != nil {
		log.ErrorErr(log.CatTabs, "persisting tab state", err)
	}
}

func (s *Store) publish(op, tabID string) {
	s.broker.Publish(pubsub.UpdatedEvent, Change{Op: op, TabID: tabID})
}

// Subscribe returns a channel of store changes, closed when ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan pubsub.Event[Change] {
	return s.broker.Subscribe(ctx)
}

// Broker exposes the change broker for Bubble Tea continuous listeners.
func (s *Store) Broker() *pubsub.Broker[Change] {
	return s.broker
}

// Cleanups returns the cleanup registry shared with rendering adapters.
func (s *Store) Cleanups() *CleanupRegistry {
	return s.cleanups
}

// CreateTab inserts a new tab and returns its id. Never fails: a tab with
// neither session nor project path is a valid blank tab.
func (s *Store) CreateTab(opts CreateOptions) string {
	s.mu.Lock()

	now := s.now()
	projectPath := opts.ProjectPath
	if opts.Session != nil && opts.Session.ProjectPath != "" {
		projectPath = opts.Session.ProjectPath
	}

	tab := &Tab{
		ID:            uuid.NewString(),
		Title:         DeriveTitle(projectPath),
		Kind:          KindNew,
		ProjectPath:   projectPath,
		Session:       opts.Session,
		Engine:        opts.Engine,
		PendingPrompt: opts.PendingPrompt,
		Status:        StatusIdle,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	if opts.Session != nil {
		tab.Kind = KindSession
		if opts.Session.Engine != "" {
			tab.Engine = opts.Session.Engine
		}
	}

	s.tabs = append(s.tabs, tab)
	if !opts.Background {
		s.activeID = tab.ID
	}
	s.persist()
	s.mu.Unlock()

	log.Debug(log.CatTabs, "created tab", "tabID", tab.ID, "kind", tab.Kind, "projectPath", projectPath)
	s.publish("create", tab.ID)
	return tab.ID
}

// SwitchTo sets the active pointer and refreshes the target's
// last-active timestamp. No-op if the tab does not exist.
func (s *Store) SwitchTo(tabID string) {
	s.mu.Lock()
	tab := s.findLocked(tabID)
	if tab == nil {
		s.mu.Unlock()
		return
	}
	s.activeID = tabID
	tab.LastActiveAt = s.now()
	s.persist()
	s.mu.Unlock()

	s.publish("switch", tabID)
}

// CanClose reports whether a tab may close silently.
func (s *Store) CanClose(tabID string) (canClose, hasUnsavedChanges bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tab := s.findLocked(tabID)
	if tab == nil {
		return true, false
	}
	return !tab.HasUnsavedChanges, tab.HasUnsavedChanges
}

// Close closes a tab. Without force, a tab with unsaved changes is left in
// place and the caller is told confirmation is needed.
func (s *Store) Close(tabID string, force bool) CloseResult {
	if !force {
		if canClose, hasUnsaved := s.CanClose(tabID); !canClose {
			return CloseResult{NeedsConfirmation: true, HasUnsavedChanges: hasUnsaved}
		}
	}
	s.ForceClose(tabID)
	return CloseResult{Closed: true}
}

// ForceClose runs the tab's cleanup callback, removes the tab, and if it
// was active promotes the remaining tab with the most recent activity.
func (s *Store) ForceClose(tabID string) {
	// Cleanup runs outside the store lock: callbacks detach streams and may
	// call back into the store.
	s.cleanups.Run(tabID)

	s.mu.Lock()
	idx := -1
	for i, t := range s.tabs {
		if t.ID == tabID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.tabs = append(s.tabs[:idx], s.tabs[idx+1:]...)

	if s.activeID == tabID {
		s.activeID = ""
		var successor *Tab
		for _, t := range s.tabs {
			if successor == nil || t.LastActiveAt.After(successor.LastActiveAt) {
				successor = t
			}
		}
		if successor != nil {
			s.activeID = successor.ID
		}
	}
	s.persist()
	s.mu.Unlock()

	log.Debug(log.CatTabs, "closed tab", "tabID", tabID)
	s.publish("close", tabID)
}

// UpdateStatus sets a tab's streaming status. The error message is kept
// only for StatusError.
func (s *Store) UpdateStatus(tabID string, status Status, errorMessage string) {
	s.update(tabID, "status", func(t *Tab) {
		t.Status = status
		if status == StatusError {
			t.ErrorMessage = errorMessage
		} else {
			t.ErrorMessage = ""
		}
	})
}

// UpdateTitle sets a tab's display label.
func (s *Store) UpdateTitle(tabID, title string) {
	s.update(tabID, "title", func(t *Tab) {
		t.Title = title
	})
}

// UpdateEngine records which engine the bound session uses.
func (s *Store) UpdateEngine(tabID string, eng engine.Type) {
	s.update(tabID, "engine", func(t *Tab) {
		t.Engine = eng
		if t.Session != nil {
			t.Session.Engine = eng
		}
	})
}

// UpdateUnsavedChanges flags or clears the silent-close blocker.
func (s *Store) UpdateUnsavedChanges(tabID string, hasUnsaved bool) {
	s.update(tabID, "unsaved", func(t *Tab) {
		t.HasUnsavedChanges = hasUnsaved
	})
}

// UpdatePendingPrompt replaces the one-shot prompt. Passing nil clears it;
// the session surface clears it after consuming it once.
func (s *Store) UpdatePendingPrompt(tabID string, prompt *PendingPrompt) {
	s.update(tabID, "pendingPrompt", func(t *Tab) {
		t.PendingPrompt = prompt
	})
}

// UpgradeSession binds a freshly acquired session identity to a tab in
// place. Idempotent: a duplicate delivery carrying the same session id is
// a no-op, and an existing tab identity is never replaced by a new tab.
func (s *Store) UpgradeSession(tabID string, info UpgradeInfo) {
	s.mu.Lock()
	tab := s.findLocked(tabID)
	if tab == nil {
		s.mu.Unlock()
		return
	}
	if tab.Session != nil && tab.Session.ID == info.SessionID {
		s.mu.Unlock()
		return
	}

	if tab.Session == nil {
		tab.Session = &Session{CreatedAt: s.now()}
	}
	tab.Kind = KindSession
	tab.Session.ID = info.SessionID
	if info.ProjectID != "" {
		tab.Session.ProjectID = info.ProjectID
	}
	if info.ProjectPath != "" {
		tab.Session.ProjectPath = info.ProjectPath
		tab.ProjectPath = info.ProjectPath
	}
	if info.Engine != "" {
		tab.Session.Engine = info.Engine
		tab.Engine = info.Engine
	}
	tab.LastActiveAt = s.now()
	s.persist()
	s.mu.Unlock()

	log.Info(log.CatTabs, "upgraded tab to session", "tabID", tabID, "sessionID", info.SessionID)
	s.publish("upgrade", tabID)
}

// Reorder moves a tab between positions. No-op on equal or out-of-range
// indices.
func (s *Store) Reorder(fromIndex, toIndex int) {
	s.mu.Lock()
	if fromIndex == toIndex ||
		fromIndex < 0 || fromIndex >= len(s.tabs) ||
		toIndex < 0 || toIndex >= len(s.tabs) {
		s.mu.Unlock()
		return
	}
	tab := s.tabs[fromIndex]
	s.tabs = append(s.tabs[:fromIndex], s.tabs[fromIndex+1:]...)
	s.tabs = append(s.tabs[:toIndex], append([]*Tab{tab}, s.tabs[toIndex:]...)...)
	s.persist()
	s.mu.Unlock()

	s.publish("reorder", tab.ID)
}

func (s *Store) update(tabID, op string, fn func(*Tab)) {
	s.mu.Lock()
	tab := s.findLocked(tabID)
	if tab == nil {
		s.mu.Unlock()
		return
	}
	fn(tab)
	s.persist()
	s.mu.Unlock()

	s.publish(op, tabID)
}

// findLocked returns the tab with the given id. Callers must hold s.mu.
func (s *Store) findLocked(tabID string) *Tab {
	for _, t := range s.tabs {
		if t.ID == tabID {
			return t
		}
	}
	return nil
}

// Get returns the tab with the given id, or nil.
func (s *Store) Get(tabID string) *Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(tabID)
}

// FindBySessionID returns the tab bound to a session id, or nil.
func (s *Store) FindBySessionID(sessionID string) *Tab {
	if sessionID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tabs {
		if t.Session != nil && t.Session.ID == sessionID {
			return t
		}
	}
	return nil
}

// Active returns the active tab, or nil when the store is empty.
func (s *Store) Active() *Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == "" {
		return nil
	}
	return s.findLocked(s.activeID)
}

// ActiveID returns the active tab id, or "".
func (s *Store) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// Tabs returns the tabs in display order.
func (s *Store) Tabs() []*Tab {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Tab, len(s.tabs))
	copy(out, s.tabs)
	return out
}

// Count returns the number of tabs.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tabs)
}
