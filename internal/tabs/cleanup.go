package tabs

import (
	"sync"

	"github.com/zjrosen/nacre/internal/log"
)

// CleanupFunc tears down whatever is currently rendering a tab.
type CleanupFunc func() error

// CleanupRegistry maps a tab id to a teardown callback supplied by the
// component rendering that tab. It is a side table, never persisted.
// Exactly one entry per tab; last writer wins.
type CleanupRegistry struct {
	mu    sync.Mutex
	funcs map[string]CleanupFunc
}

// NewCleanupRegistry creates an empty registry.
func NewCleanupRegistry() *CleanupRegistry {
	return &CleanupRegistry{funcs: make(map[string]CleanupFunc)}
}

// Register stores the teardown callback for a tab, replacing any previous one.
func (r *CleanupRegistry) Register(tabID string, fn CleanupFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[tabID] = fn
}

// Remove drops the callback for a tab without running it.
func (r *CleanupRegistry) Remove(tabID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.funcs, tabID)
}

// Run invokes and removes the callback for a tab, if any. A failing
// callback is logged and swallowed: closing must never be blocked by a
// misbehaving teardown.
func (r *CleanupRegistry) Run(tabID string) {
	r.mu.Lock()
	fn, ok := r.funcs[tabID]
	delete(r.funcs, tabID)
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := fn(); err != nil {
		log.ErrorErr(log.CatTabs, "tab cleanup failed, closing anyway", err, "tabID", tabID)
	}
}

// Len returns the number of registered callbacks.
func (r *CleanupRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.funcs)
}
