package session

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/zjrosen/nacre/internal/engine"
)

const (
	historyTTL     = 5 * time.Minute
	historySweep   = 10 * time.Minute
	historyKeyFmt  = "%s:%s" // engine:sessionID
)

// HistoryLoader loads full session histories through the engine-specific
// backend operation, with a short-lived cache so re-mounting a tab does
// not refetch an unchanged conversation.
type HistoryLoader struct {
	cache *gocache.Cache
}

// NewHistoryLoader creates a loader with an empty cache.
func NewHistoryLoader() *HistoryLoader {
	return &HistoryLoader{cache: gocache.New(historyTTL, historySweep)}
}

// Load returns the session's history, served from cache when fresh.
func (h *HistoryLoader) Load(ctx context.Context, backend engine.Backend, sessionID, projectPath string) ([]engine.OutputEvent, error) {
	key := fmt.Sprintf(historyKeyFmt, backend.Type(), sessionID)
	if cached, ok := h.cache.Get(key); ok {
		return cached.([]engine.OutputEvent), nil
	}

	events, err := backend.LoadHistory(ctx, sessionID, projectPath)
	if err != nil {
		return nil, err
	}
	h.cache.Set(key, events, gocache.DefaultExpiration)
	return events, nil
}

// Invalidate drops the cached history for a session. Called after revert,
// when the stored conversation no longer matches the cache.
func (h *HistoryLoader) Invalidate(backend engine.Backend, sessionID string) {
	h.cache.Delete(fmt.Sprintf(historyKeyFmt, backend.Type(), sessionID))
}
