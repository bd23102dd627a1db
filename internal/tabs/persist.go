package tabs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zjrosen/nacre/internal/engine"
)

// StateRepository stores the persisted tab projection as one opaque blob
// under a fixed key. Writes replace the whole blob.
type StateRepository interface {
	Save(blob []byte) error
	// Load returns the blob and whether one exists.
	Load() ([]byte, bool, error)
}

// persistedTab is the durable projection of a Tab. PendingPrompt has no
// field here on purpose: one-shot prompts must not survive a reload.
type persistedTab struct {
	ID                string      `json:"id"`
	Title             string      `json:"title"`
	Kind              Kind        `json:"kind"`
	ProjectPath       string      `json:"projectPath,omitempty"`
	Session           *Session    `json:"session,omitempty"`
	Engine            engine.Type `json:"engine,omitempty"`
	Status            Status      `json:"status"`
	ErrorMessage      string      `json:"errorMessage,omitempty"`
	HasUnsavedChanges bool        `json:"hasUnsavedChanges"`
	CreatedAt         time.Time   `json:"createdAt"`
	LastActiveAt      time.Time   `json:"lastActiveAt"`
}

// persistedState is the single-key blob format.
type persistedState struct {
	Tabs        []persistedTab `json:"tabs"`
	ActiveTabID *string        `json:"activeTabId"`
}

// encodeState serializes the tab list and active pointer.
func encodeState(tabList []*Tab, activeID string) ([]byte, error) {
	state := persistedState{Tabs: make([]persistedTab, 0, len(tabList))}
	for _, t := range tabList {
		state.Tabs = append(state.Tabs, persistedTab{
			ID:                t.ID,
			Title:             t.Title,
			Kind:              t.Kind,
			ProjectPath:       t.ProjectPath,
			Session:           t.Session,
			Engine:            t.Engine,
			Status:            t.Status,
			ErrorMessage:      t.ErrorMessage,
			HasUnsavedChanges: t.HasUnsavedChanges,
			CreatedAt:         t.CreatedAt,
			LastActiveAt:      t.LastActiveAt,
		})
	}
	if activeID != "" {
		state.ActiveTabID = &activeID
	}

	blob, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encoding tab state: %w", err)
	}
	return blob, nil
}

// decodeState deserializes a blob back into tabs and an active pointer.
// Entries missing an id or title are dropped; missing kind, status and
// unsaved-changes default to a blank idle tab; an active id that no longer
// resolves falls back to the first valid tab.
func decodeState(blob []byte) ([]*Tab, string, error) {
	var state persistedState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, "", fmt.Errorf("decoding tab state: %w", err)
	}

	tabList := make([]*Tab, 0, len(state.Tabs))
	for _, p := range state.Tabs {
		if p.ID == "" || p.Title == "" {
			continue
		}
		tab := &Tab{
			ID:                p.ID,
			Title:             p.Title,
			Kind:              p.Kind,
			ProjectPath:       p.ProjectPath,
			Session:           p.Session,
			Engine:            p.Engine,
			Status:            p.Status,
			ErrorMessage:      p.ErrorMessage,
			HasUnsavedChanges: p.HasUnsavedChanges,
			CreatedAt:         p.CreatedAt,
			LastActiveAt:      p.LastActiveAt,
		}
		if tab.Kind == "" {
			if tab.Session != nil {
				tab.Kind = KindSession
			} else {
				tab.Kind = KindNew
			}
		}
		if tab.Status == "" {
			tab.Status = StatusIdle
		}
		tabList = append(tabList, tab)
	}

	activeID := ""
	if state.ActiveTabID != nil {
		for _, t := range tabList {
			if t.ID == *state.ActiveTabID {
				activeID = t.ID
				break
			}
		}
	}
	if activeID == "" && len(tabList) > 0 {
		activeID = tabList[0].ID
	}

	return tabList, activeID, nil
}
