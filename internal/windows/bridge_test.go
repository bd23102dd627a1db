package windows

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/host"
	"github.com/zjrosen/nacre/internal/tabs"
)

func newBridgeFixture(t *testing.T) (*host.MockHost, *tabs.Store, *Bridge) {
	t.Helper()
	h := host.NewMockHost()
	store := tabs.NewStore(nil)
	b := NewBridge(h, store)
	return h, store, b
}

func TestDetach_MovesTabIntoWindow(t *testing.T) {
	h, store, b := newBridgeFixture(t)
	tabID := store.CreateTab(tabs.CreateOptions{
		Session: &tabs.Session{ID: "s1", ProjectPath: "/work/proj", Engine: engine.TypeClaude},
	})

	detachedCh, unsub := h.Listen(EventTabDetached)
	defer unsub()

	handle, err := b.Detach(context.Background(), tabID)
	require.NoError(t, err)
	require.NotNil(t, handle)

	// Window seeded with the tab's identity.
	require.Len(t, h.CreatedWindows, 1)
	desc := h.CreatedWindows[0]
	assert.Equal(t, tabID, desc.TabID)
	assert.Equal(t, "s1", desc.SessionID)
	assert.Equal(t, "/work/proj", desc.ProjectPath)
	assert.Equal(t, "claude", desc.Engine)

	// Sync event broadcast.
	select {
	case raw := <-detachedCh:
		var payload DetachedPayload
		require.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, tabID, payload.TabID)
		assert.Equal(t, "s1", payload.SessionID)
	case <-time.After(time.Second):
		t.Fatal("tab_detached was never broadcast")
	}

	// Tab moved: out of the store, into the registry.
	assert.Nil(t, store.Get(tabID))
	assert.True(t, b.IsDetached(tabID))
}

func TestDetach_RejectsAlreadyDetached(t *testing.T) {
	h, store, b := newBridgeFixture(t)
	tabID := store.CreateTab(tabs.CreateOptions{ProjectPath: "/p"})

	_, err := b.Detach(context.Background(), tabID)
	require.NoError(t, err)

	_, err = b.Detach(context.Background(), tabID)
	assert.ErrorIs(t, err, ErrAlreadyDetached)
	assert.Len(t, h.CreatedWindows, 1)
}

func TestDetach_UnknownTab(t *testing.T) {
	_, _, b := newBridgeFixture(t)
	_, err := b.Detach(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrTabNotFound)
}

func TestDetach_WindowCreationFailureLeavesTab(t *testing.T) {
	h, store, b := newBridgeFixture(t)
	h.CreateWindowErr = errors.New("window system down")
	tabID := store.CreateTab(tabs.CreateOptions{ProjectPath: "/p"})

	_, err := b.Detach(context.Background(), tabID)
	require.Error(t, err)
	assert.NotNil(t, store.Get(tabID), "tab must survive a failed detach")
	assert.False(t, b.IsDetached(tabID))
}

func waitForTabs(t *testing.T, store *tabs.Store, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return store.Count() == want
	}, time.Second, 5*time.Millisecond)
}

func TestAttach_DetachThenAttachRestoresExactlyOneTab(t *testing.T) {
	h, store, b := newBridgeFixture(t)
	b.Start()
	defer b.Stop()

	tabID := store.CreateTab(tabs.CreateOptions{
		Session: &tabs.Session{ID: "s1", ProjectPath: "/work/proj"},
	})
	_, err := b.Detach(context.Background(), tabID)
	require.NoError(t, err)
	require.Equal(t, 0, store.Count())

	payload := AttachedPayload{TabID: tabID, SessionID: "s1", ProjectPath: "/work/proj"}
	require.NoError(t, h.Emit(EventTabAttached, payload))
	waitForTabs(t, store, 1)

	// Duplicate delivery must not create a second tab.
	require.NoError(t, h.Emit(EventTabAttached, payload))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, store.Count())

	restored := store.FindBySessionID("s1")
	require.NotNil(t, restored)
	assert.Equal(t, restored.ID, store.ActiveID(), "attached tab activates")
	assert.False(t, b.IsDetached(tabID))
}

func TestAttach_FullSessionPayloadBindsSession(t *testing.T) {
	h, store, b := newBridgeFixture(t)
	b.Start()
	defer b.Stop()

	require.NoError(t, h.Emit(EventTabAttached, AttachedPayload{
		TabID: "t9",
		Data: &AttachedData{Session: &tabs.Session{
			ID:          "s9",
			ProjectPath: "/work/other",
			Engine:      engine.TypeGemini,
		}},
	}))
	waitForTabs(t, store, 1)

	tab := store.FindBySessionID("s9")
	require.NotNil(t, tab)
	assert.Equal(t, tabs.KindSession, tab.Kind)
	assert.Equal(t, engine.TypeGemini, tab.Engine)
}

func TestAttach_ProjectPathOnlyCreatesBlankTab(t *testing.T) {
	h, store, b := newBridgeFixture(t)
	b.Start()
	defer b.Stop()

	require.NoError(t, h.Emit(EventTabAttached, AttachedPayload{TabID: "t2", ProjectPath: "/work/blank"}))
	waitForTabs(t, store, 1)

	tab := store.Active()
	require.NotNil(t, tab)
	assert.Equal(t, tabs.KindNew, tab.Kind)
	assert.Equal(t, "/work/blank", tab.ProjectPath)
}

func TestAttach_EmptyPayloadIsIgnored(t *testing.T) {
	h, store, b := newBridgeFixture(t)
	b.Start()
	defer b.Stop()

	require.NoError(t, h.Emit(EventTabAttached, AttachedPayload{TabID: "t3"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.Count())
	assert.False(t, b.IsDetached("t3"))
}

func TestCreateAsWindow_NeverTouchesStore(t *testing.T) {
	h, store, b := newBridgeFixture(t)

	handle, err := b.CreateAsWindow(context.Background(), &tabs.Session{
		ID:          "s5",
		ProjectPath: "/work/proj",
		Engine:      engine.TypeCodex,
	}, "")
	require.NoError(t, err)
	require.NotNil(t, handle)

	require.Len(t, h.CreatedWindows, 1)
	assert.Equal(t, "s5", h.CreatedWindows[0].SessionID)
	assert.Equal(t, "/work/proj", h.CreatedWindows[0].ProjectPath)
	assert.Equal(t, 0, store.Count())
	assert.Equal(t, 0, b.DetachedCount())
}
