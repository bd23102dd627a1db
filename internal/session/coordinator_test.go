package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/stream"
	"github.com/zjrosen/nacre/internal/testutil"
)

type coordFixture struct {
	backend *testutil.FakeBackend
	streams *stream.Manager
	coord   *Coordinator

	mu       sync.Mutex
	statuses []string
	acquired string
	restored string
}

func newCoordFixture(t *testing.T, sessionID string) *coordFixture {
	t.Helper()
	f := &coordFixture{
		backend: testutil.NewFakeBackend(engine.TypeClaude),
		streams: stream.NewManager(),
	}
	f.coord = NewCoordinator(Options{
		TabID:       "tab-1",
		ProjectPath: "/work/proj",
		SessionID:   sessionID,
		Backend:     f.backend,
		Streams:     f.streams,
		Hooks: Hooks{
			OnStatus: func(status, _ string) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.statuses = append(f.statuses, status)
			},
			OnSessionAcquired: func(id string) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.acquired = id
			},
			OnPromptRestore: func(text string) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.restored = text
			},
		},
	})
	t.Cleanup(f.streams.DetachAll)
	return f
}

func (f *coordFixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.coord.State() == StateIdle
	}, time.Second, 5*time.Millisecond)
}

func (f *coordFixture) acquiredID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquired
}

func (f *coordFixture) restoredPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.restored
}

func TestCoordinator_NewConversationExecutes(t *testing.T) {
	f := newCoordFixture(t, "")

	f.coord.Send(context.Background(), "hello", "sonnet")
	assert.Equal(t, StateSending, f.coord.State())
	assert.Equal(t, []string{"execute"}, f.backend.Ops())

	f.backend.EmitComplete("abc")
	f.waitIdle(t)
}

func TestCoordinator_KnownSessionResumesThenContinues(t *testing.T) {
	f := newCoordFixture(t, "s1")

	f.coord.Send(context.Background(), "first", "sonnet")
	f.backend.EmitComplete("s1")
	f.waitIdle(t)

	f.coord.Send(context.Background(), "second", "sonnet")
	f.backend.EmitComplete("s1")
	f.waitIdle(t)

	assert.Equal(t, []string{"resume", "continue"}, f.backend.Ops())
}

func TestCoordinator_QueuedPromptsDrainInOrder(t *testing.T) {
	f := newCoordFixture(t, "s1")

	f.coord.Send(context.Background(), "p1", "sonnet")
	f.coord.Send(context.Background(), "p2", "sonnet")
	f.coord.Send(context.Background(), "p3", "sonnet")
	f.coord.Send(context.Background(), "p4", "sonnet")

	assert.Equal(t, StateSending, f.coord.State())
	assert.Equal(t, 3, f.coord.QueueLen(), "prompts submitted while sending must queue, never drop")

	// Each completion drains exactly one queued prompt.
	for i := 0; i < 4; i++ {
		f.backend.EmitComplete("s1")
		want := 2 - i
		if want < 0 {
			want = 0
		}
		require.Eventually(t, func() bool {
			return f.coord.QueueLen() == want
		}, time.Second, 5*time.Millisecond)
	}
	f.waitIdle(t)

	calls := f.backend.Calls()
	require.Len(t, calls, 4)
	prompts := make([]string, len(calls))
	for i, c := range calls {
		prompts[i] = c.Spec.Prompt
	}
	assert.Equal(t, []string{"p1", "p2", "p3", "p4"}, prompts)
}

func TestCoordinator_SessionAcquiredFromStream(t *testing.T) {
	f := newCoordFixture(t, "")

	f.coord.Send(context.Background(), "hello", "sonnet")
	f.backend.Emit(engine.OutputEvent{Type: engine.EventSystem, SubType: "init", SessionID: "abc"})
	f.backend.EmitComplete("abc")
	f.waitIdle(t)

	assert.Equal(t, "abc", f.acquiredID())
	assert.Equal(t, "abc", f.coord.SessionID())
}

func TestCoordinator_SendFailureSurfacesErrorAndReturnsIdle(t *testing.T) {
	f := newCoordFixture(t, "")
	f.backend.ExecuteErr = errors.New("engine unavailable")

	f.coord.Send(context.Background(), "hello", "sonnet")

	assert.Equal(t, StateIdle, f.coord.State())
	msgs := f.coord.Messages().Messages()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	assert.Equal(t, stream.KindError, last.Kind)
	assert.Contains(t, last.Text, "engine unavailable")
}

func TestCoordinator_FailedTurnReportsErrorBeforeDrainingQueue(t *testing.T) {
	backend := testutil.NewFakeBackend(engine.TypeClaude)
	backend.ResumeErr = errors.New("engine unavailable")
	streams := stream.NewManager()

	var mu sync.Mutex
	var statuses []string
	queued := false
	var coord *Coordinator
	coord = NewCoordinator(Options{
		TabID:       "tab-1",
		ProjectPath: "/work/proj",
		SessionID:   "s1",
		Backend:     backend,
		Streams:     streams,
		Hooks: Hooks{
			OnStatus: func(status, _ string) {
				mu.Lock()
				statuses = append(statuses, status)
				first := !queued
				queued = true
				mu.Unlock()
				if first {
					// A second prompt lands while the first turn is
					// still starting.
					coord.Send(context.Background(), "p2", "sonnet")
				}
			},
		},
	})
	t.Cleanup(streams.DetachAll)

	coord.Send(context.Background(), "p1", "sonnet")

	// The failed first turn reports its error before the queue drains, so
	// the drained prompt's streaming status is never overwritten.
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{stream.StatusStreaming, stream.StatusError, stream.StatusStreaming}, statuses)
	assert.Equal(t, StateSending, coord.State())
	assert.Equal(t, []string{"resume", "continue"}, backend.Ops())
}

func TestCoordinator_CancelResetsUnconditionally(t *testing.T) {
	for _, backendFails := range []bool{false, true} {
		name := "backend cancel succeeds"
		if backendFails {
			name = "backend cancel fails"
		}
		t.Run(name, func(t *testing.T) {
			f := newCoordFixture(t, "s1")
			if backendFails {
				f.backend.CancelErr = errors.New("no such process")
			}

			f.coord.Send(context.Background(), "p1", "sonnet")
			f.coord.Send(context.Background(), "p2", "sonnet")
			f.coord.Send(context.Background(), "p3", "sonnet")
			require.Equal(t, 2, f.coord.QueueLen())

			f.coord.Cancel(context.Background())

			assert.Equal(t, StateIdle, f.coord.State())
			assert.Equal(t, 0, f.coord.QueueLen())
			assert.Equal(t, 0, f.backend.SubscriberCount(), "cancel tears down listeners")
			assert.Equal(t, []string{"s1"}, f.backend.CancelCalls())

			msgs := f.coord.Messages().Messages()
			require.NotEmpty(t, msgs)
			last := msgs[len(msgs)-1]
			if backendFails {
				assert.Equal(t, stream.KindError, last.Kind)
				assert.Contains(t, last.Text, "cancel request failed")
			} else {
				assert.Equal(t, stream.KindSystem, last.Kind)
				assert.Contains(t, last.Text, "cancelled")
			}
		})
	}
}

func TestCoordinator_CancelPreservesConversation(t *testing.T) {
	f := newCoordFixture(t, "s1")

	f.coord.Send(context.Background(), "p1", "sonnet")
	f.backend.EmitAssistant("s1", "partial answer")
	require.Eventually(t, func() bool {
		return f.coord.Messages().Len() >= 2
	}, time.Second, 5*time.Millisecond)

	f.coord.Cancel(context.Background())

	// The user prompt and partial output survive the detach.
	texts := []string{}
	for _, m := range f.coord.Messages().Messages() {
		texts = append(texts, m.Text)
	}
	assert.Contains(t, texts, "p1")
	assert.Contains(t, texts, "partial answer")
}

func TestCoordinator_RevertReloadsHistoryAndRestoresPrompt(t *testing.T) {
	f := newCoordFixture(t, "s1")
	f.backend.RevertPrompt = "the original prompt"
	f.backend.HistoryEvents = []engine.OutputEvent{
		{
			Type:    engine.EventAssistant,
			Message: &engine.MessageContent{ID: "h1", Content: []engine.ContentBlock{{Type: "text", Text: "older answer"}}},
		},
	}

	f.coord.Messages().AppendSynthetic(stream.KindAssistant, "stale content")
	f.coord.Revert(context.Background(), 2, engine.RevertBoth)

	msgs := f.coord.Messages().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "older answer", msgs[0].Text)
	assert.Equal(t, "the original prompt", f.restoredPrompt())
}

func TestCoordinator_RevertCodeOnlySkipsPromptRestore(t *testing.T) {
	f := newCoordFixture(t, "s1")
	f.backend.RevertPrompt = "the original prompt"

	f.coord.Revert(context.Background(), 1, engine.RevertCodeOnly)
	assert.Empty(t, f.restoredPrompt())
}

func TestCoordinator_RevertFailureIsMarkedAndRecoverable(t *testing.T) {
	f := newCoordFixture(t, "s1")
	f.backend.RevertErr = errors.New("checkpoint missing")

	f.coord.Send(context.Background(), "p1", "sonnet")
	require.Equal(t, StateSending, f.coord.State())

	f.coord.Revert(context.Background(), 0, engine.RevertBoth)

	// Status untouched; the failure lands as a prefixed message.
	assert.Equal(t, StateSending, f.coord.State())
	msgs := f.coord.Messages().Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, stream.KindError, last.Kind)
	assert.Contains(t, last.Text, RevertErrorPrefix)
}

func TestCoordinator_RevertWithoutSessionFails(t *testing.T) {
	f := newCoordFixture(t, "")

	f.coord.Revert(context.Background(), 0, engine.RevertBoth)

	msgs := f.coord.Messages().Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, RevertErrorPrefix)
}
