package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/nacre/internal/engine"
)

func assistantEvent(msgID, text string, index int) engine.OutputEvent {
	return engine.OutputEvent{
		Type:         engine.EventAssistant,
		Message:      &engine.MessageContent{ID: msgID, Content: []engine.ContentBlock{{Type: "text", Text: text}}},
		ContentIndex: index,
	}
}

func toolUseEvent(callID, name string) engine.OutputEvent {
	return engine.OutputEvent{
		Type: engine.EventToolUse,
		Tool: &engine.ToolContent{ID: callID, Name: name},
	}
}

func TestMessageList_AppendsInArrivalOrder(t *testing.T) {
	l := NewMessageList()

	_, ok := l.AppendEvent(assistantEvent("m1", "first", 0))
	require.True(t, ok)
	_, ok = l.AppendEvent(toolUseEvent("call-1", "read_file"))
	require.True(t, ok)
	_, ok = l.AppendEvent(assistantEvent("m2", "second", 0))
	require.True(t, ok)

	msgs := l.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, KindToolUse, msgs[1].Kind)
	assert.Equal(t, "second", msgs[2].Text)
}

func TestMessageList_DeduplicatesByIdentity(t *testing.T) {
	l := NewMessageList()

	_, ok := l.AppendEvent(toolUseEvent("call-1", "read_file"))
	require.True(t, ok)

	// Redelivery of the same tool call after a reconnect.
	_, ok = l.AppendEvent(toolUseEvent("call-1", "read_file"))
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())

	// Same message id, different content index is a distinct event.
	_, ok = l.AppendEvent(assistantEvent("m1", "a", 0))
	require.True(t, ok)
	_, ok = l.AppendEvent(assistantEvent("m1", "b", 1))
	require.True(t, ok)
	_, ok = l.AppendEvent(assistantEvent("m1", "a", 0))
	assert.False(t, ok)
	assert.Equal(t, 3, l.Len())
}

func TestMessageList_NoIdentityAlwaysAppends(t *testing.T) {
	l := NewMessageList()

	// Events without engine-supplied ids cannot be deduplicated; the
	// at-least-once gap is accepted rather than guessed away.
	ev := engine.OutputEvent{
		Type:    engine.EventAssistant,
		Message: &engine.MessageContent{Content: []engine.ContentBlock{{Type: "text", Text: "dup"}}},
	}
	_, ok := l.AppendEvent(ev)
	require.True(t, ok)
	_, ok = l.AppendEvent(ev)
	require.True(t, ok)
	assert.Equal(t, 2, l.Len())
}

func TestMessageList_SkipsEventsWithNothingToShow(t *testing.T) {
	l := NewMessageList()

	_, ok := l.AppendEvent(engine.OutputEvent{Type: engine.EventSystem, SubType: "init", SessionID: "s1"})
	assert.False(t, ok)
	_, ok = l.AppendEvent(engine.OutputEvent{Type: engine.EventResult, SessionID: "s1"})
	assert.False(t, ok)
	assert.Equal(t, 0, l.Len())
}

func TestMessageList_ErrorResultRendersAsError(t *testing.T) {
	l := NewMessageList()

	msg, ok := l.AppendEvent(engine.OutputEvent{
		Type:          engine.EventResult,
		IsErrorResult: true,
		Result:        "turn failed",
	})
	require.True(t, ok)
	assert.Equal(t, KindError, msg.Kind)
	assert.Equal(t, "turn failed", msg.Text)
}

func TestMessageList_AppendSynthetic(t *testing.T) {
	l := NewMessageList()

	l.AppendSynthetic(KindSystem, "Execution cancelled by user")
	msgs := l.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Synthetic)
	assert.Equal(t, KindSystem, msgs[0].Kind)
}

func TestMessageList_ReplaceResetsDedupe(t *testing.T) {
	l := NewMessageList()
	_, _ = l.AppendEvent(toolUseEvent("old", "x"))

	l.Replace([]engine.OutputEvent{
		assistantEvent("h1", "from history", 0),
		toolUseEvent("call-9", "grep"),
	})

	msgs := l.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "from history", msgs[0].Text)

	// Identities from the reload are seen; the overwritten ones are not.
	_, ok := l.AppendEvent(toolUseEvent("call-9", "grep"))
	assert.False(t, ok)
	_, ok = l.AppendEvent(toolUseEvent("old", "x"))
	assert.True(t, ok)
}
