package codex

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/nacre/internal/engine"
)

func parse(t *testing.T, raw string) engine.OutputEvent {
	t.Helper()
	ev, err := Parse(json.RawMessage(raw))
	require.NoError(t, err)
	return ev
}

func TestParse_SessionConfigured(t *testing.T) {
	ev := parse(t, `{"id":"0","msg":{"type":"session_configured","session_id":"cx-1"}}`)
	assert.True(t, ev.IsInit())
	assert.Equal(t, "cx-1", ev.SessionID)
}

func TestParse_AgentMessage(t *testing.T) {
	ev := parse(t, `{"id":"3","msg":{"type":"agent_message","message":"working on it"}}`)
	assert.Equal(t, engine.EventAssistant, ev.Type)
	assert.Equal(t, "working on it", ev.Message.GetText())
	// Codex envelope ids are stable across redelivery.
	assert.Equal(t, "assistant:3:0", ev.Identity())
}

func TestParse_TextFieldWinsOverMessage(t *testing.T) {
	ev := parse(t, `{"id":"4","msg":{"type":"agent_message_delta","text":"chunk","message":"ignored"}}`)
	assert.Equal(t, "chunk", ev.Message.GetText())
}

func TestParse_ExecCommandPair(t *testing.T) {
	begin := parse(t, `{"id":"5","msg":{"type":"exec_command_begin","call_id":"c1","name":"shell","arguments":{"cmd":"ls"}}}`)
	assert.Equal(t, engine.EventToolUse, begin.Type)
	assert.Equal(t, "c1", begin.Tool.ID)
	assert.Equal(t, "shell", begin.Tool.Name)

	end := parse(t, `{"id":"6","msg":{"type":"exec_command_end","call_id":"c1","output":"main.go"}}`)
	assert.Equal(t, engine.EventToolResult, end.Type)
	assert.Equal(t, "c1", end.Tool.ID)
	assert.Equal(t, "main.go", end.Tool.GetOutput())
}

func TestParse_TaskComplete(t *testing.T) {
	ev := parse(t, `{"id":"9","msg":{"type":"task_complete","session_id":"cx-1","message":"done"}}`)
	assert.Equal(t, engine.EventResult, ev.Type)
	assert.True(t, ev.IsTerminal())
	assert.Equal(t, "cx-1", ev.SessionID)
	assert.Equal(t, "done", ev.Result)
}

func TestParse_Error(t *testing.T) {
	ev := parse(t, `{"id":"9","msg":{"type":"error","message":"rate limited"}}`)
	assert.Equal(t, engine.EventError, ev.Type)
	assert.Equal(t, "rate limited", ev.GetErrorMessage())
}

func TestParse_UnknownTypePassesThrough(t *testing.T) {
	ev := parse(t, `{"id":"9","msg":{"type":"token_count"}}`)
	assert.Equal(t, engine.EventSystem, ev.Type)
	assert.Equal(t, "token_count", ev.SubType)
	assert.False(t, ev.IsTerminal())
}
