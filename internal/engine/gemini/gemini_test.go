package gemini

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/nacre/internal/engine"
)

func TestParse_UnifiedShapePassesThrough(t *testing.T) {
	ev, err := Parse(json.RawMessage(`{"type":"result","session_id":"g1","result":"done"}`))
	require.NoError(t, err)
	assert.Equal(t, engine.EventResult, ev.Type)
	assert.Equal(t, "g1", ev.SessionID)
}

func TestParse_BareContentChunk(t *testing.T) {
	ev, err := Parse(json.RawMessage(`{"content":"streamed text"}`))
	require.NoError(t, err)
	assert.Equal(t, engine.EventAssistant, ev.Type)
	assert.Equal(t, "streamed text", ev.Message.GetText())
	// No stable id means no dedupe key.
	assert.Empty(t, ev.Identity())
}

func TestParse_UnrecognizedPayload(t *testing.T) {
	_, err := Parse(json.RawMessage(`{"something":"else"}`))
	require.Error(t, err)
}
