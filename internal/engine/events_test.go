package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputEvent_Classification(t *testing.T) {
	init := OutputEvent{Type: EventSystem, SubType: "init", SessionID: "s1"}
	assert.True(t, init.IsInit())
	assert.False(t, init.IsTerminal())
	assert.False(t, init.IsError())

	result := OutputEvent{Type: EventResult}
	assert.True(t, result.IsTerminal())
	assert.False(t, result.IsError())

	failedResult := OutputEvent{Type: EventResult, IsErrorResult: true, Result: "budget exceeded"}
	assert.True(t, failedResult.IsTerminal())
	assert.True(t, failedResult.IsError())
	assert.Equal(t, "budget exceeded", failedResult.GetErrorMessage())

	errEvent := OutputEvent{Type: EventError, Error: &ErrorInfo{Message: "boom", Code: "E1"}}
	assert.True(t, errEvent.IsTerminal())
	assert.True(t, errEvent.IsError())
	assert.Equal(t, "boom", errEvent.GetErrorMessage())

	bare := OutputEvent{Type: EventError}
	assert.Equal(t, "unknown error", bare.GetErrorMessage())
}

func TestOutputEvent_Identity(t *testing.T) {
	tool := OutputEvent{Type: EventToolUse, Tool: &ToolContent{ID: "call_1"}}
	assert.Equal(t, "tool_use:call_1", tool.Identity())

	msg := OutputEvent{Type: EventAssistant, Message: &MessageContent{ID: "m1"}, ContentIndex: 2}
	assert.Equal(t, "assistant:m1:2", msg.Identity())

	// Same message id but a different block is a distinct identity.
	other := OutputEvent{Type: EventAssistant, Message: &MessageContent{ID: "m1"}, ContentIndex: 3}
	assert.NotEqual(t, msg.Identity(), other.Identity())

	anon := OutputEvent{Type: EventAssistant, Message: &MessageContent{Role: "assistant"}}
	assert.Empty(t, anon.Identity())
}

func TestMessageContent_GetText(t *testing.T) {
	msg := &MessageContent{Content: []ContentBlock{
		{Type: "text", Text: "hello "},
		{Type: "tool_use", ID: "call_1", Name: "read"},
		{Type: "text", Text: "world"},
	}}
	assert.Equal(t, "hello world", msg.GetText())

	var nilMsg *MessageContent
	assert.Empty(t, nilMsg.GetText())
}

func TestToolContent_GetOutput(t *testing.T) {
	assert.Equal(t, "out", (&ToolContent{Output: "out", Content: "fallback"}).GetOutput())
	assert.Equal(t, "fallback", (&ToolContent{Content: "fallback"}).GetOutput())

	var nilTool *ToolContent
	assert.Empty(t, nilTool.GetOutput())
}
