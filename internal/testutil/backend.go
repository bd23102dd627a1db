// Package testutil provides shared test doubles: a scriptable engine
// backend and an in-memory state database.
package testutil

import (
	"context"
	"sync"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/host"
)

// BackendCall records one operation invoked on the fake backend.
type BackendCall struct {
	Op   string
	Spec engine.ExecSpec
}

// FakeBackend is a scriptable engine.Backend. Tests push events through
// Emit and script per-operation errors via the exported fields.
type FakeBackend struct {
	EngineType engine.Type

	ExecuteErr  error
	ContinueErr error
	ResumeErr   error
	CancelErr   error
	RevertErr   error
	HistoryErr  error

	RevertPrompt  string
	HistoryEvents []engine.OutputEvent

	mu          sync.Mutex
	calls       []BackendCall
	cancelCalls []string
	subs        map[int]chan engine.OutputEvent
	nextSub     int
}

var _ engine.Backend = (*FakeBackend)(nil)

// NewFakeBackend creates a fake backend for the given engine type.
func NewFakeBackend(t engine.Type) *FakeBackend {
	return &FakeBackend{
		EngineType: t,
		subs:       make(map[int]chan engine.OutputEvent),
	}
}

func (f *FakeBackend) Type() engine.Type { return f.EngineType }

func (f *FakeBackend) record(op string, spec engine.ExecSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, BackendCall{Op: op, Spec: spec})
}

func (f *FakeBackend) Execute(_ context.Context, spec engine.ExecSpec) error {
	f.record("execute", spec)
	return f.ExecuteErr
}

func (f *FakeBackend) Continue(_ context.Context, spec engine.ExecSpec) error {
	f.record("continue", spec)
	return f.ContinueErr
}

func (f *FakeBackend) Resume(_ context.Context, spec engine.ExecSpec) error {
	f.record("resume", spec)
	return f.ResumeErr
}

func (f *FakeBackend) Cancel(_ context.Context, sessionID string) error {
	f.mu.Lock()
	f.cancelCalls = append(f.cancelCalls, sessionID)
	f.mu.Unlock()
	return f.CancelErr
}

func (f *FakeBackend) LoadHistory(_ context.Context, _, _ string) ([]engine.OutputEvent, error) {
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	return f.HistoryEvents, nil
}

func (f *FakeBackend) Revert(_ context.Context, _ engine.RevertSpec) (string, error) {
	if f.RevertErr != nil {
		return "", f.RevertErr
	}
	return f.RevertPrompt, nil
}

func (f *FakeBackend) Subscribe() (<-chan engine.OutputEvent, host.Unsubscribe) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	ch := make(chan engine.OutputEvent, 64)
	f.subs[id] = ch

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if c, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(c)
			}
		})
	}
	return ch, unsub
}

// Emit delivers an event to every live subscription.
func (f *FakeBackend) Emit(ev engine.OutputEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		ch <- ev
	}
}

// EmitAssistant delivers an assistant text event.
func (f *FakeBackend) EmitAssistant(sessionID, text string) {
	f.Emit(engine.OutputEvent{
		Type:      engine.EventAssistant,
		SessionID: sessionID,
		Message:   &engine.MessageContent{Content: []engine.ContentBlock{{Type: "text", Text: text}}},
	})
}

// EmitComplete delivers a successful terminal result event.
func (f *FakeBackend) EmitComplete(sessionID string) {
	f.Emit(engine.OutputEvent{Type: engine.EventResult, SessionID: sessionID})
}

// EmitError delivers a terminal error event.
func (f *FakeBackend) EmitError(sessionID, message string) {
	f.Emit(engine.OutputEvent{
		Type:      engine.EventError,
		SessionID: sessionID,
		Error:     &engine.ErrorInfo{Message: message},
	})
}

// Calls returns the recorded execute/continue/resume calls in order.
func (f *FakeBackend) Calls() []BackendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]BackendCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// Ops returns just the operation names of the recorded calls.
func (f *FakeBackend) Ops() []string {
	calls := f.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// CancelCalls returns the session ids passed to Cancel.
func (f *FakeBackend) CancelCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.cancelCalls))
	copy(out, f.cancelCalls)
	return out
}

// SubscriberCount returns the number of live subscriptions.
func (f *FakeBackend) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
