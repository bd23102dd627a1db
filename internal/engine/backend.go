package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/zjrosen/nacre/internal/host"
	"github.com/zjrosen/nacre/internal/log"
)

// Ops names the host operations and stream events of one engine.
// Each engine subpackage fills this in with its native command names.
type Ops struct {
	Execute  string
	Continue string
	Resume   string
	Cancel   string
	History  string
	Revert   string

	// Output, Complete and Error are the named events carrying the stream:
	// one payload per output line, then a single terminal event.
	Output   string
	Complete string
	Error    string
}

// Parser converts one raw stream payload into a unified OutputEvent.
type Parser func(raw json.RawMessage) (OutputEvent, error)

// hostBackend implements Backend by invoking named host operations.
// All three engines share this implementation and differ only in their
// Ops table and Parser.
type hostBackend struct {
	typ   Type
	h     host.Host
	ops   Ops
	parse Parser
}

// NewHostBackend creates a Backend that maps the uniform contract onto the
// given operation table. Exposed for the engine subpackages.
func NewHostBackend(typ Type, h host.Host, ops Ops, parse Parser) Backend {
	return &hostBackend{typ: typ, h: h, ops: ops, parse: parse}
}

func (b *hostBackend) Type() Type { return b.typ }

func (b *hostBackend) Execute(ctx context.Context, spec ExecSpec) error {
	spec.SessionID = ""
	if _, err := b.h.Invoke(ctx, b.ops.Execute, spec); err != nil {
		return fmt.Errorf("%s execute: %w", b.typ, err)
	}
	return nil
}

func (b *hostBackend) Continue(ctx context.Context, spec ExecSpec) error {
	spec.SessionID = ""
	if _, err := b.h.Invoke(ctx, b.ops.Continue, spec); err != nil {
		return fmt.Errorf("%s continue: %w", b.typ, err)
	}
	return nil
}

// Resume falls back to Continue when the named session cannot be resumed,
// matching the CLI behavior of losing a session file between launches.
func (b *hostBackend) Resume(ctx context.Context, spec ExecSpec) error {
	if spec.SessionID == "" {
		return fmt.Errorf("%s resume: session id required", b.typ)
	}
	_, err := b.h.Invoke(ctx, b.ops.Resume, spec)
	if err == nil {
		return nil
	}
	log.Warn(log.CatEngine, "resume failed, falling back to continue", "engine", b.typ, "sessionID", spec.SessionID, "error", err)
	return b.Continue(ctx, spec)
}

func (b *hostBackend) Cancel(ctx context.Context, sessionID string) error {
	args := map[string]string{"session_id": sessionID}
	if _, err := b.h.Invoke(ctx, b.ops.Cancel, args); err != nil {
		return fmt.Errorf("%s cancel: %w", b.typ, err)
	}
	return nil
}

func (b *hostBackend) LoadHistory(ctx context.Context, sessionID, projectPath string) ([]OutputEvent, error) {
	args := map[string]string{"session_id": sessionID, "project_path": projectPath}
	raw, err := b.h.Invoke(ctx, b.ops.History, args)
	if err != nil {
		return nil, fmt.Errorf("%s history: %w", b.typ, err)
	}

	var lines []json.RawMessage
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, fmt.Errorf("%s history: decoding response: %w", b.typ, err)
	}

	events := make([]OutputEvent, 0, len(lines))
	for _, line := range lines {
		ev, err := b.parse(line)
		if err != nil {
			log.Warn(log.CatEngine, "skipping unparseable history entry", "engine", b.typ, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (b *hostBackend) Revert(ctx context.Context, spec RevertSpec) (string, error) {
	raw, err := b.h.Invoke(ctx, b.ops.Revert, spec)
	if err != nil {
		return "", fmt.Errorf("%s revert: %w", b.typ, err)
	}
	var body struct {
		Prompt string `json:"prompt"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return "", fmt.Errorf("%s revert: decoding response: %w", b.typ, err)
		}
	}
	return body.Prompt, nil
}

// Subscribe registers listeners for this engine's output, complete and
// error events and merges them into one channel of parsed OutputEvents.
// Payloads the parser rejects are logged and dropped rather than
// terminating the stream.
func (b *hostBackend) Subscribe() (<-chan OutputEvent, host.Unsubscribe) {
	outputCh, unsubOutput := b.h.Listen(b.ops.Output)
	completeCh, unsubComplete := b.h.Listen(b.ops.Complete)
	errorCh, unsubError := b.h.Listen(b.ops.Error)

	out := make(chan OutputEvent, 64)
	var wg sync.WaitGroup
	wg.Add(3)

	forward := func(name string, ch <-chan json.RawMessage, convert func(json.RawMessage) (OutputEvent, error)) {
		log.SafeGo(fmt.Sprintf("engine.stream[%s/%s]", b.typ, name), func() {
			defer wg.Done()
			for raw := range ch {
				ev, err := convert(raw)
				if err != nil {
					log.Warn(log.CatEngine, "dropping unparseable stream payload", "engine", b.typ, "event", name, "error", err)
					continue
				}
				ev.Timestamp = time.Now()
				ev.Raw = raw
				out <- ev
			}
		})
	}

	forward("output", outputCh, func(raw json.RawMessage) (OutputEvent, error) { return b.parse(raw) })
	forward("complete", completeCh, parseComplete)
	forward("error", errorCh, parseError)

	go func() {
		wg.Wait()
		close(out)
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			unsubOutput()
			unsubComplete()
			unsubError()
		})
	}
}

// parseComplete decodes a terminal completion payload. The session id is
// carried here for brand-new conversations so the tab can be upgraded.
func parseComplete(raw json.RawMessage) (OutputEvent, error) {
	var body struct {
		SessionID string `json:"session_id"`
		Success   bool   `json:"success"`
		Result    string `json:"result,omitempty"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return OutputEvent{}, fmt.Errorf("decoding complete payload: %w", err)
	}
	return OutputEvent{
		Type:          EventResult,
		SessionID:     body.SessionID,
		Result:        body.Result,
		IsErrorResult: !body.Success && body.Result != "",
	}, nil
}

// parseError decodes a terminal error payload. Engines deliver either a
// bare string or a {message, code} object.
func parseError(raw json.RawMessage) (OutputEvent, error) {
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return OutputEvent{Type: EventError, Error: &ErrorInfo{Message: msg}}, nil
	}
	var info ErrorInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return OutputEvent{}, fmt.Errorf("decoding error payload: %w", err)
	}
	return OutputEvent{Type: EventError, Error: &info}, nil
}
