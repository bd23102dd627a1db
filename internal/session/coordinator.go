// Package session drives prompt execution for one tab's conversation:
// the idle/sending state machine, the FIFO queue of prompts submitted
// mid-turn, cooperative cancellation, and revert.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zjrosen/nacre/internal/engine"
	"github.com/zjrosen/nacre/internal/log"
	"github.com/zjrosen/nacre/internal/stream"
	"github.com/zjrosen/nacre/internal/tracing"
)

// State is the coordinator's execution state.
type State string

const (
	// StateIdle means no turn is in flight.
	StateIdle State = "idle"
	// StateSending means a turn is in flight; new prompts queue.
	StateSending State = "sending"
)

// RevertErrorPrefix marks revert failures so the presentation layer can
// render them distinctly from ordinary session errors.
const RevertErrorPrefix = "revert_failed: "

// slowTurnWarning is how long a turn may stay in flight before a warning
// is logged. There is deliberately no watchdog transition: a turn whose
// terminal event never arrives stays in sending until the user cancels.
const slowTurnWarning = time.Minute

// QueuedPrompt is a prompt held back because its session is mid-turn.
type QueuedPrompt struct {
	ID    string
	Text  string
	Model string
}

// Hooks receive coordinator-derived facts for the owning tab.
type Hooks struct {
	// OnStatus mirrors streaming state onto the tab.
	OnStatus func(status string, errorMessage string)

	// OnSessionAcquired fires when a brand-new conversation learns its
	// engine-issued session id.
	OnSessionAcquired func(sessionID string)

	// OnPromptRestore pushes reverted prompt text back into the input
	// surface.
	OnPromptRestore func(text string)
}

// Coordinator serializes prompt execution for one tab's session.
//
// State machine: idle -> sending -> idle, with cancel available from
// sending at any time. A second send while sending never runs
// concurrently and is never dropped; it queues FIFO and drains one at a
// time after the in-flight turn completes.
type Coordinator struct {
	tabID       string
	projectPath string
	backend     engine.Backend
	streams     *stream.Manager
	history     *HistoryLoader
	messages    *stream.MessageList
	hooks       Hooks
	tracer      trace.Tracer

	mu        sync.Mutex
	state     State
	queue     []QueuedPrompt
	sessionID string
	turns     int // turns sent during this process lifetime
	slowTimer *time.Timer
}

// Options configures a Coordinator.
type Options struct {
	TabID       string
	ProjectPath string
	SessionID   string // empty for a brand-new conversation
	Backend     engine.Backend
	Streams     *stream.Manager
	History     *HistoryLoader
	Messages    *stream.MessageList
	Hooks       Hooks
	Tracer      trace.Tracer
}

// NewCoordinator creates a coordinator in the idle state.
func NewCoordinator(opts Options) *Coordinator {
	if opts.Messages == nil {
		opts.Messages = stream.NewMessageList()
	}
	if opts.History == nil {
		opts.History = NewHistoryLoader()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("noop")
	}
	return &Coordinator{
		tabID:       opts.TabID,
		projectPath: opts.ProjectPath,
		backend:     opts.Backend,
		streams:     opts.Streams,
		history:     opts.History,
		messages:    opts.Messages,
		hooks:       opts.Hooks,
		tracer:      opts.Tracer,
		state:       StateIdle,
		sessionID:   opts.SessionID,
	}
}

// State returns the current execution state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the session id, or "" before the first turn completes.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Messages exposes the conversation's message list.
func (c *Coordinator) Messages() *stream.MessageList {
	return c.messages
}

// QueueLen returns the number of prompts waiting behind the in-flight turn.
func (c *Coordinator) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// QueuedPrompts returns a copy of the queue in submission order.
func (c *Coordinator) QueuedPrompts() []QueuedPrompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]QueuedPrompt, len(c.queue))
	copy(out, c.queue)
	return out
}

// Send submits a prompt. If a turn is in flight the prompt queues and Send
// returns immediately; otherwise the turn starts now.
func (c *Coordinator) Send(ctx context.Context, text, model string) {
	c.mu.Lock()
	if c.state == StateSending {
		qp := QueuedPrompt{ID: uuid.NewString(), Text: text, Model: model}
		c.queue = append(c.queue, qp)
		c.mu.Unlock()
		log.Debug(log.CatExec, "queued prompt while sending", "tabID", c.tabID, "queued", qp.ID)
		return
	}
	c.state = StateSending
	c.mu.Unlock()

	c.dispatch(ctx, text, model)
}

// dispatch runs one turn. Caller must have already transitioned to sending.
func (c *Coordinator) dispatch(ctx context.Context, text, model string) {
	c.ensureAttached()

	if c.hooks.OnStatus != nil {
		c.hooks.OnStatus(stream.StatusStreaming, "")
	}
	c.messages.AppendSynthetic(stream.KindUser, text)

	c.mu.Lock()
	sessionID := c.sessionID
	turn := c.turns
	c.turns++
	c.mu.Unlock()

	spec := engine.ExecSpec{
		ProjectPath: c.projectPath,
		Prompt:      text,
		Model:       model,
		SessionID:   sessionID,
	}

	// Operation selection: a brand-new conversation executes; a known
	// session resumes on the first turn of this process lifetime and
	// continues afterwards.
	var op string
	var err error
	ctx, span := tracing.StartTurn(ctx, c.tracer, string(c.backend.Type()), "send")
	defer span.End()

	switch {
	case sessionID == "":
		op = "execute"
		err = c.backend.Execute(ctx, spec)
	case turn == 0:
		op = "resume"
		err = c.backend.Resume(ctx, spec)
	default:
		op = "continue"
		err = c.backend.Continue(ctx, spec)
	}

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatExec, "starting turn failed", err, "tabID", c.tabID, "op", op)
		c.messages.AppendSynthetic(stream.KindError, err.Error())
		// Report the failure before draining the queue, so the error
		// status can never overwrite the streaming status of a queued
		// prompt that starts next.
		if c.hooks.OnStatus != nil {
			c.hooks.OnStatus(stream.StatusError, err.Error())
		}
		c.finishTurn(ctx)
		return
	}
	log.Debug(log.CatExec, "turn started", "tabID", c.tabID, "op", op, "sessionID", sessionID)
	c.armSlowWarning()
}

// armSlowWarning logs when a turn has been in flight for a long time.
func (c *Coordinator) armSlowWarning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slowTimer != nil {
		c.slowTimer.Stop()
	}
	c.slowTimer = time.AfterFunc(slowTurnWarning, func() {
		if c.State() == StateSending {
			log.Warn(log.CatExec, "turn still in flight, no terminal event yet", "tabID", c.tabID)
		}
	})
}

// stopSlowWarning cancels the pending slow-turn warning, if any.
// Caller must hold c.mu.
func (c *Coordinator) stopSlowWarning() {
	if c.slowTimer != nil {
		c.slowTimer.Stop()
		c.slowTimer = nil
	}
}

// ensureAttached guarantees the single live stream subscription exists and
// carries this coordinator's hooks. Safe across repeated sends and tab
// switches; the manager reuses an existing attachment.
func (c *Coordinator) ensureAttached() {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	c.streams.Attach(c.tabID, sessionID, c.backend, c.messages, stream.Hooks{
		OnStatus: func(status, errorMessage string) {
			if c.hooks.OnStatus != nil {
				c.hooks.OnStatus(status, errorMessage)
			}
		},
		OnSessionID: func(sessionID string) {
			c.mu.Lock()
			if c.sessionID == "" {
				c.sessionID = sessionID
			}
			c.mu.Unlock()
			if c.hooks.OnSessionAcquired != nil {
				c.hooks.OnSessionAcquired(sessionID)
			}
		},
		OnTerminal: func(error) {
			c.finishTurn(context.Background())
		},
	})
}

// finishTurn returns to idle, or drains exactly one queued prompt.
func (c *Coordinator) finishTurn(ctx context.Context) {
	c.mu.Lock()
	c.stopSlowWarning()
	if len(c.queue) == 0 {
		c.state = StateIdle
		c.mu.Unlock()
		return
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	c.mu.Unlock()

	log.Debug(log.CatExec, "draining queued prompt", "tabID", c.tabID, "queued", next.ID)
	c.dispatch(ctx, next.Text, next.Model)
}

// Cancel requests backend cancellation and unconditionally resets local
// state. The backend acknowledgement is advisory: whether the call
// succeeds or fails, listeners are torn down, the queue is cleared, and
// the coordinator returns to idle so the UI is never stuck in sending.
func (c *Coordinator) Cancel(ctx context.Context) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	ctx, span := tracing.StartCancel(ctx, c.tracer, string(c.backend.Type()))
	defer span.End()

	err := c.backend.Cancel(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.ErrorErr(log.CatExec, "backend cancel failed, resetting locally anyway", err, "tabID", c.tabID)
	}

	c.streams.Detach(c.tabID)
	c.mu.Lock()
	c.stopSlowWarning()
	c.queue = nil
	c.state = StateIdle
	c.mu.Unlock()

	if err != nil {
		c.messages.AppendSynthetic(stream.KindError, fmt.Sprintf("cancel request failed: %v", err))
	} else {
		c.messages.AppendSynthetic(stream.KindSystem, "Execution cancelled by user")
	}
	if c.hooks.OnStatus != nil {
		c.hooks.OnStatus(stream.StatusIdle, "")
	}
}

// Revert rolls the session back to a prior prompt, reloads the full
// history, and (when the mode includes the conversation) restores the
// original prompt text into the input surface. Failures are recoverable:
// they are appended with RevertErrorPrefix and leave the sending/idle
// state untouched.
func (c *Coordinator) Revert(ctx context.Context, promptIndex int, mode engine.RevertMode) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()

	if sessionID == "" {
		c.messages.AppendSynthetic(stream.KindError, RevertErrorPrefix+"no session to revert")
		return
	}

	prompt, err := c.backend.Revert(ctx, engine.RevertSpec{
		SessionID:   sessionID,
		ProjectPath: c.projectPath,
		PromptIndex: promptIndex,
		Mode:        mode,
	})
	if err != nil {
		log.ErrorErr(log.CatExec, "revert failed", err, "tabID", c.tabID, "promptIndex", promptIndex)
		c.messages.AppendSynthetic(stream.KindError, RevertErrorPrefix+err.Error())
		return
	}

	c.history.Invalidate(c.backend, sessionID)
	events, err := c.history.Load(ctx, c.backend, sessionID, c.projectPath)
	if err != nil {
		log.ErrorErr(log.CatExec, "history reload after revert failed", err, "tabID", c.tabID)
		c.messages.AppendSynthetic(stream.KindError, RevertErrorPrefix+err.Error())
		return
	}
	c.messages.Replace(events)

	if mode != engine.RevertCodeOnly && prompt != "" && c.hooks.OnPromptRestore != nil {
		c.hooks.OnPromptRestore(prompt)
	}
	log.Info(log.CatExec, "reverted session", "tabID", c.tabID, "promptIndex", promptIndex, "mode", mode)
}

// Teardown detaches the stream subscription. Called when the owning tab
// closes or migrates to another window.
func (c *Coordinator) Teardown() {
	c.streams.Detach(c.tabID)
}
