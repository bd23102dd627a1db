package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// InvokeFunc handles one named backend operation in a MockHost.
type InvokeFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// MockHost is an in-process Host for tests. Operations are scripted with
// Handle; events are delivered synchronously with Deliver or Emit.
type MockHost struct {
	mu        sync.RWMutex
	handlers  map[string]InvokeFunc
	listeners map[string]map[chan json.RawMessage]struct{}

	// Invocations records every Invoke call in order.
	Invocations []Invocation

	// CreatedWindows records every CreateWindow call.
	CreatedWindows []WindowDescriptor

	// CreateWindowErr, when set, is returned by CreateWindow.
	CreateWindowErr error
}

// Invocation is one recorded Invoke call.
type Invocation struct {
	Op   string
	Args json.RawMessage
}

// NewMockHost creates an empty MockHost.
func NewMockHost() *MockHost {
	return &MockHost{
		handlers:  make(map[string]InvokeFunc),
		listeners: make(map[string]map[chan json.RawMessage]struct{}),
	}
}

// Handle scripts the response for a named operation. Last writer wins.
func (m *MockHost) Handle(op string, fn InvokeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[op] = fn
}

// HandleOK scripts an operation that resolves with a fixed payload.
func (m *MockHost) HandleOK(op string, payload any) {
	m.Handle(op, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
}

// HandleErr scripts an operation that always fails.
func (m *MockHost) HandleErr(op string, err error) {
	m.Handle(op, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, err
	})
}

// Invoke dispatches to the scripted handler for op.
func (m *MockHost) Invoke(ctx context.Context, op string, args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshaling args for %s: %w", op, err)
	}

	m.mu.Lock()
	m.Invocations = append(m.Invocations, Invocation{Op: op, Args: raw})
	fn, ok := m.handlers[op]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no handler for operation %q", op)
	}
	return fn(ctx, raw)
}

// Listen subscribes to a named event.
func (m *MockHost) Listen(event string) (<-chan json.RawMessage, Unsubscribe) {
	ch := make(chan json.RawMessage, 64)

	m.mu.Lock()
	if m.listeners[event] == nil {
		m.listeners[event] = make(map[chan json.RawMessage]struct{})
	}
	m.listeners[event][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners[event], ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Emit broadcasts a named event to all listeners.
func (m *MockHost) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", event, err)
	}
	m.Deliver(event, raw)
	return nil
}

// Deliver pushes a raw payload to every listener of event.
// Delivery is non-blocking; slow listeners drop.
func (m *MockHost) Deliver(event string, payload json.RawMessage) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for ch := range m.listeners[event] {
		select {
		case ch <- payload:
		default:
		}
	}
}

// ListenerCount returns the number of live listeners for event.
func (m *MockHost) ListenerCount(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners[event])
}

// CreateWindow records the descriptor and returns a fresh handle.
func (m *MockHost) CreateWindow(_ context.Context, desc WindowDescriptor) (*WindowHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateWindowErr != nil {
		return nil, m.CreateWindowErr
	}
	m.CreatedWindows = append(m.CreatedWindows, desc)
	return &WindowHandle{
		ID:    WindowID(uuid.NewString()),
		Label: "tab-" + desc.TabID,
	}, nil
}

// Ensure MockHost implements Host at compile time.
var _ Host = (*MockHost)(nil)
