// Package wshub implements the Host contract over a WebSocket connection
// to the local window-sync hub. The hub fronts the engine processes and
// relays sync events between every window of the application.
package wshub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zjrosen/nacre/internal/host"
	"github.com/zjrosen/nacre/internal/log"
)

// Frame kinds on the hub wire.
const (
	kindInvoke = "invoke"
	kindResult = "result"
	kindEmit   = "emit"
	kindEvent  = "event"
)

// frame is the single envelope for all hub traffic.
type frame struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id,omitempty"`
	Op      string          `json:"op,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Error   string          `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// opCreateWindow is the hub operation behind Host.CreateWindow.
const opCreateWindow = "create_window"

// Options configures a hub client.
type Options struct {
	// URL of the hub endpoint, e.g. ws://127.0.0.1:4763/sync.
	URL string

	// InvokeTimeout bounds how long Invoke waits for the hub's result
	// frame when the caller's context has no earlier deadline.
	InvokeTimeout time.Duration
}

// DefaultInvokeTimeout applies when Options.InvokeTimeout is zero.
const DefaultInvokeTimeout = 30 * time.Second

type listener struct {
	id string
	ch chan json.RawMessage
}

// Client is a Host backed by the local sync hub. Safe for concurrent use.
type Client struct {
	url     string
	timeout time.Duration

	mu        sync.Mutex
	conn      *websocket.Conn
	pending   map[string]chan frame
	listeners map[string][]listener
	closed    bool
}

var _ host.Host = (*Client)(nil)

// Dial connects to the hub and starts the read loop.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = DefaultInvokeTimeout
	}
	conn, _, err := websocket.Dial(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing sync hub: %w", err)
	}
	conn.SetReadLimit(16 << 20) // session histories can be large

	c := &Client{
		url:       opts.URL,
		timeout:   opts.InvokeTimeout,
		conn:      conn,
		pending:   make(map[string]chan frame),
		listeners: make(map[string][]listener),
	}
	log.Info(log.CatHost, "connected to sync hub", "url", opts.URL)
	log.SafeGo("wshub.readLoop", c.readLoop)
	return c, nil
}

// Close tears down the connection and fails every pending Invoke.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	for id, ch := range c.pending {
		ch <- frame{Kind: kindResult, ID: id, Error: "hub connection closed"}
		delete(c.pending, id)
	}
	for event, ls := range c.listeners {
		for _, l := range ls {
			close(l.ch)
		}
		delete(c.listeners, event)
	}
	c.mu.Unlock()
	return conn.Close(websocket.StatusNormalClosure, "client shutdown")
}

// Invoke sends a named operation to the hub and waits for its result frame.
func (c *Client) Invoke(ctx context.Context, op string, args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding args for %s: %w", op, err)
	}

	id := uuid.NewString()
	resp := make(chan frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("invoke %s: hub connection closed", op)
	}
	c.pending[id] = resp
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.write(ctx, frame{Kind: kindInvoke, ID: id, Op: op, Args: raw}); err != nil {
		return nil, fmt.Errorf("sending %s: %w", op, err)
	}

	select {
	case f := <-resp:
		if f.Error != "" {
			return nil, fmt.Errorf("%s: %s", op, f.Error)
		}
		return f.Body, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s result: %w", op, ctx.Err())
	}
}

// Listen subscribes to a named event relayed by the hub.
func (c *Client) Listen(event string) (<-chan json.RawMessage, host.Unsubscribe) {
	l := listener{id: uuid.NewString(), ch: make(chan json.RawMessage, 16)}
	c.mu.Lock()
	c.listeners[event] = append(c.listeners[event], l)
	c.mu.Unlock()

	unsub := func() {
		c.mu.Lock()
		removed := false
		ls := c.listeners[event]
		for i, cand := range ls {
			if cand.id == l.id {
				c.listeners[event] = append(ls[:i], ls[i+1:]...)
				removed = true
				break
			}
		}
		c.mu.Unlock()
		// Close only on first removal; Close() may already have done it.
		if removed {
			close(l.ch)
		}
	}
	return l.ch, unsub
}

// Emit broadcasts an event through the hub to all windows, this one
// included (the hub echoes emits back to the sender).
func (c *Client) Emit(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.write(ctx, frame{Kind: kindEmit, Event: event, Payload: raw})
}

// CreateWindow asks the hub to open a new top-level window.
func (c *Client) CreateWindow(ctx context.Context, desc host.WindowDescriptor) (*host.WindowHandle, error) {
	body, err := c.Invoke(ctx, opCreateWindow, desc)
	if err != nil {
		return nil, err
	}
	var handle host.WindowHandle
	if err := json.Unmarshal(body, &handle); err != nil {
		return nil, fmt.Errorf("decoding window handle: %w", err)
	}
	return &handle, nil
}

func (c *Client) write(ctx context.Context, f frame) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("hub connection closed")
	}
	return wsjson.Write(ctx, conn, f)
}

// readLoop dispatches inbound frames until the connection drops.
func (c *Client) readLoop() {
	ctx := context.Background()
	for {
		var f frame
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				log.ErrorErr(log.CatHost, "sync hub connection lost", err)
				c.Close()
			}
			return
		}

		switch f.Kind {
		case kindResult:
			c.mu.Lock()
			resp := c.pending[f.ID]
			c.mu.Unlock()
			if resp == nil {
				log.Debug(log.CatHost, "result for unknown invoke", "id", f.ID)
				continue
			}
			resp <- f
		case kindEvent:
			c.dispatchEvent(f.Event, f.Payload)
		default:
			log.Debug(log.CatHost, "ignoring unknown frame kind", "kind", f.Kind)
		}
	}
}

func (c *Client) dispatchEvent(event string, payload json.RawMessage) {
	// The sends stay under the mutex: an unsubscribe closes a listener
	// channel only after removing it here, so a send can never hit a
	// closed channel. The sends are non-blocking, so holding the lock
	// never stalls the read loop.
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.listeners[event] {
		select {
		case l.ch <- payload:
		default:
			// Slow consumer; dropping beats blocking the read loop.
			log.Warn(log.CatHost, "dropping event for slow listener", "event", event)
		}
	}
}
