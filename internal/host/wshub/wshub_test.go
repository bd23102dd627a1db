package wshub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zjrosen/nacre/internal/host"
)

// startHub runs a one-connection hub that answers each inbound frame with
// whatever handle returns. Returns the ws:// URL.
func startHub(t *testing.T, handle func(f frame) *frame) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return
			}
			if resp := handle(f); resp != nil {
				if err := wsjson.Write(ctx, conn, *resp); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialTestHub(t *testing.T, url string) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, Options{URL: url, InvokeTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInvoke_RoundTrip(t *testing.T) {
	url := startHub(t, func(f frame) *frame {
		if f.Kind != kindInvoke || f.Op != "ping" {
			return nil
		}
		return &frame{Kind: kindResult, ID: f.ID, OK: true, Body: json.RawMessage(`{"pong":true}`)}
	})
	c := dialTestHub(t, url)

	body, err := c.Invoke(context.Background(), "ping", map[string]string{"from": "test"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"pong":true}`, string(body))
}

func TestInvoke_HubError(t *testing.T) {
	url := startHub(t, func(f frame) *frame {
		return &frame{Kind: kindResult, ID: f.ID, Error: "no such session"}
	})
	c := dialTestHub(t, url)

	_, err := c.Invoke(context.Background(), "resume_claude_code", map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such session")
}

func TestInvoke_TimesOutWithoutResult(t *testing.T) {
	url := startHub(t, func(frame) *frame { return nil })
	c := dialTestHub(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Invoke(ctx, "slow_op", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEmit_EchoesBackAsEvent(t *testing.T) {
	url := startHub(t, func(f frame) *frame {
		if f.Kind != kindEmit {
			return nil
		}
		return &frame{Kind: kindEvent, Event: f.Event, Payload: f.Payload}
	})
	c := dialTestHub(t, url)

	ch, unsub := c.Listen("tab_detached")
	defer unsub()

	require.NoError(t, c.Emit("tab_detached", map[string]string{"tabId": "t1"}))

	select {
	case payload := <-ch:
		assert.JSONEq(t, `{"tabId":"t1"}`, string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("emitted event never came back")
	}
}

func TestCreateWindow_DecodesHandle(t *testing.T) {
	url := startHub(t, func(f frame) *frame {
		if f.Op != opCreateWindow {
			return nil
		}
		var desc host.WindowDescriptor
		if err := json.Unmarshal(f.Args, &desc); err != nil {
			return &frame{Kind: kindResult, ID: f.ID, Error: err.Error()}
		}
		body, _ := json.Marshal(host.WindowHandle{ID: "w1", Label: "tab-" + desc.TabID})
		return &frame{Kind: kindResult, ID: f.ID, OK: true, Body: body}
	})
	c := dialTestHub(t, url)

	handle, err := c.CreateWindow(context.Background(), host.WindowDescriptor{TabID: "t1", Title: "proj"})
	require.NoError(t, err)
	assert.Equal(t, host.WindowID("w1"), handle.ID)
	assert.Equal(t, "tab-t1", handle.Label)
}

func TestClose_FailsPendingInvokes(t *testing.T) {
	url := startHub(t, func(frame) *frame { return nil })
	c := dialTestHub(t, url)

	done := make(chan error, 1)
	go func() {
		_, err := c.Invoke(context.Background(), "never_answered", nil)
		done <- err
	}()

	// Let the invoke register before closing.
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hub connection closed")
	case <-time.After(2 * time.Second):
		t.Fatal("pending invoke survived Close")
	}

	_, err := c.Invoke(context.Background(), "after_close", nil)
	require.Error(t, err)
}

func TestListen_UnsubscribeBookkeeping(t *testing.T) {
	c := &Client{listeners: make(map[string][]listener)}

	ch1, unsub1 := c.Listen("ev")
	ch2, unsub2 := c.Listen("ev")

	c.dispatchEvent("ev", json.RawMessage(`1`))
	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 1)

	unsub1()
	unsub1() // second call must not double-close

	c.dispatchEvent("ev", json.RawMessage(`2`))
	assert.Len(t, ch2, 2)

	// A removed listener's channel is closed and drained of its backlog.
	<-ch1
	_, open := <-ch1
	assert.False(t, open)

	unsub2()
}

func TestDispatchEvent_SafeAgainstConcurrentUnsubscribe(t *testing.T) {
	c := &Client{listeners: make(map[string][]listener)}

	// Churn subscriptions while the read-loop side keeps dispatching. A
	// dispatch must never send on a channel an unsubscribe has closed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			ch, unsub := c.Listen("stream")
			unsub()
			for range ch {
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
			c.dispatchEvent("stream", json.RawMessage(`{}`))
		}
	}
}
