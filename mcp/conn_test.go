package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawPeer drives a Conn with hand-written frames.
type rawPeer struct {
	t      *testing.T
	in     *io.PipeWriter
	frames chan []byte
}

func startRawConn(t *testing.T, router *Router, opts ...ConnOption) *rawPeer {
	t.Helper()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	conn := NewConn(NewStdioTransport(inR, outW), router, opts...)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = conn.Run(context.Background())
	}()

	peer := &rawPeer{t: t, in: inW, frames: make(chan []byte, 16)}
	go func() {
		fr := NewFrameReader(outR, 0)
		for {
			frame, err := fr.ReadFrame()
			if err != nil {
				close(peer.frames)
				return
			}
			peer.frames <- frame
		}
	}()

	t.Cleanup(func() {
		_ = inW.Close()
		_ = conn.Close()
		<-runDone
		_ = outR.Close()
		_ = outW.Close()
	})
	return peer
}

func (p *rawPeer) send(frame string) {
	p.t.Helper()
	_, err := io.WriteString(p.in, frame+"\n")
	require.NoError(p.t, err)
}

func (p *rawPeer) next() *Response {
	p.t.Helper()
	select {
	case frame, ok := <-p.frames:
		require.True(p.t, ok, "connection closed")
		_, resp, _, err := DecodeMessage(frame)
		require.NoError(p.t, err)
		require.NotNil(p.t, resp, "expected a response, got %s", frame)
		return resp
	case <-time.After(5 * time.Second):
		p.t.Fatal("timed out waiting for a frame")
		return nil
	}
}

type blockingHandler struct {
	started   chan string
	cancelled chan string
}

func newTestRouter() (*Router, *blockingHandler) {
	bh := &blockingHandler{started: make(chan string, 8), cancelled: make(chan string, 8)}

	router := NewRouter(nil)
	router.Handle("echo", func(ctx context.Context, req *Request) (interface{}, error) {
		return req.Params, nil
	})
	router.Handle("block", func(ctx context.Context, req *Request) (interface{}, error) {
		bh.started <- req.ID.String()
		<-ctx.Done()
		bh.cancelled <- req.ID.String()
		return nil, ctx.Err()
	})
	router.Handle("fail", func(ctx context.Context, req *Request) (interface{}, error) {
		return nil, errors.New("connection string leaked")
	})
	router.Handle("bad_params", func(ctx context.Context, req *Request) (interface{}, error) {
		return nil, fmt.Errorf("%w: field x", ErrInvalidParams)
	})
	router.Handle("panic", func(ctx context.Context, req *Request) (interface{}, error) {
		panic("boom")
	})
	return router, bh
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
		return ""
	}
}

func TestConn_ErrorMapping(t *testing.T) {
	router, _ := newTestRouter()
	peer := startRawConn(t, router)

	tests := []struct {
		name     string
		frame    string
		wantCode int
		wantMsg  string
	}{
		{name: "unknown method", frame: `{"jsonrpc":"2.0","id":1,"method":"nope"}`, wantCode: CodeMethodNotFound, wantMsg: "method not found"},
		{name: "plain error hides detail", frame: `{"jsonrpc":"2.0","id":2,"method":"fail"}`, wantCode: CodeInternalError, wantMsg: "internal error"},
		{name: "invalid params", frame: `{"jsonrpc":"2.0","id":3,"method":"bad_params"}`, wantCode: CodeInvalidParams},
		{name: "panic recovered", frame: `{"jsonrpc":"2.0","id":4,"method":"panic"}`, wantCode: CodeInternalError, wantMsg: "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peer.send(tt.frame)
			resp := peer.next()
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, resp.Error.Message)
			}
		})
	}
}

func TestConn_ParseErrorKeepsConnectionAlive(t *testing.T) {
	router, _ := newTestRouter()
	peer := startRawConn(t, router)

	peer.send(`{"jsonrpc":"2.0","id":1,`)
	resp := peer.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeParseError, resp.Error.Code)
	assert.Nil(t, resp.ID)

	peer.send(`[{"jsonrpc":"2.0","id":1,"method":"echo"}]`)
	resp = peer.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	peer.send(`{"jsonrpc":"2.0","id":2,"method":"echo","params":{"ok":true}}`)
	resp = peer.next()
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestConn_OversizedFrame(t *testing.T) {
	router, _ := newTestRouter()

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	conn := NewConn(NewStdioTransport(inR, outW, WithMaxFrameSize(64)), router)
	go func() { _ = conn.Run(context.Background()) }()
	defer func() {
		_ = inW.Close()
		_ = conn.Close()
		_ = outR.Close()
	}()

	go func() {
		_, _ = io.WriteString(inW, `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"pad":"`+string(make([]byte, 100))+`"}}`+"\n")
		_, _ = io.WriteString(inW, `{"jsonrpc":"2.0","id":2,"method":"echo"}`+"\n")
	}()

	fr := NewFrameReader(outR, 0)
	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	_, resp, _, err := DecodeMessage(frame)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)

	frame, err = fr.ReadFrame()
	require.NoError(t, err)
	_, resp, _, err = DecodeMessage(frame)
	require.NoError(t, err)
	assert.Equal(t, "n:2", resp.ID.Key())
	assert.Nil(t, resp.Error)
}

func TestConn_DuplicateInflightID(t *testing.T) {
	router, bh := newTestRouter()
	peer := startRawConn(t, router)

	peer.send(`{"jsonrpc":"2.0","id":"dup","method":"block"}`)
	waitFor(t, bh.started)

	peer.send(`{"jsonrpc":"2.0","id":"dup","method":"echo"}`)
	resp := peer.next()
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidRequest, resp.Error.Code)
	assert.Equal(t, "s:dup", resp.ID.Key())

	// The same number as a different type is a different request.
	peer.send(`{"jsonrpc":"2.0","id":7,"method":"echo","params":{}}`)
	resp = peer.next()
	assert.Nil(t, resp.Error)
}

func TestConn_CancelledRequestGetsNoResponse(t *testing.T) {
	router, bh := newTestRouter()
	peer := startRawConn(t, router)

	peer.send(`{"jsonrpc":"2.0","id":1,"method":"block"}`)
	assert.Equal(t, "1", waitFor(t, bh.started))

	peer.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1,"reason":"user aborted"}}`)
	assert.Equal(t, "1", waitFor(t, bh.cancelled))

	peer.send(`{"jsonrpc":"2.0","id":2,"method":"echo","params":{"n":2}}`)
	resp := peer.next()
	assert.Equal(t, "n:2", resp.ID.Key())
	assert.JSONEq(t, `{"n":2}`, string(resp.Result))
}

func TestConn_CancellationAtConcurrencyLimit(t *testing.T) {
	router, bh := newTestRouter()
	peer := startRawConn(t, router, WithMaxConcurrentRequests(1))

	peer.send(`{"jsonrpc":"2.0","id":1,"method":"block"}`)
	assert.Equal(t, "1", waitFor(t, bh.started))

	// Request 2 waits for the only slot; the cancellation behind it must still be read.
	peer.send(`{"jsonrpc":"2.0","id":2,"method":"block"}`)
	peer.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`)
	assert.Equal(t, "1", waitFor(t, bh.cancelled))
	assert.Equal(t, "2", waitFor(t, bh.started))

	peer.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":2}}`)
	assert.Equal(t, "2", waitFor(t, bh.cancelled))

	peer.send(`{"jsonrpc":"2.0","id":3,"method":"echo","params":{"n":3}}`)
	resp := peer.next()
	assert.Equal(t, "n:3", resp.ID.Key())
}

func TestConn_CancelWhileWaitingForSlot(t *testing.T) {
	router, bh := newTestRouter()
	peer := startRawConn(t, router, WithMaxConcurrentRequests(1))

	peer.send(`{"jsonrpc":"2.0","id":1,"method":"block"}`)
	assert.Equal(t, "1", waitFor(t, bh.started))

	peer.send(`{"jsonrpc":"2.0","id":2,"method":"block"}`)
	peer.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":2}}`)
	peer.send(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`)
	assert.Equal(t, "1", waitFor(t, bh.cancelled))

	peer.send(`{"jsonrpc":"2.0","id":3,"method":"echo","params":{"n":3}}`)
	resp := peer.next()
	assert.Equal(t, "n:3", resp.ID.Key())

	select {
	case id := <-bh.started:
		t.Fatalf("request %s started after being cancelled", id)
	default:
	}
}

func TestConn_ConcurrentRequests(t *testing.T) {
	const n = 5

	var (
		mu      sync.Mutex
		arrived int
		all     = make(chan struct{})
	)
	router := NewRouter(nil)
	router.Handle("rendezvous", func(ctx context.Context, req *Request) (interface{}, error) {
		mu.Lock()
		arrived++
		if arrived == n {
			close(all)
		}
		mu.Unlock()

		select {
		case <-all:
			return map[string]bool{"together": true}, nil
		case <-time.After(5 * time.Second):
			return nil, errors.New("requests were not served concurrently")
		}
	})

	peer := startRawConn(t, router)
	for i := 1; i <= n; i++ {
		peer.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"rendezvous"}`, i))
	}

	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		resp := peer.next()
		require.Nil(t, resp.Error)
		seen[resp.ID.Key()] = true
	}
	assert.Len(t, seen, n)
}

func TestConn_ConcurrencyLimit(t *testing.T) {
	var (
		running atomic.Int32
		peak    atomic.Int32
	)
	router := NewRouter(nil)
	router.Handle("work", func(ctx context.Context, req *Request) (interface{}, error) {
		cur := running.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return struct{}{}, nil
	})

	peer := startRawConn(t, router, WithMaxConcurrentRequests(2))
	go func() {
		for i := 1; i <= 6; i++ {
			peer.send(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"work"}`, i))
		}
	}()
	for i := 0; i < 6; i++ {
		peer.next()
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func connPair(t *testing.T, serverRouter, clientRouter *Router) (*Conn, *Conn) {
	t.Helper()

	aR, aW := io.Pipe()
	bR, bW := io.Pipe()
	server := NewConn(NewStdioTransport(aR, bW), serverRouter)
	client := NewConn(NewStdioTransport(bR, aW), clientRouter)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = server.Run(context.Background()) }()
	go func() { defer wg.Done(); _ = client.Run(context.Background()) }()

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
		wg.Wait()
		_ = aR.Close()
		_ = bR.Close()
	})
	return server, client
}

func TestConn_Call(t *testing.T) {
	router, _ := newTestRouter()
	_, client := connPair(t, router, NewRouter(nil))

	var out map[string]int
	require.NoError(t, client.Call(context.Background(), "echo", map[string]int{"v": 1}, &out))
	assert.Equal(t, map[string]int{"v": 1}, out)

	err := client.Call(context.Background(), "nope", nil, nil)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeMethodNotFound, rpcErr.Code)
}

func TestConn_CallContextCancelNotifiesPeer(t *testing.T) {
	router, bh := newTestRouter()
	_, client := connPair(t, router, NewRouter(nil))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- client.Call(ctx, "block", nil, nil) }()

	waitFor(t, bh.started)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("call did not return")
	}
	waitFor(t, bh.cancelled)
}

func TestConn_CloseFailsPendingCalls(t *testing.T) {
	router, bh := newTestRouter()
	_, client := connPair(t, router, NewRouter(nil))

	errCh := make(chan error, 1)
	go func() { errCh <- client.Call(context.Background(), "block", nil, nil) }()
	waitFor(t, bh.started)

	require.NoError(t, client.Close())
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call did not fail")
	}

	assert.ErrorIs(t, client.Call(context.Background(), "echo", nil, nil), ErrConnClosed)
}

func TestConn_NotificationsReachRouter(t *testing.T) {
	got := make(chan json.RawMessage, 1)
	clientRouter := NewRouter(nil)
	clientRouter.HandleNotification("notifications/message", func(ctx context.Context, req *Request) {
		got <- req.Params
	})

	server, _ := connPair(t, NewRouter(nil), clientRouter)
	require.NoError(t, server.Notify(context.Background(), "notifications/message", LoggingMessageParams{Level: LogLevelInfo, Data: "hi"}))

	select {
	case params := <-got:
		assert.JSONEq(t, `{"level":"info","data":"hi"}`, string(params))
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
}
