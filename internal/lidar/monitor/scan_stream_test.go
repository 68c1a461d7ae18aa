package monitor

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/scans" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitSubscribed(t *testing.T, scans *fakeScans) string {
	t.Helper()
	select {
	case id := <-scans.subscribed:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("stream never subscribed")
		return ""
	}
}

func TestScanStream_DeliversFrames(t *testing.T) {
	ws, scans := newTestServer(t, WebServerConfig{})
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, "?xy=1")
	id := waitSubscribed(t, scans)

	for seq := uint64(1); seq <= 2; seq++ {
		scans.send(id, testFrame(t, seq))

		var msg scanResponse
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, seq, msg.Seq)
		assert.Len(t, msg.Points, 456)
		assert.Len(t, msg.XY, 456)
	}
}

func TestScanStream_ClosesWhenPipelineEnds(t *testing.T) {
	ws, scans := newTestServer(t, WebServerConfig{})
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, "")
	id := waitSubscribed(t, scans)
	scans.end(id)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
}

func TestScanStream_UnsubscribesOnDisconnect(t *testing.T) {
	ws, scans := newTestServer(t, WebServerConfig{})
	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	conn := dialStream(t, srv, "")
	id := waitSubscribed(t, scans)
	conn.Close()

	assert.Eventually(t, func() bool {
		scans.mu.Lock()
		defer scans.mu.Unlock()
		for _, u := range scans.unsubscribed {
			if u == id {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScanStream_ClosedOnShutdown(t *testing.T) {
	ws, scans := newTestServer(t, WebServerConfig{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/scans", nil)
	require.NoError(t, err)
	defer conn.Close()
	waitSubscribed(t, scans)

	cancel()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "err = %v", err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
