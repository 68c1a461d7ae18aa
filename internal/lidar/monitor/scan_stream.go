package monitor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleScanStream pushes every published scan to a websocket client as
// JSON. A client that cannot keep up misses scans rather than delaying the
// pipeline.
// Query params:
//   - xy (optional; "1" adds Cartesian coordinates)
func (ws *WebServer) handleScanStream(w http.ResponseWriter, r *http.Request) {
	withXY := r.URL.Query().Get("xy") == "1"

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		logf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	id, frames := ws.scans.Subscribe()
	defer ws.scans.Unsubscribe(id)
	logf("scan stream %s connected from %s", id, r.RemoteAddr)

	// The read loop only services control frames and notices disconnects.
	gone := make(chan struct{})
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			logf("scan stream %s disconnected", id)
			return
		case <-ws.shutdown:
			ws.closeStream(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case f, ok := <-frames:
			if !ok {
				ws.closeStream(conn, websocket.CloseNormalClosure, "scan stream ended")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(newScanResponse(f, withXY)); err != nil {
				logf("scan stream %s write failed: %v", id, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ws *WebServer) closeStream(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
