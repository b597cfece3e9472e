package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	logx "robomon/pkg/logx"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsReadLimit      = 4 << 10 // subscribers only ever send tiny control frames
	wsReadDeadline   = 60 * time.Second
	wsCloseGraceTime = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback by default; origin checks are left
		// to a fronting proxy when exposed.
		return true
	},
}

// wsSender adapts one websocket connection to the broadcast.Sender
// interface. gorilla allows a single concurrent writer, so Send and Ping
// share a mutex.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsSender) Send(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsSender) Ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (w *wsSender) Close() error {
	w.mu.Lock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsCloseGraceTime))
	_ = w.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	w.mu.Unlock()
	return w.conn.Close()
}

// handleWS upgrades the connection, registers a subscriber session, pushes
// an immediate snapshot so the client doesn't wait for the next tick, and
// runs the read pump for pong handling until the peer goes away.
func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", logx.Err(err))
		return err
	}

	sender := &wsSender{conn: conn}
	sess := s.mgr.Add(sender)

	// Serve the current state immediately instead of making the client wait
	// for the next broadcast tick. Nothing to say when no robot has reported.
	if s.table.Len() > 0 {
		if snap, err := s.sch.Snapshot(); err == nil {
			sess.Enqueue(snap)
		}
	}

	go s.readPump(conn, sess.ID, sess.Touch)
	return nil
}

// readPump consumes inbound frames. Only "pong"/"heartbeat" messages (and
// protocol-level pongs) refresh liveness; everything else is ignored.
func (s *Server) readPump(conn *websocket.Conn, sessionID string, touch func()) {
	defer s.mgr.Remove(sessionID)

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		touch()
		return conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read error", logx.String("session_id", sessionID), logx.Err(err))
			}
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && (msg.Type == "pong" || msg.Type == "heartbeat") {
			touch()
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	}
}
