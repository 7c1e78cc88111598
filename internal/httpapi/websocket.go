package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"irepair-admin/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// the admin UI is served from another origin behind the same gateway
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClientMessage is sent by the browser
type wsClientMessage struct {
	Type   string `json:"type"`
	Term   string `json:"q"`
	Status string `json:"status"`
}

// wsServerMessage is pushed to the browser
type wsServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

type wsFilter struct {
	term   string
	status string
}

// Stream pushes the view model of a session whenever a snapshot commits
// or the client changes its filter.
func (h *Handler) Stream(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	logger := h.logger.With(zap.String("session_id", s.ID))
	logger.Debug("WebSocket connected")
	defer func() {
		conn.Close()
		logger.Debug("WebSocket disconnected")
	}()

	filters := make(chan wsFilter, 1)
	pongs := make(chan struct{}, 1)
	done := make(chan struct{})
	go h.readPump(conn, filters, pongs, done, logger)

	h.writePump(conn, s, wsFilter{term: c.Query("q"), status: c.Query("status")}, filters, pongs, done)
}

// readPump owns reads; it closes done when the client goes away
func (h *Handler) readPump(conn *websocket.Conn, filters chan<- wsFilter, pongs chan<- struct{}, done chan<- struct{}, logger *zap.Logger) {
	defer close(done)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var msg wsClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "filter":
			f := wsFilter{term: msg.Term, status: msg.Status}
			// keep only the newest filter
			select {
			case <-filters:
			default:
			}
			filters <- f
		case "ping":
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writePump owns writes; it returns when the client or the session goes away
func (h *Handler) writePump(conn *websocket.Conn, s *session.Session, filter wsFilter, filters <-chan wsFilter, pongs <-chan struct{}, done <-chan struct{}) {
	changes, stop := s.Live.Watch()
	defer stop()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	write := func(msg wsServerMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(msg) == nil
	}
	push := func() bool {
		s.Touch(time.Now())
		return write(wsServerMessage{
			Type:   "model",
			Result: toModelDTO(s.Model(filter.term, filter.status), filter.term, filter.status),
		})
	}

	if !push() {
		return
	}
	for {
		select {
		case <-done:
			return
		case _, ok := <-changes:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"))
				return
			}
			if !push() {
				return
			}
		case filter = <-filters:
			if !push() {
				return
			}
		case <-pongs:
			s.Touch(time.Now())
			if !write(wsServerMessage{Type: "pong"}) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
