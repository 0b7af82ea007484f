// Package ws hosts the coaching websocket endpoint: it upgrades connections,
// admits them into the session manager, and pumps inbound frames into ingest.
// All outbound traffic goes through the session's dispatcher, never directly
// through this package.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	pipeerr "github.com/attuneai/attune/server/internal/errors"
	"github.com/attuneai/attune/server/middleware"
	"github.com/attuneai/attune/server/session"
)

const (
	// maxFrameBytes bounds one inbound frame.
	maxFrameBytes = 64 << 10
	writeTimeout  = 10 * time.Second
)

// Handler serves the coaching websocket endpoint.
type Handler struct {
	manager  *session.Manager
	limiter  *middleware.RateLimiter
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates the websocket handler over the session manager.
func NewHandler(manager *session.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager: manager,
		limiter: middleware.NewRateLimiter(5, 10),
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The coaching endpoint carries no cookies or auth state.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Coach handles GET /api/v1/coach. Admission failures are reported to the
// client over the socket before it is dropped, never silently.
func (h *Handler) Coach(c echo.Context) error {
	if !h.limiter.Allow(c.RealIP()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "connection attempts too frequent")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "websocket upgrade failed")
	}

	id, err := h.manager.Open(&wsConn{conn: conn})
	if err != nil {
		code := pipeerr.GetCodeFromError(err, pipeerr.ErrCodeResourceExhausted)
		_ = conn.WriteJSON(&session.OutboundEvent{
			Type:    session.EventError,
			Code:    string(code),
			Message: err.Error(),
		})
		_ = conn.Close()
		return nil
	}

	go h.readPump(id, conn)
	return nil
}

// readPump decodes inbound frames until the peer goes away or the session
// rejects the input. The session manager owns the connection's write half and
// closes it on session shutdown.
func (h *Handler) readPump(id string, conn *websocket.Conn) {
	defer func() {
		_ = h.manager.Close(id, "connection closed")
	}()
	conn.SetReadLimit(maxFrameBytes)

	for {
		var ev session.InboundEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", "session_id", id, "error", err.Error())
			}
			return
		}
		if err := h.manager.Ingest(id, &ev); err != nil {
			// Protocol errors are session-local: the diagnostic already went
			// out through the dispatcher and the session stays active, so the
			// peer may resend with the expected sequence. Only a closed
			// session ends the read loop.
			if pipeerr.IsCode(err, pipeerr.ErrCodeSessionClosed) {
				return
			}
		}
	}
}

// wsConn adapts a gorilla connection to the session.Conn write surface.
// WriteJSON is only ever called by the session's dispatcher goroutine.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteJSON(v any) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
