package ide

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mchiang0610/continue/engine"
	"github.com/mchiang0610/continue/log"
	"github.com/mchiang0610/continue/metrics"
	"github.com/mchiang0610/continue/session"
)

var logger = log.GetLogger("IDE")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // IDE extensions connect from arbitrary origins
	},
}

const (
	MessageConnected = "connected"
	MessageOpenGUI   = "openGUI"
	MessageFileEdits = "fileEdits"
	MessagePing      = "ping"
	MessagePong      = "pong"
	MessageError     = "error"

	openTimeout = 30 * time.Second
)

type inbound struct {
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

type openGUIRequest struct {
	SessionID string `json:"sessionId"`
}

type fileEditsRequest struct {
	SessionID string            `json:"sessionId"`
	FileEdits []engine.FileEdit `json:"fileEdits"`
}

// Handler serves the IDE controller socket
type Handler struct {
	manager *session.Manager
	hub     *Hub
	metrics *metrics.Metrics
}

func NewHandler(manager *session.Manager, hub *Hub, m *metrics.Metrics) *Handler {
	return &Handler{manager: manager, hub: hub, metrics: m}
}

// Serve handles GET /ide/ws. An optional controller_id query parameter lets a
// reconnecting extension keep its id.
func (h *Handler) Serve(c *gin.Context) {
	id := c.Query("controller_id")
	if id == "" {
		id = uuid.NewString()
	}

	log.MarkHijacked(c)
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("failed to upgrade IDE WebSocket connection")
		return
	}

	conn := newConn(id, ws)
	h.hub.add(conn)
	h.metrics.WSOpened("ide")
	defer func() {
		// The session outlives the socket; only the hub forgets it
		conn.markClosed()
		h.hub.remove(conn)
		ws.Close()
		h.metrics.WSClosed("ide")
		logger.Info().Str("controllerId", id).Msg("IDE disconnected")
	}()

	logger.Info().Str("controllerId", id).Msg("IDE connected")
	if err := conn.Send(MessageConnected, map[string]any{"controllerId": id}); err != nil {
		return
	}

	for {
		var msg inbound
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && conn.IsOpen() {
				logger.Warn().Err(err).Str("controllerId", id).Msg("IDE read error")
			}
			return
		}

		if err := h.dispatch(c.Request.Context(), conn, msg); err != nil {
			logger.Debug().Err(err).Str("controllerId", id).Msg("failed to reply to IDE")
			return
		}
	}
}

// dispatch handles one message. A returned error means the socket is unusable.
func (h *Handler) dispatch(ctx context.Context, conn *Conn, msg inbound) error {
	switch msg.MessageType {
	case MessageOpenGUI:
		var req openGUIRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				return conn.Send(MessageError, errorData("invalid openGUI payload"))
			}
		}
		ctx, cancel := context.WithTimeout(ctx, openTimeout)
		defer cancel()

		s, err := h.OpenGUI(ctx, conn, req.SessionID)
		if err != nil {
			logger.Warn().Err(err).Str("controllerId", conn.ID()).Str("sessionId", req.SessionID).Msg("openGUI failed")
			return conn.Send(MessageError, errorData(err.Error()))
		}
		return conn.Send(MessageOpenGUI, map[string]any{"sessionId": s.ID})

	case MessageFileEdits:
		var req fileEditsRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return conn.Send(MessageError, errorData("invalid fileEdits payload"))
		}
		sessionID := req.SessionID
		if sessionID == "" {
			sessionID = conn.State().SessionID
		}
		s, err := h.manager.GetSession(ctx, sessionID)
		if err != nil {
			return conn.Send(MessageError, errorData(err.Error()))
		}
		s.Engine.HandleManualEdits(req.FileEdits)
		return nil

	case MessagePing:
		return conn.Send(MessagePong, nil)

	default:
		return conn.Send(MessageError, errorData("unknown message type: "+msg.MessageType))
	}
}

// OpenGUI resolves the session the IDE wants a GUI for. An in-memory id is
// reused as is. Otherwise conn becomes the owner of a new session, built from
// the persisted snapshot when one exists, so a reconnecting IDE takes over
// its sessions from the socket it lost.
func (h *Handler) OpenGUI(ctx context.Context, conn session.Controller, sessionID string) (*session.Session, error) {
	return h.manager.NewSession(ctx, conn, sessionID)
}

func errorData(message string) map[string]any {
	return map[string]any{"message": message}
}
