package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/mchiang0610/continue/log"
	"github.com/mchiang0610/continue/session"
)

const (
	messageMainInput = "main_input"
	guiPingInterval  = 30 * time.Second
)

// guiChannel pushes session messages to a GUI over coder/websocket
type guiChannel struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

var _ session.Channel = (*guiChannel)(nil)

func (g *guiChannel) Send(ctx context.Context, msg session.Message) error {
	return wsjson.Write(ctx, g.conn, msg)
}

// Close starts the close handshake and returns without waiting for the peer.
// Session removal must not stall on a GUI that is not reading.
func (g *guiChannel) Close() error {
	g.closeOnce.Do(func() {
		go func() {
			if err := g.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
				log.Debug().Err(err).Msg("GUI WebSocket close handshake failed")
			}
		}()
	})
	return nil
}

type guiInbound struct {
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

type mainInput struct {
	Input string `json:"input"`
}

// GUIWebSocket handles GET /gui/ws?session_id=. The session must already be in
// memory or be resumable.
func (h *Handlers) GUIWebSocket(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		RespondBadRequest(c, "session_id is required")
		return
	}

	manager := h.server.Sessions()
	s, err := manager.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		respondSessionError(c, err)
		return
	}

	log.MarkHijacked(c)

	// Gin wraps the response writer; hijacking needs the original
	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // GUI is served from the IDE webview
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("GUI WebSocket upgrade failed")
		return
	}
	c.Abort()

	ch := &guiChannel{conn: conn}
	defer ch.Close()

	// Request context does not end when the socket closes; shutdown must end it too
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		select {
		case <-h.server.ShutdownContext().Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := manager.RegisterChannel(sessionID, ch); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "session not found")
		return
	}
	defer manager.UnregisterChannel(sessionID, ch)

	metrics := h.server.Metrics()
	metrics.WSOpened("gui")
	defer metrics.WSClosed("gui")

	// Initial full state goes through the session outbox, behind any update
	// already queued, so the GUI never ends up on an older snapshot
	if err := manager.ResyncChannel(sessionID); err != nil {
		log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to queue initial state")
	}

	go func() {
		ticker := time.NewTicker(guiPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.Ping(ctx); err != nil {
					log.Debug().Err(err).Msg("GUI WebSocket ping failed")
					return
				}
			}
		}
	}()

	for {
		var msg guiInbound
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusGoingAway ||
				closeStatus == websocket.StatusNormalClosure ||
				closeStatus == websocket.StatusNoStatusRcvd ||
				ctx.Err() != nil {
				log.Debug().Str("sessionId", sessionID).Int("closeStatus", int(closeStatus)).Msg("GUI WebSocket closed")
			} else {
				log.Info().Err(err).Str("sessionId", sessionID).Msg("GUI WebSocket read error")
			}
			return
		}

		switch msg.MessageType {
		case messageMainInput:
			var in mainInput
			if err := json.Unmarshal(msg.Data, &in); err != nil {
				log.Debug().Err(err).Str("sessionId", sessionID).Msg("invalid main_input payload")
				continue
			}
			if err := s.Engine.SubmitInput(in.Input); err != nil {
				log.Warn().Err(err).Str("sessionId", sessionID).Msg("engine rejected input")
			}
		default:
			log.Debug().Str("sessionId", sessionID).Str("messageType", msg.MessageType).Msg("ignoring GUI message")
		}
	}
}
