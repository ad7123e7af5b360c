package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/alertstream/siem-engine/internal/ingest"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// WSHandler upgrades dashboard connections to WebSocket and pumps the
// replay batch followed by live alerts as JSON text frames. Anything the
// client sends is read and discarded; it only serves as a keepalive.
type WSHandler struct {
	pipeline *ingest.Pipeline
	log      zerolog.Logger

	upgrader websocket.Upgrader
}

func NewWSHandler(p *ingest.Pipeline, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		pipeline: p,
		log:      log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin policy is enforced upstream; the dashboard dev
			// server connects cross-origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	// The server's ReadTimeout set a deadline during the handshake; this
	// connection lives until the client leaves, so clear it.
	conn.SetReadDeadline(time.Time{})

	clientID := uuid.NewString()
	client := h.pipeline.Subscribe(clientID)
	defer h.pipeline.Unsubscribe(clientID)

	log := h.log.With().Str("client_id", clientID).Str("remote", r.RemoteAddr).Logger()
	log.Info().Msg("client connected")

	// Reader: discard keepalive text, detect disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			log.Info().Msg("client disconnected")
			return

		case frame, ok := <-client.Frames():
			if !ok {
				// Broadcaster shut down.
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Warn().Err(err).Msg("write failed")
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
