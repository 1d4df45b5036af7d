package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	wsPingInterval = 30 * time.Second
	wsReadTimeout  = 60 * time.Second
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowed := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || allowed["*"] {
				return true
			}
			return allowed[origin]
		},
	}
}

// WebSocket handles GET /api/v1/optimizations/{id}/ws
// Progress events are sent as binary MessagePack frames; the connection is
// closed after the terminal event.
func (h *OptimizationHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	runID, ok := validateURLParam(r, w, "id", "Optimization run ID")
	if !ok {
		return
	}

	run, err := h.runs.Get(runID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	done, err := h.runs.Done(runID)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	logger := log.With().Str("run_id", runID).Logger()
	client := newWSClient(conn)

	if err := client.writeEvent(connectedEvent(run)); err != nil {
		logger.Warn().Err(err).Msg("failed to send connected frame")
		return
	}

	h.broadcaster.Subscribe(runID, client)
	defer h.broadcaster.Unsubscribe(runID, client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		readPump(conn)
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("WebSocket client disconnected")
			return

		case <-done:
			if !client.terminal.Load() {
				if final, err := h.runs.Get(runID); err == nil && final.State.IsTerminal() {
					if err := client.writeEvent(terminalEvent(final)); err != nil {
						logger.Warn().Err(err).Msg("failed to send terminal frame")
					}
				}
			}
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
				time.Now().Add(wsWriteTimeout))
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				logger.Debug().Err(err).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump discards client frames and returns when the connection closes.
func readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}
