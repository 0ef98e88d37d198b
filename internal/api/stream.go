package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/goodtune/sessionmeter/internal/metrics"
	"github.com/goodtune/sessionmeter/internal/summary"
)

// StreamHandler pushes summary payloads to websocket clients on a fixed
// interval. Clients that stop reading are disconnected on the next write.
type StreamHandler struct {
	builder  *summary.Builder
	interval time.Duration
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewStreamHandler creates a new summary stream handler.
func NewStreamHandler(builder *summary.Builder, interval time.Duration, logger zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		builder:  builder,
		interval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger.With().Str("component", "stream").Logger(),
	}
}

// Serve handles GET /session/stream.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()

	h.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Stream client connected")

	// Reader goroutine: we never expect client messages, but reading is
	// required to process close frames and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.push(r, conn); err != nil {
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			h.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Stream client disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := h.push(r, conn); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) push(r *http.Request, conn *websocket.Conn) error {
	payload, err := h.builder.Build(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build summary for stream")
		return err
	}
	if err := conn.WriteJSON(payload); err != nil {
		h.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Stream write failed")
		return err
	}
	return nil
}
