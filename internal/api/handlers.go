package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/sessionmeter/internal/session"
	"github.com/goodtune/sessionmeter/internal/storage"
	"github.com/goodtune/sessionmeter/internal/summary"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// DeviceHandler handles device-related API requests.
type DeviceHandler struct {
	store   storage.Store
	builder *summary.Builder
	logger  zerolog.Logger
}

// NewDeviceHandler creates a new device handler.
func NewDeviceHandler(store storage.Store, builder *summary.Builder, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{
		store:   store,
		builder: builder,
		logger:  logger.With().Str("handler", "device").Logger(),
	}
}

// List returns all devices.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	devices, err := h.store.Devices().List(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list devices")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve devices")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
	})
}

// Profile returns the usage profile for a single device.
func (h *DeviceHandler) Profile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	id := vars["id"]

	profile, err := h.builder.DeviceProfile(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Device not found")
			return
		}
		h.logger.Error().Err(err).Str("id", id).Msg("Failed to build device profile")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve device profile")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// SessionHandler handles session lifecycle API requests.
type SessionHandler struct {
	coordinator *session.Coordinator
	builder     *summary.Builder
	logger      zerolog.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(coordinator *session.Coordinator, builder *summary.Builder, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		coordinator: coordinator,
		builder:     builder,
		logger:      logger.With().Str("handler", "session").Logger(),
	}
}

// Summary returns the summary payload for the active session.
func (h *SessionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	h.respondWithSummary(w, r)
}

// Start begins a session (idempotent) and responds with the summary.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	if _, err := h.coordinator.Start(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to start session")
		writeError(w, http.StatusInternalServerError, "Failed to start session")
		return
	}
	h.respondWithSummary(w, r)
}

// StopDevice stops the current device, autoswitching when possible, and
// responds with the summary.
func (h *SessionHandler) StopDevice(w http.ResponseWriter, r *http.Request) {
	result, err := h.coordinator.Stop(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to stop current device")
		writeError(w, http.StatusInternalServerError, "Failed to stop current device")
		return
	}
	if result.SwitchedTo != "" {
		h.logger.Debug().Str("device_id", result.SwitchedTo).Msg("Autoswitched")
	}
	h.respondWithSummary(w, r)
}

// Reset restores the seed state and responds with the (empty) summary.
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.Reset(r.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to reset state")
		writeError(w, http.StatusInternalServerError, "Failed to reset state")
		return
	}
	h.respondWithSummary(w, r)
}

func (h *SessionHandler) respondWithSummary(w http.ResponseWriter, r *http.Request) {
	payload, err := h.builder.Build(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build summary")
		writeError(w, http.StatusInternalServerError, "Failed to build summary")
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
