// Package handlers exposes the coordinator over HTTP for the outer
// service layer: source lifecycle, batch replay, and health.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/neurostream-systems/neurostream/internal/coordinator"
	"github.com/neurostream-systems/neurostream/internal/logging"
	"github.com/neurostream-systems/neurostream/internal/model"
)

// IngestHandler manages ingestion control endpoints.
type IngestHandler struct {
	coord *coordinator.Coordinator
	log   *logging.Logger
}

// NewIngestHandler constructs a new handler.
func NewIngestHandler(c *coordinator.Coordinator, log *logging.Logger) *IngestHandler {
	if log == nil {
		log = logging.Default()
	}
	return &IngestHandler{coord: c, log: log}
}

// StartSourceRequest is the inbound payload for starting a source.
type StartSourceRequest struct {
	Adapter        string  `json:"adapter"`
	DeviceID       string  `json:"device_id"`
	SourceType     string  `json:"source_type"`
	ChannelCount   int     `json:"channel_count"`
	SampleRateHz   float64 `json:"sample_rate_hz"`
	PollIntervalMs int     `json:"poll_interval_ms,omitempty"`
	PollTimeoutMs  int     `json:"poll_timeout_ms,omitempty"`
	Push           bool    `json:"push,omitempty"`
}

// Sources handles POST (start a source) and GET (health snapshot) on
// /api/v1/sources.
func (h *IngestHandler) Sources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.startSource(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.coord.Health())
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodGet)
	}
}

func (h *IngestHandler) startSource(w http.ResponseWriter, r *http.Request) {
	var req StartSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Adapter == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "adapter is required")
		return
	}

	st, err := model.ParseSourceType(req.SourceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	cfg := model.SourceConfig{
		DeviceID:     req.DeviceID,
		SourceType:   st,
		ChannelCount: req.ChannelCount,
		SampleRateHz: req.SampleRateHz,
		PollInterval: time.Duration(req.PollIntervalMs) * time.Millisecond,
		PollTimeout:  time.Duration(req.PollTimeoutMs) * time.Millisecond,
		Push:         req.Push,
	}

	wk, err := h.coord.StartSourceNamed(context.WithoutCancel(r.Context()), req.Adapter, cfg)
	if err != nil {
		var running *coordinator.AlreadyRunningError
		if errors.As(err, &running) {
			writeError(w, http.StatusConflict, "already_running", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "start_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, wk.Status())
}

// Source handles DELETE /api/v1/sources/{device_id}.
func (h *IngestHandler) Source(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}

	deviceID := strings.TrimPrefix(r.URL.Path, "/api/v1/sources/")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "device_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.coord.StopSource(ctx, deviceID); err != nil {
		writeError(w, http.StatusNotFound, "stop_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device_id": deviceID, "state": "stopped"})
}

// Batch handles POST /api/v1/batch: replays an uploaded file through
// the pipeline. Format and source parameters come from the query
// string; the body is the file itself.
func (h *IngestHandler) Batch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	q := r.URL.Query()
	st, err := model.ParseSourceType(q.Get("source_type"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	channels, err := strconv.Atoi(q.Get("channel_count"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "channel_count must be an integer")
		return
	}
	rate, err := strconv.ParseFloat(q.Get("sample_rate_hz"), 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "sample_rate_hz must be a number")
		return
	}

	cfg := model.SourceConfig{
		DeviceID:     q.Get("device_id"),
		SourceType:   st,
		ChannelCount: channels,
		SampleRateHz: rate,
	}

	format := q.Get("format")
	if format == "" {
		format = "csv"
	}

	res, err := h.coord.BatchUpload(r.Context(), r.Body, format, cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "batch_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Health handles GET /api/v1/health with worker and dispatcher detail.
func (h *IngestHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources":    h.coord.Health(),
		"dispatcher": h.coord.DispatcherStats(),
	})
}

// Healthz handles GET /healthz liveness probes.
func (h *IngestHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	type errorBody struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method is not allowed")
}
