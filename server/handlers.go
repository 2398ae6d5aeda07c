package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chiyoko-haruka/chiyoko/monitor"
	"github.com/chiyoko-haruka/chiyoko/telemetry"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps    Deps
	started time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps, started: time.Now()}
}

type addStreamerRequest struct {
	Username  string `json:"username"`
	ChannelID string `json:"channelId"`
}

type setChannelRequest struct {
	ChannelID string `json:"channelId"`
}

// HandleStats returns registry totals.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, monitor.NewResult(h.deps.Registry.Stats(), nil))
}

// HandleListStreamers returns the guild's monitored streamers and its notification channel.
func (h *Handlers) HandleListStreamers(w http.ResponseWriter, r *http.Request) {
	guildID := r.PathValue("guildID")
	list, err := h.deps.Registry.ListStreamers(guildID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	channelID, _ := h.deps.Registry.NotificationChannel(guildID)
	writeJSON(w, http.StatusOK, monitor.NewResult(map[string]any{
		"streamers":             list,
		"notificationChannelId": channelID,
	}, nil))
}

// HandleAddStreamer adds a streamer to the guild.
func (h *Handlers) HandleAddStreamer(w http.ResponseWriter, r *http.Request) {
	var req addStreamerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rec, err := h.deps.Registry.AddStreamer(r.Context(), r.PathValue("guildID"), req.ChannelID, req.Username)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, monitor.NewResult(rec, nil))
}

// HandleRemoveStreamer removes a streamer from the guild.
func (h *Handlers) HandleRemoveStreamer(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Registry.RemoveStreamer(r.Context(), r.PathValue("guildID"), r.PathValue("username")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, monitor.NewResult(nil, nil))
}

// HandleSetChannel sets the guild's notification channel.
func (h *Handlers) HandleSetChannel(w http.ResponseWriter, r *http.Request) {
	var req setChannelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.deps.Registry.SetChannel(r.Context(), r.PathValue("guildID"), req.ChannelID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, monitor.NewResult(nil, nil))
}

// HandleSweep runs one sweep synchronously and returns its report.
func (h *Handlers) HandleSweep(w http.ResponseWriter, r *http.Request) {
	if h.deps.Monitor == nil {
		writeJSON(w, http.StatusServiceUnavailable, failureBody("monitor not configured"))
		return
	}
	report := h.deps.Monitor.Sweep(r.Context())
	telemetry.LoggerWithCorr(r.Context()).Info("manual sweep", slog.Int("checked", report.Checked), slog.Int("notified", report.Notified), slog.String("component", "http"))
	writeJSON(w, http.StatusOK, monitor.NewResult(report, nil))
}

// statusFor maps registry errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrStreamerNotFound):
		return http.StatusNotFound
	case errors.Is(err, monitor.ErrAlreadyMonitored):
		return http.StatusConflict
	case monitor.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		telemetry.LoggerWithCorr(r.Context()).Error("registry operation failed", slog.String("path", r.URL.Path), slog.Any("err", err), slog.String("component", "http"))
	}
	writeJSON(w, code, monitor.NewResult(nil, err))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, failureBody("invalid JSON body"))
		return false
	}
	return true
}

func failureBody(msg string) monitor.Result {
	return monitor.Result{Success: false, Message: msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to encode response", slog.Any("err", err), slog.String("component", "http"))
	}
}
