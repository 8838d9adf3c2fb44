package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalhouse/fskmon/internal/session"
	"github.com/signalhouse/fskmon/internal/waterfall"
)

// newServer builds the control and metrics HTTP server around a running
// coordinator.
func newServer(addr string, c *session.Coordinator, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	h := &handlers{coordinator: c, logger: logger}

	mux.HandleFunc("GET /api/status", h.status)
	mux.HandleFunc("POST /api/recording/start", h.control(c.StartRecording))
	mux.HandleFunc("POST /api/recording/stop", h.control(c.StopRecording))
	mux.HandleFunc("POST /api/waterfall/start", h.control(c.StartWaterfall))
	mux.HandleFunc("POST /api/waterfall/stop", h.control(c.StopWaterfall))
	mux.HandleFunc("GET /api/waterfall/export", h.exportWaterfall)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

type handlers struct {
	coordinator *session.Coordinator
	logger      *slog.Logger
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.coordinator.Status()); err != nil {
		h.logger.Error("writing status response", slog.String("error", err.Error()))
	}
}

// control wraps a coordinator operation, mapping its error taxonomy onto
// HTTP status codes.
func (h *handlers) control(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			h.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) exportWaterfall(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(waterfall.FormatJSON)
	}
	format, err := waterfall.ParseFormat(name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	switch format {
	case waterfall.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case waterfall.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "waterfall"+format.Ext()))

	if err = h.coordinator.ExportWaterfall(w, format); err != nil {
		h.writeError(w, err)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrNotRunning),
		errors.Is(err, session.ErrAlreadyRecording),
		errors.Is(err, session.ErrNotRecording),
		errors.Is(err, session.ErrWaterfallActive),
		errors.Is(err, session.ErrWaterfallInactive):
		code = http.StatusConflict
	case errors.Is(err, session.ErrNoWaterfall):
		code = http.StatusNotFound
	case errors.Is(err, waterfall.ErrUnknownFormat):
		code = http.StatusBadRequest
	}
	http.Error(w, err.Error(), code)
}
