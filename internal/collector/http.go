package collector

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"edgenode/internal/metrics"
)

const maxLatestLimit = 500

// NewMux serves the collector's read API.
func NewMux(store *Store, gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	h := &handlers{store: store}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /readings/latest", h.handleLatest)
	if gatherer != nil {
		mux.Handle("GET /metrics", metrics.Handler(gatherer))
	}
	return requestLogger(mux)
}

type handlers struct {
	store *Store
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type latestResponse struct {
	Readings []Record `json:"readings"`
	Count    int      `json:"count"`
}

func (h *handlers) handleLatest(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > maxLatestLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer in 1..500")
			return
		}
		limit = n
	}
	source := r.URL.Query().Get("source")

	recs, err := h.store.Latest(r.Context(), source, limit)
	if err != nil {
		slog.Error("failed to load latest readings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	if recs == nil {
		recs = []Record{}
	}
	writeJSON(w, http.StatusOK, latestResponse{Readings: recs, Count: len(recs)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
