package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/nicktill/marketpulse/pkg/clock"
	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/httpx"
	"github.com/nicktill/marketpulse/pkg/ingest"
	"github.com/nicktill/marketpulse/pkg/metrics"
	"github.com/nicktill/marketpulse/pkg/server/monitor"
	"github.com/nicktill/marketpulse/pkg/storage"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64          `json:"used_bytes"`
	MaxBytes  int64          `json:"max_bytes"`
	Points    *storage.Stats `json:"points,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Uptime  string                 `json:"uptime"`
	Rollers []monitor.RollerStatus `json:"rollers"`
}

// TriggerResponse reports a manual tick.
type TriggerResponse struct {
	Scale     string `json:"scale"`
	Delivered int    `json:"delivered"`
}

// ScaleInfo describes one scale of the clock hub.
type ScaleInfo struct {
	Scale    string `json:"scale"`
	Period   string `json:"period"`
	PeriodMs int64  `json:"period_ms"`
}

// handleHealth returns service health status. Any unhealthy roller degrades it.
func handleHealth(rollers []*monitor.RollerMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		overallStatus := "healthy"
		statusCode := http.StatusOK

		statuses := make([]monitor.RollerStatus, 0, len(rollers))
		for _, m := range rollers {
			st := m.Status()
			if !st.Healthy {
				overallStatus = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
			statuses = append(statuses, st)
		}

		httpx.RespondJSON(w, statusCode, HealthResponse{
			Status:  overallStatus,
			Version: Version,
			Uptime:  time.Since(startTime).String(),
			Rollers: statuses,
		})
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(m *monitor.StorageMonitor, points storage.PointStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := m.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		usage := StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  m.GetLimit(),
		}

		if points != nil {
			ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
			defer cancel()
			stats, err := points.Stats(ctx)
			if err != nil {
				httpx.RespondError(w, http.StatusInternalServerError, err)
				return
			}
			usage.Points = stats
		}

		httpx.RespondJSON(w, http.StatusOK, usage)
	}
}

// handleScales lists the hub's scales and their periods.
func handleScales(hub *clock.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scales := hub.Scales()
		out := make([]ScaleInfo, 0, len(scales))
		for _, s := range scales {
			p, _ := hub.Period(s)
			out = append(out, ScaleInfo{Scale: s, Period: p.String(), PeriodMs: p.Milliseconds()})
		}
		httpx.RespondJSON(w, http.StatusOK, out)
	}
}

// handleTrigger emits a manual tick on a scale.
func handleTrigger(hub *clock.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scale := mux.Vars(r)["scale"]
		n, err := hub.Trigger(scale)
		if errors.Is(err, clock.ErrUnknownScale) {
			httpx.RespondErrorString(w, http.StatusNotFound, "unknown scale "+scale)
			return
		}
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusAccepted, TriggerResponse{Scale: scale, Delivered: n})
	}
}

// Routes holds everything the HTTP surface serves.
type Routes struct {
	Ingest  *ingest.Handler
	Stream  *ingest.FlushHub
	Hub     *clock.Hub
	Points  storage.PointStore
	Storage *monitor.StorageMonitor
	Rollers []*monitor.RollerMonitor
	Port    string
	Log     zerolog.Logger
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, rt Routes) {
	router.Use(requestLogger(rt.Log), corsMiddleware(rt.Port))

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/ingest", rt.Ingest.HandleIngest).Methods("POST")
	api.HandleFunc("/points/{symbol}/{window}", rt.Ingest.HandlePoints).Methods("GET")
	api.HandleFunc("/symbols", rt.Ingest.HandleSymbols).Methods("GET")

	api.HandleFunc("/ticks", handleScales(rt.Hub)).Methods("GET")
	api.HandleFunc("/ticks/{scale}", handleTrigger(rt.Hub)).Methods("POST")

	api.HandleFunc("/storage", handleStorageUsage(rt.Storage, rt.Points)).Methods("GET")
	api.HandleFunc("/health", handleHealth(rt.Rollers)).Methods("GET")

	if rt.Stream != nil {
		api.HandleFunc("/ws", rt.Stream.HandleWebSocket).Methods("GET")
	}

	router.Handle("/metrics", metrics.Handler()).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
