// Package monitor exposes the HTTP debug surface: counter snapshots as
// JSON and a pose-age chart for eyeballing correlation latency without
// pulling the database.
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/reproject/internal/diag"
	"github.com/banshee-data/reproject/internal/frametrack"
	"github.com/banshee-data/reproject/internal/headtrack"
	"github.com/banshee-data/reproject/internal/posedb"
	"github.com/banshee-data/reproject/internal/render"
	"github.com/banshee-data/reproject/internal/transport"
)

// StatsFunc supplies the current counter snapshots.
type StatsFunc func() (render.Stats, headtrack.SamplerStats, frametrack.Stats)

// WebServer handles the HTTP interface for session monitoring.
type WebServer struct {
	address      string
	stats        StatsFunc
	channelStats func() transport.ChannelStats
	db           *posedb.Store
	sessionID    string
	server       *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address      string
	Stats        StatsFunc
	ChannelStats func() transport.ChannelStats
	DB           *posedb.Store
	SessionID    string
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:      config.Address,
		stats:        config.Stats,
		channelStats: config.ChannelStats,
		db:           config.DB,
		sessionID:    config.SessionID,
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/frames", ws.handleFrames)
	mux.HandleFunc("/debug/latency", ws.handleLatencyChart)

	return mux
}

// Start begins the HTTP server in a goroutine and blocks until the
// context is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		diag.Logf("[monitor] HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			diag.Logf("[monitor] server failed: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		diag.Logf("[monitor] shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			diag.Logf("[monitor] force close error: %v", err)
		}
	}
	diag.Logf("[monitor] HTTP server stopped")
	return nil
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "session_id": ws.sessionID})
}

// statsResponse is the /api/stats payload.
type statsResponse struct {
	SessionID string                  `json:"session_id"`
	Loop      render.Stats            `json:"loop"`
	Sampler   headtrack.SamplerStats  `json:"sampler"`
	Tracker   frametrack.Stats        `json:"tracker"`
	Channel   *transport.ChannelStats `json:"channel,omitempty"`
	Latency   *latencySummary         `json:"latency,omitempty"`
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	loop, sampler, tracker := ws.stats()
	resp := statsResponse{
		SessionID: ws.sessionID,
		Loop:      loop,
		Sampler:   sampler,
		Tracker:   tracker,
	}
	if ws.channelStats != nil {
		cs := ws.channelStats()
		resp.Channel = &cs
	}
	if ws.db != nil {
		if ages, err := ws.db.PoseAges(ws.sessionID); err == nil && len(ages) > 0 {
			s := summarizeAges(ages)
			resp.Latency = &s
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (ws *WebServer) handleFrames(w http.ResponseWriter, r *http.Request) {
	if ws.db == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no diagnostics database configured")
		return
	}
	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}
	rows, err := ws.db.FrameRecords(ws.sessionID, limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}
