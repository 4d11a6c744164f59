// Package monitor serves the HTTP status and control surface of the bridge.
package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/livox.bridge/internal/host"
	"github.com/banshee-data/livox.bridge/internal/journal"
	"github.com/banshee-data/livox.bridge/internal/livox"
	"github.com/banshee-data/livox.bridge/internal/livox/network"
	"github.com/banshee-data/livox.bridge/internal/monitoring"
	"github.com/banshee-data/livox.bridge/internal/version"
)

//go:embed status.html
var statusHTML embed.FS

var statusTemplate = template.Must(template.ParseFS(statusHTML, "status.html"))

var logf = monitoring.Component("monitor")

// Source is the part of host.Host the web server reads and controls.
type Source interface {
	Snapshot() livox.Snapshot
	Info() host.Info
	Latest() *host.Frame
	Reset()
	SetBufferLimit(n int)
	Subscribe() (string, <-chan *host.Frame)
	Unsubscribe(id string)
}

// SessionStore lists journaled sessions and mounts its debug routes.
type SessionStore interface {
	ListSessions(limit int) ([]journal.Session, error)
	AttachAdminRoutes(mux *http.ServeMux) error
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Source  Source
	// Sessions and Stats are optional.
	Sessions SessionStore
	Stats    *network.PacketStats
	Driver   string
}

// WebServer handles the HTTP interface.
type WebServer struct {
	address  string
	source   Source
	sessions SessionStore
	stats    *network.PacketStats
	driver   string
	started  time.Time
	server   *http.Server
}

// NewWebServer creates a web server; call Start to serve.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:  config.Address,
		source:   config.Source,
		sessions: config.Sessions,
		stats:    config.Stats,
		driver:   config.Driver,
		started:  time.Now(),
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}
	return ws
}

// Handler returns the route table, for tests and embedding.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatusPage)
	mux.HandleFunc("/api/status", ws.handleStatus)
	mux.HandleFunc("/api/reset", ws.handleReset)
	mux.HandleFunc("/api/buffer-limit", ws.handleBufferLimit)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/ws/frames", ws.handleLiveFrames)

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.Handle("scatter", "Scatter of the latest frame (echarts)", http.HandlerFunc(ws.handleScatter))
	debug.Handle("plot.png", "Top-down plot of the latest frame (PNG)", http.HandlerFunc(ws.handlePlotPNG))

	if ws.sessions != nil {
		if err := ws.sessions.AttachAdminRoutes(mux); err != nil {
			logf("journal admin routes unavailable: %v", err)
		}
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logf("starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	logf("HTTP server stopped")
	return nil
}

// Close shuts the server down immediately.
func (ws *WebServer) Close() error {
	return ws.server.Close()
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf("encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	ws.writeJSON(w, status, map[string]string{"error": msg})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "livox-bridge", "timestamp": "%s"}`, time.Now().UTC().Format(time.RFC3339))
}

// statusResponse is the body of GET /api/status.
type statusResponse struct {
	SessionID       string                 `json:"session_id"`
	ConfigPath      string                 `json:"config_path"`
	Running         bool                   `json:"running"`
	Connected       bool                   `json:"connected"`
	Status          string                 `json:"status"`
	Info            string                 `json:"info"`
	Serial          string                 `json:"serial"`
	LidarIP         string                 `json:"lidar_ip"`
	Handle          uint32                 `json:"handle"`
	RequestedType   string                 `json:"requested_data_type"`
	ActiveType      string                 `json:"active_data_type"`
	BufferedSamples int                    `json:"buffered_samples"`
	BufferLimit     int                    `json:"buffer_limit"`
	EvictedSamples  uint64                 `json:"evicted_samples"`
	TotalPoints     uint64                 `json:"total_points"`
	Host            host.Info              `json:"host"`
	Network         *network.StatsSnapshot `json:"network,omitempty"`
	Driver          string                 `json:"driver"`
	Version         string                 `json:"version"`
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	snap := ws.source.Snapshot()
	resp := statusResponse{
		SessionID:       snap.SessionID,
		ConfigPath:      snap.ConfigPath,
		Running:         snap.Running,
		Connected:       snap.Connected,
		Status:          snap.StatusText,
		Info:            snap.InfoText,
		Serial:          snap.Serial,
		LidarIP:         snap.LidarIP,
		Handle:          snap.Handle,
		RequestedType:   snap.RequestedType.String(),
		ActiveType:      snap.ActiveType.String(),
		BufferedSamples: snap.BufferedSamples,
		BufferLimit:     snap.BufferLimit,
		EvictedSamples:  snap.EvictedSamples,
		TotalPoints:     snap.TotalPoints,
		Host:            ws.source.Info(),
		Driver:          ws.driver,
		Version:         version.Version,
	}
	if ws.stats != nil {
		resp.Network = ws.stats.LatestSnapshot()
	}
	ws.writeJSON(w, http.StatusOK, resp)
}

func (ws *WebServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	ws.source.Reset()
	ws.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (ws *WebServer) handleBufferLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	raw := r.URL.Query().Get("n")
	if raw == "" {
		raw = r.FormValue("n")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		ws.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid 'n' parameter %q", raw))
		return
	}
	ws.source.SetBufferLimit(n)
	ws.writeJSON(w, http.StatusOK, map[string]int{"buffer_limit": ws.source.Snapshot().BufferLimit})
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if ws.sessions == nil {
		ws.writeJSONError(w, http.StatusNotFound, "no session journal configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := ws.sessions.ListSessions(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []journal.Session{}
	}
	ws.writeJSON(w, http.StatusOK, sessions)
}

func (ws *WebServer) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := struct {
		Version string
		Driver  string
		Uptime  string
		Info    host.Info
		Stats   *network.StatsSnapshot
	}{
		Version: version.String(),
		Driver:  ws.driver,
		Uptime:  time.Since(ws.started).Round(time.Second).String(),
		Info:    ws.source.Info(),
	}
	if ws.stats != nil {
		data.Stats = ws.stats.LatestSnapshot()
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
	}
}
