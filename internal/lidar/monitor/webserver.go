package monitor

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/ldscan/internal/db"
	"github.com/banshee-data/ldscan/internal/lidar"
	"github.com/banshee-data/ldscan/internal/lidar/pipeline"
	"github.com/banshee-data/ldscan/internal/monitoring"
	"github.com/banshee-data/ldscan/internal/version"
)

var logf = monitoring.Component("monitor")

//go:embed status.html
var statusHTML embed.FS

// ScanSource is the read side of the scan pipeline.
type ScanSource interface {
	Latest() *pipeline.Frame
	Stats() pipeline.Stats
	Subscribe() (string, <-chan *pipeline.Frame)
	Unsubscribe(id string)
}

// Store is the subset of the database the web server reads.
type Store interface {
	GetSensorConfigs() ([]db.SensorConfig, error)
	RecentSessions(limit int) ([]db.CaptureSession, error)
}

// WebServer serves scan status, JSON APIs, a live scan stream and debug
// plots over HTTP.
type WebServer struct {
	address   string
	scans     ScanSource
	store     Store
	metrics   *pipeline.Metrics
	adminDB   *db.DB
	templates TemplateProvider
	started   time.Time
	server    *http.Server

	// closed on shutdown so hijacked websocket connections exit
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address string
	Scans   ScanSource
	// Store is optional; the sensor and session APIs report 503 without it.
	Store Store
	// Metrics is optional; /metrics is only mounted when set.
	Metrics *pipeline.Metrics
	// DB is optional; when set its tailsql and backup routes are mounted
	// under /debug/.
	DB *db.DB
	// Templates overrides the embedded status page, for tests.
	Templates TemplateProvider
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.Scans == nil {
		return nil, errors.New("monitor: Scans is required")
	}
	ws := &WebServer{
		address:   config.Address,
		scans:     config.Scans,
		store:     config.Store,
		metrics:   config.Metrics,
		adminDB:   config.DB,
		templates: config.Templates,
		started:   time.Now(),
		shutdown:  make(chan struct{}),
	}
	if ws.templates == nil {
		ws.templates = NewEmbeddedTemplateProvider(statusHTML)
	}

	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:              ws.address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws, nil
}

// Handler returns the root handler, for tests and embedding.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

func (ws *WebServer) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logf("failed to encode response: %v", err)
	}
}

func (ws *WebServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", ws.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.address, err)
	}
	return ws.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (ws *WebServer) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		logf("starting HTTP server on %s", ln.Addr())
		if err := ws.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		ws.closeShutdown()
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logf("shutting down HTTP server...")
	ws.closeShutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		logf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			logf("HTTP server force close error: %v", err)
		}
	}
	<-errCh
	logf("HTTP server routine stopped")
	return nil
}

func (ws *WebServer) closeShutdown() {
	ws.shutdownOnce.Do(func() { close(ws.shutdown) })
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/scan", ws.handleScan)
	mux.HandleFunc("/api/scan/summary", ws.handleScanSummary)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/sensors", ws.handleSensors)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/ws/scans", ws.handleScanStream)
	if reg := ws.metrics.Registry(); reg != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	debug := tsweb.Debugger(mux)
	debug.HandleFunc("scan/polar", "Latest scan as an XY scatter coloured by intensity", ws.handleScanPolar)
	debug.HandleFunc("scan/histogram.png", "Distance histogram of the latest scan", ws.handleScanHistogram)
	if ws.adminDB != nil {
		if err := ws.adminDB.AttachAdminRoutes(debug); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := ws.scans.Stats()
	ws.writeJSON(w, map[string]interface{}{
		"status":   "ok",
		"running":  st.Running,
		"scans_ok": st.ScansOK,
		"version":  version.Version,
	})
}

type statusPage struct {
	Version        string
	Uptime         string
	RefreshSeconds int
	Stats          pipeline.Stats
	Seq            uint64
	Summary        *ScanSummary
}

func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page := statusPage{
		Version:        version.Version,
		Uptime:         time.Since(ws.started).Truncate(time.Second).String(),
		RefreshSeconds: 2,
		Stats:          ws.scans.Stats(),
	}
	if f := ws.scans.Latest(); f != nil {
		s := Summarize(f.Scan.Points())
		page.Seq = f.Seq
		page.Summary = &s
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := ws.templates.ExecuteTemplate(w, "status.html", page); err != nil {
		logf("failed to render status page: %v", err)
		http.Error(w, "failed to render status page", http.StatusInternalServerError)
	}
}

// scanResponse is the JSON form of one published frame.
type scanResponse struct {
	Seq        uint64        `json:"seq"`
	Timestamp  time.Time     `json:"timestamp"`
	DurationMS float64       `json:"duration_ms"`
	Points     []lidar.Point `json:"points"`
	// XY holds Cartesian millimetres, one pair per point, when requested.
	XY [][2]float64 `json:"xy,omitempty"`
}

func newScanResponse(f *pipeline.Frame, withXY bool) scanResponse {
	points := f.Scan.Points()
	resp := scanResponse{
		Seq:        f.Seq,
		Timestamp:  f.Timestamp,
		DurationMS: float64(f.Duration) / float64(time.Millisecond),
		Points:     points,
	}
	if withXY {
		resp.XY = make([][2]float64, len(points))
		for i, p := range points {
			x, y := ProjectXY(p)
			resp.XY[i] = [2]float64{x, y}
		}
	}
	return resp
}

// handleScan returns the latest scan.
// Query params:
//   - xy (optional; "1" adds Cartesian coordinates)
func (ws *WebServer) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ws.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	f := ws.scans.Latest()
	if f == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no scan available yet")
		return
	}
	ws.writeJSON(w, newScanResponse(f, r.URL.Query().Get("xy") == "1"))
}

func (ws *WebServer) handleScanSummary(w http.ResponseWriter, r *http.Request) {
	f := ws.scans.Latest()
	if f == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no scan available yet")
		return
	}
	ws.writeJSON(w, struct {
		Seq uint64 `json:"seq"`
		ScanSummary
	}{f.Seq, Summarize(f.Scan.Points())})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, ws.scans.Stats())
}

func (ws *WebServer) handleSensors(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	configs, err := ws.store.GetSensorConfigs()
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get sensor configs: %v", err))
		return
	}
	if configs == nil {
		configs = []db.SensorConfig{}
	}
	ws.writeJSON(w, configs)
}

// handleSessions lists recent capture sessions, newest first.
// Query params:
//   - limit (optional, default 20, max 500)
func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if ws.store == nil {
		ws.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 || v > 500 {
			ws.writeJSONError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = v
	}
	sessions, err := ws.store.RecentSessions(limit)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.CaptureSession{}
	}
	ws.writeJSON(w, sessions)
}
