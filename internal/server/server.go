package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pipelinewatch/internal/history"
	"pipelinewatch/internal/logging"
	"pipelinewatch/internal/metrics"
	"pipelinewatch/internal/models"
	"pipelinewatch/internal/monitor"
	"pipelinewatch/internal/navigation"
	"pipelinewatch/internal/session"
)

const (
	defaultHistoryLimit  = 200
	defaultTimelineHours = 1
	maxTimelineHours     = 24 * 30
	maxTimelinePoints    = 500
)

// Monitor is the part of the health monitor the API reads and drives.
type Monitor interface {
	Connected() bool
	Deployment() string
	SetDeployment(ref string)
	Latest() (monitor.CycleResult, bool)
	RunOnce(ctx context.Context) monitor.CycleResult
	SubscribeCycles(observer monitor.CycleObserver) (unsubscribe func())
}

// History is read access to persisted connectivity samples.
type History interface {
	HistoryN(n int) []models.ConnectivityStatus
	HistorySince(cutoff time.Time) []models.ConnectivityStatus
}

// Session exposes the user state behind the navigation bar.
type Session interface {
	Info() session.Info
	Logout()
	SetViewMode(mode string)
	SetDeployment(deployment string)
}

// Server wraps HTTP serving of the status API.
type Server struct {
	httpServer   *http.Server
	monitor      Monitor
	history      History
	session      Session
	gatherer     prometheus.Gatherer
	logger       logging.Logger
	historyLimit int
}

// New creates a configured HTTP server. gatherer may be nil to disable /metrics.
func New(addr string, mon Monitor, hist History, sess Session, gatherer prometheus.Gatherer, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	mux := http.NewServeMux()
	s := &Server{
		httpServer:   &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		monitor:      mon,
		history:      hist,
		session:      sess,
		gatherer:     gatherer,
		logger:       logger,
		historyLimit: defaultHistoryLimit,
	}
	s.registerRoutes(mux)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run blocks and serves HTTP traffic.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/ws", s.handleStatusWS)
	mux.HandleFunc("/api/check", s.handleCheck)
	mux.HandleFunc("/api/deployment", s.handleDeployment)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/uptime", s.handleUptime)
	mux.HandleFunc("/api/timeline", s.handleTimeline)
	mux.HandleFunc("/api/nav", s.handleNav)
	mux.HandleFunc("/api/view-mode", s.handleViewMode)
	mux.HandleFunc("/api/logout", s.handleLogout)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

type statusResponse struct {
	Connected   bool                 `json:"connected"`
	Label       string               `json:"label"`
	Deployment  string               `json:"deployment,omitempty"`
	LastCycle   *monitor.CycleResult `json:"last_cycle,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}

func (s *Server) currentStatus() statusResponse {
	resp := statusResponse{
		Connected:   s.monitor.Connected(),
		Deployment:  s.monitor.Deployment(),
		GeneratedAt: time.Now().UTC(),
	}
	if latest, ok := s.monitor.Latest(); ok {
		resp.LastCycle = &latest
	}
	resp.Label = statusLabel(resp.Connected)
	return resp
}

func statusLabel(connected bool) string {
	if connected {
		return "Connected"
	}
	return "No Connection"
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	writeJSON(w, http.StatusOK, s.monitor.RunOnce(r.Context()))
}

// handleDeployment switches the monitored deployment. An empty URL
// unconfigures it, which reports disconnected without probing.
func (s *Server) handleDeployment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	ref := strings.TrimSuffix(strings.TrimSpace(body.URL), "/")
	if ref != "" {
		u, err := url.Parse(ref)
		if err != nil || u.Scheme == "" || u.Host == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be absolute"})
			return
		}
	}
	s.session.SetDeployment(ref)
	s.monitor.SetDeployment(ref)
	s.logger.WithField("deployment", ref).Info("deployment changed")
	writeJSON(w, http.StatusAccepted, s.currentStatus())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, s.historyLimit)
	samples := s.history.HistoryN(limit)
	if samples == nil {
		samples = []models.ConnectivityStatus{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleUptime(w http.ResponseWriter, r *http.Request) {
	hours := parseBoundedInt(r, "hours", defaultTimelineHours*24, maxTimelineHours)
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	writeJSON(w, http.StatusOK, metrics.ComputeUptime(s.history.HistorySince(cutoff)))
}

type timelineResponse struct {
	RangeStart time.Time              `json:"range_start"`
	RangeEnd   time.Time              `json:"range_end"`
	Points     []models.TimelinePoint `json:"points"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	hours := parseBoundedInt(r, "hours", defaultTimelineHours, maxTimelineHours)
	points := parseBoundedInt(r, "points", history.DefaultTimelinePoints, maxTimelinePoints)

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	// Include samples before the range so the first bucket can inherit state.
	samples := s.history.HistorySince(start.Add(-time.Hour))
	writeJSON(w, http.StatusOK, timelineResponse{
		RangeStart: start,
		RangeEnd:   end,
		Points:     history.BuildConnectivityTimeline(samples, start, end, points),
	})
}

func (s *Server) navBar(path string) navigation.Bar {
	info := s.session.Info()
	return navigation.Build(navigation.State{
		Authenticated: info.Authenticated,
		UserRole:      info.Role,
		SuperUser:     info.SuperUser,
		ViewMode:      info.ViewMode,
	}, path)
}

func (s *Server) handleNav(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	writeJSON(w, http.StatusOK, s.navBar(path))
}

func (s *Server) handleViewMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var body struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.Mode != "" && body.Mode != navigation.ViewModeUser {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown view mode"})
		return
	}
	s.session.SetViewMode(body.Mode)
	writeJSON(w, http.StatusOK, s.navBar("/"))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	s.session.Logout()
	s.logger.Info("session signed out")
	writeJSON(w, http.StatusOK, map[string]string{"redirect": navigation.LogoutRedirect})
}

func parseLimit(r *http.Request, fallback int) int {
	if fallback <= 0 {
		return fallback
	}
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > fallback {
		return fallback
	}
	return value
}

func parseBoundedInt(r *http.Request, key string, fallback, max int) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}
