// Package api exposes the detector over HTTP and pushes state updates to
// WebSocket observers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"doorguard/internal/config"
	"doorguard/internal/detector"
	"doorguard/internal/events"
	"doorguard/internal/metrics"
	"doorguard/internal/model"
)

// Core is the detector surface used by the HTTP routes.
type Core interface {
	SessionHandler
	ActivateCheck(location, key string) (detector.CheckResult, error)
	Deactivate(location string) (bool, error)
	ConfirmKeys(ids []string) []model.KeyResult
	RejectKeys(ids []string) []model.KeyResult
	ListKeys(pendingOnly bool) []model.Key
	ActiveLocations() []string
	Locations() []model.Location
	State() model.UpdateInfo
	Reset()
}

// KeyHistory reads persisted key decisions.
type KeyHistory interface {
	ListKeys(ctx context.Context, location string, limit int) ([]model.Key, error)
}

type Server struct {
	cfg     *config.Manager
	core    Core
	hub     *Hub
	limiter *Limiter
	metrics *metrics.Store
	events  *events.Store
	history KeyHistory
	logger  *slog.Logger
	version string
}

type statusResponse struct {
	Status     string          `json:"status"`
	Time       string          `json:"time"`
	Version    string          `json:"version"`
	ConfigPath string          `json:"config_path"`
	Observers  int             `json:"observers"`
	Ingest     ingestStatus    `json:"ingest"`
	API        apiStatus       `json:"api"`
	Detection  detectionStatus `json:"detection"`
	Storage    bool            `json:"storage"`
	Relay      bool            `json:"relay"`
}

type ingestStatus struct {
	REST      bool `json:"rest"`
	FileTail  bool `json:"file_tail"`
	TCPStream bool `json:"tcp_stream"`
	Kafka     bool `json:"kafka"`
}

type apiStatus struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr"`
	RateLimit bool   `json:"rate_limit"`
}

type detectionStatus struct {
	Threshold  int    `json:"threshold"`
	Window     string `json:"window"`
	WindowMode string `json:"window_mode"`
	Cooldown   string `json:"cooldown"`
}

type keysRequest struct {
	IDs    []string `json:"ids"`
	Action string   `json:"action"`
}

func NewServer(cfg *config.Manager, core Core, hub *Hub, metricsStore *metrics.Store, eventsStore *events.Store, logger *slog.Logger, version string) *Server {
	s := &Server{
		cfg:     cfg,
		core:    core,
		hub:     hub,
		metrics: metricsStore,
		events:  eventsStore,
		logger:  logger,
		version: version,
	}
	if rl := cfg.Get().API.RateLimit; rl.Enabled {
		s.limiter = NewLimiter(rl.RPS, rl.Burst, rl.IdleTTL)
	}
	return s
}

func (s *Server) SetKeyHistory(h KeyHistory) {
	s.history = h
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/bruteforce", s.handleState)
	mux.HandleFunc("GET /api/bruteforce/{id}/active", s.limiter.Wrap(s.handleActive))
	mux.HandleFunc("POST /api/bruteforce/{id}/active", s.limiter.Wrap(s.handleActive))
	mux.HandleFunc("POST /api/bruteforce/{id}/deactivate", s.handleDeactivate)
	mux.HandleFunc("GET /api/bruteforce/keys", s.handleListKeys)
	mux.HandleFunc("POST /api/bruteforce/keys", s.handleDecideKeys)
	mux.HandleFunc("GET /api/bruteforce/keys/history", s.handleKeyHistory)
	mux.HandleFunc("GET /api/locations/state", s.handleLocations)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /metrics/{location}", s.handleMetrics)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /admin/restart", s.handleRestart)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.ServeWS)
	}
	return mux
}

// Start serves the API until ctx is done. The returned channel closes once
// observers are disconnected and the HTTP server has shut down.
func Start(ctx context.Context, server *Server, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	if server == nil || server.cfg == nil {
		close(done)
		return done
	}
	current := server.cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		close(done)
		return done
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr, "rate_limit", current.RateLimit.Enabled)
	}
	if server.limiter != nil {
		server.limiter.StartJanitor(ctx)
	}

	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 5 * time.Second}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
		case <-served:
		}
		if server.hub != nil {
			server.hub.Close()
		}
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctxShutdown); err != nil && logger != nil {
			logger.Warn("api shutdown", "err", err)
		}
		<-served
	}()
	return done
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state := s.core.State()
	active := s.core.ActiveLocations()
	if active == nil {
		active = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"door":    state.Door,
		"clients": state.Clients,
		"pending": state.Pending,
		"active":  active,
	})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<16))
		if err != nil {
			writeError(w, detector.ErrInvalidInput)
			return
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			var req struct {
				Key string `json:"key"`
			}
			if err := json.Unmarshal(body, &req); err != nil {
				writeError(w, detector.ErrInvalidInput)
				return
			}
			key = req.Key
		}
	}
	res, err := s.core.ActivateCheck(r.PathValue("id"), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	changed, err := s.core.Deactivate(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location": id,
		"changed":  changed,
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	all := false
	if v := r.URL.Query().Get("all"); v != "" {
		all, _ = strconv.ParseBool(v)
	}
	list := s.core.ListKeys(!all)
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  list,
		"count": len(list),
	})
}

func (s *Server) handleDecideKeys(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, detector.ErrInvalidInput)
		return
	}
	var req keysRequest
	if err := json.Unmarshal(body, &req); err != nil || len(req.IDs) == 0 {
		writeError(w, detector.ErrInvalidInput)
		return
	}
	var results []model.KeyResult
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "", "confirm":
		results = s.core.ConfirmKeys(req.IDs)
	case "reject":
		results = s.core.RejectKeys(req.IDs)
	default:
		writeError(w, detector.ErrInvalidInput)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

func (s *Server) handleKeyHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "storage_disabled"})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := s.history.ListKeys(r.Context(), r.URL.Query().Get("location"), limit)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("key history query failed", "err", err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"keys":  list,
		"count": len(list),
	})
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	list := s.core.Locations()
	writeJSON(w, http.StatusOK, map[string]any{
		"locations": list,
		"count":     len(list),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []model.Event{}, "count": 0})
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []model.Event
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			writeError(w, detector.ErrInvalidInput)
			return
		}
		list = s.events.Since(ts)
	} else {
		list = s.events.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if location := r.PathValue("location"); location != "" {
		counters, ok := s.metrics.Get(location)
		if !ok {
			writeError(w, detector.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, counters)
		return
	}
	all := s.metrics.GetAll()
	sent, dropped := s.metrics.Broadcasts()
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": all,
		"count":   len(all),
		"broadcasts": map[string]int64{
			"sent":    sent,
			"dropped": dropped,
		},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg.Get()
	observers := 0
	if s.hub != nil {
		observers = s.hub.Count()
	}
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Observers:  observers,
		Ingest: ingestStatus{
			REST:      cfg.Ingest.REST.Enabled,
			FileTail:  cfg.Ingest.FileTail.Enabled,
			TCPStream: cfg.Ingest.TCPStream.Enabled,
			Kafka:     cfg.Ingest.Kafka.Enabled,
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr, RateLimit: cfg.API.RateLimit.Enabled},
		Detection: detectionStatus{
			Threshold:  cfg.Detection.Threshold,
			Window:     cfg.Detection.Window.String(),
			WindowMode: cfg.Detection.WindowMode,
			Cooldown:   cfg.Detection.Cooldown.String(),
		},
		Storage: cfg.Storage.Enabled,
		Relay:   cfg.Relay.Enabled,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.core.Reset()
	if s.logger != nil {
		s.logger.Info("detector state reset", "remote", clientIP(r))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, detector.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, detector.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, detector.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": detector.ErrorKind(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
