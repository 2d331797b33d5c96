package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"doorguard/internal/config"
	"doorguard/internal/detector"
	"doorguard/internal/metrics"
	"doorguard/internal/model"
)

// SessionHandler is notified when observer sessions come and go.
type SessionHandler interface {
	OnConnect(sessionID, remoteAddr string) (model.UpdateInfo, error)
	OnDisconnect(sessionID string)
}

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Hub fans broadcasts out to WebSocket observers. Each session has a
// buffered queue drained by its own writer; a full queue drops the frame.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
	handler  SessionHandler
	metrics  *metrics.Store
	logger   *slog.Logger
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
}

type session struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	primed atomic.Bool
	closed bool
}

func NewHub(handler SessionHandler, cfg config.WebSocketConfig, metricsStore *metrics.Store, logger *slog.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Hub{
		sessions: make(map[string]*session),
		handler:  handler,
		metrics:  metricsStore,
		logger:   logger,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast satisfies detector.Sink. It never blocks on a slow session.
func (h *Hub) Broadcast(event string, payload any) error {
	data, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.sessions {
		h.enqueueLocked(s, data)
	}
	return nil
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) enqueueLocked(s *session, data []byte) {
	if s.closed {
		return
	}
	select {
	case s.send <- data:
		s.primed.Store(true)
	default:
		if h.metrics != nil {
			h.metrics.IncDropped()
		}
		if h.logger != nil {
			h.logger.Warn("observer queue full, dropping frame", "session_id", s.id)
		}
	}
}

func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.logger != nil {
			h.logger.Debug("websocket upgrade failed", "err", err)
		}
		return
	}
	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
	// registered before OnConnect so the connect broadcast reaches the new
	// session as its initial state
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	go h.writeLoop(s)

	state, err := h.handler.OnConnect(s.id, clientIP(r))
	if err != nil {
		h.unregister(s)
		return
	}
	if !s.primed.Load() {
		if data, err := json.Marshal(frame{Event: detector.EventUpdateInfo, Data: state}); err == nil {
			h.mu.Lock()
			h.enqueueLocked(s, data)
			h.mu.Unlock()
		}
	}
	if h.logger != nil {
		h.logger.Info("observer connected", "session_id", s.id, "remote", clientIP(r))
	}

	h.readLoop(s)
	h.unregister(s)
	h.handler.OnDisconnect(s.id)
	if h.logger != nil {
		h.logger.Info("observer disconnected", "session_id", s.id)
	}
}

// readLoop discards client frames and returns when the connection dies.
func (h *Hub) readLoop(s *session) {
	pongWait := 2 * h.cfg.PingInterval
	s.conn.SetReadLimit(4096)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(s *session) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case data, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	delete(h.sessions, s.id)
	close(s.send)
}

// Close ends every session. Their readers then disconnect them from the
// detector.
func (h *Hub) Close() {
	h.mu.Lock()
	list := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.Unlock()
	for _, s := range list {
		_ = s.conn.Close()
	}
}
