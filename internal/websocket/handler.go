package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"classcast/internal/logging"
	"classcast/pkg/types"
)

// WebSocket upgrader with production-ready settings
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Origin policy belongs to the gateway in front of the service
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// ChannelValidator decides whether a channel may open on a session
type ChannelValidator interface {
	ValidateChannel(ctx context.Context, sessionID, role string) (*types.ClassroomSession, error)
}

// HistorySource supplies the transcripts replayed to a new channel
type HistorySource interface {
	Recent(ctx context.Context, sessionID string, limit int) ([]*types.TranscriptView, error)
}

// HandlerConfig tunes channel timing and catch-up
type HandlerConfig struct {
	PingInterval time.Duration
	// ReadTimeout defaults to two ping intervals so one lost pong is tolerated
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int
	ReplayLimit  int
}

// DefaultHandlerConfig returns the production defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: DefaultWriteTimeout,
		QueueSize:    writeBuffer,
		ReplayLimit:  50,
	}
}

// Handler upgrades push channel requests and runs each channel until it closes
// ARCHITECTURAL DISCOVERY: Multi-stage validation (parameters -> session -> WebSocket -> registration)
// ensures invalid requests get plain HTTP errors and never consume a socket
type Handler struct {
	registry *Registry
	sessions ChannelValidator
	history  HistorySource
	config   HandlerConfig
	logger   logging.Logger
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, sessions ChannelValidator, history HistorySource, config HandlerConfig, logger logging.Logger) *Handler {
	defaults := DefaultHandlerConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 2 * config.PingInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.ReplayLimit < 0 {
		config.ReplayLimit = 0
	}
	return &Handler{
		registry: registry,
		sessions: sessions,
		history:  history,
		config:   config,
		logger:   logging.OrNop(logger),
	}
}

// HandleWebSocket serves GET /ws?session_id=&role=&user_id=&name=&lang=
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sessionID := query.Get("session_id")
	role := query.Get("role")
	userID := query.Get("user_id")
	lang := types.NormalizeLanguage(query.Get("lang"))

	if sessionID == "" || role == "" || userID == "" {
		http.Error(w, "Missing required query parameters: session_id, role, user_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}
	if lang != "" && !types.IsValidLanguage(lang) {
		http.Error(w, "Invalid lang", http.StatusBadRequest)
		return
	}

	session, err := h.sessions.ValidateChannel(r.Context(), sessionID, role)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrValidation):
			http.Error(w, "Invalid role: must be 'teacher' or 'student'", http.StatusBadRequest)
		case errors.Is(err, types.ErrNotFound), errors.Is(err, types.ErrInvalidState):
			http.Error(w, "Session not found or ended", http.StatusNotFound)
		default:
			h.logger.Error("session validation failed", err, map[string]interface{}{"session_id": sessionID})
			http.Error(w, "Session validation failed", http.StatusInternalServerError)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", err)
		return
	}

	wsConn := NewBufferedConnection(conn, h.config.WriteTimeout, h.config.QueueSize)
	_ = wsConn.SetCredentials(userID, role, sessionID)

	info := ChannelInfo{Role: role, UserID: userID, Name: query.Get("name"), PreferredLang: lang}
	if _, err := h.registry.OpenChannel(session, wsConn, info); err != nil {
		h.logger.Warn("failed to open channel", err, map[string]interface{}{"session_id": sessionID, "user_id": userID})
		_ = wsConn.Close()
		return
	}

	// TECHNICAL DISCOVERY: The session may have ended between validation and
	// registration; its close sweep has then already run without this channel
	if _, err := h.sessions.ValidateChannel(r.Context(), sessionID, role); err != nil {
		h.registry.removeChannel(sessionID, wsConn)
		_ = wsConn.WriteJSON(&types.SignalEvent{Type: types.EventSessionEnded})
		_ = wsConn.Shutdown()
		return
	}

	// ARCHITECTURAL DISCOVERY: Asynchronous history replay prevents blocking
	// connection setup; the writer goroutine keeps it behind the connected event
	go h.sendSessionHistory(wsConn)

	go h.handleConnection(wsConn)
}

// sendSessionHistory replays the most recent transcripts with their current
// translations, then signals history_complete
func (h *Handler) sendSessionHistory(conn *Connection) {
	sessionID := conn.GetSessionID()

	if h.config.ReplayLimit > 0 && h.history != nil {
		ctx, cancel := context.WithTimeout(conn.ctx, 10*time.Second)
		views, err := h.history.Recent(ctx, sessionID, h.config.ReplayLimit)
		cancel()
		if err != nil {
			h.logger.Warn("failed to load session history", err, map[string]interface{}{"session_id": sessionID})
		}
		for _, view := range views {
			if err := conn.WriteJSON(types.NewTranscriptEvent(view)); err != nil {
				return
			}
		}
	}

	if err := conn.WriteJSON(&types.SignalEvent{Type: types.EventHistoryComplete}); err != nil {
		h.logger.Debug("failed to send history_complete", err)
	}
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
func (h *Handler) handleConnection(conn *Connection) {
	defer h.registry.CloseChannel(conn.GetSessionID(), conn)

	readTimeout := h.config.ReadTimeout
	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.config.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
					_ = conn.Close()
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	// Channels are push-only; inbound frames just keep the read deadline honest
	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", err, map[string]interface{}{"user_id": conn.GetUserID()})
			}
			return
		}
		if messageType == websocket.TextMessage {
			h.logger.Debug("ignoring inbound frame", map[string]interface{}{
				"user_id": conn.GetUserID(),
				"bytes":   len(data),
			})
		}
	}
}
