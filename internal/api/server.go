package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"classcast/internal/logging"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// TranscriptService ingests and pages transcripts
type TranscriptService interface {
	Ingest(ctx context.Context, actor types.Actor, sessionID, text, language string, confidence *float64) (*types.TranscriptSegment, error)
	ListTranscripts(ctx context.Context, sessionID string, page types.TranscriptPage) ([]*types.TranscriptView, error)
	LastSequence(ctx context.Context, sessionID string) (int64, error)
}

// Presence exposes the live channel state of sessions
// ARCHITECTURAL DISCOVERY: Interface avoids tight coupling to websocket.Registry
type Presence interface {
	Participants(sessionID string) []types.Participant
	ChannelCount(sessionID string) int
	GetStats() map[string]int
}

// HealthChecker is satisfied by every Store backend
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Options carries the server's collaborators
type Options struct {
	Address        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	DisableReqLogs bool

	Sessions    interfaces.SessionManager
	Transcripts TranscriptService
	Presence    Presence
	Database    HealthChecker

	// Optional HTTP handlers mounted as-is
	WebSocket http.Handler
	Metrics   http.Handler

	Logger logging.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	opts    *Options
	app     *echo.Echo
	logger  logging.Logger
	started time.Time
}

// NewServer builds the echo application and registers every route
func NewServer(opts *Options) *Server {
	s := &Server{
		opts:    opts,
		app:     echo.New(),
		logger:  logging.OrNop(opts.Logger),
		started: time.Now(),
	}
	s.setup()
	return s
}

func (s *Server) setup() {
	s.app.HideBanner = true
	s.app.HidePort = true
	s.app.Server.ReadTimeout = s.opts.ReadTimeout
	s.app.Server.WriteTimeout = s.opts.WriteTimeout

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	s.app.Use(middleware.Recover())

	// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
	// Allows all origins; the gateway in front of the service restricts them
	s.app.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, HeaderUserID, HeaderUserRole, HeaderUserName},
		MaxAge:       86400,
	}))

	s.app.Validator = newRequestValidator()
	s.app.HTTPErrorHandler = s.httpErrorHandler

	s.app.GET("/health", s.healthCheck)
	if s.opts.Metrics != nil {
		s.app.GET("/metrics", echo.WrapHandler(s.opts.Metrics))
	}
	if s.opts.WebSocket != nil {
		// identity for push channels travels in the query string
		s.app.GET("/ws", echo.WrapHandler(s.opts.WebSocket))
	}

	g := s.app.Group("/api", identityMiddleware())
	registerSessionAPI(g, s.opts.Sessions, s.opts.Transcripts, s.opts.Presence)
	registerTranscriptAPI(g, s.opts.Transcripts)
}

// Start serves until Stop is called; http.ErrServerClosed is not an error
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{"address": s.opts.Address})
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests until ctx expires
func (s *Server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for tests and embedding
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	Sessions    map[string]interface{} `json:"sessions,omitempty"`
	Uptime      string                 `json:"uptime"`
}

type statsProvider interface {
	GetStats() map[string]interface{}
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Database:  "healthy",
		Uptime:    time.Since(s.started).Round(time.Second).String(),
	}
	if s.opts.Database != nil {
		if err := s.opts.Database.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "error: " + err.Error()
		}
	}
	if s.opts.Presence != nil {
		resp.Connections = s.opts.Presence.GetStats()
	}
	if sp, ok := s.opts.Sessions.(statsProvider); ok {
		resp.Sessions = sp.GetStats()
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, resp)
}
