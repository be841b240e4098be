package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"classcast/internal/api"
	"classcast/internal/config"
	"classcast/internal/database"
	"classcast/internal/database/memstore"
	"classcast/internal/database/pgstore"
	"classcast/internal/hub"
	"classcast/internal/logging"
	"classcast/internal/metrics"
	"classcast/internal/session"
	"classcast/internal/transcript"
	"classcast/internal/translation"
	"classcast/internal/websocket"
	pkgdatabase "classcast/pkg/database"
	"classcast/pkg/interfaces"
)

// endReason is sent with session_ended when a teacher ends the session
const endReason = "session ended by teacher"

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config    *config.Config
	logger    logging.Logger
	rollbar   *logging.RollbarLogger
	store     interfaces.Store
	metrics   *metrics.Metrics
	sessions  *session.Manager
	registry  *websocket.Registry
	worker    *translation.Worker
	sequencer *transcript.Sequencer
	hub       *hub.Hub
	apiServer *api.Server
	addr      string
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Session → Registry → Translation → Sequencer → Hub → API
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	logger, rollbarLogger, err := NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	m := metrics.New()

	// STEP 1: Open the store and bring its schema up to date (foundation layer)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
	defer cancel()
	store, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	// STEP 2: Initialize session manager and warm its cache
	sessions := session.NewManager(store, logger, m)
	if err := sessions.LoadActiveSessions(ctx); err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "failed to load active sessions")
	}

	// STEP 3: Initialize WebSocket registry for channel tracking
	registry := websocket.NewRegistry(logger, m)

	// STEP 4: Initialize the translation fan-out
	translator, err := translation.NewTranslator(cfg.Translation.Provider, cfg.Translation.Endpoint, cfg.Translation.APIKey, cfg.Translation.Timeout)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "failed to initialize translator")
	}
	worker := translation.NewWorker(translator, store, registry, translation.Config{
		Concurrency: cfg.Translation.Concurrency,
		Timeout:     cfg.Translation.Timeout,
	}, logger, m)

	// STEP 5: Initialize the transcript sequencer
	sequencer := transcript.NewSequencer(sessions, store, registry, worker, logger, m)

	// STEP 6: Initialize hub for heartbeats and channel teardown
	channelHub := hub.NewHub(registry, cfg.WebSocket.PingInterval, logger)

	// ARCHITECTURAL DISCOVERY: Ending a session stops its fan-out before the
	// channels close so no translation_update can follow session_ended
	sessions.OnEnd(func(sessionID string) {
		worker.CancelSession(sessionID)
		if err := channelHub.EndSession(sessionID, endReason); err != nil {
			logger.Warn("hub unavailable, closing channels inline", err, map[string]interface{}{"session_id": sessionID})
			registry.CloseSession(sessionID, endReason)
		}
	})

	// STEP 7: Initialize WebSocket handler
	wsHandler := websocket.NewHandler(registry, sessions, sequencer, websocket.HandlerConfig{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		QueueSize:    cfg.WebSocket.BufferSize,
		ReplayLimit:  cfg.WebSocket.ReplayLimit,
	}, logger)

	// STEP 8: Initialize API server with both API and WebSocket endpoints
	addr := cfg.HTTP.Address()
	apiServer := api.NewServer(&api.Options{
		Address:        addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		DisableReqLogs: cfg.Log.Level != "debug",
		Sessions:       sessions,
		Transcripts:    sequencer,
		Presence:       registry,
		Database:       store,
		WebSocket:      http.HandlerFunc(wsHandler.HandleWebSocket),
		Metrics:        m.Handler(),
		Logger:         logger,
	})

	return &Application{
		config:    cfg,
		logger:    logger,
		rollbar:   rollbarLogger,
		store:     store,
		metrics:   m,
		sessions:  sessions,
		registry:  registry,
		worker:    worker,
		sequencer: sequencer,
		hub:       channelHub,
		apiServer: apiServer,
		addr:      addr,
	}, nil
}

// NewLogger builds the StdLogger for the configured level and wraps it with
// Rollbar reporting when a token is set
func NewLogger(cfg *config.LogConfig) (logging.Logger, *logging.RollbarLogger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, errors.Wrap(err, "invalid log level")
	}
	std := logging.NewStdLogger(os.Stdout, level)
	if cfg.RollbarToken == "" {
		return std, nil, nil
	}

	host, _ := os.Hostname()
	rl := logging.NewRollbarLogger(std, logging.RollbarConfig{
		Token:       cfg.RollbarToken,
		Environment: cfg.Environment,
		ServerHost:  host,
	})
	return rl, rl, nil
}

// OpenStore opens the configured Store backend and applies its migrations
func OpenStore(ctx context.Context, cfg *config.DatabaseConfig, logger logging.Logger) (interfaces.Store, error) {
	logger = logging.OrNop(logger)
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), nil

	case config.DriverPostgres:
		store, err := pgstore.Connect(ctx, cfg.DSN, cfg.ConnectAttempts, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to postgres")
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, errors.Wrap(err, "failed to migrate postgres schema")
		}
		return store, nil

	default:
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.Wrap(err, "failed to create database directory")
			}
		}
		dbConfig := &pkgdatabase.Config{
			DatabasePath:    cfg.Path,
			MaxConnections:  cfg.MaxConnections,
			ConnMaxLifetime: cfg.Timeout,
			ConnMaxIdleTime: cfg.Timeout / 3,
		}
		manager, err := database.NewManager(dbConfig, logger)
		if err != nil {
			return nil, errors.Wrap(err, "failed to initialize database manager")
		}

		// STEP 1.5: Apply database migrations to ensure schema is up to date
		migrations := pkgdatabase.NewMigrationManager(manager.GetDB(), dbConfig.MigrationsPath)
		if err := migrations.ApplyMigrations(); err != nil {
			_ = manager.Close()
			return nil, errors.Wrap(err, "failed to apply database migrations")
		}
		if err := migrations.ValidateSchema(); err != nil {
			_ = manager.Close()
			return nil, errors.Wrap(err, "schema validation failed")
		}
		logger.Info("database migrations applied", map[string]interface{}{"path": cfg.Path})
		return manager, nil
	}
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle heartbeats, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting classcast", map[string]interface{}{"address": app.addr})

	// STEP 1: Start hub (heartbeats and channel teardown)
	if err := app.hub.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start hub")
	}

	// STEP 2: Start HTTP server (accepts connections)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.apiServer.Start(); err != nil {
			serverErrCh <- errors.Wrap(err, "HTTP server error")
		}
	}()

	// Verify server is ready before returning
	select {
	case err := <-serverErrCh:
		_ = app.hub.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("classcast started")
		return nil
	case <-ctx.Done():
		_ = app.hub.Stop()
		return ctx.Err()
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Hub → Translation → Store
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down classcast")

	// STEP 1: Stop accepting new requests
	if err := app.apiServer.Stop(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", err)
	}

	// STEP 2: Stop heartbeats and flush queued channel teardown
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("hub shutdown error", err)
	}

	// STEP 3: Cancel in-flight translations
	app.worker.Stop()

	// STEP 4: Close database connections
	if err := app.store.Close(); err != nil {
		app.logger.Warn("database shutdown error", err)
	}

	app.logger.Info("classcast shutdown complete")
	if app.rollbar != nil {
		app.rollbar.Flush()
	}
	return nil
}

// Handler exposes the HTTP surface without a listener
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// GetAddr returns the server address for external connections
func (app *Application) GetAddr() string {
	return app.addr
}
