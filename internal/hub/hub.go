package hub

import (
	"context"
	"sync"
	"time"

	"classcast/internal/logging"
)

// ChannelSweeper is the part of the channel registry the hub drives
type ChannelSweeper interface {
	// Heartbeat pings every open channel, pruning dead ones
	Heartbeat() int
	// CloseSession notifies and closes every channel of a session
	CloseSession(sessionID, reason string) int
}

// DefaultPingInterval is the heartbeat period when none is configured
const DefaultPingInterval = 30 * time.Second

// endRequest asks the hub to close every channel of an ended session
type endRequest struct {
	SessionID string
	Reason    string
	Queued    time.Time
}

// Hub runs the periodic heartbeat and closes the channels of ended sessions
// ARCHITECTURAL DISCOVERY: Single hub goroutine owns all timer-driven and
// lifecycle-driven channel sweeps so they never interleave
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered queue keeps the lifecycle manager from
	// waiting on socket writes when a session ends
	endChannel chan endRequest

	registry     ChannelSweeper
	pingInterval time.Duration
	logger       logging.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running  bool
	shutdown chan struct{}
	done     chan struct{}
	mu       sync.RWMutex
}

// NewHub creates a new hub
func NewHub(registry ChannelSweeper, pingInterval time.Duration, logger logging.Logger) *Hub {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	return &Hub{
		endChannel:   make(chan endRequest, 100),
		registry:     registry,
		pingInterval: pingInterval,
		logger:       logging.OrNop(logger),
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.logger.Info("starting hub", map[string]interface{}{"ping_interval": h.pingInterval.String()})

	go h.run(ctx, h.shutdown, h.done)

	return nil
}

// Stop shuts down the hub and waits for the processing loop to exit.
// Queued end-session requests are still honoured.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	h.logger.Info("stopping hub")
	<-done
	return nil
}

// IsRunning reports whether the processing loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// EndSession queues the closing of every channel of an ended session
func (h *Hub) EndSession(sessionID, reason string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send with error handling prevents hub lockup
	select {
	case h.endChannel <- endRequest{SessionID: sessionID, Reason: reason, Queued: time.Now()}:
		return nil
	default:
		return ErrEndChannelFull
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)
	defer h.logger.Info("hub processing stopped")

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-h.endChannel:
			h.handleEnd(req)

		case <-ticker.C:
			delivered := h.registry.Heartbeat()
			h.logger.Debug("heartbeat sent", map[string]interface{}{"channels": delivered})

		case <-shutdown:
			h.drain()
			return

		case <-ctx.Done():
			h.drain()
			return
		}
	}
}

// drain closes the sessions still queued when the loop exits
func (h *Hub) drain() {
	for {
		select {
		case req := <-h.endChannel:
			h.handleEnd(req)
		default:
			return
		}
	}
}

func (h *Hub) handleEnd(req endRequest) {
	closed := h.registry.CloseSession(req.SessionID, req.Reason)
	h.logger.Info("session channels swept", map[string]interface{}{
		"session_id": req.SessionID,
		"channels":   closed,
		"waited":     time.Since(req.Queued).String(),
	})
}
