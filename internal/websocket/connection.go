package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classcast/pkg/interfaces"
)

// DefaultWriteTimeout bounds one socket write
const DefaultWriteTimeout = 5 * time.Second

// writeBuffer is the per-channel queue depth
const writeBuffer = 100

var _ interfaces.Connection = (*Connection)(nil)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn          *websocket.Conn
	writeCh       chan []byte // nil entry asks the writer to flush and close
	writeTimeout  time.Duration
	userID        string
	role          string
	sessionID     string
	authenticated bool
	ctx           context.Context
	cancel        context.CancelFunc
	closeOnce     sync.Once
	shutdownOnce  sync.Once
	mu            sync.RWMutex // Protect auth fields
}

// NewConnection creates a new WebSocket connection wrapper
func NewConnection(conn *websocket.Conn, writeTimeout time.Duration) *Connection {
	return NewBufferedConnection(conn, writeTimeout, writeBuffer)
}

// NewBufferedConnection creates a connection wrapper with a send queue of the given depth
func NewBufferedConnection(conn *websocket.Conn, writeTimeout time.Duration, buffer int) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	if buffer <= 0 {
		buffer = writeBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// The write channel is never closed; the context marks the connection dead so
// WriteJSON can never send on a closed channel.
func (c *Connection) writeLoop() {
	defer func() {
		_ = c.Close()
	}()

	for {
		select {
		case data := <-c.writeCh:
			if data == nil {
				deadline := time.Now().Add(c.writeTimeout)
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"), deadline)
				return
			}

			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine without blocking.
// A full queue means the client fell too far behind and the channel is dead.
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		return ErrSendQueueFull
	}
}

// Shutdown flushes the queued events, sends a close frame and closes the socket
func (c *Connection) Shutdown() error {
	c.shutdownOnce.Do(func() {
		select {
		case c.writeCh <- nil:
		case <-c.ctx.Done():
		default:
			// Queue full: the client is too slow to deserve a graceful close
			_ = c.Close()
		}
	})
	return nil
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is dead
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Authentication state management
func (c *Connection) SetCredentials(userID, role, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = userID
	c.role = role
	c.sessionID = sessionID
	c.authenticated = true

	return nil
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) GetUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) GetRole() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
