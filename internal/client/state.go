package client

import (
	"fmt"
	"time"
)

// State is the connection state shown to the user
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Reconnect policy
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// TransitionError reports a state change that the state machine does not allow
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// allowed lists the states each state may move to
var allowed = map[State][]State{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateReconnecting, StateDisconnected, StateError},
	StateConnected:    {StateReconnecting, StateDisconnected},
	StateReconnecting: {StateConnected, StateReconnecting, StateDisconnected, StateError},
	StateError:        {StateConnecting, StateDisconnected},
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// backoff returns the delay before reconnect attempt n (1-based): base * 2^(n-1)
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << uint(attempt-1)
}

// Named transitions

func (c *Controller) beginConnect() error    { return c.setState(StateConnecting) }
func (c *Controller) connectionEstablished() { _ = c.setState(StateConnected) }
func (c *Controller) connectionLost() error  { return c.setState(StateReconnecting) }
func (c *Controller) retriesExhausted()      { _ = c.setState(StateError) }
func (c *Controller) disconnected()          { _ = c.setState(StateDisconnected) }

func (c *Controller) setState(to State) error {
	c.mu.Lock()
	from := c.state
	if !canTransition(from, to) {
		c.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}
	c.state = to
	hook := c.onStateChange
	c.mu.Unlock()

	c.logger.Debug("client state changed", map[string]interface{}{
		"session_id": c.cfg.SessionID,
		"from":       string(from),
		"to":         string(to),
	})
	if hook != nil && from != to {
		hook(from, to)
	}
	return nil
}

// State returns the current connection state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
