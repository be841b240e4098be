package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"classcast/pkg/types"
)

// DefaultReadTimeout tolerates two missed server pings
const DefaultReadTimeout = 75 * time.Second

// Stream is one open push channel
type Stream interface {
	// ReadEvent blocks until the next event arrives or the channel fails
	ReadEvent() (*types.Envelope, error)
	Close() error
}

// Dialer opens push channels
type Dialer interface {
	Dial(ctx context.Context, url string) (Stream, error)
}

// RejectedError is returned when the server refuses the channel before the upgrade
type RejectedError struct {
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("channel rejected with status %d", e.StatusCode)
}

// Is maps the rejection onto the shared error taxonomy
func (e *RejectedError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == types.ErrNotFound
	case http.StatusBadRequest:
		return target == types.ErrValidation
	}
	return false
}

// WSDialer dials with gorilla/websocket
type WSDialer struct {
	Dialer      *websocket.Dialer
	ReadTimeout time.Duration
}

// NewWSDialer returns a dialer with production timeouts
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		ReadTimeout: DefaultReadTimeout,
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Stream, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, &RejectedError{StatusCode: resp.StatusCode}
		}
		return nil, errors.Wrap(err, "failed to connect")
	}
	readTimeout := d.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &wsStream{conn: conn, readTimeout: readTimeout}, nil
}

type wsStream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
}

func (s *wsStream) ReadEvent() (*types.Envelope, error) {
	// ping events from the server keep arriving well inside the deadline
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, err
	}
	var env types.Envelope
	if err := s.conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
