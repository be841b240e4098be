package interfaces

// Connection represents one open push channel
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// ensures the registry can be exercised with in-memory channels in tests
type Connection interface {
	// WriteJSON queues an event for the client (thread-safe).
	// An error means the channel is dead and must be pruned.
	WriteJSON(v interface{}) error

	// Close closes the connection and cleans up resources; safe to call twice
	Close() error

	// Shutdown closes the connection after every queued event has been written
	Shutdown() error

	// GetUserID returns the connected user's ID
	GetUserID() string

	// GetRole returns the user's role ("teacher", "student" or "admin")
	GetRole() string

	// GetSessionID returns the session ID this connection belongs to
	GetSessionID() string

	// IsAuthenticated returns true once credentials are set
	IsAuthenticated() bool

	// SetCredentials sets identity after the session has been validated
	SetCredentials(userID, role, sessionID string) error
}
