package interfaces

import (
	"context"

	"classcast/pkg/types"
)

// SessionManager handles session lifecycle operations
// ARCHITECTURAL DISCOVERY: Context-first design pattern ensures proper
// cancellation and timeout handling across all session operations
type SessionManager interface {
	// CreateSession creates a new ACTIVE session owned by the actor
	CreateSession(ctx context.Context, actor types.Actor, params types.SessionParams) (*types.ClassroomSession, error)

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, sessionID string) (*types.ClassroomSession, error)

	// Transition applies pause, resume or end
	Transition(ctx context.Context, actor types.Actor, sessionID string, action types.Action) (*types.ClassroomSession, error)

	// ListSessions returns sessions visible to the actor
	ListSessions(ctx context.Context, actor types.Actor, filter types.SessionFilter) ([]*types.ClassroomSession, error)

	// ValidateChannel checks a push channel may be opened on the session
	ValidateChannel(ctx context.Context, sessionID, role string) (*types.ClassroomSession, error)
}
