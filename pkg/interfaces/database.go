package interfaces

import (
	"context"

	"classcast/pkg/types"
)

// Store handles all persistence operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// so SQLite and Postgres backends are interchangeable behind the services
type Store interface {
	// CreateSession persists a new session.
	// Returns *types.ConflictError when the teacher already has an ACTIVE session.
	CreateSession(ctx context.Context, session *types.ClassroomSession) error

	// GetSession retrieves a session by ID; types.ErrNotFound when absent
	GetSession(ctx context.Context, sessionID string) (*types.ClassroomSession, error)

	// UpdateSession persists status and end time changes
	UpdateSession(ctx context.Context, session *types.ClassroomSession) error

	// ListSessions returns sessions matching the filter, newest first
	ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.ClassroomSession, error)

	// ListActiveSessions returns every non-ended session for cache warm-up
	ListActiveSessions(ctx context.Context) ([]*types.ClassroomSession, error)

	// AppendTranscript assigns segment.Sequence = last sequence + 1 and persists it
	// in one atomic step. No two segments of a session may share a sequence.
	AppendTranscript(ctx context.Context, segment *types.TranscriptSegment) error

	// LastSequence returns the highest sequence of a session, 0 when empty
	LastSequence(ctx context.Context, sessionID string) (int64, error)

	// ListTranscripts returns a page of transcripts ordered by sequence ascending
	ListTranscripts(ctx context.Context, sessionID string, page types.TranscriptPage) ([]*types.TranscriptView, error)

	// RecentTranscripts returns the last limit transcripts ordered by sequence ascending
	RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]*types.TranscriptView, error)

	// SaveTranslation upserts a translation; a duplicate (transcript, language) overwrites
	SaveTranslation(ctx context.Context, record *types.TranslationRecord) error

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
