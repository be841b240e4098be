package transcript

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"classcast/internal/logging"
	"classcast/internal/metrics"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// SessionLocker serialises work on one session and hands over its current state
type SessionLocker interface {
	WithSessionLock(ctx context.Context, sessionID string, fn func(*types.ClassroomSession) error) error
	GetSession(ctx context.Context, sessionID string) (*types.ClassroomSession, error)
}

// FanOut starts asynchronous translation of a freshly sequenced segment
type FanOut interface {
	Submit(session *types.ClassroomSession, segment *types.TranscriptSegment)
}

// Sequencer accepts transcript segments from the teacher, numbers them and
// pushes them out
type Sequencer struct {
	sessions    SessionLocker
	store       interfaces.Store
	broadcaster interfaces.Broadcaster
	fanout      FanOut
	logger      logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewSequencer wires the sequencer to its collaborators
func NewSequencer(sessions SessionLocker, store interfaces.Store, broadcaster interfaces.Broadcaster, fanout FanOut, logger logging.Logger, m *metrics.Metrics) *Sequencer {
	return &Sequencer{
		sessions:    sessions,
		store:       store,
		broadcaster: broadcaster,
		fanout:      fanout,
		logger:      logging.OrNop(logger),
		metrics:     m,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Ingest validates and sequences one segment. Ownership is checked before the
// input, so callers who may not submit learn nothing about what they sent.
// The session lock is held from the status check until the original has been
// handed to the broadcaster, so sequences reach clients in order and an
// ingest never interleaves with a status change.
func (s *Sequencer) Ingest(ctx context.Context, actor types.Actor, sessionID, text, language string, confidence *float64) (*types.TranscriptSegment, error) {
	language = types.NormalizeLanguage(language)

	var segment *types.TranscriptSegment
	err := s.sessions.WithSessionLock(ctx, sessionID, func(session *types.ClassroomSession) error {
		if !actor.Owns(session) {
			return errors.Wrap(types.ErrForbidden, "only the session's teacher can submit transcripts")
		}
		if err := types.ValidateTranscriptInput(text, language, confidence); err != nil {
			return err
		}
		if session.Status != types.StatusActive {
			return errors.Wrapf(types.ErrInvalidState, "session is %s", session.Status)
		}

		seg := &types.TranscriptSegment{
			ID:           uuid.NewString(),
			SessionID:    sessionID,
			OriginalText: strings.TrimSpace(text),
			Language:     language,
			Confidence:   confidence,
			Timestamp:    s.now(),
		}
		if err := s.store.AppendTranscript(ctx, seg); err != nil {
			return errors.Wrap(err, "failed to persist transcript")
		}

		delivered := s.broadcaster.Broadcast(sessionID, types.NewTranscriptEvent(types.NewTranscriptView(seg, nil)))
		s.fanout.Submit(session, seg)

		s.logger.Debug("transcript sequenced", map[string]interface{}{
			"session_id": sessionID,
			"sequence":   seg.Sequence,
			"delivered":  delivered,
		})
		segment = seg
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TranscriptIngested()
	return segment, nil
}

// LastSequence returns the newest sequence assigned in a session, 0 before the first ingest
func (s *Sequencer) LastSequence(ctx context.Context, sessionID string) (int64, error) {
	last, err := s.store.LastSequence(ctx, sessionID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read last sequence")
	}
	return last, nil
}

// ListTranscripts pages through a session's transcripts in sequence order
func (s *Sequencer) ListTranscripts(ctx context.Context, sessionID string, page types.TranscriptPage) ([]*types.TranscriptView, error) {
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	views, err := s.store.ListTranscripts(ctx, sessionID, page.Normalize())
	if err != nil {
		return nil, errors.Wrap(err, "failed to list transcripts")
	}
	return views, nil
}

// Recent returns the newest limit transcripts in sequence order, for channel catch-up
func (s *Sequencer) Recent(ctx context.Context, sessionID string, limit int) ([]*types.TranscriptView, error) {
	views, err := s.store.RecentTranscripts(ctx, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load recent transcripts")
	}
	return views, nil
}
