// Package memstore is an in-process interfaces.Store for development runs and tests.
// Data lives only as long as the process.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// Store keeps sessions, transcripts and translations in maps guarded by one RWMutex
type Store struct {
	mu           sync.RWMutex
	sessions     map[string]*types.ClassroomSession
	transcripts  map[string][]*types.TranscriptSegment // by session, ascending sequence
	byID         map[string]*types.TranscriptSegment
	translations map[string]map[string]*types.TranslationRecord // transcript -> language
	closed       bool
}

var _ interfaces.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		sessions:     make(map[string]*types.ClassroomSession),
		transcripts:  make(map[string][]*types.TranscriptSegment),
		byID:         make(map[string]*types.TranscriptSegment),
		translations: make(map[string]map[string]*types.TranslationRecord),
	}
}

var errClosed = errors.New("store is closed")

func (s *Store) activeOf(teacherID, exceptID string) string {
	for id, sess := range s.sessions {
		if id != exceptID && sess.TeacherID == teacherID && sess.Status == types.StatusActive {
			return id
		}
	}
	return ""
}

func (s *Store) CreateSession(ctx context.Context, session *types.ClassroomSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.sessions[session.ID]; ok {
		return errors.Errorf("session %s already exists", session.ID)
	}
	if session.Status == types.StatusActive {
		if existing := s.activeOf(session.TeacherID, ""); existing != "" {
			return &types.ConflictError{ExistingSessionID: existing}
		}
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.ClassroomSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, errors.Wrapf(types.ErrNotFound, "session %s", sessionID)
	}
	return cloneSession(session), nil
}

func (s *Store) UpdateSession(ctx context.Context, session *types.ClassroomSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	current, ok := s.sessions[session.ID]
	if !ok {
		return errors.Wrapf(types.ErrNotFound, "session %s", session.ID)
	}
	if session.Status == types.StatusActive {
		if existing := s.activeOf(current.TeacherID, session.ID); existing != "" {
			return &types.ConflictError{ExistingSessionID: existing}
		}
	}
	current.Status = session.Status
	current.EndTime = session.EndTime
	return nil
}

func (s *Store) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.ClassroomSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*types.ClassroomSession{}
	for _, sess := range s.sessions {
		if filter.TeacherID != "" && sess.TeacherID != filter.TeacherID {
			continue
		}
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		if filter.ClassID != "" && sess.ClassID != filter.ClassID {
			continue
		}
		out = append(out, cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]*types.ClassroomSession, error) {
	active, err := s.ListSessions(ctx, types.SessionFilter{Status: types.StatusActive})
	if err != nil {
		return nil, err
	}
	paused, err := s.ListSessions(ctx, types.SessionFilter{Status: types.StatusPaused})
	if err != nil {
		return nil, err
	}
	out := append(active, paused...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// AppendTranscript assigns len+1 under the write lock
func (s *Store) AppendTranscript(ctx context.Context, segment *types.TranscriptSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.sessions[segment.SessionID]; !ok {
		return errors.Wrapf(types.ErrNotFound, "session %s", segment.SessionID)
	}
	segment.Sequence = int64(len(s.transcripts[segment.SessionID])) + 1
	row := *segment
	s.transcripts[segment.SessionID] = append(s.transcripts[segment.SessionID], &row)
	s.byID[row.ID] = &row
	return nil
}

func (s *Store) LastSequence(ctx context.Context, sessionID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.transcripts[sessionID])), nil
}

func (s *Store) ListTranscripts(ctx context.Context, sessionID string, page types.TranscriptPage) ([]*types.TranscriptView, error) {
	page = page.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.transcripts[sessionID]
	start := int(page.AfterSequence)
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return s.views(all[start:end]), nil
}

func (s *Store) RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]*types.TranscriptView, error) {
	if limit <= 0 {
		return []*types.TranscriptView{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.transcripts[sessionID]
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	return s.views(all[start:]), nil
}

func (s *Store) views(segments []*types.TranscriptSegment) []*types.TranscriptView {
	out := make([]*types.TranscriptView, 0, len(segments))
	for _, seg := range segments {
		records := make([]*types.TranslationRecord, 0, len(s.translations[seg.ID]))
		for _, rec := range s.translations[seg.ID] {
			records = append(records, rec)
		}
		out = append(out, types.NewTranscriptView(seg, records))
	}
	return out
}

func (s *Store) SaveTranslation(ctx context.Context, record *types.TranslationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	if _, ok := s.byID[record.TranscriptID]; !ok {
		return errors.Wrapf(types.ErrNotFound, "transcript %s", record.TranscriptID)
	}
	if s.translations[record.TranscriptID] == nil {
		s.translations[record.TranscriptID] = make(map[string]*types.TranslationRecord)
	}
	rec := *record
	s.translations[record.TranscriptID][record.Language] = &rec
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func cloneSession(s *types.ClassroomSession) *types.ClassroomSession {
	c := *s
	c.TargetLanguages = append(types.LanguageList(nil), s.TargetLanguages...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}
