package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"classcast/internal/logging"
	"classcast/internal/metrics"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// EndHook is called once a session has been persisted as ENDED
type EndHook func(sessionID string)

// Manager implements the session lifecycle.
// Status transitions and transcript ingestion for one session are serialised by
// that session's lock; different sessions never contend.
type Manager struct {
	store   interfaces.Store
	logger  logging.Logger
	metrics *metrics.Metrics

	mu       sync.RWMutex
	sessions map[string]*types.ClassroomSession // non-ENDED sessions by ID
	locks    map[string]*sync.Mutex

	createMu sync.Mutex
	hooksMu  sync.RWMutex
	onEnd    []EndHook

	now func() time.Time
}

var _ interfaces.SessionManager = (*Manager)(nil)

// NewManager creates a new session manager
func NewManager(store interfaces.Store, logger logging.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:    store,
		logger:   logging.OrNop(logger),
		metrics:  m,
		sessions: make(map[string]*types.ClassroomSession),
		locks:    make(map[string]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// OnEnd registers a hook run after a session ends
func (m *Manager) OnEnd(hook EndHook) {
	m.hooksMu.Lock()
	m.onEnd = append(m.onEnd, hook)
	m.hooksMu.Unlock()
}

// LoadActiveSessions warms the cache with every non-ENDED session in storage
func (m *Manager) LoadActiveSessions(ctx context.Context) error {
	loaded, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load sessions")
	}

	m.mu.Lock()
	for _, session := range loaded {
		m.sessions[session.ID] = session
	}
	m.mu.Unlock()

	m.refreshActiveGauge()
	m.logger.Info("loaded sessions", map[string]interface{}{"count": len(loaded)})
	return nil
}

// CreateSession opens a new ACTIVE session for the acting teacher
func (m *Manager) CreateSession(ctx context.Context, actor types.Actor, params types.SessionParams) (*types.ClassroomSession, error) {
	if !actor.CanTeach() {
		return nil, errors.Wrap(types.ErrForbidden, "only teachers can create sessions")
	}

	session := &types.ClassroomSession{
		ID:             uuid.NewString(),
		TeacherID:      actor.ID,
		TeacherName:    actor.Name,
		ClassID:        params.ClassID,
		SubjectID:      params.SubjectID,
		SourceLanguage: types.NormalizeLanguage(params.SourceLanguage),
		Status:         types.StatusActive,
		StartTime:      m.now(),
	}
	targets, err := types.NormalizeLanguages(params.TargetLanguages)
	if err != nil {
		return nil, err
	}
	session.TargetLanguages = targets
	if err := session.Validate(); err != nil {
		return nil, err
	}

	// One creator at a time keeps the ACTIVE check and the insert together
	m.createMu.Lock()
	defer m.createMu.Unlock()

	if existing := m.activeSessionOf(actor.ID); existing != "" {
		return nil, &types.ConflictError{ExistingSessionID: existing}
	}

	if err := m.store.CreateSession(ctx, session); err != nil {
		if errors.Is(err, types.ErrConflict) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to create session")
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.refreshActiveGauge()
	m.metrics.SessionTransition("create")
	m.logger.Info("session created", actor, map[string]interface{}{
		"session_id": session.ID,
		"class_id":   session.ClassID,
		"targets":    len(session.TargetLanguages),
	})
	return copySession(session), nil
}

// activeSessionOf returns the cached ACTIVE session of a teacher
func (m *Manager) activeSessionOf(teacherID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, s := range m.sessions {
		if s.TeacherID == teacherID && s.Status == types.StatusActive {
			return id
		}
	}
	return ""
}

// GetSession returns a session from the cache or storage
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.ClassroomSession, error) {
	m.mu.RLock()
	session, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if ok {
		return copySession(session), nil
	}
	return m.store.GetSession(ctx, sessionID)
}

// ListSessions lists sessions visible to the actor. Teachers only see their
// own; elevated actors may filter by any teacher.
func (m *Manager) ListSessions(ctx context.Context, actor types.Actor, filter types.SessionFilter) ([]*types.ClassroomSession, error) {
	switch {
	case actor.IsElevated():
	case actor.Role == types.RoleTeacher:
		filter.TeacherID = actor.ID
	default:
		return nil, errors.Wrap(types.ErrForbidden, "only teachers can list sessions")
	}
	return m.store.ListSessions(ctx, filter)
}

// Transition applies pause, resume or end to a session
func (m *Manager) Transition(ctx context.Context, actor types.Actor, sessionID string, action types.Action) (*types.ClassroomSession, error) {
	if !types.IsValidAction(action) {
		return nil, types.ErrInvalidAction
	}

	var updated *types.ClassroomSession
	err := m.WithSessionLock(ctx, sessionID, func(session *types.ClassroomSession) error {
		if !actor.Owns(session) {
			return errors.Wrap(types.ErrForbidden, "not the owner of this session")
		}

		next, err := nextStatus(session.Status, action)
		if err != nil {
			return err
		}

		candidate := copySession(session)
		candidate.Status = next
		if next == types.StatusEnded {
			end := m.now()
			candidate.EndTime = &end
		}

		if err := m.store.UpdateSession(ctx, candidate); err != nil {
			if errors.Is(err, types.ErrConflict) {
				return err
			}
			return errors.Wrap(err, "failed to update session")
		}

		m.mu.Lock()
		if next == types.StatusEnded {
			delete(m.sessions, sessionID)
		} else {
			m.sessions[sessionID] = candidate
		}
		m.mu.Unlock()

		updated = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.refreshActiveGauge()
	m.metrics.SessionTransition(string(action))
	m.logger.Info("session transition", actor, map[string]interface{}{
		"session_id": sessionID,
		"action":     string(action),
		"status":     string(updated.Status),
	})

	if updated.Status == types.StatusEnded {
		m.mu.Lock()
		delete(m.locks, sessionID)
		m.mu.Unlock()
		m.runEndHooks(sessionID)
	}
	return copySession(updated), nil
}

// nextStatus is the transition table
func nextStatus(current types.SessionStatus, action types.Action) (types.SessionStatus, error) {
	switch {
	case action == types.ActionPause && current == types.StatusActive:
		return types.StatusPaused, nil
	case action == types.ActionResume && current == types.StatusPaused:
		return types.StatusActive, nil
	case action == types.ActionEnd && (current == types.StatusActive || current == types.StatusPaused):
		return types.StatusEnded, nil
	}
	return "", errors.Wrapf(types.ErrInvalidState, "cannot %s a session that is %s", action, current)
}

func (m *Manager) runEndHooks(sessionID string) {
	m.hooksMu.RLock()
	hooks := make([]EndHook, len(m.onEnd))
	copy(hooks, m.onEnd)
	m.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(sessionID)
	}
}

// ValidateChannel checks that a push channel may open on the session
func (m *Manager) ValidateChannel(ctx context.Context, sessionID, role string) (*types.ClassroomSession, error) {
	if role != types.RoleTeacher && role != types.RoleStudent {
		return nil, types.ErrInvalidRole
	}
	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == types.StatusEnded {
		return nil, errors.Wrap(types.ErrInvalidState, "session has ended")
	}
	return session, nil
}

// WithSessionLock runs fn with the session's lock held and a copy of its
// current state. ENDED sessions are passed through; fn decides what to reject.
func (m *Manager) WithSessionLock(ctx context.Context, sessionID string, fn func(*types.ClassroomSession) error) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	return fn(session)
}

func (m *Manager) lockFor(sessionID string) *sync.Mutex {
	m.mu.RLock()
	lock, ok := m.locks[sessionID]
	m.mu.RUnlock()
	if ok {
		return lock
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok = m.locks[sessionID]; !ok {
		lock = &sync.Mutex{}
		m.locks[sessionID] = lock
	}
	return lock
}

// IsSessionActive checks the cache only
func (m *Manager) IsSessionActive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[sessionID]
	return ok && session.Status == types.StatusActive
}

// GetStats returns session manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	active := 0
	for _, s := range m.sessions {
		if s.Status == types.StatusActive {
			active++
		}
	}
	return map[string]interface{}{
		"active_sessions": active,
		"cache_size":      len(m.sessions),
	}
}

func (m *Manager) refreshActiveGauge() {
	m.mu.RLock()
	active := 0
	for _, s := range m.sessions {
		if s.Status == types.StatusActive {
			active++
		}
	}
	m.mu.RUnlock()
	m.metrics.SetSessionsActive(active)
}

func copySession(s *types.ClassroomSession) *types.ClassroomSession {
	c := *s
	c.TargetLanguages = append(types.LanguageList(nil), s.TargetLanguages...)
	if s.EndTime != nil {
		end := *s.EndTime
		c.EndTime = &end
	}
	return &c
}
