package websocket

import (
	"sort"
	"sync"
	"time"

	"classcast/internal/logging"
	"classcast/internal/metrics"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

var _ interfaces.Broadcaster = (*Registry)(nil)

// ChannelInfo describes the client behind a channel
type ChannelInfo struct {
	Role          string
	UserID        string
	Name          string
	PreferredLang string
}

type member struct {
	info ChannelInfo
}

// sessionChannels is the channel set of one session guarded by its own lock
// so that traffic on one session never waits on another
type sessionChannels struct {
	mu           sync.Mutex
	channels     map[interfaces.Connection]*member
	students     map[string]interfaces.Connection // studentID -> current channel
	participants map[string]*types.Participant
	closed       bool
	discarded    bool
}

func newSessionChannels() *sessionChannels {
	return &sessionChannels{
		channels:     make(map[interfaces.Connection]*member),
		students:     make(map[string]interfaces.Connection),
		participants: make(map[string]*types.Participant),
	}
}

func (s *sessionChannels) snapshot(exclude interfaces.Connection) []interfaces.Connection {
	conns := make([]interfaces.Connection, 0, len(s.channels))
	for conn := range s.channels {
		if conn != exclude {
			conns = append(conns, conn)
		}
	}
	return conns
}

// Registry tracks the open push channels of every session and delivers events to them
// ARCHITECTURAL DISCOVERY: Pure connection management without business logic
// maintains clean separation between connection tracking and connection operations
type Registry struct {
	mu       sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	sessions map[string]*sessionChannels
	logger   logging.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRegistry creates a new channel registry
func NewRegistry(logger logging.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		sessions: make(map[string]*sessionChannels),
		logger:   logging.OrNop(logger),
		metrics:  m,
		now:      time.Now,
	}
}

func (r *Registry) lookup(sessionID string) *sessionChannels {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

func (r *Registry) getOrCreate(sessionID string) *sessionChannels {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		entry = newSessionChannels()
		r.sessions[sessionID] = entry
	}
	return entry
}

// discardIfEmpty drops the session entry once its last channel is gone.
// Lock order is always r.mu then entry.mu.
func (r *Registry) discardIfEmpty(sessionID string, entry *sessionChannels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if len(entry.channels) == 0 && r.sessions[sessionID] == entry {
		delete(r.sessions, sessionID)
		entry.discarded = true
	}
}

// OpenChannel registers conn on the session and writes the connected event to it
// before any other event can reach it. A student's channel becomes a Participant and
// is announced to the other channels; a newer channel for the same student replaces
// the older one without announcing a departure.
func (r *Registry) OpenChannel(session *types.ClassroomSession, conn interfaces.Connection, info ChannelInfo) (*types.ConnectedEvent, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}
	if !conn.IsAuthenticated() {
		return nil, ErrConnectionNotAuthenticated
	}

	var entry *sessionChannels
	for {
		entry = r.getOrCreate(session.ID)
		entry.mu.Lock()
		if !entry.discarded {
			break
		}
		entry.mu.Unlock()
	}
	if entry.closed {
		entry.mu.Unlock()
		return nil, ErrSessionClosed
	}

	var replaced interfaces.Connection
	var joined *types.Participant
	if info.Role == types.RoleStudent {
		if old, ok := entry.students[info.UserID]; ok && old != conn {
			replaced = old
			delete(entry.channels, old)
		}
		p, ok := entry.participants[info.UserID]
		if !ok {
			p = &types.Participant{SessionID: session.ID, StudentID: info.UserID, JoinedAt: r.now().UTC()}
			entry.participants[info.UserID] = p
			joined = p
		}
		p.Name = info.Name
		p.PreferredLang = info.PreferredLang
		entry.students[info.UserID] = conn
	}

	event := types.NewConnectedEvent(session, info.Role, len(entry.participants))
	if err := conn.WriteJSON(event); err != nil {
		if joined != nil {
			delete(entry.participants, info.UserID)
			delete(entry.students, info.UserID)
		}
		entry.mu.Unlock()
		return nil, err
	}
	entry.channels[conn] = &member{info: info}
	others := entry.snapshot(conn)
	entry.mu.Unlock()

	r.metrics.ChannelOpened()
	if replaced != nil {
		// FUNCTIONAL DISCOVERY: Close replaced channel asynchronously so a slow
		// socket never delays the new registration
		go func() {
			_ = replaced.Close()
		}()
		r.metrics.ChannelClosed()
		r.logger.Debug("channel replaced", map[string]interface{}{"session_id": session.ID, "student_id": info.UserID})
	}
	if joined != nil {
		r.deliver(session.ID, others, types.NewParticipantJoinedEvent(joined))
	}

	r.logger.Debug("channel opened", map[string]interface{}{
		"session_id": session.ID,
		"role":       info.Role,
		"user_id":    info.UserID,
	})
	return event, nil
}

// CloseChannel removes conn from the session. Closing a student's current channel
// removes the Participant and broadcasts participant_left. Idempotent.
func (r *Registry) CloseChannel(sessionID string, conn interfaces.Connection) {
	r.removeChannel(sessionID, conn)
	_ = conn.Close()
}

func (r *Registry) removeChannel(sessionID string, conn interfaces.Connection) bool {
	return r.detach(sessionID, []interfaces.Connection{conn}) > 0
}

// detach removes conns from the session in one pass and then announces every
// departed student to the channels that remain. It returns how many were removed.
func (r *Registry) detach(sessionID string, conns []interfaces.Connection) int {
	entry := r.lookup(sessionID)
	if entry == nil {
		return 0
	}

	entry.mu.Lock()
	removed := 0
	var departures []*types.ParticipantLeftEvent
	for _, conn := range conns {
		m, ok := entry.channels[conn]
		if !ok {
			continue
		}
		delete(entry.channels, conn)
		removed++
		if m.info.Role == types.RoleStudent && entry.students[m.info.UserID] == conn {
			delete(entry.students, m.info.UserID)
			delete(entry.participants, m.info.UserID)
			departures = append(departures, types.NewParticipantLeftEvent(m.info.UserID))
		}
	}
	empty := len(entry.channels) == 0
	survivors := entry.snapshot(nil)
	entry.mu.Unlock()

	for i := 0; i < removed; i++ {
		r.metrics.ChannelClosed()
	}
	for _, left := range departures {
		r.deliver(sessionID, survivors, left)
	}
	if empty && removed > 0 {
		r.discardIfEmpty(sessionID, entry)
	}
	return removed
}

// Broadcast writes event to every channel of the session and prunes the channels
// whose write failed. It never fails as a whole.
func (r *Registry) Broadcast(sessionID string, event interface{}) int {
	entry := r.lookup(sessionID)
	if entry == nil {
		return 0
	}

	entry.mu.Lock()
	conns := entry.snapshot(nil)
	entry.mu.Unlock()

	r.metrics.Broadcast()
	return r.deliver(sessionID, conns, event)
}

// deliver writes event to every conn concurrently so one stalled channel never
// holds back its siblings. Failed channels are closed before any departure is
// announced, then detached together.
func (r *Registry) deliver(sessionID string, conns []interfaces.Connection, event interface{}) int {
	failed := make([]bool, len(conns))
	write := func(i int, conn interfaces.Connection) {
		if err := conn.WriteJSON(event); err != nil {
			r.logger.Debug("channel write failed", err, map[string]interface{}{
				"session_id": sessionID,
				"user_id":    conn.GetUserID(),
			})
			failed[i] = true
		}
	}

	if len(conns) == 1 {
		write(0, conns[0])
	} else {
		var wg sync.WaitGroup
		for i, conn := range conns {
			wg.Add(1)
			go func(i int, conn interfaces.Connection) {
				defer wg.Done()
				write(i, conn)
			}(i, conn)
		}
		wg.Wait()
	}

	var dead []interfaces.Connection
	for i, conn := range conns {
		if failed[i] {
			_ = conn.Close()
			dead = append(dead, conn)
		}
	}
	if len(dead) > 0 {
		pruned := r.detach(sessionID, dead)
		for i := 0; i < pruned; i++ {
			r.metrics.ChannelPruned()
		}
	}
	return len(conns) - len(dead)
}

// Heartbeat sends a ping event to every channel of every session
func (r *Registry) Heartbeat() int {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, id := range ids {
		entry := r.lookup(id)
		if entry == nil {
			continue
		}
		entry.mu.Lock()
		conns := entry.snapshot(nil)
		entry.mu.Unlock()
		delivered += r.deliver(id, conns, types.PingEvent)
	}
	return delivered
}

// CloseSession sends session_ended to every channel of the session, then closes
// each channel once its queued events are written. Later OpenChannel calls on the
// same entry fail with ErrSessionClosed.
func (r *Registry) CloseSession(sessionID, reason string) int {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return 0
	}

	entry.mu.Lock()
	entry.closed = true
	conns := entry.snapshot(nil)
	entry.channels = make(map[interfaces.Connection]*member)
	entry.students = make(map[string]interfaces.Connection)
	entry.participants = make(map[string]*types.Participant)
	entry.mu.Unlock()

	event := &types.SignalEvent{Type: types.EventSessionEnded, Reason: reason}
	for _, conn := range conns {
		if err := conn.WriteJSON(event); err != nil {
			_ = conn.Close()
		} else {
			_ = conn.Shutdown()
		}
		r.metrics.ChannelClosed()
	}

	r.logger.Info("session channels closed", map[string]interface{}{
		"session_id": sessionID,
		"channels":   len(conns),
	})
	return len(conns)
}

// Participants returns the students currently present in a session ordered by join time
func (r *Registry) Participants(sessionID string) []types.Participant {
	entry := r.lookup(sessionID)
	if entry == nil {
		return []types.Participant{}
	}

	entry.mu.Lock()
	out := make([]types.Participant, 0, len(entry.participants))
	for _, p := range entry.participants {
		out = append(out, *p)
	}
	entry.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].StudentID < out[j].StudentID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// ChannelCount returns the number of open channels of a session
func (r *Registry) ChannelCount(sessionID string) int {
	entry := r.lookup(sessionID)
	if entry == nil {
		return 0
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return len(entry.channels)
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	entries := make([]*sessionChannels, 0, len(r.sessions))
	for _, entry := range r.sessions {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	channels, participants := 0, 0
	for _, entry := range entries {
		entry.mu.Lock()
		channels += len(entry.channels)
		participants += len(entry.participants)
		entry.mu.Unlock()
	}

	return map[string]int{
		"total_connections": channels,
		"active_sessions":   len(entries),
		"participants":      participants,
	}
}
