package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"classcast/internal/metrics"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// fakeConn records every event written to it; dead channels fail every write
type fakeConn struct {
	mu       sync.Mutex
	userID   string
	role     string
	session  string
	events   []map[string]interface{}
	dead     bool
	closed   bool
	shutdown bool
}

var _ interfaces.Connection = (*fakeConn)(nil)

func newFakeConn(sessionID, userID, role string) *fakeConn {
	return &fakeConn{userID: userID, role: role, session: sessionID}
}

func (f *fakeConn) WriteJSON(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dead || f.closed {
		return ErrConnectionClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	var event map[string]interface{}
	_ = json.Unmarshal(data, &event)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	f.closed = true
	return nil
}

func (f *fakeConn) GetUserID() string                                   { return f.userID }
func (f *fakeConn) GetRole() string                                     { return f.role }
func (f *fakeConn) GetSessionID() string                                { return f.session }
func (f *fakeConn) IsAuthenticated() bool                               { return f.userID != "" }
func (f *fakeConn) SetCredentials(userID, role, sessionID string) error { return nil }

func (f *fakeConn) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e["type"].(string))
	}
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = true
}

// stalledConn behaves like fakeConn until stalled, then every write hangs for delay
// and fails, the way a client with a wedged socket does
type stalledConn struct {
	*fakeConn
	delay  time.Duration
	stall  atomic.Bool
	writes atomic.Int32
}

func (s *stalledConn) WriteJSON(v interface{}) error {
	if !s.stall.Load() {
		return s.fakeConn.WriteJSON(v)
	}
	if s.isClosed() {
		return ErrConnectionClosed
	}
	s.writes.Add(1)
	time.Sleep(s.delay)
	return ErrSendQueueFull
}

func testSession(id string) *types.ClassroomSession {
	return &types.ClassroomSession{
		ID:              id,
		TeacherID:       "teacher_1",
		TeacherName:     "Ms. Rao",
		SourceLanguage:  "hi",
		TargetLanguages: types.LanguageList{"en", "ta"},
		Status:          types.StatusActive,
	}
}

func openFake(t *testing.T, r *Registry, session *types.ClassroomSession, userID, role string) *fakeConn {
	t.Helper()
	conn := newFakeConn(session.ID, userID, role)
	if _, err := r.OpenChannel(session, conn, ChannelInfo{Role: role, UserID: userID, Name: userID, PreferredLang: "en"}); err != nil {
		t.Fatalf("OpenChannel(%s) failed: %v", userID, err)
	}
	return conn
}

func equalTypes(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// Architectural Validation Tests

func TestRegistry_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Broadcaster = NewRegistry(nil, nil)
}

func TestRegistry_NewRegistryInitialization(t *testing.T) {
	registry := NewRegistry(nil, nil)

	stats := registry.GetStats()
	if stats["total_connections"] != 0 || stats["active_sessions"] != 0 || stats["participants"] != 0 {
		t.Errorf("Expected empty stats, got %v", stats)
	}
	if registry.Broadcast("missing", types.PingEvent) != 0 {
		t.Error("Broadcast to an unknown session should deliver nothing")
	}
}

// Functional Validation Tests - OpenChannel

func TestRegistry_OpenChannelValidation(t *testing.T) {
	registry := NewRegistry(nil, nil)
	session := testSession("s1")

	if _, err := registry.OpenChannel(session, nil, ChannelInfo{}); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}

	anonymous := newFakeConn("s1", "", types.RoleStudent)
	if _, err := registry.OpenChannel(session, anonymous, ChannelInfo{Role: types.RoleStudent}); err != ErrConnectionNotAuthenticated {
		t.Errorf("Expected ErrConnectionNotAuthenticated, got %v", err)
	}
}

func TestRegistry_OpenChannelSendsConnectedFirst(t *testing.T) {
	registry := NewRegistry(nil, nil)
	session := testSession("s1")

	teacher := newFakeConn("s1", "teacher_1", types.RoleTeacher)
	event, err := registry.OpenChannel(session, teacher, ChannelInfo{Role: types.RoleTeacher, UserID: "teacher_1"})
	if err != nil {
		t.Fatalf("OpenChannel failed: %v", err)
	}
	if event.Type != types.EventConnected || event.TeacherName != "Ms. Rao" || event.SourceLanguage != "hi" {
		t.Errorf("Unexpected connected event: %+v", event)
	}
	if event.ParticipantCount != 0 {
		t.Errorf("Teacher channel is not a participant, count = %d", event.ParticipantCount)
	}

	student := newFakeConn("s1", "student_1", types.RoleStudent)
	event, err = registry.OpenChannel(session, student, ChannelInfo{Role: types.RoleStudent, UserID: "student_1", Name: "Asha", PreferredLang: "ta"})
	if err != nil {
		t.Fatalf("OpenChannel failed: %v", err)
	}
	if event.ParticipantCount != 1 {
		t.Errorf("Expected participant count 1, got %d", event.ParticipantCount)
	}

	if got := student.eventTypes(); !equalTypes(got, []string{types.EventConnected}) {
		t.Errorf("Student events = %v", got)
	}
	if got := teacher.eventTypes(); !equalTypes(got, []string{types.EventConnected, types.EventParticipantJoined}) {
		t.Errorf("Teacher events = %v", got)
	}

	teacher.mu.Lock()
	joined := teacher.events[1]
	teacher.mu.Unlock()
	if joined["studentId"] != "student_1" || joined["name"] != "Asha" || joined["preferredLang"] != "ta" {
		t.Errorf("Unexpected participant_joined payload: %v", joined)
	}

	participants := registry.Participants("s1")
	if len(participants) != 1 || participants[0].StudentID != "student_1" || participants[0].PreferredLang != "ta" {
		t.Errorf("Participants() = %+v", participants)
	}
}

func TestRegistry_StudentReplacement(t *testing.T) {
	registry := NewRegistry(nil, nil)
	session := testSession("s1")

	teacher := openFake(t, registry, session, "teacher_1", types.RoleTeacher)
	first := openFake(t, registry, session, "student_1", types.RoleStudent)
	second := openFake(t, registry, session, "student_1", types.RoleStudent)

	deadline := time.Now().Add(time.Second)
	for !first.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !first.isClosed() {
		t.Error("Replaced channel should be closed")
	}

	// Old channel cleanup must not remove the newer one or announce a departure
	registry.CloseChannel("s1", first)

	if got := teacher.eventTypes(); !equalTypes(got, []string{types.EventConnected, types.EventParticipantJoined}) {
		t.Errorf("Teacher should see exactly one join and no leave, got %v", got)
	}
	if len(registry.Participants("s1")) != 1 {
		t.Error("Student should still be present")
	}
	if registry.ChannelCount("s1") != 2 {
		t.Errorf("Expected 2 channels, got %d", registry.ChannelCount("s1"))
	}

	if registry.Broadcast("s1", types.PingEvent) != 2 {
		t.Error("Broadcast should reach teacher and the newest student channel")
	}
	if got := second.eventTypes(); !equalTypes(got, []string{types.EventConnected, types.EventPing}) {
		t.Errorf("Newest student channel events = %v", got)
	}
}

// Functional Validation Tests - Broadcast

func TestRegistry_BroadcastPrunesDeadChannels(t *testing.T) {
	m := metrics.New()
	registry := NewRegistry(nil, m)
	session := testSession("s1")

	teacher := openFake(t, registry, session, "teacher_1", types.RoleTeacher)
	live := openFake(t, registry, session, "student_live", types.RoleStudent)
	dead := openFake(t, registry, session, "student_dead", types.RoleStudent)
	dead.kill()

	event := &types.TranslationUpdateEvent{Type: types.EventTranslationUpdate, TranscriptID: "t1", Language: "en", TranslatedText: "Hello"}
	if delivered := registry.Broadcast("s1", event); delivered != 2 {
		t.Errorf("Expected 2 deliveries, got %d", delivered)
	}

	if !dead.isClosed() {
		t.Error("Dead channel should be closed")
	}
	if registry.ChannelCount("s1") != 2 {
		t.Errorf("Dead channel should be pruned, %d channels remain", registry.ChannelCount("s1"))
	}
	for _, p := range registry.Participants("s1") {
		if p.StudentID == "student_dead" {
			t.Error("Dead participant should be removed")
		}
	}

	// Live channels got the update followed by the departure of the dead student
	for _, conn := range []*fakeConn{teacher, live} {
		got := conn.eventTypes()
		if got[len(got)-2] != types.EventTranslationUpdate || got[len(got)-1] != types.EventParticipantLeft {
			t.Errorf("%s events = %v", conn.userID, got)
		}
	}

	// Second broadcast reaches only live channels
	if delivered := registry.Broadcast("s1", types.PingEvent); delivered != 2 {
		t.Errorf("Expected 2 deliveries after pruning, got %d", delivered)
	}
}

func TestRegistry_StalledChannelsDoNotHoldBackSiblings(t *testing.T) {
	registry := NewRegistry(nil, metrics.New())
	session := testSession("s1")
	const delay = 400 * time.Millisecond

	live := openFake(t, registry, session, "teacher_1", types.RoleTeacher)
	var stalled []*stalledConn
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("student_%d", i)
		conn := &stalledConn{fakeConn: newFakeConn("s1", id, types.RoleStudent), delay: delay}
		if _, err := registry.OpenChannel(session, conn, ChannelInfo{Role: types.RoleStudent, UserID: id}); err != nil {
			t.Fatalf("OpenChannel(%s) failed: %v", id, err)
		}
		stalled = append(stalled, conn)
	}
	for _, conn := range stalled {
		conn.stall.Store(true)
	}

	start := time.Now()
	done := make(chan int, 1)
	go func() { done <- registry.Broadcast("s1", types.PingEvent) }()

	// The live channel is written immediately, not after the stalled ones time out
	deadline := time.Now().Add(delay / 2)
	for {
		got := live.eventTypes()
		if len(got) > 1 && got[1] == types.EventPing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Live channel waited on stalled siblings, events = %v", got)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case delivered := <-done:
		if delivered != 1 {
			t.Errorf("Expected 1 delivery, got %d", delivered)
		}
	case <-time.After(3 * delay):
		t.Fatal("Broadcast should finish within one write timeout")
	}
	if elapsed := time.Since(start); elapsed > 2*delay {
		t.Errorf("Broadcast took %v; departures must not be retried on stalled channels", elapsed)
	}

	for _, conn := range stalled {
		if !conn.isClosed() {
			t.Errorf("%s should be closed", conn.userID)
		}
		if n := conn.writes.Load(); n != 1 {
			t.Errorf("%s was written %d times after stalling, want 1", conn.userID, n)
		}
	}
	if registry.ChannelCount("s1") != 1 || len(registry.Participants("s1")) != 0 {
		t.Errorf("Only the live channel should remain, got %d channels", registry.ChannelCount("s1"))
	}

	left := 0
	for _, typ := range live.eventTypes() {
		if typ == types.EventParticipantLeft {
			left++
		}
	}
	if left != 3 {
		t.Errorf("Expected 3 participant_left events on the live channel, got %d", left)
	}
}

func TestRegistry_SessionsAreIsolated(t *testing.T) {
	registry := NewRegistry(nil, nil)
	a := openFake(t, registry, testSession("a"), "student_1", types.RoleStudent)
	b := openFake(t, registry, testSession("b"), "student_1", types.RoleStudent)

	registry.Broadcast("a", types.PingEvent)

	if got := a.eventTypes(); !equalTypes(got, []string{types.EventConnected, types.EventPing}) {
		t.Errorf("Session a events = %v", got)
	}
	if got := b.eventTypes(); !equalTypes(got, []string{types.EventConnected}) {
		t.Errorf("Session b must not see session a's events, got %v", got)
	}
}

// Functional Validation Tests - CloseChannel / CloseSession

func TestRegistry_CloseChannel(t *testing.T) {
	registry := NewRegistry(nil, nil)
	session := testSession("s1")

	teacher := openFake(t, registry, session, "teacher_1", types.RoleTeacher)
	student := openFake(t, registry, session, "student_1", types.RoleStudent)

	registry.CloseChannel("s1", student)
	registry.CloseChannel("s1", student) // idempotent

	if got := teacher.eventTypes(); !equalTypes(got, []string{types.EventConnected, types.EventParticipantJoined, types.EventParticipantLeft}) {
		t.Errorf("Teacher events = %v", got)
	}
	if !student.isClosed() {
		t.Error("Closed channel should be closed")
	}

	registry.CloseChannel("s1", teacher)
	if stats := registry.GetStats(); stats["active_sessions"] != 0 {
		t.Errorf("Empty session entry should be discarded, stats = %v", stats)
	}
}

func TestRegistry_CloseSession(t *testing.T) {
	registry := NewRegistry(nil, nil)
	session := testSession("s1")

	teacher := openFake(t, registry, session, "teacher_1", types.RoleTeacher)
	student := openFake(t, registry, session, "student_1", types.RoleStudent)
	other := openFake(t, registry, testSession("s2"), "student_2", types.RoleStudent)

	if closed := registry.CloseSession("s1", "ended"); closed != 2 {
		t.Errorf("Expected 2 closed channels, got %d", closed)
	}

	for _, conn := range []*fakeConn{teacher, student} {
		got := conn.eventTypes()
		if got[len(got)-1] != types.EventSessionEnded {
			t.Errorf("%s should end with session_ended, got %v", conn.userID, got)
		}
		if !conn.shutdown {
			t.Errorf("%s should be shut down gracefully", conn.userID)
		}
	}
	if teacher.eventTypes()[len(teacher.eventTypes())-2] == types.EventParticipantLeft {
		t.Error("Session close must not emit participant_left")
	}
	if other.isClosed() {
		t.Error("Other sessions must stay open")
	}

	if registry.Broadcast("s1", types.PingEvent) != 0 {
		t.Error("Closed session should have no channels")
	}
	if registry.CloseSession("s1", "ended") != 0 {
		t.Error("Second CloseSession should be a no-op")
	}
}

func TestRegistry_Heartbeat(t *testing.T) {
	registry := NewRegistry(nil, nil)
	a := openFake(t, registry, testSession("a"), "student_1", types.RoleStudent)
	b := openFake(t, registry, testSession("b"), "student_2", types.RoleStudent)
	dead := openFake(t, registry, testSession("b"), "student_3", types.RoleStudent)
	dead.kill()

	if delivered := registry.Heartbeat(); delivered != 2 {
		t.Errorf("Expected 2 pings delivered, got %d", delivered)
	}
	if got := a.eventTypes(); got[len(got)-1] != types.EventPing {
		t.Errorf("a events = %v", got)
	}
	if !dead.isClosed() || registry.ChannelCount("b") != 1 {
		t.Error("Heartbeat should prune dead channels")
	}
	_ = b
}

// Technical Validation Tests (Race Detection)

func TestRegistry_ConcurrentOpenBroadcastClose(t *testing.T) {
	registry := NewRegistry(nil, nil)
	session := testSession("s1")
	openFake(t, registry, session, "teacher_1", types.RoleTeacher)

	const students = 30
	var wg sync.WaitGroup
	errs := make(chan error, students)

	for i := 0; i < students; i++ {
		wg.Add(2)
		go func(id int) {
			defer wg.Done()
			conn := newFakeConn("s1", fmt.Sprintf("student_%d", id), types.RoleStudent)
			if _, err := registry.OpenChannel(session, conn, ChannelInfo{Role: types.RoleStudent, UserID: conn.userID}); err != nil {
				errs <- err
				return
			}
			if id%2 == 0 {
				registry.CloseChannel("s1", conn)
			}
		}(i)
		go func() {
			defer wg.Done()
			registry.Broadcast("s1", types.PingEvent)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Unexpected error: %v", err)
	}
	if got := len(registry.Participants("s1")); got != students/2 {
		t.Errorf("Expected %d participants, got %d", students/2, got)
	}
	if stats := registry.GetStats(); stats["total_connections"] != students/2+1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}
