package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"classcast/internal/database/memstore"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

var (
	teacher1 = types.Actor{ID: "teacher_1", Role: types.RoleTeacher, Name: "Ms. Rao"}
	teacher2 = types.Actor{ID: "teacher_2", Role: types.RoleTeacher}
	admin    = types.Actor{ID: "root", Role: types.RoleAdmin}
	student  = types.Actor{ID: "student_1", Role: types.RoleStudent}
)

func validParams() types.SessionParams {
	return types.SessionParams{
		ClassID:         "class-7b",
		SubjectID:       "science",
		SourceLanguage:  "hi",
		TargetLanguages: []string{"EN", "ta", "en"},
	}
}

func setupManager(t *testing.T) (*Manager, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	return NewManager(store, nil, nil), store
}

// Architectural Validation Tests

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.SessionManager = (*Manager)(nil)
}

// Functional Validation Tests - CreateSession

func TestManager_CreateSession(t *testing.T) {
	manager, store := setupManager(t)
	ctx := context.Background()

	session, err := manager.CreateSession(ctx, teacher1, validParams())
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if session.Status != types.StatusActive {
		t.Errorf("expected ACTIVE, got %s", session.Status)
	}
	if session.TeacherName != "Ms. Rao" {
		t.Errorf("teacher name not carried: %q", session.TeacherName)
	}
	want := types.LanguageList{"en", "ta"}
	if len(session.TargetLanguages) != 2 || session.TargetLanguages[0] != want[0] || session.TargetLanguages[1] != want[1] {
		t.Errorf("targets not normalised: %v", session.TargetLanguages)
	}

	stored, err := store.GetSession(ctx, session.ID)
	if err != nil || stored.ID != session.ID {
		t.Fatalf("session not persisted: %v", err)
	}
	if !manager.IsSessionActive(session.ID) {
		t.Error("new session should be cached as active")
	}
}

func TestManager_CreateSessionForbiddenForStudents(t *testing.T) {
	manager, _ := setupManager(t)

	_, err := manager.CreateSession(context.Background(), student, validParams())
	if !errors.Is(err, types.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestManager_CreateSessionValidation(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		modify func(*types.SessionParams)
		want   error
	}{
		{"missing class", func(p *types.SessionParams) { p.ClassID = "" }, types.ErrMissingClassID},
		{"missing subject", func(p *types.SessionParams) { p.SubjectID = " " }, types.ErrMissingSubjectID},
		{"bad source", func(p *types.SessionParams) { p.SourceLanguage = "hindi" }, types.ErrInvalidLanguage},
		{"bad target", func(p *types.SessionParams) { p.TargetLanguages = []string{"x"} }, types.ErrInvalidLanguage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.modify(&params)
			if _, err := manager.CreateSession(ctx, teacher1, params); err != tt.want {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestManager_DuplicateActiveSessionReturnsExisting(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	first, err := manager.CreateSession(ctx, teacher1, validParams())
	if err != nil {
		t.Fatal(err)
	}

	_, err = manager.CreateSession(ctx, teacher1, validParams())
	var conflict *types.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ExistingSessionID != first.ID {
		t.Errorf("conflict should name %s, got %s", first.ID, conflict.ExistingSessionID)
	}

	if _, err := manager.CreateSession(ctx, teacher2, validParams()); err != nil {
		t.Errorf("another teacher should not conflict: %v", err)
	}
}

func TestManager_ConcurrentCreateYieldsOneActive(t *testing.T) {
	manager, store := setupManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var created, conflicts int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := manager.CreateSession(ctx, teacher1, validParams())
			switch {
			case err == nil:
				atomic.AddInt32(&created, 1)
			case errors.Is(err, types.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || conflicts != 19 {
		t.Errorf("expected 1 created / 19 conflicts, got %d / %d", created, conflicts)
	}
	active, _ := store.ListSessions(ctx, types.SessionFilter{Status: types.StatusActive})
	if len(active) != 1 {
		t.Errorf("expected one ACTIVE session in storage, got %d", len(active))
	}
}

// Functional Validation Tests - Transition

func TestManager_TransitionTable(t *testing.T) {
	tests := []struct {
		from   types.SessionStatus
		action types.Action
		want   types.SessionStatus
		err    error
	}{
		{types.StatusActive, types.ActionPause, types.StatusPaused, nil},
		{types.StatusPaused, types.ActionResume, types.StatusActive, nil},
		{types.StatusActive, types.ActionEnd, types.StatusEnded, nil},
		{types.StatusPaused, types.ActionEnd, types.StatusEnded, nil},
		{types.StatusActive, types.ActionResume, "", types.ErrInvalidState},
		{types.StatusPaused, types.ActionPause, "", types.ErrInvalidState},
		{types.StatusEnded, types.ActionResume, "", types.ErrInvalidState},
		{types.StatusEnded, types.ActionEnd, "", types.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.action), func(t *testing.T) {
			got, err := nextStatus(tt.from, tt.action)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("nextStatus() = %s, %v; want %s", got, err, tt.want)
			}
		})
	}
}

func TestManager_TransitionLifecycle(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	var ended []string
	manager.OnEnd(func(id string) { ended = append(ended, id) })

	session, _ := manager.CreateSession(ctx, teacher1, validParams())

	paused, err := manager.Transition(ctx, teacher1, session.ID, types.ActionPause)
	if err != nil || paused.Status != types.StatusPaused {
		t.Fatalf("pause failed: %v", err)
	}
	if manager.IsSessionActive(session.ID) {
		t.Error("paused session must not report active")
	}

	if _, err := manager.Transition(ctx, teacher1, session.ID, types.ActionResume); err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	final, err := manager.Transition(ctx, admin, session.ID, types.ActionEnd)
	if err != nil {
		t.Fatalf("admin end failed: %v", err)
	}
	if final.EndTime == nil || final.Status != types.StatusEnded {
		t.Errorf("end should set status and end time: %+v", final)
	}
	if len(ended) != 1 || ended[0] != session.ID {
		t.Errorf("end hook not run: %v", ended)
	}

	// ENDED is terminal and still readable from storage
	if _, err := manager.Transition(ctx, teacher1, session.ID, types.ActionResume); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after end, got %v", err)
	}
	got, err := manager.GetSession(ctx, session.ID)
	if err != nil || got.Status != types.StatusEnded {
		t.Errorf("ended session should be served from storage: %v", err)
	}

	// The teacher may open a new session now
	if _, err := manager.CreateSession(ctx, teacher1, validParams()); err != nil {
		t.Errorf("create after end failed: %v", err)
	}
}

func TestManager_TransitionErrors(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()
	session, _ := manager.CreateSession(ctx, teacher1, validParams())

	if _, err := manager.Transition(ctx, teacher2, session.ID, types.ActionPause); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("non-owner: expected ErrForbidden, got %v", err)
	}
	if _, err := manager.Transition(ctx, teacher1, "missing", types.ActionPause); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing: expected ErrNotFound, got %v", err)
	}
	if _, err := manager.Transition(ctx, teacher1, session.ID, "restart"); !errors.Is(err, types.ErrValidation) {
		t.Errorf("bad action: expected ErrValidation, got %v", err)
	}
}

func TestManager_ResumeConflictsWithNewerActiveSession(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	first, _ := manager.CreateSession(ctx, teacher1, validParams())
	if _, err := manager.Transition(ctx, teacher1, first.ID, types.ActionPause); err != nil {
		t.Fatal(err)
	}
	second, err := manager.CreateSession(ctx, teacher1, validParams())
	if err != nil {
		t.Fatalf("create while paused should succeed: %v", err)
	}

	_, err = manager.Transition(ctx, teacher1, first.ID, types.ActionResume)
	var conflict *types.ConflictError
	if !errors.As(err, &conflict) || conflict.ExistingSessionID != second.ID {
		t.Fatalf("expected conflict naming %s, got %v", second.ID, err)
	}

	got, _ := manager.GetSession(ctx, first.ID)
	if got.Status != types.StatusPaused {
		t.Errorf("failed resume must leave the session PAUSED, got %s", got.Status)
	}
}

// Functional Validation Tests - queries

func TestManager_ListSessionsScoping(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()

	_, _ = manager.CreateSession(ctx, teacher1, validParams())
	_, _ = manager.CreateSession(ctx, teacher2, validParams())

	mine, err := manager.ListSessions(ctx, teacher1, types.SessionFilter{TeacherID: "teacher_2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].TeacherID != "teacher_1" {
		t.Errorf("teacher must only see own sessions: %+v", mine)
	}

	all, err := manager.ListSessions(ctx, admin, types.SessionFilter{})
	if err != nil || len(all) != 2 {
		t.Errorf("admin should see all sessions: %d, %v", len(all), err)
	}

	if _, err := manager.ListSessions(ctx, student, types.SessionFilter{}); !errors.Is(err, types.ErrForbidden) {
		t.Errorf("students cannot list: %v", err)
	}
}

func TestManager_ValidateChannel(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()
	session, _ := manager.CreateSession(ctx, teacher1, validParams())

	if _, err := manager.ValidateChannel(ctx, session.ID, types.RoleStudent); err != nil {
		t.Errorf("student channel should be allowed: %v", err)
	}
	if _, err := manager.ValidateChannel(ctx, session.ID, "observer"); !errors.Is(err, types.ErrValidation) {
		t.Errorf("unknown role: %v", err)
	}
	if _, err := manager.ValidateChannel(ctx, "missing", types.RoleStudent); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing session: %v", err)
	}

	_, _ = manager.Transition(ctx, teacher1, session.ID, types.ActionEnd)
	if _, err := manager.ValidateChannel(ctx, session.ID, types.RoleStudent); !errors.Is(err, types.ErrInvalidState) {
		t.Errorf("ended session: %v", err)
	}
}

func TestManager_LoadActiveSessions(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	_ = store.CreateSession(ctx, &types.ClassroomSession{ID: "a", TeacherID: "t1", Status: types.StatusActive})
	_ = store.CreateSession(ctx, &types.ClassroomSession{ID: "p", TeacherID: "t2", Status: types.StatusPaused})
	_ = store.CreateSession(ctx, &types.ClassroomSession{ID: "e", TeacherID: "t3", Status: types.StatusEnded})

	manager := NewManager(store, nil, nil)
	if err := manager.LoadActiveSessions(ctx); err != nil {
		t.Fatal(err)
	}

	stats := manager.GetStats()
	if stats["active_sessions"] != 1 || stats["cache_size"] != 2 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

// Technical Validation Tests - per-session locking

func TestManager_SessionLocksAreIndependent(t *testing.T) {
	manager, _ := setupManager(t)
	ctx := context.Background()
	a, _ := manager.CreateSession(ctx, teacher1, validParams())
	b, _ := manager.CreateSession(ctx, teacher2, validParams())

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = manager.WithSessionLock(ctx, a.ID, func(*types.ClassroomSession) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	done := make(chan error, 1)
	go func() {
		done <- manager.WithSessionLock(ctx, b.ID, func(*types.ClassroomSession) error { return nil })
	}()
	if err := <-done; err != nil {
		t.Fatalf("session B should not wait for session A: %v", err)
	}
	close(release)
}
