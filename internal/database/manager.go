package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"classcast/internal/logging"
	dbconfig "classcast/pkg/database"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// DefaultRetryDelay is the pause before a failed write is retried once
const DefaultRetryDelay = 5 * time.Second

// ErrManagerClosed is returned for writes that cannot run because the manager closed
var ErrManagerClosed = errors.New("database manager is closed")

// Manager is the SQLite implementation of interfaces.Store
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	logger       logging.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	done         chan struct{} // closed when the writer goroutine exits
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	retryDelay   time.Duration
}

var _ interfaces.Store = (*Manager)(nil)

type writeOperation struct {
	operation func(*sqlx.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine.
// Migrations are applied separately through pkg/database.MigrationManager.
func NewManager(config *dbconfig.Config, logger logging.Logger) (*Manager, error) {
	db, err := sqlx.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db.DB); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to apply SQLite optimizations")
	}

	manager := &Manager{
		db:           db,
		config:       config,
		logger:       logging.OrNop(logger),
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
		retryDelay:   DefaultRetryDelay,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// SetRetryDelay changes the pause before a failed write is retried
func (m *Manager) SetRetryDelay(d time.Duration) {
	m.retryDelay = d
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.done)

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil && retryable(err) {
				m.logger.Warn("database write failed, retrying", err, map[string]interface{}{"delay": m.retryDelay})
				time.Sleep(m.retryDelay)
				err = op.operation(m.db)
				if err != nil {
					m.logger.Error("database write failed after retry", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			// Operations still queued are answered so no caller is left waiting
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- ErrManagerClosed
				default:
					m.logger.Info("database write loop shutting down")
					return
				}
			}
		}
	}
}

// retryable excludes domain outcomes and caller cancellation from the retry
func retryable(err error) bool {
	switch {
	case errors.Is(err, types.ErrConflict),
		errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrValidation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return false
	}
	return true
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(30 * time.Second):
		return errors.New("write operation timeout")
	case <-m.shutdown:
		return ErrManagerClosed
	}

	select {
	case err := <-result:
		return err
	case <-m.done:
		// The writer may have answered just before exiting
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

const sessionColumns = `id, teacher_id, teacher_name, class_id, subject_id, source_language,
	target_languages, status, start_time, end_time`

// CreateSession inserts a new session. A second ACTIVE session for the same
// teacher yields a *types.ConflictError naming the existing one.
func (m *Manager) CreateSession(ctx context.Context, session *types.ClassroomSession) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO sessions (`+sessionColumns+`)
			VALUES (:id, :teacher_id, :teacher_name, :class_id, :subject_id, :source_language,
				:target_languages, :status, :start_time, :end_time)
		`, session)
		if err != nil {
			if isUniqueViolation(err) {
				return m.activeConflict(ctx, db, session.TeacherID, err)
			}
			return errors.Wrap(err, "failed to insert session")
		}
		return nil
	})
}

// activeConflict resolves a unique violation into the teacher's ACTIVE session
func (m *Manager) activeConflict(ctx context.Context, db *sqlx.DB, teacherID string, cause error) error {
	var existing string
	err := db.GetContext(ctx, &existing,
		`SELECT id FROM sessions WHERE teacher_id = ? AND status = ? LIMIT 1`,
		teacherID, types.StatusActive)
	if err != nil {
		return errors.Wrap(cause, "unique constraint violated")
	}
	return &types.ConflictError{ExistingSessionID: existing}
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.ClassroomSession, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	var session types.ClassroomSession
	err := m.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(types.ErrNotFound, "session %s", sessionID)
		}
		return nil, errors.Wrap(err, "failed to query session")
	}
	return &session, nil
}

// UpdateSession persists status and end_time, the only mutable fields
func (m *Manager) UpdateSession(ctx context.Context, session *types.ClassroomSession) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		res, err := db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, end_time = ? WHERE id = ?`,
			session.Status, session.EndTime, session.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return m.activeConflict(ctx, db, session.TeacherID, err)
			}
			return errors.Wrap(err, "failed to update session")
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errors.Wrapf(types.ErrNotFound, "session %s", session.ID)
		}
		return nil
	})
}

// ListSessions returns sessions matching the filter, newest first
func (m *Manager) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.ClassroomSession, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.TeacherID != "" {
		where = append(where, "teacher_id = ?")
		args = append(args, filter.TeacherID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ClassID != "" {
		where = append(where, "class_id = ?")
		args = append(args, filter.ClassID)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"

	sessions := []*types.ClassroomSession{}
	if err := m.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, errors.Wrap(err, "failed to query sessions")
	}
	return sessions, nil
}

// ListActiveSessions returns every session that has not ended, ACTIVE or PAUSED
func (m *Manager) ListActiveSessions(ctx context.Context) ([]*types.ClassroomSession, error) {
	var sessions []*types.ClassroomSession
	err := m.db.SelectContext(ctx, &sessions,
		`SELECT `+sessionColumns+` FROM sessions WHERE status != ? ORDER BY start_time DESC`, types.StatusEnded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list live sessions")
	}
	return sessions, nil
}

// AppendTranscript assigns the next sequence number and inserts the segment
// in one transaction on the writer goroutine
func (m *Manager) AppendTranscript(ctx context.Context, segment *types.TranscriptSegment) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to begin transaction")
		}
		defer func() { _ = tx.Rollback() }()

		var next int64
		if err := tx.GetContext(ctx, &next,
			`SELECT COALESCE(MAX(sequence), 0) + 1 FROM transcripts WHERE session_id = ?`,
			segment.SessionID); err != nil {
			return errors.Wrap(err, "failed to compute next sequence")
		}

		row := *segment
		row.Sequence = next
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO transcripts (id, session_id, sequence, original_text, language, confidence, timestamp)
			VALUES (:id, :session_id, :sequence, :original_text, :language, :confidence, :timestamp)
		`, &row); err != nil {
			if isForeignKeyViolation(err) {
				return errors.Wrapf(types.ErrNotFound, "session %s", segment.SessionID)
			}
			return errors.Wrap(err, "failed to insert transcript")
		}

		if err := tx.Commit(); err != nil {
			return errors.Wrap(err, "failed to commit transcript")
		}
		segment.Sequence = next
		return nil
	})
}

// LastSequence returns the highest assigned sequence for a session, 0 when none
func (m *Manager) LastSequence(ctx context.Context, sessionID string) (int64, error) {
	var last int64
	err := m.db.GetContext(ctx, &last,
		`SELECT COALESCE(MAX(sequence), 0) FROM transcripts WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to query last sequence")
	}
	return last, nil
}

const transcriptColumns = `id, session_id, sequence, original_text, language, confidence, timestamp`

// ListTranscripts returns one page of transcripts in ascending sequence order
// with every stored translation merged in
func (m *Manager) ListTranscripts(ctx context.Context, sessionID string, page types.TranscriptPage) ([]*types.TranscriptView, error) {
	page = page.Normalize()

	segments := []*types.TranscriptSegment{}
	err := m.db.SelectContext(ctx, &segments, `
		SELECT `+transcriptColumns+` FROM transcripts
		WHERE session_id = ? AND sequence > ?
		ORDER BY sequence ASC
		LIMIT ?
	`, sessionID, page.AfterSequence, page.Limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transcripts")
	}

	return m.withTranslations(ctx, segments)
}

// RecentTranscripts returns the last limit transcripts in ascending sequence order
func (m *Manager) RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]*types.TranscriptView, error) {
	if limit <= 0 {
		return []*types.TranscriptView{}, nil
	}

	segments := []*types.TranscriptSegment{}
	err := m.db.SelectContext(ctx, &segments, `
		SELECT `+transcriptColumns+` FROM (
			SELECT `+transcriptColumns+` FROM transcripts
			WHERE session_id = ?
			ORDER BY sequence DESC
			LIMIT ?
		) ORDER BY sequence ASC
	`, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query recent transcripts")
	}

	return m.withTranslations(ctx, segments)
}

func (m *Manager) withTranslations(ctx context.Context, segments []*types.TranscriptSegment) ([]*types.TranscriptView, error) {
	views := make([]*types.TranscriptView, 0, len(segments))
	if len(segments) == 0 {
		return views, nil
	}

	ids := make([]string, len(segments))
	for i, seg := range segments {
		ids[i] = seg.ID
	}

	query, args, err := sqlx.In(`
		SELECT transcript_id, language, translated_text, created_at
		FROM translations WHERE transcript_id IN (?)
	`, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build translation query")
	}

	records := []*types.TranslationRecord{}
	if err := m.db.SelectContext(ctx, &records, m.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "failed to query translations")
	}

	byTranscript := make(map[string][]*types.TranslationRecord, len(segments))
	for _, rec := range records {
		byTranscript[rec.TranscriptID] = append(byTranscript[rec.TranscriptID], rec)
	}
	for _, seg := range segments {
		views = append(views, types.NewTranscriptView(seg, byTranscript[seg.ID]))
	}
	return views, nil
}

// SaveTranslation upserts the translation for (transcript, language)
func (m *Manager) SaveTranslation(ctx context.Context, record *types.TranslationRecord) error {
	return m.executeWrite(ctx, func(db *sqlx.DB) error {
		_, err := db.NamedExecContext(ctx, `
			INSERT INTO translations (transcript_id, language, translated_text, created_at)
			VALUES (:transcript_id, :language, :translated_text, :created_at)
			ON CONFLICT (transcript_id, language)
			DO UPDATE SET translated_text = excluded.translated_text, created_at = excluded.created_at
		`, record)
		if err != nil {
			if isForeignKeyViolation(err) {
				return errors.Wrapf(types.ErrNotFound, "transcript %s", record.TranscriptID)
			}
			return errors.Wrap(err, "failed to save translation")
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}

	var n int
	if err := m.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM sessions"); err != nil {
		return errors.Wrap(err, "database read test failed")
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db.DB
}

// Close shuts down the writer goroutine and the connection pool
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
