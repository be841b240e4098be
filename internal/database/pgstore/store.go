// Package pgstore is the PostgreSQL implementation of interfaces.Store, used
// when several service instances share one database.
package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"classcast/internal/logging"
	"classcast/pkg/interfaces"
	"classcast/pkg/types"
)

// PostgreSQL error codes mapped onto the domain taxonomy
const (
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
)

// Store implements interfaces.Store on gorm + pgx
type Store struct {
	db     *gorm.DB
	logger logging.Logger
}

var _ interfaces.Store = (*Store)(nil)

// Connect opens the database, retrying while the server comes up
func Connect(ctx context.Context, dsn string, attempts int, logger logging.Logger) (*Store, error) {
	logger = logging.OrNop(logger)
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err == nil {
			logger.Info("connected to postgres", map[string]interface{}{"attempt": i + 1})
			return &Store{db: db, logger: logger}, nil
		}
		lastErr = err
		logger.Warn("postgres connection attempt failed", err, map[string]interface{}{"attempt": i + 1})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, errors.Wrap(lastErr, "failed to connect to postgres")
}

// Migrate creates the tables and the one-ACTIVE-session-per-teacher index
func (s *Store) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&sessionModel{}, &transcriptModel{}, &translationModel{}); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
		ON sessions (teacher_id) WHERE status = 'ACTIVE'`).Error
	if err != nil {
		return errors.Wrap(err, "create active session index")
	}
	s.logger.Info("postgres migration completed")
	return nil
}

// CreateSession inserts a session; a second ACTIVE one for the teacher is a conflict
func (s *Store) CreateSession(ctx context.Context, session *types.ClassroomSession) error {
	err := s.db.WithContext(ctx).Create(fromSession(session)).Error
	if err != nil {
		if pgCode(err) == PgErrUniqueViolation {
			return s.activeConflict(ctx, session.TeacherID, err)
		}
		return errors.Wrap(err, "failed to insert session")
	}
	return nil
}

func (s *Store) activeConflict(ctx context.Context, teacherID string, cause error) error {
	var existing sessionModel
	err := s.db.WithContext(ctx).
		Where("teacher_id = ? AND status = ?", teacherID, string(types.StatusActive)).
		Take(&existing).Error
	if err != nil {
		return errors.Wrap(cause, "unique constraint violated")
	}
	return &types.ConflictError{ExistingSessionID: existing.ID}
}

// GetSession retrieves a session by ID
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.ClassroomSession, error) {
	var row sessionModel
	err := s.db.WithContext(ctx).Where("id = ?", sessionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrapf(types.ErrNotFound, "session %s", sessionID)
		}
		return nil, errors.Wrap(err, "failed to query session")
	}
	return row.toSession(), nil
}

// UpdateSession persists status and end_time
func (s *Store) UpdateSession(ctx context.Context, session *types.ClassroomSession) error {
	res := s.db.WithContext(ctx).Model(&sessionModel{}).
		Where("id = ?", session.ID).
		Updates(map[string]interface{}{
			"status":   string(session.Status),
			"end_time": session.EndTime,
		})
	if res.Error != nil {
		if pgCode(res.Error) == PgErrUniqueViolation {
			return s.activeConflict(ctx, session.TeacherID, res.Error)
		}
		return errors.Wrap(res.Error, "failed to update session")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(types.ErrNotFound, "session %s", session.ID)
	}
	return nil
}

// ListSessions returns sessions matching the filter, newest first
func (s *Store) ListSessions(ctx context.Context, filter types.SessionFilter) ([]*types.ClassroomSession, error) {
	q := s.db.WithContext(ctx).Model(&sessionModel{})
	if filter.TeacherID != "" {
		q = q.Where("teacher_id = ?", filter.TeacherID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.ClassID != "" {
		q = q.Where("class_id = ?", filter.ClassID)
	}

	var rows []sessionModel
	if err := q.Order("start_time DESC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query sessions")
	}

	sessions := make([]*types.ClassroomSession, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].toSession())
	}
	return sessions, nil
}

// ListActiveSessions returns every session that has not ended, ACTIVE or PAUSED
func (s *Store) ListActiveSessions(ctx context.Context) ([]*types.ClassroomSession, error) {
	var rows []sessionModel
	err := s.db.WithContext(ctx).
		Where("status <> ?", string(types.StatusEnded)).
		Order("start_time DESC").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list live sessions")
	}
	sessions := make([]*types.ClassroomSession, 0, len(rows))
	for i := range rows {
		sessions = append(sessions, rows[i].toSession())
	}
	return sessions, nil
}

// AppendTranscript assigns the next sequence under a row lock on the session,
// so concurrent instances cannot hand out the same number
func (s *Store) AppendTranscript(ctx context.Context, segment *types.TranscriptSegment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session sessionModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", segment.SessionID).
			Take(&session).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrapf(types.ErrNotFound, "session %s", segment.SessionID)
			}
			return errors.Wrap(err, "failed to lock session")
		}

		var next int64
		err = tx.Model(&transcriptModel{}).
			Where("session_id = ?", segment.SessionID).
			Select("COALESCE(MAX(sequence), 0) + 1").
			Scan(&next).Error
		if err != nil {
			return errors.Wrap(err, "failed to compute next sequence")
		}

		row := &transcriptModel{
			ID:           segment.ID,
			SessionID:    segment.SessionID,
			Sequence:     next,
			OriginalText: segment.OriginalText,
			Language:     segment.Language,
			Confidence:   segment.Confidence,
			Timestamp:    segment.Timestamp,
		}
		if err := tx.Omit(clause.Associations).Create(row).Error; err != nil {
			return errors.Wrap(err, "failed to insert transcript")
		}
		segment.Sequence = next
		return nil
	})
}

// LastSequence returns the highest assigned sequence for a session, 0 when none
func (s *Store) LastSequence(ctx context.Context, sessionID string) (int64, error) {
	var last int64
	err := s.db.WithContext(ctx).Model(&transcriptModel{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to query last sequence")
	}
	return last, nil
}

// ListTranscripts returns one page in ascending sequence order with translations merged
func (s *Store) ListTranscripts(ctx context.Context, sessionID string, page types.TranscriptPage) ([]*types.TranscriptView, error) {
	page = page.Normalize()

	var rows []transcriptModel
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND sequence > ?", sessionID, page.AfterSequence).
		Order("sequence ASC").
		Limit(page.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query transcripts")
	}
	return s.withTranslations(ctx, rows)
}

// RecentTranscripts returns the last limit transcripts in ascending sequence order
func (s *Store) RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]*types.TranscriptView, error) {
	if limit <= 0 {
		return []*types.TranscriptView{}, nil
	}

	var rows []transcriptModel
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query recent transcripts")
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return s.withTranslations(ctx, rows)
}

func (s *Store) withTranslations(ctx context.Context, rows []transcriptModel) ([]*types.TranscriptView, error) {
	views := make([]*types.TranscriptView, 0, len(rows))
	if len(rows) == 0 {
		return views, nil
	}

	ids := make([]string, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}

	var translations []translationModel
	if err := s.db.WithContext(ctx).Where("transcript_id IN ?", ids).Find(&translations).Error; err != nil {
		return nil, errors.Wrap(err, "failed to query translations")
	}

	byTranscript := make(map[string][]*types.TranslationRecord, len(rows))
	for _, t := range translations {
		byTranscript[t.TranscriptID] = append(byTranscript[t.TranscriptID], &types.TranslationRecord{
			TranscriptID:   t.TranscriptID,
			Language:       t.Language,
			TranslatedText: t.TranslatedText,
			CreatedAt:      t.CreatedAt,
		})
	}
	for i := range rows {
		views = append(views, types.NewTranscriptView(rows[i].toSegment(), byTranscript[rows[i].ID]))
	}
	return views, nil
}

// SaveTranslation upserts the translation for (transcript, language)
func (s *Store) SaveTranslation(ctx context.Context, record *types.TranslationRecord) error {
	row := &translationModel{
		TranscriptID:   record.TranscriptID,
		Language:       record.Language,
		TranslatedText: record.TranslatedText,
		CreatedAt:      record.CreatedAt,
	}
	err := s.db.WithContext(ctx).Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "transcript_id"}, {Name: "language"}},
		DoUpdates: clause.AssignmentColumns([]string{"translated_text", "created_at"}),
	}).Create(row).Error
	if err != nil {
		if pgCode(err) == PgErrForeignKeyViolation {
			return errors.Wrapf(types.ErrNotFound, "transcript %s", record.TranscriptID)
		}
		return errors.Wrap(err, "failed to save translation")
	}
	return nil
}

// HealthCheck pings the server
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "database handle unavailable")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return errors.Wrap(err, "database ping failed")
	}
	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// pgCode extracts the SQLSTATE of a PostgreSQL error, or "" for anything else
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
