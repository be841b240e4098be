package pgstore

import (
	"time"

	"classcast/pkg/types"
)

// sessionModel is the sessions table row
type sessionModel struct {
	ID              string             `gorm:"column:id;primaryKey;type:varchar(64)"`
	TeacherID       string             `gorm:"column:teacher_id;type:varchar(64);not null;index:idx_sessions_teacher"`
	TeacherName     string             `gorm:"column:teacher_name;type:varchar(255);not null;default:''"`
	ClassID         string             `gorm:"column:class_id;type:varchar(64);not null;index:idx_sessions_class"`
	SubjectID       string             `gorm:"column:subject_id;type:varchar(64);not null"`
	SourceLanguage  string             `gorm:"column:source_language;type:varchar(35);not null"`
	TargetLanguages types.LanguageList `gorm:"column:target_languages;type:text;not null"`
	Status          string             `gorm:"column:status;type:varchar(10);not null;index:idx_sessions_status"`
	StartTime       time.Time          `gorm:"column:start_time;not null"`
	EndTime         *time.Time         `gorm:"column:end_time"`
}

func (sessionModel) TableName() string { return "sessions" }

// transcriptModel is the transcripts table row
type transcriptModel struct {
	ID           string       `gorm:"column:id;primaryKey;type:varchar(64)"`
	SessionID    string       `gorm:"column:session_id;type:varchar(64);not null;uniqueIndex:idx_transcripts_session_sequence,priority:1"`
	Session      sessionModel `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
	Sequence     int64        `gorm:"column:sequence;not null;uniqueIndex:idx_transcripts_session_sequence,priority:2"`
	OriginalText string       `gorm:"column:original_text;type:text;not null"`
	Language     string       `gorm:"column:language;type:varchar(35);not null"`
	Confidence   *float64     `gorm:"column:confidence"`
	Timestamp    time.Time    `gorm:"column:timestamp;not null"`
}

func (transcriptModel) TableName() string { return "transcripts" }

// translationModel is the translations table row
type translationModel struct {
	TranscriptID   string          `gorm:"column:transcript_id;primaryKey;type:varchar(64)"`
	Transcript     transcriptModel `gorm:"foreignKey:TranscriptID;constraint:OnDelete:CASCADE"`
	Language       string          `gorm:"column:language;primaryKey;type:varchar(35)"`
	TranslatedText string          `gorm:"column:translated_text;type:text;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;not null"`
}

func (translationModel) TableName() string { return "translations" }

func fromSession(s *types.ClassroomSession) *sessionModel {
	return &sessionModel{
		ID:              s.ID,
		TeacherID:       s.TeacherID,
		TeacherName:     s.TeacherName,
		ClassID:         s.ClassID,
		SubjectID:       s.SubjectID,
		SourceLanguage:  s.SourceLanguage,
		TargetLanguages: s.TargetLanguages,
		Status:          string(s.Status),
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
	}
}

func (m *sessionModel) toSession() *types.ClassroomSession {
	return &types.ClassroomSession{
		ID:              m.ID,
		TeacherID:       m.TeacherID,
		TeacherName:     m.TeacherName,
		ClassID:         m.ClassID,
		SubjectID:       m.SubjectID,
		SourceLanguage:  m.SourceLanguage,
		TargetLanguages: m.TargetLanguages,
		Status:          types.SessionStatus(m.Status),
		StartTime:       m.StartTime,
		EndTime:         m.EndTime,
	}
}

func (m *transcriptModel) toSegment() *types.TranscriptSegment {
	return &types.TranscriptSegment{
		ID:           m.ID,
		SessionID:    m.SessionID,
		Sequence:     m.Sequence,
		OriginalText: m.OriginalText,
		Language:     m.Language,
		Confidence:   m.Confidence,
		Timestamp:    m.Timestamp,
	}
}
