package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Roles carried by the upstream identity gateway.
// Admin is the elevated role that may act on any teacher's session.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// SessionStatus is the lifecycle state of a classroom session
type SessionStatus string

const (
	StatusActive SessionStatus = "ACTIVE"
	StatusPaused SessionStatus = "PAUSED"
	StatusEnded  SessionStatus = "ENDED"
)

// Action is a lifecycle transition requested by a teacher
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
	ActionEnd    Action = "end"
)

// Actor identifies the caller of an operation.
// Authentication happens upstream; the service only trusts ID and Role.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// IsElevated reports whether the actor may act on sessions it does not own
func (a Actor) IsElevated() bool {
	return a.Role == RoleAdmin
}

// CanTeach reports whether the actor may create sessions and ingest transcripts
func (a Actor) CanTeach() bool {
	return a.Role == RoleTeacher || a.IsElevated()
}

// Owns reports whether the actor owns the session or holds elevated privilege
func (a Actor) Owns(session *ClassroomSession) bool {
	if session == nil {
		return false
	}
	return a.IsElevated() || (a.Role == RoleTeacher && session.TeacherID == a.ID)
}

// LanguageList is an ordered set of language codes stored as a JSON array column
type LanguageList []string

// Value implements driver.Valuer
func (l LanguageList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (l *LanguageList) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = LanguageList{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into LanguageList", src)
	}
	var langs []string
	if err := json.Unmarshal(data, &langs); err != nil {
		return fmt.Errorf("failed to unmarshal language list: %w", err)
	}
	*l = langs
	return nil
}

// Contains reports whether code is in the list
func (l LanguageList) Contains(code string) bool {
	for _, c := range l {
		if c == code {
			return true
		}
	}
	return false
}

// ClassroomSession is one continuous live broadcast owned by one teacher.
// Only Status and EndTime change after creation.
type ClassroomSession struct {
	ID              string        `json:"id" db:"id"`
	TeacherID       string        `json:"teacher_id" db:"teacher_id"`
	TeacherName     string        `json:"teacher_name" db:"teacher_name"`
	ClassID         string        `json:"class_id" db:"class_id"`
	SubjectID       string        `json:"subject_id" db:"subject_id"`
	SourceLanguage  string        `json:"source_language" db:"source_language"`
	TargetLanguages LanguageList  `json:"target_languages" db:"target_languages"`
	Status          SessionStatus `json:"status" db:"status"`
	StartTime       time.Time     `json:"start_time" db:"start_time"`
	EndTime         *time.Time    `json:"end_time,omitempty" db:"end_time"`
}

// FanOutTargets returns the session's target languages without the given source language
func (s *ClassroomSession) FanOutTargets(source string) []string {
	targets := make([]string, 0, len(s.TargetLanguages))
	seen := map[string]bool{source: true}
	for _, lang := range s.TargetLanguages {
		if seen[lang] {
			continue
		}
		seen[lang] = true
		targets = append(targets, lang)
	}
	return targets
}

// TranscriptSegment is one unit of recognized speech with a session-scoped sequence number.
// Immutable once created; translations are stored as separate records.
type TranscriptSegment struct {
	ID           string    `json:"id" db:"id"`
	SessionID    string    `json:"session_id" db:"session_id"`
	Sequence     int64     `json:"sequence" db:"sequence"`
	OriginalText string    `json:"original_text" db:"original_text"`
	Language     string    `json:"language" db:"language"`
	Confidence   *float64  `json:"confidence,omitempty" db:"confidence"`
	Timestamp    time.Time `json:"timestamp" db:"timestamp"`
}

// TranslationRecord is the translation of one transcript into one target language.
// (TranscriptID, Language) is unique.
type TranslationRecord struct {
	TranscriptID   string    `json:"transcript_id" db:"transcript_id"`
	Language       string    `json:"language" db:"language"`
	TranslatedText string    `json:"translated_text" db:"translated_text"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// TranscriptView is a transcript together with every translation known for it,
// including the identity mapping for its own language
type TranscriptView struct {
	TranscriptSegment
	Translations map[string]string `json:"translations"`
}

// NewTranscriptView merges the identity translation with the stored records
func NewTranscriptView(segment *TranscriptSegment, records []*TranslationRecord) *TranscriptView {
	translations := map[string]string{segment.Language: segment.OriginalText}
	for _, rec := range records {
		if rec.TranscriptID == segment.ID {
			translations[rec.Language] = rec.TranslatedText
		}
	}
	return &TranscriptView{TranscriptSegment: *segment, Translations: translations}
}

// Participant is the in-memory presence record of a student holding an open channel
type Participant struct {
	SessionID     string    `json:"session_id"`
	StudentID     string    `json:"student_id"`
	Name          string    `json:"name"`
	PreferredLang string    `json:"preferred_lang"`
	JoinedAt      time.Time `json:"joined_at"`
}

// SessionFilter narrows a session listing
type SessionFilter struct {
	TeacherID string
	Status    SessionStatus
	ClassID   string
}

// TranscriptPage selects a window of transcripts ordered by sequence ascending
type TranscriptPage struct {
	AfterSequence int64
	Limit         int
}

// Default and maximum transcript page sizes
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Normalize clamps the page limit into its allowed range
func (p TranscriptPage) Normalize() TranscriptPage {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.AfterSequence < 0 {
		p.AfterSequence = 0
	}
	return p
}

// SessionParams carries the teacher-supplied fields of a new session
type SessionParams struct {
	ClassID         string   `json:"class_id" validate:"required,max=64"`
	SubjectID       string   `json:"subject_id" validate:"required,max=64"`
	SourceLanguage  string   `json:"source_language" validate:"required,langcode"`
	TargetLanguages []string `json:"target_languages" validate:"dive,langcode"`
}
