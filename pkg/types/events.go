package types

import "time"

// Push event types written to every channel as one JSON object per frame
const (
	EventConnected         = "connected"
	EventTranscript        = "transcript"
	EventTranslationUpdate = "translation_update"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventPing              = "ping"
	EventHistoryComplete   = "history_complete"
	EventSessionEnded      = "session_ended"
)

// ConnectedEvent is the handshake sent when a channel opens
type ConnectedEvent struct {
	Type             string   `json:"type"`
	SessionID        string   `json:"sessionId"`
	Role             string   `json:"role"`
	TeacherName      string   `json:"teacherName"`
	SourceLanguage   string   `json:"sourceLanguage"`
	TargetLanguages  []string `json:"targetLanguages"`
	ParticipantCount int      `json:"participantCount"`
}

// TranscriptEvent carries a newly sequenced transcript or a replayed one
type TranscriptEvent struct {
	Type         string            `json:"type"`
	ID           string            `json:"id"`
	Sequence     int64             `json:"sequence"`
	OriginalText string            `json:"originalText"`
	Language     string            `json:"language"`
	Translations map[string]string `json:"translations"`
	Confidence   *float64          `json:"confidence"`
	Timestamp    time.Time         `json:"timestamp"`
}

// TranslationUpdateEvent carries one completed translation
type TranslationUpdateEvent struct {
	Type           string `json:"type"`
	TranscriptID   string `json:"transcriptId"`
	Language       string `json:"language"`
	TranslatedText string `json:"translatedText"`
}

// ParticipantJoinedEvent announces a student channel to the rest of the session
type ParticipantJoinedEvent struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participantId"`
	StudentID     string `json:"studentId"`
	Name          string `json:"name"`
	PreferredLang string `json:"preferredLang"`
}

// ParticipantLeftEvent announces a closed student channel
type ParticipantLeftEvent struct {
	Type      string `json:"type"`
	StudentID string `json:"studentId"`
}

// SignalEvent is a payload-free event (ping, history_complete, session_ended)
type SignalEvent struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Envelope is the union of every push event field; clients decode frames into it
// and dispatch on Type
type Envelope struct {
	Type string `json:"type"`

	// connected
	SessionID        string   `json:"sessionId,omitempty"`
	Role             string   `json:"role,omitempty"`
	TeacherName      string   `json:"teacherName,omitempty"`
	SourceLanguage   string   `json:"sourceLanguage,omitempty"`
	TargetLanguages  []string `json:"targetLanguages,omitempty"`
	ParticipantCount int      `json:"participantCount,omitempty"`

	// transcript
	ID           string            `json:"id,omitempty"`
	Sequence     int64             `json:"sequence,omitempty"`
	OriginalText string            `json:"originalText,omitempty"`
	Language     string            `json:"language,omitempty"`
	Translations map[string]string `json:"translations,omitempty"`
	Confidence   *float64          `json:"confidence,omitempty"`
	Timestamp    time.Time         `json:"timestamp,omitempty"`

	// translation_update
	TranscriptID   string `json:"transcriptId,omitempty"`
	TranslatedText string `json:"translatedText,omitempty"`

	// participant_joined / participant_left
	ParticipantID string `json:"participantId,omitempty"`
	StudentID     string `json:"studentId,omitempty"`
	Name          string `json:"name,omitempty"`
	PreferredLang string `json:"preferredLang,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// NewConnectedEvent builds the handshake for a channel
func NewConnectedEvent(session *ClassroomSession, role string, participantCount int) *ConnectedEvent {
	targets := make([]string, len(session.TargetLanguages))
	copy(targets, session.TargetLanguages)
	return &ConnectedEvent{
		Type:             EventConnected,
		SessionID:        session.ID,
		Role:             role,
		TeacherName:      session.TeacherName,
		SourceLanguage:   session.SourceLanguage,
		TargetLanguages:  targets,
		ParticipantCount: participantCount,
	}
}

// NewTranscriptEvent builds a transcript event from a view
func NewTranscriptEvent(view *TranscriptView) *TranscriptEvent {
	translations := make(map[string]string, len(view.Translations))
	for lang, text := range view.Translations {
		translations[lang] = text
	}
	return &TranscriptEvent{
		Type:         EventTranscript,
		ID:           view.ID,
		Sequence:     view.Sequence,
		OriginalText: view.OriginalText,
		Language:     view.Language,
		Translations: translations,
		Confidence:   view.Confidence,
		Timestamp:    view.Timestamp,
	}
}

// NewTranslationUpdateEvent builds a translation_update event from a record
func NewTranslationUpdateEvent(rec *TranslationRecord) *TranslationUpdateEvent {
	return &TranslationUpdateEvent{
		Type:           EventTranslationUpdate,
		TranscriptID:   rec.TranscriptID,
		Language:       rec.Language,
		TranslatedText: rec.TranslatedText,
	}
}

// NewParticipantJoinedEvent builds a participant_joined event
func NewParticipantJoinedEvent(p *Participant) *ParticipantJoinedEvent {
	return &ParticipantJoinedEvent{
		Type:          EventParticipantJoined,
		ParticipantID: p.SessionID + ":" + p.StudentID,
		StudentID:     p.StudentID,
		Name:          p.Name,
		PreferredLang: p.PreferredLang,
	}
}

// NewParticipantLeftEvent builds a participant_left event
func NewParticipantLeftEvent(studentID string) *ParticipantLeftEvent {
	return &ParticipantLeftEvent{Type: EventParticipantLeft, StudentID: studentID}
}

// PingEvent is the heartbeat frame
var PingEvent = &SignalEvent{Type: EventPing}
