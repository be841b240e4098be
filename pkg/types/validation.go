package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
var (
	userIDRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	languageRegex = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z0-9]{2,8})*$`)
)

// MaxTranscriptLength bounds one transcript segment in characters
const MaxTranscriptLength = 5000

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidLanguage checks a BCP-47 style language code (en, hi, pt-BR, zh-Hant)
func IsValidLanguage(code string) bool {
	if len(code) < 2 || len(code) > 35 {
		return false
	}
	return languageRegex.MatchString(code)
}

// IsValidRole checks the role carried by the identity gateway
func IsValidRole(role string) bool {
	switch role {
	case RoleTeacher, RoleStudent, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsValidAction checks a lifecycle action name
func IsValidAction(action Action) bool {
	switch action {
	case ActionPause, ActionResume, ActionEnd:
		return true
	default:
		return false
	}
}

// NormalizeLanguage lower-cases the primary subtag and keeps region subtags as given
func NormalizeLanguage(code string) string {
	code = strings.TrimSpace(code)
	if i := strings.IndexByte(code, '-'); i > 0 {
		return strings.ToLower(code[:i]) + code[i:]
	}
	return strings.ToLower(code)
}

// NormalizeLanguages normalizes, validates and deduplicates a list keeping first-seen order
func NormalizeLanguages(codes []string) (LanguageList, error) {
	seen := make(map[string]bool, len(codes))
	out := make(LanguageList, 0, len(codes))
	for _, code := range codes {
		code = NormalizeLanguage(code)
		if !IsValidLanguage(code) {
			return nil, ErrInvalidLanguage
		}
		if seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out, nil
}

// Validate checks the identity of an actor
func (a Actor) Validate() error {
	if !IsValidUserID(a.ID) {
		return ErrInvalidUserID
	}
	if !IsValidRole(a.Role) {
		return ErrInvalidRole
	}
	return nil
}

// Validate ensures the session meets all requirements before persistence
func (s *ClassroomSession) Validate() error {
	if !IsValidUserID(s.TeacherID) {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(s.ClassID) == "" {
		return ErrMissingClassID
	}
	if strings.TrimSpace(s.SubjectID) == "" {
		return ErrMissingSubjectID
	}
	if !IsValidLanguage(s.SourceLanguage) {
		return ErrInvalidLanguage
	}
	for _, lang := range s.TargetLanguages {
		if !IsValidLanguage(lang) {
			return ErrInvalidLanguage
		}
	}
	return nil
}

// ValidateTranscriptInput checks ingestion input
func ValidateTranscriptInput(text, language string, confidence *float64) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(trimmed) > MaxTranscriptLength {
		return ErrTextTooLong
	}
	if !IsValidLanguage(language) {
		return ErrInvalidLanguage
	}
	if confidence != nil && (*confidence < 0 || *confidence > 1) {
		return ErrInvalidConfidence
	}
	return nil
}
