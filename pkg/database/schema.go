package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"sessions":          "Classroom session storage",
		"transcripts":       "Sequenced transcript storage",
		"translations":      "Per-language translation storage",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"sessions": {
			"id":               "TEXT",
			"teacher_id":       "TEXT",
			"teacher_name":     "TEXT",
			"class_id":         "TEXT",
			"subject_id":       "TEXT",
			"source_language":  "TEXT",
			"target_languages": "TEXT",
			"status":           "TEXT",
			"start_time":       "DATETIME",
			"end_time":         "DATETIME",
		},
		"transcripts": {
			"id":            "TEXT",
			"session_id":    "TEXT",
			"sequence":      "INTEGER",
			"original_text": "TEXT",
			"language":      "TEXT",
			"confidence":    "REAL",
			"timestamp":     "DATETIME",
		},
		"translations": {
			"transcript_id":   "TEXT",
			"language":        "TEXT",
			"translated_text": "TEXT",
			"created_at":      "DATETIME",
		},
	}

	for _, table := range []string{"sessions", "transcripts", "translations"} {
		if err := v.validateColumns(table, expected[table]); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}

	return nil
}

// ValidateIndexes verifies that all performance and uniqueness indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_status":     "Session status lookups",
		"idx_sessions_teacher":    "Session ownership queries",
		"idx_sessions_class":      "Class listing",
		"idx_sessions_one_active": "One active session per teacher",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that database constraints are properly enforced.
// Probe rows are written inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Foreign key (transcripts.session_id -> sessions.id)
	if _, err := tx.Exec(`
		INSERT INTO transcripts (id, session_id, sequence, original_text, language)
		VALUES ('probe-t', 'probe-missing', 1, 'x', 'en')
	`); err == nil {
		return fmt.Errorf("foreign key constraint not enforced: transcripts.session_id")
	}

	if _, err := tx.Exec(`
		INSERT INTO sessions (id, teacher_id, class_id, subject_id, source_language, status)
		VALUES ('probe-s1', 'probe-teacher', 'c', 's', 'en', 'ACTIVE')
	`); err != nil {
		return fmt.Errorf("failed to create probe session: %w", err)
	}

	// One ACTIVE session per teacher
	if _, err := tx.Exec(`
		INSERT INTO sessions (id, teacher_id, class_id, subject_id, source_language, status)
		VALUES ('probe-s2', 'probe-teacher', 'c', 's', 'en', 'ACTIVE')
	`); err == nil {
		return fmt.Errorf("unique constraint not enforced: one active session per teacher")
	}

	// Status check constraint
	if _, err := tx.Exec(`
		INSERT INTO sessions (id, teacher_id, class_id, subject_id, source_language, status)
		VALUES ('probe-s3', 'probe-other', 'c', 's', 'en', 'RUNNING')
	`); err == nil {
		return fmt.Errorf("check constraint not enforced: session status")
	}

	// Unique sequence per session
	if _, err := tx.Exec(`
		INSERT INTO transcripts (id, session_id, sequence, original_text, language)
		VALUES ('probe-t1', 'probe-s1', 1, 'x', 'en')
	`); err != nil {
		return fmt.Errorf("failed to create probe transcript: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO transcripts (id, session_id, sequence, original_text, language)
		VALUES ('probe-t2', 'probe-s1', 1, 'y', 'en')
	`); err == nil {
		return fmt.Errorf("unique constraint not enforced: transcripts(session_id, sequence)")
	}

	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, ok := foundColumns[expectedCol]
		if !ok {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
