package audit

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id           TEXT PRIMARY KEY,
	action       TEXT NOT NULL,
	subject_id   TEXT NOT NULL DEFAULT '',
	subject_name TEXT NOT NULL DEFAULT '',
	detail       TEXT NOT NULL DEFAULT '',
	success      INTEGER NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL
);
`

// SQLiteSink appends audit entries to an append-only SQLite table.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (or creates) the audit database at dbPath.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteSink) Close() error { return s.db.Close() }

// Append records one entry. The caller is expected to discard the error.
func (s *SQLiteSink) Append(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO audit_log
			(id, action, subject_id, subject_name, detail, success, error, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		uuid.NewString(), e.Action, e.SubjectID, e.SubjectName, e.Detail,
		boolInt(e.Success), e.Error, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLiteSink) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT action, subject_id, subject_name, detail, success, error, created_at
		FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var success int
		if err := rows.Scan(&e.Action, &e.SubjectID, &e.SubjectName, &e.Detail,
			&success, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Success = success != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
