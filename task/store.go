package task

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                    TEXT PRIMARY KEY,
	title                 TEXT NOT NULL,
	description           TEXT NOT NULL,
	requested_by          TEXT NOT NULL DEFAULT '',
	required_capabilities TEXT NOT NULL DEFAULT '[]',
	timeout_seconds       INTEGER NOT NULL DEFAULT 0,
	assigned_to           TEXT NOT NULL DEFAULT '',
	assigned_to_name      TEXT NOT NULL DEFAULT '',
	routing_reason        TEXT NOT NULL DEFAULT '',
	status                TEXT NOT NULL,
	result                TEXT NOT NULL DEFAULT '',
	error                 TEXT NOT NULL DEFAULT '',
	created_at            DATETIME NOT NULL,
	assigned_at           DATETIME,
	completed_at          DATETIME
);
`

// SQLiteStore persists tasks in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the tasks table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create persists a new task and sets its ID and CreatedAt.
func (s *SQLiteStore) Create(t *Task) (string, error) {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()

	caps, _ := json.Marshal(t.RequiredCapabilities)

	_, err := s.db.Exec(`
		INSERT INTO tasks
			(id, title, description, requested_by, required_capabilities, timeout_seconds,
			 assigned_to, assigned_to_name, routing_reason, status, result, error,
			 created_at, assigned_at, completed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, t.Description, t.RequestedBy, string(caps), t.TimeoutSeconds,
		t.AssignedTo, t.AssignedToName, t.RoutingReason, string(t.Status),
		t.Result, t.Error,
		t.CreatedAt, nullTime(t.AssignedAt), nullTime(t.CompletedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return t.ID, nil
}

// Get retrieves a task by ID.
func (s *SQLiteStore) Get(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT * FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// Update saves changes to an existing task.
func (s *SQLiteStore) Update(t *Task) error {
	caps, _ := json.Marshal(t.RequiredCapabilities)

	res, err := s.db.Exec(`
		UPDATE tasks SET
			title=?, description=?, requested_by=?, required_capabilities=?, timeout_seconds=?,
			assigned_to=?, assigned_to_name=?, routing_reason=?, status=?, result=?, error=?,
			assigned_at=?, completed_at=?
		WHERE id=?`,
		t.Title, t.Description, t.RequestedBy, string(caps), t.TimeoutSeconds,
		t.AssignedTo, t.AssignedToName, t.RoutingReason, string(t.Status),
		t.Result, t.Error,
		nullTime(t.AssignedAt), nullTime(t.CompletedAt),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// List returns tasks matching the filter, oldest first.
func (s *SQLiteStore) List(filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString("SELECT * FROM tasks WHERE 1=1")
	args := []any{}

	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	if filter.AssignedTo != "" {
		q.WriteString(" AND assigned_to=?")
		args = append(args, filter.AssignedTo)
	}
	q.WriteString(" ORDER BY created_at ASC, id ASC")
	if filter.Limit > 0 {
		q.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
		if filter.Offset > 0 {
			q.WriteString(fmt.Sprintf(" OFFSET %d", filter.Offset))
		}
	}

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var status, capsJSON string
	var assignedAt, completedAt sql.NullTime

	err := s.Scan(
		&t.ID, &t.Title, &t.Description, &t.RequestedBy, &capsJSON, &t.TimeoutSeconds,
		&t.AssignedTo, &t.AssignedToName, &t.RoutingReason, &status,
		&t.Result, &t.Error,
		&t.CreatedAt, &assignedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	_ = json.Unmarshal([]byte(capsJSON), &t.RequiredCapabilities)

	if assignedAt.Valid {
		t.AssignedAt = &assignedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
