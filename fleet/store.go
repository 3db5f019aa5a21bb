package fleet

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned when an agent ID is not in the roster.
var ErrNotFound = errors.New("agent not found")

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	host         TEXT NOT NULL DEFAULT '',
	port         INTEGER NOT NULL DEFAULT 0,
	user         TEXT NOT NULL DEFAULT '',
	workspace    TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'unknown',
	role         TEXT NOT NULL DEFAULT '',
	capabilities TEXT NOT NULL DEFAULT '[]',
	description  TEXT NOT NULL DEFAULT '',
	session_key  TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	last_seen    DATETIME
);
`

// SQLiteStore persists agents in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the agents table exists. The caller is responsible for calling Close.
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

// Register persists a new agent and sets its ID and CreatedAt.
func (s *SQLiteStore) Register(a *Agent) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusUnknown
	}
	a.CreatedAt = time.Now().UTC()

	caps, _ := json.Marshal(a.Capabilities)

	_, err := s.db.Exec(`
		INSERT INTO agents
			(id, name, host, port, user, workspace, status, role,
			 capabilities, description, session_key, created_at, last_seen)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Host, a.Port, a.User, a.Workspace,
		string(a.Status), a.Role,
		string(caps), a.Description, a.SessionKey,
		a.CreatedAt, nullTime(a.LastSeen),
	)
	if err != nil {
		return "", fmt.Errorf("insert agent: %w", err)
	}
	return a.ID, nil
}

// Get retrieves an agent by ID.
func (s *SQLiteStore) Get(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT * FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return a, err
}

// List returns all agents in registration order.
func (s *SQLiteStore) List() ([]*Agent, error) {
	rows, err := s.db.Query(`SELECT * FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// Update saves changes to an existing agent.
func (s *SQLiteStore) Update(a *Agent) error {
	caps, _ := json.Marshal(a.Capabilities)

	res, err := s.db.Exec(`
		UPDATE agents SET
			name=?, host=?, port=?, user=?, workspace=?, status=?, role=?,
			capabilities=?, description=?, session_key=?, last_seen=?
		WHERE id=?`,
		a.Name, a.Host, a.Port, a.User, a.Workspace, string(a.Status), a.Role,
		string(caps), a.Description, a.SessionKey, nullTime(a.LastSeen),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("agent %s: %w", a.ID, ErrNotFound)
	}
	return nil
}

// Remove deletes an agent by ID.
func (s *SQLiteStore) Remove(id string) error {
	res, err := s.db.Exec("DELETE FROM agents WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanAgent.
type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(s scanner) (*Agent, error) {
	var a Agent
	var status, capsJSON string
	var lastSeen sql.NullTime

	err := s.Scan(
		&a.ID, &a.Name, &a.Host, &a.Port, &a.User, &a.Workspace,
		&status, &a.Role, &capsJSON, &a.Description, &a.SessionKey,
		&a.CreatedAt, &lastSeen,
	)
	if err != nil {
		return nil, err
	}

	a.Status = Status(status)
	_ = json.Unmarshal([]byte(capsJSON), &a.Capabilities)
	if lastSeen.Valid {
		a.LastSeen = &lastSeen.Time
	}
	return &a, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
