// Package task implements the delegated-work core: the task lifecycle and
// SQLite store, the capability routing engine, the drop-file dispatch
// channel, and the timeout enforcer.
package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ErrNotFound is returned when a task ID does not exist in the store.
var ErrNotFound = errors.New("task not found")

// ErrTerminal is returned when an operation targets a task that has
// already reached a terminal state.
var ErrTerminal = errors.New("task is in a terminal state")

// Task is a unit of delegated work. Title, Description, RequestedBy,
// RequiredCapabilities, and TimeoutSeconds are immutable after creation;
// everything else is mutated only through the orchestrator or the timeout
// enforcer. In a terminal state exactly one of Result/Error is populated.
type Task struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	RequestedBy          string     `json:"requested_by"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	TimeoutSeconds       int        `json:"timeout_seconds,omitempty"`
	AssignedTo           string     `json:"assigned_to,omitempty"`
	AssignedToName       string     `json:"assigned_to_name,omitempty"`
	RoutingReason        string     `json:"routing_reason,omitempty"`
	Status               Status     `json:"status"`
	Result               string     `json:"result,omitempty"`
	Error                string     `json:"error,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	AssignedAt           *time.Time `json:"assigned_at,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
}

// Store persists and retrieves tasks.
type Store interface {
	// Create persists a new task and returns its assigned ID.
	Create(t *Task) (string, error)

	// Get retrieves a task by ID.
	Get(id string) (*Task, error)

	// Update saves changes to an existing task.
	Update(t *Task) error

	// List returns tasks matching the given filter.
	List(filter Filter) ([]*Task, error)
}

// Filter controls which tasks are returned by List.
type Filter struct {
	Status     *Status `json:"status,omitempty"`
	AssignedTo string  `json:"assigned_to,omitempty"`
	Limit      int     `json:"limit,omitempty"`
	Offset     int     `json:"offset,omitempty"`
}
