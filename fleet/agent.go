// Package fleet defines the agent roster model and persistence.
package fleet

import "time"

// Status represents the reachability of an agent host.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
	StatusUnknown  Status = "unknown"
)

// RoleOrchestrator marks the controller itself when registered in the
// roster. Orchestrators are never routing targets.
const RoleOrchestrator = "orchestrator"

// Agent is a registered fleet host that can execute delegated work.
// Capabilities, Description, and SessionKey are always present, empty when
// unset, so routing can read them without nil checks.
type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Host         string    `json:"host,omitempty"`
	Port         int       `json:"port,omitempty"`
	User         string    `json:"user,omitempty"`
	Workspace    string    `json:"workspace"`
	Status       Status    `json:"status"`
	Role         string    `json:"role,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Description  string    `json:"description,omitempty"`
	SessionKey   string    `json:"session_key,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
}

// HasCapability reports whether the agent lists the given capability tag.
func (a *Agent) HasCapability(tag string) bool {
	for _, c := range a.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// Store persists and retrieves fleet agents.
type Store interface {
	// Register persists a new agent and returns its assigned ID.
	Register(a *Agent) (string, error)

	// Get retrieves an agent by ID.
	Get(id string) (*Agent, error)

	// List returns all registered agents in registration order.
	List() ([]*Agent, error)

	// Update saves changes to an existing agent.
	Update(a *Agent) error

	// Remove deletes an agent by ID.
	Remove(id string) error
}
