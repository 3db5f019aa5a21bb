package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetsmith/armada/audit"
	"github.com/fleetsmith/armada/fleet"
	"github.com/fleetsmith/armada/policy"
)

// ErrPolicyDenied is returned when the policy gate blocks an operation.
// The denial has already been audited by the time the caller sees it.
type ErrPolicyDenied struct {
	Action string
	Reason string
}

func (e *ErrPolicyDenied) Error() string {
	return fmt.Sprintf("policy denied %s: %s", e.Action, e.Reason)
}

// ErrNotDispatchable is returned when dispatch is attempted on a task that
// is neither assigned nor running.
var ErrNotDispatchable = fmt.Errorf("task must be assigned before dispatch")

// DefaultPollInterval is the re-poll cadence used by PollWait.
const DefaultPollInterval = 10 * time.Second

// CreateRequest carries the caller-supplied fields of a new task.
type CreateRequest struct {
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	RequestedBy          string   `json:"requested_by"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
	TimeoutSeconds       int      `json:"timeout_seconds,omitempty"`
}

// Orchestrator ties the task store, routing engine, dispatch channel,
// policy gate, and audit sink together behind the lifecycle operations.
type Orchestrator struct {
	store   Store
	roster  fleet.Store
	channel *Channel
	gate    *policy.Engine
	sink    audit.Sink
	logger  *slog.Logger

	now func() time.Time
}

// NewOrchestrator wires up an Orchestrator. The audit sink and policy
// engine must be non-nil; use audit.NopSink and an empty rule set to opt
// out.
func NewOrchestrator(store Store, roster fleet.Store, channel *Channel,
	gate *policy.Engine, sink audit.Sink, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:   store,
		roster:  roster,
		channel: channel,
		gate:    gate,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
	}
}

// record appends an audit entry, discarding sink failures per the audit
// contract.
func (o *Orchestrator) record(e audit.Entry) {
	if err := o.sink.Append(e); err != nil {
		o.logger.Warn("audit append failed", slog.Any("err", err))
	}
}

// Create validates the request and persists a new pending task.
func (o *Orchestrator) Create(req CreateRequest) (*Task, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if req.RequestedBy == "" {
		return nil, fmt.Errorf("task requester is required")
	}
	t := &Task{
		Title:                req.Title,
		Description:          req.Description,
		RequestedBy:          req.RequestedBy,
		RequiredCapabilities: req.RequiredCapabilities,
		TimeoutSeconds:       req.TimeoutSeconds,
		Status:               StatusPending,
	}
	if _, err := o.store.Create(t); err != nil {
		return nil, err
	}
	o.logger.Info("task created",
		slog.String("task", t.ID), slog.String("title", t.Title))
	return t, nil
}

// Assign sets the task's worker and moves it to assigned. Re-assignment of
// a non-terminal task overwrites the previous assignment.
func (o *Orchestrator) Assign(taskID, agentID, agentName, reason string) (*Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("assign task %s: %w", taskID, ErrTerminal)
	}

	now := o.now().UTC()
	t.AssignedTo = agentID
	t.AssignedToName = agentName
	t.RoutingReason = reason
	t.Status = StatusAssigned
	t.AssignedAt = &now

	if err := o.store.Update(t); err != nil {
		return nil, err
	}
	o.logger.Info("task assigned",
		slog.String("task", t.ID), slog.String("agent", agentID),
		slog.String("reason", reason))
	return t, nil
}

// Route is a dry run: it scores the current roster against the task
// without mutating anything.
func (o *Orchestrator) Route(taskID string) ([]Candidate, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	roster, err := o.roster.List()
	if err != nil {
		return nil, err
	}
	return Route(t, roster), nil
}

// AutoAssign routes the task against the roster and assigns the best
// match. When no agent scores above zero the task stays pending and
// ok=false is returned; that is not an error.
func (o *Orchestrator) AutoAssign(taskID string) (*Task, bool, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, false, err
	}
	roster, err := o.roster.List()
	if err != nil {
		return nil, false, err
	}
	best, ok := BestRoute(t, roster)
	if !ok {
		o.logger.Info("no routing match", slog.String("task", t.ID))
		return t, false, nil
	}
	t, err = o.Assign(t.ID, best.Agent.ID, best.Agent.Name, best.Reason)
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// Dispatch delivers the task's instructions to its assigned agent and
// moves it to running. The policy gate is consulted first and every
// attempt is audited. A delivery failure leaves the task assigned so the
// caller can retry without re-routing. Re-dispatching a running task is
// permitted; delivery overwrites the instruction file.
func (o *Orchestrator) Dispatch(ctx context.Context, taskID string) (*Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusAssigned && t.Status != StatusRunning {
		return nil, fmt.Errorf("dispatch task %s (status %s): %w", taskID, t.Status, ErrNotDispatchable)
	}

	a, err := o.roster.Get(t.AssignedTo)
	if err != nil {
		return nil, fmt.Errorf("dispatch task %s: %w", taskID, err)
	}

	decision := o.gate.Evaluate("task.dispatch", a.ID)
	if !decision.Allowed {
		o.record(audit.Entry{
			Action: "task.dispatch", SubjectID: a.ID, SubjectName: a.Name,
			Detail: t.ID, Success: false, Error: decision.Reason,
		})
		return nil, &ErrPolicyDenied{Action: "task.dispatch", Reason: decision.Reason}
	}

	if err := o.channel.Deliver(ctx, t, a); err != nil {
		o.record(audit.Entry{
			Action: "task.dispatch", SubjectID: a.ID, SubjectName: a.Name,
			Detail: t.ID, Success: false, Error: err.Error(),
		})
		return nil, fmt.Errorf("dispatch task %s: %w", taskID, err)
	}

	t.Status = StatusRunning
	if err := o.store.Update(t); err != nil {
		return nil, err
	}

	o.record(audit.Entry{
		Action: "task.dispatch", SubjectID: a.ID, SubjectName: a.Name,
		Detail: t.ID, Success: true,
	})
	o.logger.Info("task dispatched",
		slog.String("task", t.ID), slog.String("agent", a.ID))
	return t, nil
}

// Poll checks the agent workspace for a result artifact. Finding one
// persists the terminal transition; finding none returns the task
// unchanged with status running.
func (o *Orchestrator) Poll(ctx context.Context, taskID string) (*Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return t, nil
	}
	a, err := o.roster.Get(t.AssignedTo)
	if err != nil {
		return nil, fmt.Errorf("poll task %s: %w", taskID, err)
	}

	res, err := o.channel.Poll(ctx, t.ID, a)
	if err != nil {
		// Transport failure: the task is still considered running.
		return nil, fmt.Errorf("poll task %s: %w", taskID, err)
	}

	switch res.State {
	case PollCompleted:
		return o.finish(t, StatusCompleted, res.Output, "")
	case PollFailed:
		return o.finish(t, StatusFailed, "", res.Output)
	default:
		return t, nil
	}
}

// PollWait re-polls at interval until the task reaches a terminal state or
// the wait budget is exhausted. On exhaustion the task is returned still
// running; only the timeout enforcer or an agent response terminates it.
func (o *Orchestrator) PollWait(ctx context.Context, taskID string, interval, budget time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := o.now().Add(budget)
	for {
		t, err := o.Poll(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if t.Status.Terminal() {
			return t, nil
		}
		if !o.now().Add(interval).Before(deadline) {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Complete is a manual terminal override from any non-terminal status.
func (o *Orchestrator) Complete(taskID, result string) (*Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("complete task %s: %w", taskID, ErrTerminal)
	}
	return o.finish(t, StatusCompleted, result, "")
}

// Fail is a manual terminal override from any non-terminal status.
func (o *Orchestrator) Fail(taskID, message string) (*Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("fail task %s: %w", taskID, ErrTerminal)
	}
	return o.finish(t, StatusFailed, "", message)
}

// Cancel terminates a pending, assigned, or running task.
func (o *Orchestrator) Cancel(taskID string) (*Task, error) {
	t, err := o.store.Get(taskID)
	if err != nil {
		return nil, err
	}
	if t.Status.Terminal() {
		return nil, fmt.Errorf("cancel task %s: %w", taskID, ErrTerminal)
	}
	now := o.now().UTC()
	t.Status = StatusCancelled
	t.CompletedAt = &now
	if err := o.store.Update(t); err != nil {
		return nil, err
	}
	o.logger.Info("task cancelled", slog.String("task", t.ID))
	return t, nil
}

// Get returns a task by ID.
func (o *Orchestrator) Get(taskID string) (*Task, error) {
	return o.store.Get(taskID)
}

// List returns tasks matching the filter.
func (o *Orchestrator) List(filter Filter) ([]*Task, error) {
	return o.store.List(filter)
}

// finish persists a terminal transition, setting exactly one of
// result/error and stamping CompletedAt.
func (o *Orchestrator) finish(t *Task, status Status, result, errMsg string) (*Task, error) {
	now := o.now().UTC()
	t.Status = status
	t.Result = result
	t.Error = errMsg
	t.CompletedAt = &now
	if err := o.store.Update(t); err != nil {
		return nil, err
	}
	o.logger.Info("task finished",
		slog.String("task", t.ID), slog.String("status", string(status)))
	return t, nil
}
