package task

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetsmith/armada/audit"
)

// Enforcer fails tasks that have exceeded their declared timeout. It is
// the only background sweep in the core: a one-way terminal transition
// with no retries.
type Enforcer struct {
	store  Store
	sink   audit.Sink
	logger *slog.Logger

	now func() time.Time
}

// NewEnforcer creates a timeout Enforcer over the given store.
func NewEnforcer(store Store, sink audit.Sink, logger *slog.Logger) *Enforcer {
	return &Enforcer{store: store, sink: sink, logger: logger, now: time.Now}
}

// Sweep fails every running or assigned task whose elapsed time since
// assignment exceeds its declared timeout, and returns how many tasks were
// timed out. Tasks without a timeout are never touched. Sweeping is
// idempotent: a timed-out task is terminal, so a second sweep without the
// clock advancing finds nothing.
func (e *Enforcer) Sweep() (int, error) {
	now := e.now().UTC()
	var timedOut int

	for _, status := range []Status{StatusRunning, StatusAssigned} {
		st := status
		tasks, err := e.store.List(Filter{Status: &st})
		if err != nil {
			return timedOut, fmt.Errorf("sweep %s tasks: %w", status, err)
		}
		for _, t := range tasks {
			if t.TimeoutSeconds <= 0 {
				continue
			}
			since := t.CreatedAt
			if t.AssignedAt != nil {
				since = *t.AssignedAt
			}
			elapsed := now.Sub(since)
			limit := time.Duration(t.TimeoutSeconds) * time.Second
			if elapsed <= limit {
				continue
			}

			t.Status = StatusFailed
			t.Error = fmt.Sprintf("timed out: %d seconds elapsed, limit %d seconds",
				int(elapsed.Seconds()), t.TimeoutSeconds)
			t.CompletedAt = &now
			if err := e.store.Update(t); err != nil {
				return timedOut, fmt.Errorf("fail timed-out task %s: %w", t.ID, err)
			}
			timedOut++

			if err := e.sink.Append(audit.Entry{
				Action:    "task.timeout",
				SubjectID: t.AssignedTo, SubjectName: t.AssignedToName,
				Detail: t.ID, Success: true, Error: t.Error,
			}); err != nil {
				e.logger.Warn("audit append failed", slog.Any("err", err))
			}
			e.logger.Info("task timed out",
				slog.String("task", t.ID), slog.String("error", t.Error))
		}
	}
	return timedOut, nil
}
