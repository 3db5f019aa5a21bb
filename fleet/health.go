package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fleetsmith/armada/shell"
)

// Dialer opens an executor connection to an agent host.
type Dialer func(a *Agent) (shell.Executor, error)

// CheckResult is the outcome of probing one agent.
type CheckResult struct {
	AgentID string
	Status  Status
	Err     error
}

// HealthChecker probes fleet agents over their executor channel and
// records the observed status in the roster.
type HealthChecker struct {
	store  Store
	dial   Dialer
	logger *slog.Logger

	// BatchSize bounds how many agents are probed concurrently. BatchPause
	// is an optional delay between batches so host load can settle before
	// the next batch starts.
	BatchSize  int
	BatchPause time.Duration
}

// NewHealthChecker creates a HealthChecker over the given roster and dialer.
func NewHealthChecker(store Store, dial Dialer, logger *slog.Logger) *HealthChecker {
	return &HealthChecker{
		store:     store,
		dial:      dial,
		logger:    logger,
		BatchSize: 4,
	}
}

// CheckAll probes every agent in the roster in fixed-size batches and
// updates each agent's status and last-seen timestamp. Individual probe
// failures mark the agent offline and are collected in the results; they
// never abort the remaining batches.
func (h *HealthChecker) CheckAll(ctx context.Context) ([]CheckResult, error) {
	agents, err := h.store.List()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	batch := h.BatchSize
	if batch <= 0 {
		batch = 1
	}

	var results []CheckResult
	for start := 0; start < len(agents); start += batch {
		end := start + batch
		if end > len(agents) {
			end = len(agents)
		}

		chunk := agents[start:end]
		out := make([]CheckResult, len(chunk))
		var wg sync.WaitGroup
		for i, a := range chunk {
			wg.Add(1)
			go func(i int, a *Agent) {
				defer wg.Done()
				out[i] = h.checkOne(ctx, a)
			}(i, a)
		}
		wg.Wait()
		results = append(results, out...)

		if h.BatchPause > 0 && end < len(agents) {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(h.BatchPause):
			}
		}
	}
	return results, nil
}

// checkOne probes a single agent and persists the observed status.
func (h *HealthChecker) checkOne(ctx context.Context, a *Agent) CheckResult {
	status, err := h.probe(ctx, a)

	a.Status = status
	if status != StatusOffline {
		now := time.Now().UTC()
		a.LastSeen = &now
	}
	if uerr := h.store.Update(a); uerr != nil {
		h.logger.Error("persist agent status",
			slog.String("agent", a.ID), slog.Any("err", uerr))
		if err == nil {
			err = uerr
		}
	}

	h.logger.Info("health check",
		slog.String("agent", a.ID), slog.String("status", string(status)))
	return CheckResult{AgentID: a.ID, Status: status, Err: err}
}

// probe connects to the agent, runs a trivial command, and verifies that
// its workspace exists. Unreachable means offline; reachable without a
// workspace means degraded.
func (h *HealthChecker) probe(ctx context.Context, a *Agent) (Status, error) {
	exec, err := h.dial(a)
	if err != nil {
		return StatusOffline, err
	}
	defer exec.Close() //nolint:errcheck

	res, err := exec.Exec(ctx, "echo ok")
	if err != nil || res.ExitCode != 0 {
		if err == nil {
			err = fmt.Errorf("echo probe exit %d: %s", res.ExitCode, res.Stderr)
		}
		return StatusOffline, err
	}

	if a.Workspace != "" {
		res, err = exec.Exec(ctx, fmt.Sprintf("test -d %q", a.Workspace))
		if err != nil {
			return StatusOffline, err
		}
		if res.ExitCode != 0 {
			return StatusDegraded, nil
		}
	}
	return StatusOnline, nil
}
