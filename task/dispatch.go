package task

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/fleetsmith/armada/fleet"
	"github.com/fleetsmith/armada/shell"
)

// PollState is the observed state of a dispatched task's artifacts.
type PollState string

const (
	PollRunning   PollState = "running"
	PollCompleted PollState = "completed"
	PollFailed    PollState = "failed"
)

// PollResult carries the artifact found by a poll, if any.
type PollResult struct {
	State  PollState
	Output string // result content on completed, error content on failed
}

// Channel delivers task instructions into agent workspaces and reads back
// result artifacts. The protocol is a file drop: instructions land at
// <workspace>/memory/tasks/<id>.md and the agent answers by writing
// <id>.result.md or <id>.error.md next to it. Delivery is at-least-once
// (re-dispatch overwrites the instruction file) and polling is
// side-effect-free.
type Channel struct {
	dial fleet.Dialer
}

// NewChannel creates a dispatch channel over the given executor dialer.
func NewChannel(dial fleet.Dialer) *Channel {
	return &Channel{dial: dial}
}

func taskDir(a *fleet.Agent) string {
	return path.Join(a.Workspace, "memory", "tasks")
}

// InstructionPath returns where a task's instruction file lands in the
// agent's workspace.
func InstructionPath(a *fleet.Agent, taskID string) string {
	return path.Join(taskDir(a), taskID+".md")
}

func resultPath(a *fleet.Agent, taskID string) string {
	return path.Join(taskDir(a), taskID+".result.md")
}

func errorPath(a *fleet.Agent, taskID string) string {
	return path.Join(taskDir(a), taskID+".error.md")
}

// Deliver renders the task's instruction document and writes it to the
// agent's workspace.
func (c *Channel) Deliver(ctx context.Context, t *Task, a *fleet.Agent) error {
	exec, err := c.dial(a)
	if err != nil {
		return fmt.Errorf("dial agent %s: %w", a.ID, err)
	}
	defer exec.Close() //nolint:errcheck

	doc := RenderInstructions(t)
	if err := exec.PutContent(ctx, doc, InstructionPath(a, t.ID)); err != nil {
		return fmt.Errorf("deliver task %s to %s: %w", t.ID, a.ID, err)
	}
	return nil
}

// Poll checks the agent workspace for a result or error artifact. The
// result file is checked first; a worker that writes both is observed as
// completed, so workers must treat the two as mutually exclusive.
func (c *Channel) Poll(ctx context.Context, taskID string, a *fleet.Agent) (*PollResult, error) {
	exec, err := c.dial(a)
	if err != nil {
		return nil, fmt.Errorf("dial agent %s: %w", a.ID, err)
	}
	defer exec.Close() //nolint:errcheck

	if content, ok, err := readFile(ctx, exec, resultPath(a, taskID)); err != nil {
		return nil, err
	} else if ok {
		return &PollResult{State: PollCompleted, Output: content}, nil
	}

	if content, ok, err := readFile(ctx, exec, errorPath(a, taskID)); err != nil {
		return nil, err
	} else if ok {
		return &PollResult{State: PollFailed, Output: content}, nil
	}

	return &PollResult{State: PollRunning}, nil
}

// readFile reads a remote file, reporting ok=false when it does not exist.
func readFile(ctx context.Context, exec shell.Executor, p string) (string, bool, error) {
	res, err := exec.Exec(ctx, fmt.Sprintf("cat %q 2>/dev/null", p))
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", p, err)
	}
	if res.ExitCode != 0 {
		return "", false, nil
	}
	return res.Stdout, true, nil
}

// RenderInstructions produces the markdown document dropped into the
// agent's workspace. The trailer states the response contract: write
// exactly one of <id>.result.md or <id>.error.md.
func RenderInstructions(t *Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task: %s\n\n", t.Title)
	fmt.Fprintf(&b, "- ID: %s\n", t.ID)
	fmt.Fprintf(&b, "- Status: %s\n", t.Status)
	fmt.Fprintf(&b, "- Requested by: %s\n", t.RequestedBy)
	fmt.Fprintf(&b, "- Created: %s\n", t.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if t.TimeoutSeconds > 0 {
		fmt.Fprintf(&b, "- Timeout: %d seconds\n", t.TimeoutSeconds)
	}
	if len(t.RequiredCapabilities) > 0 {
		fmt.Fprintf(&b, "- Required capabilities: %s\n", strings.Join(t.RequiredCapabilities, ", "))
	}
	fmt.Fprintf(&b, "\n## Description\n\n%s\n", t.Description)
	fmt.Fprintf(&b, `
## Responding

When you finish this task, write your outcome next to this file:

- %s.result.md with the result, on success
- %s.error.md with what went wrong, on failure

Write exactly one of the two, exactly once.
`, t.ID, t.ID)
	return b.String()
}
