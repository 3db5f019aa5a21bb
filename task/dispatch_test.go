package task

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fleetsmith/armada/fleet"
	"github.com/fleetsmith/armada/shell"
)

func localChannel() *Channel {
	return NewChannel(func(*fleet.Agent) (shell.Executor, error) {
		return shell.NewLocalExecutor(), nil
	})
}

func localAgent(t *testing.T) *fleet.Agent {
	t.Helper()
	return &fleet.Agent{ID: "local", Name: "local", Workspace: t.TempDir()}
}

func TestChannel_DeliverWritesInstructions(t *testing.T) {
	ch := localChannel()
	a := localAgent(t)
	task := &Task{
		ID:             "t-1",
		Title:          "summarize the audit log",
		Description:    "list every failed action from last week",
		RequestedBy:    "operator",
		Status:         StatusAssigned,
		TimeoutSeconds: 120,
		CreatedAt:      time.Now().UTC(),
	}

	if err := ch.Deliver(context.Background(), task, a); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	data, err := os.ReadFile(InstructionPath(a, task.ID))
	if err != nil {
		t.Fatalf("read instructions: %v", err)
	}
	doc := string(data)
	for _, want := range []string{
		"summarize the audit log",
		"t-1.result.md",
		"t-1.error.md",
		"Timeout: 120 seconds",
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("instructions missing %q", want)
		}
	}
}

func TestChannel_PollStates(t *testing.T) {
	ch := localChannel()
	a := localAgent(t)
	ctx := context.Background()

	res, err := ch.Poll(ctx, "t-2", a)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.State != PollRunning {
		t.Fatalf("State = %s, want running before any artifact", res.State)
	}

	exec := shell.NewLocalExecutor()
	if err := exec.PutContent(ctx, "done: 42", resultPath(a, "t-2")); err != nil {
		t.Fatalf("write result: %v", err)
	}
	res, err = ch.Poll(ctx, "t-2", a)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.State != PollCompleted || res.Output != "done: 42" {
		t.Fatalf("res = %+v, want completed with output", res)
	}
}

func TestChannel_PollError(t *testing.T) {
	ch := localChannel()
	a := localAgent(t)
	ctx := context.Background()

	exec := shell.NewLocalExecutor()
	if err := exec.PutContent(ctx, "disk full", errorPath(a, "t-3")); err != nil {
		t.Fatalf("write error file: %v", err)
	}

	res, err := ch.Poll(ctx, "t-3", a)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.State != PollFailed || res.Output != "disk full" {
		t.Fatalf("res = %+v, want failed with error content", res)
	}
}

func TestChannel_PollResultWinsOverError(t *testing.T) {
	ch := localChannel()
	a := localAgent(t)
	ctx := context.Background()

	exec := shell.NewLocalExecutor()
	if err := exec.PutContent(ctx, "ok", resultPath(a, "t-4")); err != nil {
		t.Fatalf("write result: %v", err)
	}
	if err := exec.PutContent(ctx, "boom", errorPath(a, "t-4")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	res, err := ch.Poll(ctx, "t-4", a)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if res.State != PollCompleted {
		t.Fatalf("State = %s, want completed when both artifacts exist", res.State)
	}
}

func TestRenderInstructions_ResponseContract(t *testing.T) {
	task := &Task{
		ID:          "abc",
		Title:       "t",
		RequestedBy: "op",
		Status:      StatusAssigned,
		CreatedAt:   time.Now().UTC(),
	}
	doc := RenderInstructions(task)
	if !strings.Contains(doc, "Write exactly one of the two, exactly once.") {
		t.Error("instructions missing the response contract trailer")
	}
}
