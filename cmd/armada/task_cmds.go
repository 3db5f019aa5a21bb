package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/fleetsmith/armada/task"
)

func (a *app) cmdTask(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: armada task <create|list|info|route|dispatch|poll|complete|fail|cancel>")
	}
	sub := args[0]
	rest := args[1:]

	switch sub {
	case "create":
		return a.taskCreate(rest)
	case "list":
		return a.taskList(rest)
	case "info":
		return a.taskInfo(rest)
	case "route":
		return a.taskRoute(rest)
	case "dispatch":
		return a.taskDispatch(rest)
	case "poll":
		return a.taskPoll(rest)
	case "complete":
		return a.taskFinish(rest, true)
	case "fail":
		return a.taskFinish(rest, false)
	case "cancel":
		return a.taskCancel(rest)
	default:
		return fmt.Errorf("unknown task subcommand: %s", sub)
	}
}

func (a *app) taskCreate(args []string) error {
	fs := flag.NewFlagSet("task create", flag.ContinueOnError)
	desc := fs.String("desc", "", "task description")
	by := fs.String("by", "operator", "requesting identity")
	caps := fs.String("caps", "", "comma-separated required capabilities")
	timeout := fs.Int("timeout", 0, "timeout in seconds (0 = none)")
	noAssign := fs.Bool("no-assign", false, "skip automatic routing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: armada task create <title> [flags]")
	}

	req := task.CreateRequest{
		Title:          strings.Join(fs.Args(), " "),
		Description:    *desc,
		RequestedBy:    *by,
		TimeoutSeconds: *timeout,
	}
	if *caps != "" {
		req.RequiredCapabilities = splitList(*caps)
	}

	t, err := a.orch.Create(req)
	if err != nil {
		return err
	}
	fmt.Printf("created task %s\n", t.ID)

	if !*noAssign {
		t, ok, err := a.orch.AutoAssign(t.ID)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("no suitable agent; task left pending")
			return nil
		}
		fmt.Printf("assigned to %s (%s)\n", t.AssignedToName, t.RoutingReason)
	}
	return nil
}

func (a *app) taskList(args []string) error {
	fs := flag.NewFlagSet("task list", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status")
	limit := fs.Int("limit", 0, "max tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var filter task.Filter
	if *status != "" {
		st := task.Status(*status)
		filter.Status = &st
	}
	filter.Limit = *limit

	tasks, err := a.orch.List(filter)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	for _, t := range tasks {
		assignee := "-"
		if t.AssignedToName != "" {
			assignee = t.AssignedToName
		}
		fmt.Printf("%s  %-10s %-20s %s\n", t.ID, t.Status, assignee, t.Title)
	}
	return nil
}

func (a *app) taskInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: armada task info <id>")
	}
	t, err := a.orch.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:         %s\n", t.ID)
	fmt.Printf("Title:      %s\n", t.Title)
	fmt.Printf("Status:     %s\n", t.Status)
	fmt.Printf("Requested:  %s\n", t.RequestedBy)
	if t.Description != "" {
		fmt.Printf("Details:    %s\n", t.Description)
	}
	if len(t.RequiredCapabilities) > 0 {
		fmt.Printf("Needs:      %s\n", strings.Join(t.RequiredCapabilities, ", "))
	}
	if t.TimeoutSeconds > 0 {
		fmt.Printf("Timeout:    %ds\n", t.TimeoutSeconds)
	}
	if t.AssignedTo != "" {
		fmt.Printf("Assigned:   %s (%s)\n", t.AssignedToName, t.AssignedTo)
		fmt.Printf("Reason:     %s\n", t.RoutingReason)
	}
	fmt.Printf("Created:    %s\n", t.CreatedAt.Format(time.RFC3339))
	if t.CompletedAt != nil {
		fmt.Printf("Finished:   %s\n", t.CompletedAt.Format(time.RFC3339))
	}
	if t.Result != "" {
		fmt.Printf("Result:\n%s\n", t.Result)
	}
	if t.Error != "" {
		fmt.Printf("Error:      %s\n", t.Error)
	}
	return nil
}

func (a *app) taskRoute(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: armada task route <id>")
	}
	candidates, err := a.orch.Route(args[0])
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		fmt.Println("no candidates")
		return nil
	}
	for _, c := range candidates {
		fmt.Printf("%3d  %-20s %s\n", c.Score, c.Agent.Name, c.Reason)
	}
	return nil
}

func (a *app) taskDispatch(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: armada task dispatch <id>")
	}
	t, err := a.orch.Dispatch(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("dispatched %s to %s\n", t.ID, t.AssignedToName)
	return nil
}

func (a *app) taskPoll(args []string) error {
	fs := flag.NewFlagSet("task poll", flag.ContinueOnError)
	wait := fs.Int("wait", 0, "keep polling for up to this many seconds")
	interval := fs.Int("interval", 0, "seconds between polls when waiting")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: armada task poll <id> [--wait seconds]")
	}
	id := fs.Arg(0)

	var t *task.Task
	var err error
	if *wait > 0 {
		t, err = a.orch.PollWait(context.Background(), id,
			time.Duration(*interval)*time.Second, time.Duration(*wait)*time.Second)
	} else {
		t, err = a.orch.Poll(context.Background(), id)
	}
	if err != nil {
		return err
	}

	fmt.Printf("task %s is %s\n", t.ID, t.Status)
	if t.Result != "" {
		fmt.Println(t.Result)
	}
	if t.Error != "" {
		fmt.Println(t.Error)
	}
	return nil
}

func (a *app) taskFinish(args []string, complete bool) error {
	fs := flag.NewFlagSet("task finish", flag.ContinueOnError)
	msg := fs.String("message", "", "result or error text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		if complete {
			return fmt.Errorf("usage: armada task complete <id> [--message text]")
		}
		return fmt.Errorf("usage: armada task fail <id> [--message text]")
	}

	var t *task.Task
	var err error
	if complete {
		t, err = a.orch.Complete(fs.Arg(0), *msg)
	} else {
		m := *msg
		if m == "" {
			m = "failed by operator"
		}
		t, err = a.orch.Fail(fs.Arg(0), m)
	}
	if err != nil {
		return err
	}
	fmt.Printf("task %s is %s\n", t.ID, t.Status)
	return nil
}

func (a *app) taskCancel(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: armada task cancel <id>")
	}
	t, err := a.orch.Cancel(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("task %s is %s\n", t.ID, t.Status)
	return nil
}

// splitList parses a comma-separated flag value, trimming blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
