package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/fleetsmith/armada/fleet"
)

func (a *app) cmdAgent(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: armada agent <register|list|info|remove|health>")
	}
	sub := args[0]
	rest := args[1:]

	switch sub {
	case "register":
		return a.agentRegister(rest)
	case "list":
		return a.agentList(rest)
	case "info":
		return a.agentInfo(rest)
	case "remove":
		return a.agentRemove(rest)
	case "health":
		return a.agentHealth(rest)
	default:
		return fmt.Errorf("unknown agent subcommand: %s", sub)
	}
}

func (a *app) agentRegister(args []string) error {
	fs := flag.NewFlagSet("agent register", flag.ContinueOnError)
	name := fs.String("name", "", "agent name (required)")
	host := fs.String("host", "", "SSH host, docker://<container>, or empty for local")
	port := fs.Int("port", 22, "SSH port")
	user := fs.String("user", "", "SSH user")
	workspace := fs.String("workspace", "", "agent workspace directory")
	caps := fs.String("caps", "", "comma-separated capability tags")
	desc := fs.String("desc", "", "free-text description for routing")
	role := fs.String("role", "", "agent role")
	sessionKey := fs.String("session-key", "", "session key for warm-session preference")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return fmt.Errorf("usage: armada agent register --name <name> [flags]")
	}

	ag := &fleet.Agent{
		Name:        *name,
		Host:        *host,
		Port:        *port,
		User:        *user,
		Workspace:   *workspace,
		Role:        *role,
		Description: *desc,
		SessionKey:  *sessionKey,
		Status:      fleet.StatusUnknown,
	}
	if *caps != "" {
		ag.Capabilities = splitList(*caps)
	}

	id, err := a.roster.Register(ag)
	if err != nil {
		return err
	}
	fmt.Printf("registered agent %s (%s)\n", *name, id)
	return nil
}

func (a *app) agentList(_ []string) error {
	agents, err := a.roster.List()
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("no agents registered")
		return nil
	}
	for _, ag := range agents {
		host := ag.Host
		if host == "" {
			host = "local"
		}
		fmt.Printf("%s  %-8s %-20s %-25s %s\n",
			ag.ID, ag.Status, ag.Name, host, strings.Join(ag.Capabilities, ","))
	}
	return nil
}

func (a *app) agentInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: armada agent info <id>")
	}
	ag, err := a.roster.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:           %s\n", ag.ID)
	fmt.Printf("Name:         %s\n", ag.Name)
	fmt.Printf("Status:       %s\n", ag.Status)
	if ag.Host != "" {
		fmt.Printf("Host:         %s:%d (%s)\n", ag.Host, ag.Port, ag.User)
	} else {
		fmt.Printf("Host:         local\n")
	}
	if ag.Workspace != "" {
		fmt.Printf("Workspace:    %s\n", ag.Workspace)
	}
	if ag.Role != "" {
		fmt.Printf("Role:         %s\n", ag.Role)
	}
	if len(ag.Capabilities) > 0 {
		fmt.Printf("Capabilities: %s\n", strings.Join(ag.Capabilities, ", "))
	}
	if ag.Description != "" {
		fmt.Printf("Description:  %s\n", ag.Description)
	}
	fmt.Printf("Registered:   %s\n", ag.CreatedAt.Format(time.RFC3339))
	if ag.LastSeen != nil {
		fmt.Printf("Last seen:    %s\n", ag.LastSeen.Format(time.RFC3339))
	}
	return nil
}

func (a *app) agentRemove(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: armada agent remove <id>")
	}
	if err := a.roster.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("removed agent %s\n", args[0])
	return nil
}

func (a *app) agentHealth(_ []string) error {
	checker := fleet.NewHealthChecker(a.roster, a.dial, a.logger)
	if a.cfg.Health.BatchSize > 0 {
		checker.BatchSize = a.cfg.Health.BatchSize
	}
	if a.cfg.Health.BatchPauseSeconds > 0 {
		checker.BatchPause = time.Duration(a.cfg.Health.BatchPauseSeconds) * time.Second
	}

	results, err := checker.CheckAll(context.Background())
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no agents registered")
		return nil
	}
	for _, r := range results {
		detail := ""
		if r.Err != nil {
			detail = r.Err.Error()
		}
		fmt.Printf("%s  %-8s %s\n", r.AgentID, r.Status, detail)
	}
	return nil
}
