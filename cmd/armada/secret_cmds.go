package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/fleetsmith/armada/audit"
)

func (a *app) cmdSecret(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: armada secret <set|get|list|delete|push>")
	}
	sub := args[0]
	rest := args[1:]

	switch sub {
	case "set":
		return a.secretSet(rest)
	case "get":
		return a.secretGet(rest)
	case "list":
		return a.secretList(rest)
	case "delete":
		return a.secretDelete(rest)
	case "push":
		return a.secretPush(rest)
	default:
		return fmt.Errorf("unknown secret subcommand: %s", sub)
	}
}

func (a *app) secretSet(args []string) error {
	fs := flag.NewFlagSet("secret set", flag.ContinueOnError)
	agentID := fs.String("agent", "", "scope the secret to one agent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: armada secret set <key> <value> [--agent id]")
	}

	v, err := a.secrets.Vault()
	if err != nil {
		return err
	}
	if err := v.Set(fs.Arg(0), fs.Arg(1), *agentID); err != nil {
		return err
	}
	fmt.Printf("stored %s\n", fs.Arg(0))
	return nil
}

func (a *app) secretGet(args []string) error {
	fs := flag.NewFlagSet("secret get", flag.ContinueOnError)
	agentID := fs.String("agent", "", "only match secrets visible to this agent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: armada secret get <key> [--agent id]")
	}

	v, err := a.secrets.Vault()
	if err != nil {
		return err
	}
	e, ok, err := v.Get(fs.Arg(0), *agentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no secret named %q", fs.Arg(0))
	}
	fmt.Println(e.Value)
	return nil
}

func (a *app) secretList(args []string) error {
	fs := flag.NewFlagSet("secret list", flag.ContinueOnError)
	agentID := fs.String("agent", "", "only list secrets visible to this agent")
	if err := fs.Parse(args); err != nil {
		return err
	}

	v, err := a.secrets.Vault()
	if err != nil {
		return err
	}
	infos, err := v.List(*agentID)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("no secrets")
		return nil
	}
	for _, info := range infos {
		scope := "global"
		if info.AgentID != "" {
			scope = info.AgentID
		}
		fmt.Printf("%-30s %s\n", info.Key, scope)
	}
	return nil
}

func (a *app) secretDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: armada secret delete <key>")
	}
	v, err := a.secrets.Vault()
	if err != nil {
		return err
	}
	removed, err := v.Delete(args[0])
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("no secret named %q", args[0])
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

// secretPush writes every secret visible to the agent into an env file in
// its workspace. The operation runs through the policy gate and is audited
// whether it succeeds or not.
func (a *app) secretPush(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: armada secret push <agent-id>")
	}
	ag, err := a.roster.Get(args[0])
	if err != nil {
		return err
	}
	if ag.Workspace == "" {
		return fmt.Errorf("agent %s has no workspace", ag.ID)
	}

	decision := a.gate.Evaluate("secrets.push", ag.ID)
	if !decision.Allowed {
		a.record(audit.Entry{
			Action: "secrets.push", SubjectID: ag.ID, SubjectName: ag.Name,
			Success: false, Error: decision.Reason,
		})
		return fmt.Errorf("policy denied secrets.push: %s", decision.Reason)
	}
	if decision.RequireConfirmation && !confirm(fmt.Sprintf("Push secrets to %s (%s)?", ag.Name, ag.ID)) {
		return fmt.Errorf("aborted")
	}

	v, err := a.secrets.Vault()
	if err != nil {
		return err
	}
	env, err := v.OwnerEnv(ag.ID)
	if err != nil {
		return err
	}
	if len(env) == 0 {
		return fmt.Errorf("no secrets visible to agent %s", ag.ID)
	}

	exec, err := a.dial(ag)
	if err != nil {
		a.record(audit.Entry{
			Action: "secrets.push", SubjectID: ag.ID, SubjectName: ag.Name,
			Success: false, Error: err.Error(),
		})
		return fmt.Errorf("connect to agent %s: %w", ag.ID, err)
	}
	defer exec.Close() //nolint:errcheck

	target := path.Join(ag.Workspace, "memory", "secrets.env")
	if err := exec.PutContent(context.Background(), renderEnv(env), target); err != nil {
		a.record(audit.Entry{
			Action: "secrets.push", SubjectID: ag.ID, SubjectName: ag.Name,
			Success: false, Error: err.Error(),
		})
		return fmt.Errorf("push secrets to %s: %w", ag.ID, err)
	}

	a.record(audit.Entry{
		Action: "secrets.push", SubjectID: ag.ID, SubjectName: ag.Name,
		Detail: fmt.Sprintf("%d secret(s)", len(env)), Success: true,
	})
	fmt.Printf("pushed %d secret(s) to %s\n", len(env), target)
	return nil
}

// renderEnv formats a secret map as KEY=VALUE lines in stable key order.
func renderEnv(env map[string]string) string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, env[k])
	}
	return b.String()
}

// confirm asks a yes/no question on the terminal.
func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N] ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
