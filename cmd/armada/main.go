// Command armada is the Armada operator CLI. It operates directly on the
// local control-plane state; armadad serves the same operations over HTTP.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/fleetsmith/armada/audit"
	"github.com/fleetsmith/armada/config"
	"github.com/fleetsmith/armada/fleet"
	"github.com/fleetsmith/armada/internal/version"
	"github.com/fleetsmith/armada/policy"
	"github.com/fleetsmith/armada/task"
	"github.com/fleetsmith/armada/vault"
)

func main() {
	var configPath = flag.String("config", "armada.yaml", "path to config file")
	flag.Usage = usage
	flag.Parse()
	_ = godotenv.Load()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd := args[0]
	rest := args[1:]

	if cmd == "version" {
		fmt.Printf("armada %s (commit %s, built %s)\n",
			version.Version, version.Commit, version.BuildDate)
		return
	}

	app, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	switch cmd {
	case "task":
		err = app.cmdTask(rest)
	case "secret":
		err = app.cmdSecret(rest)
	case "agent":
		err = app.cmdAgent(rest)
	case "sweep":
		err = app.cmdSweep(rest)
	case "audit":
		err = app.cmdAudit(rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `armada: fleet control plane CLI

Usage:
  armada [flags] <command> [args]

Flags:
  --config <path>   config file (default: armada.yaml)

Commands:
  version                      print version
  task create <title>          create a task (auto-routes unless --no-assign)
  task list [--status s]       list tasks
  task info <id>               show one task
  task route <id>              dry-run routing for a task
  task dispatch <id>           deliver an assigned task to its agent
  task poll <id> [--wait s]    poll for a result artifact
  task complete <id>           manually complete a task
  task fail <id>               manually fail a task
  task cancel <id>             cancel a task
  secret set <key> <value>     store a secret (--agent scopes it)
  secret get <key>             retrieve a secret
  secret list                  list secret keys
  secret delete <key>          delete a secret
  secret push <agent-id>       push matching secrets to an agent
  agent register --name <n>    register a fleet agent
  agent list                   list fleet agents
  agent info <id>              show one agent
  agent remove <id>            remove an agent
  agent health                 probe every agent and record status
  sweep                        fail tasks past their timeout
  audit [--limit n]            show recent audit entries
`)
}

// app bundles the opened stores and wired core for one CLI invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	tasks    *task.SQLiteStore
	roster   *fleet.SQLiteStore
	sink     *audit.SQLiteSink
	gate     *policy.Engine
	dial     fleet.Dialer
	orch     *task.Orchestrator
	enforcer *task.Enforcer
	secrets  *vault.Session
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	tasks, err := task.NewSQLiteStore(cfg.TaskDBPath())
	if err != nil {
		return nil, err
	}
	roster, err := fleet.NewSQLiteStore(cfg.FleetDBPath())
	if err != nil {
		tasks.Close()
		return nil, err
	}
	sink, err := audit.NewSQLiteSink(cfg.AuditDBPath())
	if err != nil {
		tasks.Close()
		roster.Close()
		return nil, err
	}

	gate := policy.NewEngine(cfg.Policy)
	dial := fleet.DefaultDialer(fleet.DialOptions{
		SSHKeyPath:  os.Getenv("ARMADA_SSH_KEY"),
		SSHPassword: os.Getenv("ARMADA_SSH_PASSWORD"),
	})
	channel := task.NewChannel(dial)

	return &app{
		cfg:      cfg,
		logger:   logger,
		tasks:    tasks,
		roster:   roster,
		sink:     sink,
		gate:     gate,
		dial:     dial,
		orch:     task.NewOrchestrator(tasks, roster, channel, gate, sink, logger),
		enforcer: task.NewEnforcer(tasks, sink, logger),
		secrets:  vault.NewSession(cfg.VaultPath(), vault.TerminalPrompt("Vault password")),
	}, nil
}

// Close releases all stores and drops the vault session.
func (a *app) Close() {
	a.secrets.Close()
	_ = a.sink.Close()
	_ = a.roster.Close()
	_ = a.tasks.Close()
}

// record appends an audit entry, discarding sink failures.
func (a *app) record(e audit.Entry) {
	if err := a.sink.Append(e); err != nil {
		a.logger.Warn("audit append failed", slog.Any("err", err))
	}
}

func (a *app) cmdSweep(_ []string) error {
	n, err := a.enforcer.Sweep()
	if err != nil {
		return err
	}
	fmt.Printf("timed out %d task(s)\n", n)
	return nil
}

func (a *app) cmdAudit(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max entries")
	if err := fs.Parse(args); err != nil {
		return err
	}
	entries, err := a.sink.Recent(*limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no audit entries")
		return nil
	}
	for _, e := range entries {
		outcome := "ok"
		if !e.Success {
			outcome = "FAILED"
		}
		fmt.Printf("%s  %-16s %-8s %s %s %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Action, outcome, e.SubjectID, e.Detail, e.Error)
	}
	return nil
}
