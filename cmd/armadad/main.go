// Command armadad is the Armada control-plane daemon. It serves the HTTP
// API and runs the periodic task timeout sweep.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/fleetsmith/armada/audit"
	"github.com/fleetsmith/armada/config"
	"github.com/fleetsmith/armada/fleet"
	"github.com/fleetsmith/armada/internal/version"
	"github.com/fleetsmith/armada/policy"
	"github.com/fleetsmith/armada/server"
	"github.com/fleetsmith/armada/task"
)

var configPath = flag.String("config", "armada.yaml", "path to config file")

func main() {
	flag.Parse()
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) && !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("load config %s: %v", *configPath, err)
		}
		cfg = config.DefaultConfig()
	}

	level := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	logger.Info("starting armadad",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		log.Fatalf("create data dir: %v", err)
	}

	taskStore, err := task.NewSQLiteStore(cfg.TaskDBPath())
	if err != nil {
		log.Fatalf("open task store: %v", err)
	}
	defer taskStore.Close() //nolint:errcheck

	roster, err := fleet.NewSQLiteStore(cfg.FleetDBPath())
	if err != nil {
		log.Fatalf("open fleet store: %v", err)
	}
	defer roster.Close() //nolint:errcheck

	sink, err := audit.NewSQLiteSink(cfg.AuditDBPath())
	if err != nil {
		log.Fatalf("open audit log: %v", err)
	}
	defer sink.Close() //nolint:errcheck

	gate := policy.NewEngine(cfg.Policy)
	dial := fleet.DefaultDialer(fleet.DialOptions{
		SSHKeyPath:  os.Getenv("ARMADA_SSH_KEY"),
		SSHPassword: os.Getenv("ARMADA_SSH_PASSWORD"),
	})
	channel := task.NewChannel(dial)
	orch := task.NewOrchestrator(taskStore, roster, channel, gate, sink, logger)
	enforcer := task.NewEnforcer(taskStore, sink, logger)

	srv := server.New(*cfg, version.Version, logger)
	srv.SetOrchestrator(orch)
	srv.SetEnforcer(enforcer)
	srv.SetRoster(roster)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic timeout sweep.
	interval := time.Duration(cfg.Sweep.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := enforcer.Sweep(); err != nil {
					logger.Error("timeout sweep", slog.Any("err", err))
				} else if n > 0 {
					logger.Info("timeout sweep", slog.Int("timed_out", n))
				}
			}
		}
	}()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop", slog.Any("err", err))
	}
}
