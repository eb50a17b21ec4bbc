package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/akontos/syntonia/internal/config"
	"github.com/akontos/syntonia/internal/eventbus"
	"github.com/akontos/syntonia/internal/executor"
	"github.com/akontos/syntonia/internal/monitor"
	"github.com/akontos/syntonia/internal/pattern"
	"github.com/akontos/syntonia/internal/patterns"
	"github.com/akontos/syntonia/internal/recovery"
	"github.com/akontos/syntonia/internal/scheduler"
	"github.com/akontos/syntonia/internal/store"
	"github.com/akontos/syntonia/internal/validation"
	"github.com/akontos/syntonia/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("syntonia %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			slog.Error("backup failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: syntonia <command>\n\nCommands:\n  serve      Start the coordination engine daemon\n  backup     Archive the data directory\n  version    Print version\n")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting syntonia", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	bus, err := eventbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	busClient, err := eventbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer busClient.Close()

	// Engine components
	mon := monitor.New(cfg.Monitor, busClient)
	rec := recovery.New(cfg.Recovery, db)
	val := validation.NewEngine()

	reg := pattern.NewRegistry()
	if err := patterns.RegisterBuiltins(reg); err != nil {
		return fmt.Errorf("register patterns: %w", err)
	}
	slog.Info("patterns registered", "count", len(reg.List()))

	exec := executor.New(reg, val, rec, mon, db)

	// Scheduler drives stored executions against a default session context.
	sched := scheduler.New(db, exec, busClient, cfg.Scheduler, func(patternID string) (*pattern.Context, error) {
		return defaultContext(cfg), nil
	})
	go sched.Start(ctx)

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(db, busClient, reg, exec, mon, val, rec, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}

// defaultContext builds the execution context used for scheduled runs when
// no caller-provided session exists: the host's own resources and a single
// self agent.
func defaultContext(cfg *config.Config) *pattern.Context {
	pc := &pattern.Context{
		Agents: []pattern.AgentInfo{
			{
				ID:           "self",
				Name:         "syntonia",
				Capabilities: []string{"scheduling", "maintenance"},
				Status:       pattern.AgentIdle,
			},
		},
		Resources: pattern.NewResourcePool(8<<30, 4, 1000),
		State:     pattern.NewState(""),
		Config: pattern.Config{
			Timeout:          cfg.Engine.DefaultTimeout,
			MaxRetries:       cfg.Engine.DefaultMaxRetries,
			EnableRollback:   cfg.Engine.EnableRollback,
			EnableMonitoring: cfg.Engine.EnableMonitoring,
			Custom:           map[string]any{},
		},
		SessionID: "scheduler",
	}
	return pc
}
