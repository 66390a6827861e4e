package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/laurentenhoor/devclaw/internal/audit"
	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/dispatch"
	"github.com/laurentenhoor/devclaw/internal/health"
	"github.com/laurentenhoor/devclaw/internal/heartbeat"
	"github.com/laurentenhoor/devclaw/internal/history"
	"github.com/laurentenhoor/devclaw/internal/logging"
	"github.com/laurentenhoor/devclaw/internal/notify"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/session/gateway"
	"github.com/laurentenhoor/devclaw/internal/tracker"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the heartbeat orchestrator",
		Long: `Start the heartbeat loop: on every tick DevClaw repairs worker state,
advances issues whose pull requests moved, and picks up queued issues by
dispatching LLM worker sessions.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(workspaceFlag)
		},
	}
}

func runServe(workspace string) error {
	ws, err := config.LoadFile(filepath.Join(workspace, config.WorkspaceFileName))
	if err != nil {
		return err
	}
	if err := logging.Init(ws.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logging.WithComponent("serve")

	resolved, err := config.Resolve(workspace, "")
	if err != nil {
		return err
	}
	if ws.Gateway == nil || ws.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is not configured; run: devclaw doctor")
	}

	store := registry.NewStore(workspace)
	auditLog := audit.New(workspace)

	sessions := gateway.New(*ws.Gateway)
	defer sessions.Close()

	var transport notify.Transport
	if ws.Telegram != nil && ws.Telegram.BotToken != "" {
		transport = notify.NewTelegram(ws.Telegram.BotToken)
	} else {
		log.Warn("telegram not configured, notifications disabled")
	}
	notifier := notify.New(transport)

	hist, err := history.New(filepath.Join(workspace, "state", "history.db"))
	if err != nil {
		log.Warn("history store unavailable, continuing without it", "error", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	providers := providerFactory(ws.Tracker)
	checker := health.NewChecker(store, auditLog)
	dispatcher := dispatch.New(workspace, store, sessions, notifier, auditLog, hist)

	engine := heartbeat.New(heartbeat.Options{
		Workspace:       workspace,
		Store:           store,
		Sessions:        sessions,
		Providers:       providers,
		Checker:         checker,
		Dispatcher:      dispatcher,
		Notifier:        notifier,
		Audit:           auditLog,
		History:         hist,
		OrchestratorKey: "agent:" + resolved.AgentID + ":main",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrapLabels(ctx, workspace, store, providers, log)

	cadence := resolved.Heartbeat.Cadence()
	if err := engine.Start(ctx, cadence); err != nil {
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}
	log.Info("devclaw serving", "workspace", workspace, "cadence", cadence)

	<-ctx.Done()
	log.Info("shutting down")
	engine.Stop()
	return nil
}

// bootstrapLabels ensures every workflow state label exists on each project's
// tracker. This also teaches the adapters the label vocabulary they strip as
// strays on transitions. Failures are warnings; the engine still runs.
func bootstrapLabels(ctx context.Context, workspace string, store *registry.Store, providers heartbeat.ProviderFactory, log *slog.Logger) {
	file, err := store.Read()
	if err != nil {
		log.Warn("label bootstrap skipped, registry unreadable", "error", err)
		return
	}
	for slug, project := range file.Projects {
		cfg, err := config.Resolve(workspace, project.Repo)
		if err != nil {
			log.Warn("label bootstrap skipped for project", "project", slug, "error", err)
			continue
		}
		provider, err := providers(project)
		if err != nil {
			log.Warn("label bootstrap skipped for project", "project", slug, "error", err)
			continue
		}

		labels := make([]tracker.StateLabel, 0, len(cfg.Workflow.Keys))
		for _, key := range cfg.Workflow.Keys {
			st := cfg.Workflow.States[key]
			labels = append(labels, tracker.StateLabel{Name: st.Label, Color: st.Color})
		}
		if err := provider.EnsureAllStateLabels(ctx, labels); err != nil {
			log.Warn("label bootstrap failed for project", "project", slug, "error", err)
		}
	}
}
