// Package heartbeat runs the reconciliation loop: every tick snapshots live
// sessions once, then walks each project through health, review, and pickup
// passes. Exactly one tick runs at a time; projects are processed
// sequentially so the pickup budget stays exact.
package heartbeat

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/laurentenhoor/devclaw/internal/audit"
	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/dispatch"
	"github.com/laurentenhoor/devclaw/internal/health"
	"github.com/laurentenhoor/devclaw/internal/history"
	"github.com/laurentenhoor/devclaw/internal/logging"
	"github.com/laurentenhoor/devclaw/internal/notify"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/session"
	"github.com/laurentenhoor/devclaw/internal/tracker"
)

// startupKickDelay is how soon after Start the first tick fires, ahead of the
// regular cadence.
const startupKickDelay = 2 * time.Second

// ProviderFactory yields the tracker adapter for a project.
type ProviderFactory func(p *registry.Project) (tracker.Provider, error)

// Stats aggregates one tick's work.
type Stats struct {
	Projects int
	Pickups  int
	Fixes    int
	Reviews  int
	Skipped  int
	Errors   int
}

// Engine drives the heartbeat.
type Engine struct {
	workspace  string
	store      *registry.Store
	sessions   session.Registry
	providers  ProviderFactory
	checker    *health.Checker
	dispatcher *dispatch.Dispatcher
	notifier   *notify.Notifier
	audit      *audit.Log
	history    *history.Store
	log        *slog.Logger
	now        func() time.Time

	// orchestratorKey is handed to workers so they can call back.
	orchestratorKey string

	cron    *cron.Cron
	kick    *time.Timer
	entryID cron.EntryID
}

// Options wires an engine. History may be nil.
type Options struct {
	Workspace  string
	Store      *registry.Store
	Sessions   session.Registry
	Providers  ProviderFactory
	Checker    *health.Checker
	Dispatcher *dispatch.Dispatcher
	Notifier   *notify.Notifier
	Audit      *audit.Log
	History    *history.Store

	// OrchestratorKey is the orchestrator's own session key, passed to
	// workers in the task brief.
	OrchestratorKey string
}

// New creates an engine.
func New(opts Options) *Engine {
	return &Engine{
		workspace:  opts.Workspace,
		store:      opts.Store,
		sessions:   opts.Sessions,
		providers:  opts.Providers,
		checker:    opts.Checker,
		dispatcher: opts.Dispatcher,
		notifier:   opts.Notifier,
		audit:      opts.Audit,
		history:    opts.History,
		log:        logging.WithComponent("heartbeat"),
		now:        time.Now,

		orchestratorKey: opts.OrchestratorKey,
	}
}

// Start schedules the loop at the configured cadence and kicks off an
// immediate first tick shortly after startup. SkipIfStillRunning guarantees
// one tick at a time.
func (e *Engine) Start(ctx context.Context, cadence time.Duration) error {
	e.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
		cron.Recover(cron.DefaultLogger),
	))
	run := func() { e.Tick(ctx) }
	id, err := e.cron.AddFunc("@every "+cadence.String(), run)
	if err != nil {
		return err
	}
	e.entryID = id
	e.cron.Start()
	e.kick = time.AfterFunc(startupKickDelay, run)
	e.log.Info("heartbeat started", "cadence", cadence.String())
	return nil
}

// Stop halts scheduling; an in-flight tick finishes.
func (e *Engine) Stop() {
	if e.kick != nil {
		e.kick.Stop()
	}
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
	e.log.Info("heartbeat stopped")
}

// Tick runs one full reconciliation pass over all projects.
func (e *Engine) Tick(ctx context.Context) Stats {
	started := e.now()
	var stats Stats

	live, err := e.sessions.ListLiveSessionKeys(ctx)
	if err != nil {
		e.log.Warn("session enumeration failed", "error", err)
		live = nil
	}

	file, err := e.store.Read()
	if err != nil {
		e.log.Error("worker state unreadable, aborting tick", "error", err)
		stats.Errors++
		return stats
	}

	slugs := make([]string, 0, len(file.Projects))
	for slug := range file.Projects {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	anyActive := false
	for _, slug := range slugs {
		project := file.Projects[slug]
		stats.Projects++
		if e.runProject(ctx, project, live, &stats, &anyActive) {
			break // pickup budget spent
		}
	}

	// Global sweep works on post-health state.
	if file, err = e.store.Read(); err == nil {
		e.checker.SweepOrphanedSessions(ctx, file, e.sessions, live)
	}

	e.audit.Record("heartbeat_tick", map[string]any{
		"projects": stats.Projects,
		"pickups":  stats.Pickups,
		"fixes":    stats.Fixes,
		"reviews":  stats.Reviews,
		"skipped":  stats.Skipped,
		"errors":   stats.Errors,
		"duration": e.now().Sub(started).String(),
	})
	if e.history != nil {
		if err := e.history.RecordTick(history.Tick{
			StartedAt: started,
			Duration:  e.now().Sub(started),
			Projects:  stats.Projects,
			Pickups:   stats.Pickups,
			Fixes:     stats.Fixes,
			Reviews:   stats.Reviews,
			Skipped:   stats.Skipped,
			Errors:    stats.Errors,
		}); err != nil {
			e.log.Warn("failed to record tick history", "error", err)
		}
	}
	return stats
}

// runProject performs health, review, and pickup for one project. Returns
// true when the tick's pickup budget is exhausted.
func (e *Engine) runProject(ctx context.Context, project *registry.Project, live session.LiveKeys, stats *Stats, anyActive *bool) bool {
	log := e.log.With("project", project.Slug)

	provider, err := e.providers(project)
	if err != nil {
		log.Error("no tracker adapter for project", "error", err)
		stats.Errors++
		return false
	}
	cfg, err := config.Resolve(e.workspace, project.Repo)
	if err != nil {
		log.Error("config resolution failed", "error", err)
		stats.Errors++
		return false
	}

	for _, role := range cfg.EnabledRoles() {
		fixes := e.checker.CheckRole(ctx, cfg, project, provider, role, live, true)
		stats.Fixes += countFixed(fixes)
		fixes = e.checker.ScanOrphanedLabels(ctx, cfg, project, provider, role, true)
		stats.Fixes += countFixed(fixes)
	}

	// Health fixes mutate slots; pick up against fresh state.
	project, err = e.store.Project(project.Slug)
	if err != nil {
		log.Error("project reload failed", "error", err)
		stats.Errors++
		return false
	}

	stats.Reviews += e.reviewPass(ctx, cfg, project, provider)

	if stats.Pickups >= cfg.Heartbeat.MaxPickupsPerTick {
		return true
	}

	hasActive := len(project.ActiveIssueIDs()) > 0
	if cfg.Heartbeat.ProjectExecution == "sequential" && !hasActive && *anyActive {
		stats.Skipped++
		return false
	}
	if hasActive {
		*anyActive = true
	}

	e.pickupPass(ctx, cfg, project, provider, stats)
	if stats.Pickups > 0 {
		*anyActive = true
	}
	return stats.Pickups >= cfg.Heartbeat.MaxPickupsPerTick
}

func countFixed(fixes []health.Fix) int {
	n := 0
	for _, f := range fixes {
		if f.Fixed {
			n++
		}
	}
	return n
}
