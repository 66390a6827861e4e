package heartbeat

import (
	"context"

	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/dispatch"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/tracker"
	"github.com/laurentenhoor/devclaw/internal/workflow"
)

// pickupPass fills free slots from the role queues, in role declaration
// order, until the tick's pickup budget runs out.
func (e *Engine) pickupPass(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider, stats *Stats) {
	held := project.ActiveIssueIDs()

	for _, role := range cfg.EnabledRoles() {
		if stats.Pickups >= cfg.Heartbeat.MaxPickupsPerTick {
			return
		}
		if cfg.Heartbeat.RoleExecution == "sequential" && roleHasActiveSlot(project, role) {
			continue
		}
		rc, err := cfg.Role(role)
		if err != nil {
			continue
		}

		issue, fromLabel, toLabel := e.nextQueuedIssue(ctx, cfg, provider, role, held)
		if issue == nil {
			continue
		}

		level := dispatch.LevelFromLabels(issue.Labels, role, rc)
		if level == "" {
			level = dispatch.SelectLevel(issue.Title, issue.Body, rc)
		}
		slotIndex, ok := freeSlotIndex(project, role, level, rc)
		if !ok {
			continue // all slots for this level are busy
		}

		_, err = e.dispatcher.Run(ctx, cfg, provider, dispatch.Input{
			Project:                project,
			IssueIID:               issue.IID,
			IssueTitle:             issue.Title,
			IssueDescription:       issue.Body,
			IssueURL:               issue.URL,
			IssueLabels:            issue.Labels,
			Role:                   role,
			Level:                  level,
			FromLabel:              fromLabel,
			ToLabel:                toLabel,
			SlotIndex:              slotIndex,
			OrchestratorSessionKey: e.orchestratorKey,
		})
		if err != nil {
			e.log.Warn("pickup skipped", "project", project.Slug, "issue", issue.IID, "role", role, "error", err)
			stats.Skipped++
			continue
		}
		stats.Pickups++
		held[issue.IID] = true
	}
}

// nextQueuedIssue walks the role's queue states in descending priority and
// returns the oldest unheld open issue, with its pickup label pair.
func (e *Engine) nextQueuedIssue(ctx context.Context, cfg *config.Resolved, provider tracker.Provider, role string, held map[int]bool) (*tracker.Issue, string, string) {
	for _, ref := range workflow.QueueStates(cfg.Workflow, role) {
		tr, ok := ref.State.On[workflow.EventPickup]
		if !ok {
			continue
		}
		target, ok := cfg.Workflow.States[tr.Target]
		if !ok {
			continue
		}
		issues, err := provider.ListIssuesByLabel(ctx, ref.State.Label)
		if err != nil {
			e.log.Warn("queue listing failed", "label", ref.State.Label, "error", err)
			continue
		}
		// Listings are newest-first; the oldest issue sits at the tail.
		for i := len(issues) - 1; i >= 0; i-- {
			if issues[i] == nil || held[issues[i].IID] {
				continue
			}
			return issues[i], ref.State.Label, target.Label
		}
	}
	return nil, "", ""
}

func roleHasActiveSlot(project *registry.Project, role string) bool {
	for _, slots := range project.Worker(role) {
		for _, s := range slots {
			if s != nil && s.Active {
				return true
			}
		}
	}
	return false
}

// freeSlotIndex finds the first inactive slot for (role, level), or allocates
// the next index while the level's worker budget allows.
func freeSlotIndex(project *registry.Project, role, level string, rc *config.RoleConfig) (int, bool) {
	slots := project.Worker(role)[level]
	for i, s := range slots {
		if s == nil || !s.Active {
			return i, true
		}
	}
	if len(slots) < rc.MaxWorkers(level) {
		return len(slots), true
	}
	return 0, false
}
