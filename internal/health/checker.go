// Package health reconciles worker slots against the tracker and the session
// layer. Each slot is triangulated from three observations: the slot's own
// active flag, the issue's current workflow label, and session liveness. The
// tracker is the source of truth; local state yields to it.
package health

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/laurentenhoor/devclaw/internal/audit"
	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/logging"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/session"
	"github.com/laurentenhoor/devclaw/internal/tracker"
	"github.com/laurentenhoor/devclaw/internal/workflow"
)

// AnomalyType classifies one detected inconsistency.
type AnomalyType string

const (
	IssueGone     AnomalyType = "issue_gone"
	LabelMismatch AnomalyType = "label_mismatch"
	SessionDead   AnomalyType = "session_dead"
	StaleWorker   AnomalyType = "stale_worker"
	StuckLabel    AnomalyType = "stuck_label"
	OrphanIssueID AnomalyType = "orphan_issue_id"
	OrphanedLabel AnomalyType = "orphaned_label"
)

// Severity ranks an anomaly.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// GracePeriod suppresses session-dead detection right after dispatch: a
// freshly spawned session may not appear in the registry enumeration yet.
const GracePeriod = 5 * time.Minute

// Fix reports one anomaly and what was done about it.
type Fix struct {
	Type              AnomalyType
	Severity          Severity
	Project           string
	Role              string
	Level             string
	SlotIndex         int
	IssueIID          int
	Fixed             bool
	LabelRevertFailed bool
	Detail            string
}

// Checker runs the health pass for one workspace.
type Checker struct {
	store *registry.Store
	audit *audit.Log
	log   *slog.Logger
	now   func() time.Time
}

// NewChecker creates a checker over the workspace's worker-state store.
func NewChecker(store *registry.Store, auditLog *audit.Log) *Checker {
	return &Checker{
		store: store,
		audit: auditLog,
		log:   logging.WithComponent("health"),
		now:   time.Now,
	}
}

// CheckRole reconciles every slot of one role. live == nil means the session
// layer was unreachable; session-based checks are suppressed, never treated
// as death.
func (c *Checker) CheckRole(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider, role string, live session.LiveKeys, autoFix bool) []Fix {
	var fixes []Fix
	for level, slots := range project.Worker(role) {
		for i, slot := range slots {
			if slot == nil {
				continue
			}
			if fix := c.checkSlot(ctx, cfg, project, provider, role, level, i, slot, live, autoFix); fix != nil {
				fixes = append(fixes, *fix)
			}
		}
	}
	for _, f := range fixes {
		c.recordFix(f)
	}
	return fixes
}

// checkSlot evaluates the anomaly taxonomy for one slot, first match wins.
func (c *Checker) checkSlot(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider, role, level string, index int, slot *registry.Slot, live session.LiveKeys, autoFix bool) *Fix {
	activeLabel, err := workflow.ActiveLabel(cfg.Workflow, role)
	if err != nil {
		c.log.Warn("role has no active state", "role", role, "error", err)
		return nil
	}

	if !slot.Active {
		return c.checkInactiveSlot(ctx, cfg, project, provider, role, level, index, slot, activeLabel, autoFix)
	}

	issueIID := 0
	if slot.IssueID != nil {
		issueIID = *slot.IssueID
	}
	fix := &Fix{
		Project:   project.Slug,
		Role:      role,
		Level:     level,
		SlotIndex: index,
		IssueIID:  issueIID,
	}

	issue, err := provider.GetIssue(ctx, issueIID)
	gone := errors.Is(err, tracker.ErrNotFound) || (err == nil && (issue == nil || issue.State == "closed"))
	if err != nil && !errors.Is(err, tracker.ErrNotFound) {
		// Tracker flake: no verdict on this slot this tick.
		c.log.Warn("issue lookup failed, skipping slot", "issue", issueIID, "error", err)
		return nil
	}

	if gone {
		fix.Type = IssueGone
		fix.Severity = SeverityCritical
		fix.Detail = "active slot references a deleted or closed issue"
		if autoFix {
			fix.Fixed = c.deactivate(project.Slug, role, level, index, true)
		}
		return fix
	}

	currentLabel := workflow.CurrentStateLabel(issue.Labels, cfg.Workflow)
	if currentLabel != activeLabel {
		// External intent wins: the label stays where someone moved it.
		fix.Type = LabelMismatch
		fix.Severity = SeverityCritical
		fix.Detail = "issue label " + currentLabel + " does not match active label " + activeLabel
		if autoFix {
			fix.Fixed = c.deactivate(project.Slug, role, level, index, true)
		}
		return fix
	}

	inGrace := false
	if slot.StartTime != nil {
		inGrace = c.now().Sub(*slot.StartTime) < GracePeriod
	}

	dead := slot.SessionKey == ""
	if !dead && live != nil && !inGrace && !live.Contains(slot.SessionKey) {
		dead = true
	}
	if dead {
		fix.Type = SessionDead
		fix.Severity = SeverityCritical
		fix.Detail = "worker session is gone"
		if autoFix {
			reverted := c.revertLabel(ctx, cfg, provider, role, issueIID, activeLabel, slot.PreviousLabel)
			fix.LabelRevertFailed = !reverted
			fix.Fixed = reverted && c.deactivate(project.Slug, role, level, index, true)
		}
		return fix
	}

	alive := live != nil && live.Contains(slot.SessionKey)
	if alive && slot.StartTime != nil && c.now().Sub(*slot.StartTime) > cfg.Timeouts.StaleWorker() {
		fix.Type = StaleWorker
		fix.Severity = SeverityWarning
		fix.Detail = "worker has been running past the staleness horizon"
		if autoFix {
			reverted := c.revertLabel(ctx, cfg, provider, role, issueIID, activeLabel, slot.PreviousLabel)
			fix.LabelRevertFailed = !reverted
			fix.Fixed = reverted && c.deactivate(project.Slug, role, level, index, false)
		}
		return fix
	}

	return nil
}

func (c *Checker) checkInactiveSlot(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider, role, level string, index int, slot *registry.Slot, activeLabel string, autoFix bool) *Fix {
	if slot.IssueID == nil {
		return nil
	}
	issueIID := *slot.IssueID
	fix := &Fix{
		Project:   project.Slug,
		Role:      role,
		Level:     level,
		SlotIndex: index,
		IssueIID:  issueIID,
	}

	issue, err := provider.GetIssue(ctx, issueIID)
	if err == nil && issue != nil && workflow.CurrentStateLabel(issue.Labels, cfg.Workflow) == activeLabel {
		fix.Type = StuckLabel
		fix.Severity = SeverityCritical
		fix.Detail = "issue still carries the active label but no worker is on it"
		if autoFix {
			reverted := c.revertLabel(ctx, cfg, provider, role, issueIID, activeLabel, slot.PreviousLabel)
			fix.LabelRevertFailed = !reverted
			fix.Fixed = reverted && c.clearIssueID(project.Slug, role, level, index)
		}
		return fix
	}

	fix.Type = OrphanIssueID
	fix.Severity = SeverityWarning
	fix.Detail = "inactive slot still references an issue"
	if autoFix {
		fix.Fixed = c.clearIssueID(project.Slug, role, level, index)
	}
	return fix
}

// ScanOrphanedLabels finds issues carrying the role's active label that no
// active slot accounts for, and queues them back.
func (c *Checker) ScanOrphanedLabels(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider, role string, autoFix bool) []Fix {
	activeLabel, err := workflow.ActiveLabel(cfg.Workflow, role)
	if err != nil {
		return nil
	}
	issues, err := provider.ListIssuesByLabel(ctx, activeLabel)
	if err != nil {
		c.log.Warn("orphaned-label scan failed", "label", activeLabel, "error", err)
		return nil
	}

	held := make(map[int]bool)
	for _, slots := range project.Worker(role) {
		for _, s := range slots {
			if s != nil && s.Active && s.IssueID != nil {
				held[*s.IssueID] = true
			}
		}
	}

	var fixes []Fix
	for _, issue := range issues {
		if held[issue.IID] {
			continue
		}
		fix := Fix{
			Type:     OrphanedLabel,
			Severity: SeverityCritical,
			Project:  project.Slug,
			Role:     role,
			IssueIID: issue.IID,
			Detail:   "issue holds the active label with no worker attached",
		}
		if autoFix {
			revert, rerr := workflow.RevertLabel(cfg.Workflow, role)
			if rerr == nil {
				if terr := provider.TransitionLabel(ctx, issue.IID, activeLabel, revert); terr == nil {
					fix.Fixed = true
				} else {
					fix.LabelRevertFailed = true
					c.log.Warn("failed to revert orphaned label", "issue", issue.IID, "error", terr)
				}
			}
		}
		fixes = append(fixes, fix)
		c.recordFix(fix)
	}
	return fixes
}

var subagentKeyPattern = regexp.MustCompile(`^agent:[^:]+:subagent:`)

// SweepOrphanedSessions deletes live subagent sessions no slot references.
// Keys held by active slots are never deleted. Returns the delete count.
func (c *Checker) SweepOrphanedSessions(ctx context.Context, file *registry.File, sessions session.Registry, live session.LiveKeys) int {
	if live == nil {
		return 0
	}
	tracked := make(map[string]bool)
	activeHeld := make(map[string]bool)
	for _, project := range file.Projects {
		for _, rw := range project.Workers {
			for _, slots := range rw {
				for _, s := range slots {
					if s == nil || s.SessionKey == "" {
						continue
					}
					tracked[s.SessionKey] = true
					if s.Active {
						activeHeld[s.SessionKey] = true
					}
				}
			}
		}
	}

	deleted := 0
	for key := range live {
		if !subagentKeyPattern.MatchString(key) || tracked[key] || activeHeld[key] {
			continue
		}
		if err := sessions.DeleteSession(ctx, key); err != nil {
			c.log.Warn("failed to delete orphaned session", "sessionKey", key, "error", err)
			continue
		}
		c.log.Info("deleted orphaned session", "sessionKey", key)
		deleted++
	}
	if deleted > 0 {
		c.audit.Record("orphaned_session_sweep", map[string]any{"deleted": deleted})
	}
	return deleted
}

func (c *Checker) revertLabel(ctx context.Context, cfg *config.Resolved, provider tracker.Provider, role string, iid int, from, previous string) bool {
	target := previous
	if target == "" {
		var err error
		if target, err = workflow.RevertLabel(cfg.Workflow, role); err != nil {
			c.log.Warn("no revert label for role", "role", role, "error", err)
			return false
		}
	}
	if err := provider.TransitionLabel(ctx, iid, from, target); err != nil {
		c.log.Warn("label revert failed", "issue", iid, "from", from, "to", target, "error", err)
		return false
	}
	return true
}

func (c *Checker) deactivate(slug, role, level string, index int, dropSession bool) bool {
	if err := c.store.DeactivateSlot(slug, role, level, index, dropSession); err != nil {
		c.log.Warn("slot deactivation failed", "project", slug, "role", role, "error", err)
		return false
	}
	return true
}

func (c *Checker) clearIssueID(slug, role, level string, index int) bool {
	err := c.store.UpdateSlot(slug, role, level, index, func(s *registry.Slot) {
		s.IssueID = nil
	})
	if err != nil {
		c.log.Warn("failed to clear issue reference", "project", slug, "role", role, "error", err)
		return false
	}
	return true
}

func (c *Checker) recordFix(f Fix) {
	c.audit.Record("health_fix", map[string]any{
		"type":     string(f.Type),
		"severity": string(f.Severity),
		"project":  f.Project,
		"role":     f.Role,
		"level":    f.Level,
		"issue":    f.IssueIID,
		"fixed":    f.Fixed,
	})
}
