package heartbeat

import (
	"context"

	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/gitops"
	"github.com/laurentenhoor/devclaw/internal/notify"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/tracker"
	"github.com/laurentenhoor/devclaw/internal/workflow"
)

// reviewPass advances issues whose pull requests were resolved outside the
// orchestrator: merged or approved PRs move forward, rejected or dead ones
// cycle back to rework. Returns the number of issues advanced.
func (e *Engine) reviewPass(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider) int {
	advanced := 0
	for _, ref := range workflow.CheckedStates(cfg.Workflow, workflow.CheckPRApproved) {
		issues, err := provider.ListIssuesByLabel(ctx, ref.State.Label)
		if err != nil {
			e.log.Warn("review pass listing failed", "label", ref.State.Label, "error", err)
			continue
		}
		for _, issue := range issues {
			// Per-issue isolation: one bad PR query never blocks the rest.
			if e.reviewIssue(ctx, cfg, project, provider, ref, issue) {
				advanced++
			}
		}
	}
	return advanced
}

func (e *Engine) reviewIssue(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider, ref workflow.QueueStateRef, issue *tracker.Issue) bool {
	log := e.log.With("project", project.Slug, "issue", issue.IID)
	pr, err := provider.GetPRStatus(ctx, issue.IID)
	if err != nil {
		log.Warn("PR status query failed", "error", err)
		return false
	}
	if pr == nil {
		return false
	}

	switch {
	case pr.State == tracker.PRApproved && pr.Mergeable:
		return e.advance(ctx, cfg, project, provider, ref, issue, workflow.EventApproved, notify.PRMerged, pr)
	case pr.State == tracker.PRMerged:
		return e.advance(ctx, cfg, project, provider, ref, issue, workflow.EventApproved, notify.PRMerged, pr)
	case pr.State == tracker.PRChangesRequested:
		return e.advance(ctx, cfg, project, provider, ref, issue, workflow.EventChangesRequested, notify.ChangesRequested, pr)
	case pr.State == tracker.PRApproved && !pr.Mergeable:
		return e.advance(ctx, cfg, project, provider, ref, issue, workflow.EventMergeConflict, notify.MergeConflict, pr)
	case pr.State == tracker.PRClosed:
		return e.advance(ctx, cfg, project, provider, ref, issue, workflow.EventMergeFailed, notify.PRClosed, pr)
	}
	// open or has_comments: wait for an explicit review verdict.
	return false
}

// advance runs one externally-triggered transition: actions first (merge,
// pull), then the label move, then the notification, so chat only reports
// state the tracker already shows.
func (e *Engine) advance(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider, ref workflow.QueueStateRef, issue *tracker.Issue, event string, evType notify.EventType, pr *tracker.PRStatus) bool {
	log := e.log.With("project", project.Slug, "issue", issue.IID, "event", event)
	tr, ok := ref.State.On[event]
	if !ok {
		return false
	}
	target, ok := cfg.Workflow.States[tr.Target]
	if !ok {
		return false
	}

	e.runActions(ctx, cfg, project, provider, issue.IID, tr.Actions, pr)

	if err := provider.TransitionLabel(ctx, issue.IID, ref.State.Label, target.Label); err != nil {
		log.Warn("review transition failed", "from", ref.State.Label, "to", target.Label, "error", err)
		return false
	}
	log.Info("issue advanced by review pass", "from", ref.State.Label, "to", target.Label)

	prURL := ""
	if pr != nil {
		prURL = pr.URL
	}
	e.notifier.Notify(ctx, issue.Labels, project.Channels, notify.Event{
		Type:       evType,
		Project:    project.Name,
		IssueIID:   issue.IID,
		IssueTitle: issue.Title,
		IssueURL:   issue.URL,
		PRURL:      prURL,
	})
	return true
}

// runActions interprets transition action strings. Unknown actions are
// user-extensible no-ops.
func (e *Engine) runActions(ctx context.Context, cfg *config.Resolved, project *registry.Project, provider tracker.Provider, iid int, actions []string, pr *tracker.PRStatus) {
	log := e.log.With("project", project.Slug, "issue", iid)
	for _, action := range actions {
		switch action {
		case workflow.ActionMergePR:
			if pr != nil && pr.State == tracker.PRMerged {
				continue // merged elsewhere
			}
			if err := provider.MergePR(ctx, iid); err != nil {
				log.Warn("merge failed", "error", err)
			}
		case workflow.ActionGitPull:
			if project.Repo == "" {
				continue
			}
			if err := gitops.Pull(ctx, project.Repo, project.BaseBranch, cfg.Timeouts.GitPull()); err != nil {
				log.Warn("git pull failed", "repo", project.Repo, "error", err)
			}
		case workflow.ActionCloseIssue:
			if err := provider.CloseIssue(ctx, iid); err != nil {
				log.Warn("close failed", "error", err)
			}
		case workflow.ActionReopenIssue:
			if err := provider.ReopenIssue(ctx, iid); err != nil {
				log.Warn("reopen failed", "error", err)
			}
		case workflow.ActionDetectPR:
			// Workers link their own PRs; nothing to do engine-side.
		default:
			log.Debug("ignoring unknown transition action", "action", action)
		}
	}
}
