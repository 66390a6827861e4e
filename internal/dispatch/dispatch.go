// Package dispatch implements the pickup commitment sequence: one issue moves
// from a queue label to an active label while a worker session is prepared,
// briefed, and recorded. The label transition is the point of no return;
// everything before it is safe to fail, everything after it is best-effort.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/laurentenhoor/devclaw/internal/audit"
	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/history"
	"github.com/laurentenhoor/devclaw/internal/logging"
	"github.com/laurentenhoor/devclaw/internal/notify"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/session"
	"github.com/laurentenhoor/devclaw/internal/tracker"
	"github.com/laurentenhoor/devclaw/internal/workflow"
)

// Session actions reported in the dispatch result.
const (
	ActionSpawn = "spawn"
	ActionSend  = "send"
)

// Input carries one pickup request into the pipeline.
type Input struct {
	Project                *registry.Project
	IssueIID               int
	IssueTitle             string
	IssueDescription       string
	IssueURL               string
	IssueLabels            []string
	Role                   string
	Level                  string // empty means: parse labels, else heuristic
	FromLabel              string
	ToLabel                string
	SlotIndex              int
	OrchestratorSessionKey string
}

// Result describes a committed dispatch.
type Result struct {
	SessionAction string
	SessionKey    string
	Level         string
	Model         string
	Announcement  string
}

// contextUsage is implemented by session registries that can report how much
// of a session's context window is consumed, as a fraction of the budget.
type contextUsage interface {
	SessionContextUsage(ctx context.Context, key string) (float64, error)
}

// Dispatcher runs the pipeline. One instance serves all projects.
type Dispatcher struct {
	workspace string
	store     *registry.Store
	sessions  session.Registry
	notifier  *notify.Notifier
	audit     *audit.Log
	history   *history.Store
	log       *slog.Logger
	now       func() time.Time

	// syncCalls runs fire-and-forget steps inline. Tests only.
	syncCalls bool
}

// New creates a dispatcher. history may be nil.
func New(workspace string, store *registry.Store, sessions session.Registry, notifier *notify.Notifier, auditLog *audit.Log, hist *history.Store) *Dispatcher {
	return &Dispatcher{
		workspace: workspace,
		store:     store,
		sessions:  sessions,
		notifier:  notifier,
		audit:     auditLog,
		history:   hist,
		log:       logging.WithComponent("dispatch"),
		now:       time.Now,
	}
}

// Run executes one dispatch. An error return means the issue is still queued;
// a nil error means the label moved, whatever else may have failed.
func (d *Dispatcher) Run(ctx context.Context, cfg *config.Resolved, provider tracker.Provider, in Input) (*Result, error) {
	rc, err := cfg.Role(in.Role)
	if err != nil {
		return nil, err
	}
	log := d.log.With("project", in.Project.Slug, "issue", in.IssueIID, "role", in.Role)

	// Phase 1: assemble everything. Nothing here touches the tracker label.
	level := config.CanonicalLevel(in.Level)
	if level == "" || !rc.HasLevel(level) {
		level = LevelFromLabels(in.IssueLabels, in.Role, rc)
	}
	if level == "" {
		level = SelectLevel(in.IssueTitle, in.IssueDescription, rc)
	}
	model := config.ResolveModel(in.Role, level, rc)

	existingKey := ""
	previousIssue := 0
	if slot := in.Project.Slot(in.Role, level, in.SlotIndex); slot != nil {
		existingKey = slot.SessionKey
		if slot.IssueID != nil {
			previousIssue = *slot.IssueID
		}
	}

	// A near-full session starting a different issue gets replaced rather
	// than resumed.
	if existingKey != "" && previousIssue != in.IssueIID {
		if usage := d.sessionUsage(ctx, existingKey); usage >= cfg.Timeouts.SessionContextBudget {
			log.Info("session over context budget, forcing spawn", "sessionKey", existingKey, "usage", usage)
			d.deleteSessionAsync(existingKey)
			existingKey = ""
		}
	}

	key := SessionKey(cfg.AgentID, in.Project.Name, in.Role, level, in.SlotIndex)
	if existingKey != "" && existingKey != key {
		log.Info("replacing mismatched session", "old", existingKey, "new", key)
		d.deleteSessionAsync(existingKey)
		existingKey = ""
	}
	sessionAction := ActionSend
	if existingKey == "" {
		sessionAction = ActionSpawn
	}

	comments, err := provider.ListComments(ctx, in.IssueIID)
	if err != nil {
		log.Warn("failed to list issue comments", "error", err)
		comments = nil
	}

	var feedback []tracker.Comment
	if workflow.IsFeedbackState(cfg.Workflow, in.FromLabel) {
		feedback, err = provider.GetPRReviewComments(ctx, in.IssueIID)
		if err != nil {
			log.Warn("failed to fetch PR feedback", "error", err)
			feedback = nil
		}
	}

	var prContext *tracker.PRContext
	var prStatus *tracker.PRStatus
	if workflow.HasReviewCheck(cfg.Workflow, in.Role) {
		if prContext, err = provider.GetPRContext(ctx, in.IssueIID); err != nil {
			log.Warn("failed to fetch PR context", "error", err)
			prContext = nil
		}
		if prStatus, err = provider.GetPRStatus(ctx, in.IssueIID); err != nil {
			prStatus = nil
		}
	}

	attachments := listAttachments(d.workspace, in.Project.Slug, in.IssueIID)

	channel := notify.ResolveNotifyChannel(in.IssueLabels, in.Project.Channels)
	channelID := ""
	if channel != nil {
		channelID = channel.ChannelID
	}
	taskMessage := buildTaskMessage(taskContext{
		Project:     in.Project,
		Role:        in.Role,
		Level:       level,
		Issue:       in,
		Comments:    comments,
		Feedback:    feedback,
		PRContext:   prContext,
		Attachments: attachments,
		ChannelID:   channelID,
	})
	rolePrompt := loadRolePrompt(in.Project.Repo, d.workspace, in.Role)

	// Phase 2: the commitment. Failure here leaves the issue queued.
	if err := provider.TransitionLabel(ctx, in.IssueIID, in.FromLabel, in.ToLabel); err != nil {
		return nil, fmt.Errorf("label transition %q -> %q failed: %w", in.FromLabel, in.ToLabel, err)
	}
	log.Info("issue committed", "from", in.FromLabel, "to", in.ToLabel, "level", level, "action", sessionAction)

	// Phase 3: side effects. Each failure is logged and absorbed.
	d.async("react", func(ctx context.Context) error {
		if err := provider.ReactToIssue(ctx, in.IssueIID, tracker.EyesReaction); err != nil {
			return err
		}
		if prStatus != nil && prStatus.IID != 0 {
			return provider.ReactToPR(ctx, prStatus.IID, tracker.EyesReaction)
		}
		return nil
	})
	d.async("acknowledge comments", func(ctx context.Context) error {
		prIID := 0
		if prStatus != nil {
			prIID = prStatus.IID
		}
		return acknowledgeComments(ctx, provider, prIID, comments, feedback)
	})

	d.applyLabels(cfg, provider, in, level)

	if d.notifier != nil {
		d.notifier.Notify(ctx, in.IssueLabels, in.Project.Channels, notify.Event{
			Type:       notify.WorkerStart,
			Project:    in.Project.Name,
			IssueIID:   in.IssueIID,
			IssueTitle: in.IssueTitle,
			IssueURL:   in.IssueURL,
			Role:       in.Role,
			Level:      level,
		})
	}

	slotLabel := fmt.Sprintf("%s-%s", in.Project.Name, in.Role)
	d.async("ensure session", func(ctx context.Context) error {
		return d.sessions.EnsureSession(ctx, key, model, slotLabel, cfg.Timeouts.SessionPatch())
	})
	d.async("send task", func(ctx context.Context) error {
		return d.sessions.SendToSession(ctx, key, taskMessage, session.SendOptions{
			Model:             model,
			ExtraSystemPrompt: rolePrompt,
			Timeout:           cfg.Timeouts.Dispatch(),
			OrchestratorKey:   in.OrchestratorSessionKey,
		})
	})

	if err := d.store.ActivateWorker(in.Project.Slug, in.Role, registry.Activation{
		IssueID:       in.IssueIID,
		Level:         level,
		SessionKey:    key,
		StartTime:     d.now(),
		SlotIndex:     in.SlotIndex,
		PreviousLabel: in.FromLabel,
	}); err != nil {
		// The session is already running; the health pass reconciles later.
		log.Warn("failed to record worker activation", "error", err)
	}

	announcement := fmt.Sprintf("%s %s started on #%d %s", in.Role, level, in.IssueIID, in.IssueTitle)
	d.audit.Record("dispatch", map[string]any{
		"project":       in.Project.Slug,
		"issue":         in.IssueIID,
		"role":          in.Role,
		"level":         level,
		"sessionAction": sessionAction,
		"sessionKey":    key,
		"from":          in.FromLabel,
		"to":            in.ToLabel,
	})
	d.audit.Record("model_selection", map[string]any{
		"project": in.Project.Slug,
		"issue":   in.IssueIID,
		"role":    in.Role,
		"level":   level,
		"model":   model,
	})
	if d.history != nil {
		if err := d.history.RecordDispatch(history.Dispatch{
			Project:       in.Project.Slug,
			IssueIID:      in.IssueIID,
			Role:          in.Role,
			Level:         level,
			Model:         model,
			SessionAction: sessionAction,
			SessionKey:    key,
			FromLabel:     in.FromLabel,
			ToLabel:       in.ToLabel,
		}); err != nil {
			log.Warn("failed to record dispatch history", "error", err)
		}
	}

	return &Result{
		SessionAction: sessionAction,
		SessionKey:    key,
		Level:         level,
		Model:         model,
		Announcement:  announcement,
	}, nil
}

// applyLabels installs the slot, routing, and owner labels after commitment.
func (d *Dispatcher) applyLabels(cfg *config.Resolved, provider tracker.Provider, in Input, level string) {
	slotLabel := RoleSlotLabel(in.Role, level, in.SlotIndex)
	d.async("slot label", func(ctx context.Context) error {
		if err := provider.EnsureLabel(ctx, slotLabel, ""); err != nil {
			return err
		}
		if stale := labelsWithPrefix(in.IssueLabels, in.Role+":"); len(stale) > 0 {
			if err := provider.RemoveLabels(ctx, in.IssueIID, stale...); err != nil {
				return err
			}
		}
		return provider.AddLabel(ctx, in.IssueIID, slotLabel)
	})

	if workflow.ProducesReviewableWork(cfg.Workflow, in.Role) {
		reviewLabel := workflow.ResolveReviewRouting(cfg.Workflow.ReviewPolicy, level)
		d.async("review routing", func(ctx context.Context) error {
			return replacePrefixedLabel(ctx, provider, in.IssueIID, in.IssueLabels, workflow.ReviewLabelPrefix, reviewLabel)
		})
	}
	if workflow.HasTestPhase(cfg.Workflow) {
		testLabel := workflow.ResolveTestRouting(cfg.Workflow.ReviewPolicy, level)
		d.async("test routing", func(ctx context.Context) error {
			return replacePrefixedLabel(ctx, provider, in.IssueIID, in.IssueLabels, workflow.TestLabelPrefix, testLabel)
		})
	}
	if cfg.InstanceName != "" && len(labelsWithPrefix(in.IssueLabels, workflow.OwnerLabelPrefix)) == 0 {
		owner := workflow.OwnerLabelPrefix + cfg.InstanceName
		d.async("owner label", func(ctx context.Context) error {
			if err := provider.EnsureLabel(ctx, owner, ""); err != nil {
				return err
			}
			return provider.AddLabel(ctx, in.IssueIID, owner)
		})
	}
}

// acknowledgeComments marks every consumed comment with the eyes reaction,
// skipping ones already acknowledged. Review summaries in a terminal review
// state go through the review endpoint, everything else on a PR through the
// inline-comment endpoint.
func acknowledgeComments(ctx context.Context, provider tracker.Provider, prIID int, groups ...[]tracker.Comment) error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, group := range groups {
		for _, c := range group {
			switch c.Kind {
			case tracker.CommentIssue:
				has, err := provider.IssueCommentHasReaction(ctx, c.ID, tracker.EyesReaction)
				if err != nil || has {
					record(err)
					continue
				}
				record(provider.ReactToIssueComment(ctx, c.ID, tracker.EyesReaction))
			case tracker.CommentPRReview:
				if c.State == "APPROVED" || c.State == "CHANGES_REQUESTED" {
					has, err := provider.PRReviewHasReaction(ctx, prIID, c.ID, tracker.EyesReaction)
					if err != nil || has {
						record(err)
						continue
					}
					record(provider.ReactToPRReview(ctx, prIID, c.ID, tracker.EyesReaction))
					continue
				}
				fallthrough
			case tracker.CommentPRInline:
				has, err := provider.PRCommentHasReaction(ctx, prIID, c.ID, tracker.EyesReaction)
				if err != nil || has {
					record(err)
					continue
				}
				record(provider.ReactToPRComment(ctx, prIID, c.ID, tracker.EyesReaction))
			}
		}
	}
	return firstErr
}

// replacePrefixedLabel swaps any label sharing the prefix for the new one.
// A no-op when the label is already present alone.
func replacePrefixedLabel(ctx context.Context, provider tracker.Provider, iid int, current []string, prefix, label string) error {
	stale := []string{}
	present := false
	for _, l := range labelsWithPrefix(current, prefix) {
		if l == label {
			present = true
			continue
		}
		stale = append(stale, l)
	}
	if len(stale) > 0 {
		if err := provider.RemoveLabels(ctx, iid, stale...); err != nil {
			return err
		}
	}
	if present {
		return nil
	}
	if err := provider.EnsureLabel(ctx, label, ""); err != nil {
		return err
	}
	return provider.AddLabel(ctx, iid, label)
}

func labelsWithPrefix(labels []string, prefix string) []string {
	var out []string
	for _, l := range labels {
		if strings.HasPrefix(l, prefix) {
			out = append(out, l)
		}
	}
	return out
}

// sessionUsage asks the session layer for context consumption; registries
// that cannot report it read as zero.
func (d *Dispatcher) sessionUsage(ctx context.Context, key string) float64 {
	cu, ok := d.sessions.(contextUsage)
	if !ok {
		return 0
	}
	usage, err := cu.SessionContextUsage(ctx, key)
	if err != nil {
		return 0
	}
	return usage
}

func (d *Dispatcher) deleteSessionAsync(key string) {
	d.async("delete session", func(ctx context.Context) error {
		return d.sessions.DeleteSession(ctx, key)
	})
}

// async runs a best-effort step detached from the dispatch's own deadline so
// a slow tracker call cannot be cancelled mid-flight by tick teardown.
func (d *Dispatcher) async(name string, fn func(context.Context) error) {
	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			d.log.Warn("best-effort step failed", "step", name, "error", err)
		}
	}
	if d.syncCalls {
		run()
		return
	}
	go run()
}
