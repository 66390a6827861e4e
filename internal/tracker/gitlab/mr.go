package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/laurentenhoor/devclaw/internal/tracker"
)

type mergeRequest struct {
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	State        string `json:"state"` // opened | closed | merged
	WebURL       string `json:"web_url"`
	SourceBranch string `json:"source_branch"`
	MergeStatus  string `json:"merge_status"` // can_be_merged | cannot_be_merged | ...
}

type mrApprovals struct {
	Approved bool `json:"approved"`
}

type mrReviewer struct {
	State string `json:"state"` // unreviewed | reviewed | requested_changes | approved
}

type mrChanges struct {
	Changes []struct {
		OldPath string `json:"old_path"`
		NewPath string `json:"new_path"`
		Diff    string `json:"diff"`
	} `json:"changes"`
}

// findMR locates the merge request working on an issue via the tracker's own
// issue-MR association.
func (p *Provider) findMR(ctx context.Context, iid int) (*mergeRequest, error) {
	var mrs []mergeRequest
	path := p.projectPath("/issues/%d/related_merge_requests", iid)
	if err := p.doRequest(ctx, http.MethodGet, path, nil, &mrs); err != nil {
		return nil, err
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	// Prefer an open or merged MR over an abandoned one.
	for i := range mrs {
		if mrs[i].State != "closed" {
			return &mrs[i], nil
		}
	}
	return &mrs[0], nil
}

// GetPRStatus summarizes the merge request working on an issue. No MR yields
// PRNone.
func (p *Provider) GetPRStatus(ctx context.Context, iid int) (*tracker.PRStatus, error) {
	mr, err := p.findMR(ctx, iid)
	if err != nil {
		return nil, err
	}
	if mr == nil {
		return &tracker.PRStatus{State: tracker.PRNone}, nil
	}

	status := &tracker.PRStatus{
		IID:          mr.IID,
		URL:          mr.WebURL,
		Title:        mr.Title,
		SourceBranch: mr.SourceBranch,
		Mergeable:    mr.MergeStatus == "can_be_merged",
	}

	switch mr.State {
	case "merged":
		status.State = tracker.PRMerged
		return status, nil
	case "closed":
		status.State = tracker.PRClosed
		return status, nil
	}

	state, err := p.reviewVerdict(ctx, mr.IID)
	if err != nil {
		return nil, err
	}
	status.State = state
	return status, nil
}

// reviewVerdict folds reviewer states, approvals and notes into one state. A
// change request outranks an approval.
func (p *Provider) reviewVerdict(ctx context.Context, mrIID int) (tracker.PRState, error) {
	var reviewers []mrReviewer
	if err := p.doRequest(ctx, http.MethodGet, p.projectPath("/merge_requests/%d/reviewers", mrIID), nil, &reviewers); err != nil {
		return "", err
	}
	for _, r := range reviewers {
		if r.State == "requested_changes" {
			return tracker.PRChangesRequested, nil
		}
	}

	var approvals mrApprovals
	if err := p.doRequest(ctx, http.MethodGet, p.projectPath("/merge_requests/%d/approvals", mrIID), nil, &approvals); err != nil {
		return "", err
	}
	if approvals.Approved {
		return tracker.PRApproved, nil
	}

	var notes []note
	if err := p.doRequest(ctx, http.MethodGet, p.projectPath("/merge_requests/%d/notes?per_page=100", mrIID), nil, &notes); err != nil {
		return "", err
	}
	for _, n := range notes {
		if !n.System {
			return tracker.PRHasComments, nil
		}
	}
	return tracker.PROpen, nil
}

// GetPRContext returns the MR's metadata plus its combined diff for review.
func (p *Provider) GetPRContext(ctx context.Context, iid int) (*tracker.PRContext, error) {
	mr, err := p.findMR(ctx, iid)
	if err != nil {
		return nil, err
	}
	if mr == nil {
		return nil, nil
	}

	var changes mrChanges
	if err := p.doRequest(ctx, http.MethodGet, p.projectPath("/merge_requests/%d/changes", mr.IID), nil, &changes); err != nil {
		return nil, fmt.Errorf("failed to fetch MR changes: %w", err)
	}
	var diff strings.Builder
	for _, c := range changes.Changes {
		fmt.Fprintf(&diff, "--- a/%s\n+++ b/%s\n%s\n", c.OldPath, c.NewPath, c.Diff)
	}
	return &tracker.PRContext{
		URL:   mr.WebURL,
		Title: mr.Title,
		Diff:  diff.String(),
	}, nil
}

// GetPRReviewComments returns the MR's discussion notes. GitLab has no
// separate review-summary object, so everything surfaces as inline feedback.
func (p *Provider) GetPRReviewComments(ctx context.Context, iid int) ([]tracker.Comment, error) {
	mr, err := p.findMR(ctx, iid)
	if err != nil {
		return nil, err
	}
	if mr == nil {
		return nil, nil
	}

	var notes []note
	if err := p.doRequest(ctx, http.MethodGet, p.projectPath("/merge_requests/%d/notes?sort=asc&per_page=100", mr.IID), nil, &notes); err != nil {
		return nil, err
	}
	var out []tracker.Comment
	p.mu.Lock()
	for _, n := range notes {
		if n.System {
			continue
		}
		p.noteMRs[n.ID] = mr.IID
		out = append(out, tracker.Comment{
			ID:        n.ID,
			Body:      n.Body,
			Author:    n.Author.Username,
			Kind:      tracker.CommentPRInline,
			CreatedAt: n.CreatedAt,
		})
	}
	p.mu.Unlock()
	return out, nil
}

// MergePR merges the MR working on an issue.
func (p *Provider) MergePR(ctx context.Context, iid int) error {
	mr, err := p.findMR(ctx, iid)
	if err != nil {
		return err
	}
	if mr == nil {
		return fmt.Errorf("no merge request found for issue #%d", iid)
	}
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPut, p.projectPath("/merge_requests/%d/merge", mr.IID), map[string]bool{"squash": true}, nil)
	}, tracker.DefaultRetryOptions())
}

// ReactToIssue awards an emoji on the issue.
func (p *Provider) ReactToIssue(ctx context.Context, iid int, name string) error {
	return p.award(ctx, p.projectPath("/issues/%d/award_emoji", iid), name)
}

// ReactToPR awards an emoji on the merge request.
func (p *Provider) ReactToPR(ctx context.Context, mrIID int, name string) error {
	return p.award(ctx, p.projectPath("/merge_requests/%d/award_emoji", mrIID), name)
}

// ReactToIssueComment awards an emoji on an issue note. The note's issue is
// known from a prior ListComments call.
func (p *Provider) ReactToIssueComment(ctx context.Context, noteID int64, name string) error {
	iid, err := p.issueForNote(noteID)
	if err != nil {
		return err
	}
	return p.award(ctx, p.projectPath("/issues/%d/notes/%d/award_emoji", iid, noteID), name)
}

// IssueCommentHasReaction reports whether the note carries the emoji.
func (p *Provider) IssueCommentHasReaction(ctx context.Context, noteID int64, name string) (bool, error) {
	iid, err := p.issueForNote(noteID)
	if err != nil {
		return false, err
	}
	return p.hasAward(ctx, p.projectPath("/issues/%d/notes/%d/award_emoji", iid, noteID), name)
}

// ReactToPRComment awards an emoji on an MR note.
func (p *Provider) ReactToPRComment(ctx context.Context, mrIID int, noteID int64, name string) error {
	return p.award(ctx, p.projectPath("/merge_requests/%d/notes/%d/award_emoji", mrIID, noteID), name)
}

// PRCommentHasReaction reports whether an MR note carries the emoji.
func (p *Provider) PRCommentHasReaction(ctx context.Context, mrIID int, noteID int64, name string) (bool, error) {
	return p.hasAward(ctx, p.projectPath("/merge_requests/%d/notes/%d/award_emoji", mrIID, noteID), name)
}

// ReactToPRReview awards an emoji on an MR note. GitLab review feedback is
// plain notes, so the review and comment paths coincide.
func (p *Provider) ReactToPRReview(ctx context.Context, mrIID int, reviewID int64, name string) error {
	return p.ReactToPRComment(ctx, mrIID, reviewID, name)
}

// PRReviewHasReaction reports whether an MR note carries the emoji.
func (p *Provider) PRReviewHasReaction(ctx context.Context, mrIID int, reviewID int64, name string) (bool, error) {
	return p.PRCommentHasReaction(ctx, mrIID, reviewID, name)
}

func (p *Provider) issueForNote(noteID int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	iid, ok := p.noteIssues[noteID]
	if !ok {
		return 0, fmt.Errorf("note %d not seen in any comment listing", noteID)
	}
	return iid, nil
}

func (p *Provider) award(ctx context.Context, path, name string) error {
	err := p.doRequest(ctx, http.MethodPost, path, map[string]string{"name": name}, nil)
	// Awarding the same emoji twice returns 404 "has already been taken".
	if err != nil && strings.Contains(err.Error(), "already") {
		return nil
	}
	return err
}

func (p *Provider) hasAward(ctx context.Context, path, name string) (bool, error) {
	var awards []awardEmoji
	if err := p.doRequest(ctx, http.MethodGet, path+"?per_page=100", nil, &awards); err != nil {
		return false, err
	}
	for _, a := range awards {
		if a.Name == name {
			return true, nil
		}
	}
	return false, nil
}
