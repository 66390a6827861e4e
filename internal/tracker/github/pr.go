package github

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/laurentenhoor/devclaw/internal/tracker"
)

// findPR locates the pull request working on an issue. Convention: the PR
// body references the issue ("closes #42") or the head branch carries the
// issue number ("42-fix-login", "issue-42").
func (p *Provider) findPR(ctx context.Context, iid int) (*pullRequest, error) {
	var prs []pullRequest
	path := p.repoPath("/pulls?state=all&sort=created&direction=desc&per_page=100")
	if err := p.doRequest(ctx, http.MethodGet, path, nil, &prs); err != nil {
		return nil, err
	}

	issueRef := regexp.MustCompile(fmt.Sprintf(`#%d\b`, iid))
	branchRef := regexp.MustCompile(fmt.Sprintf(`(^|[^0-9])%d([^0-9]|$)`, iid))
	for i := range prs {
		pr := &prs[i]
		if issueRef.MatchString(pr.Body) || issueRef.MatchString(pr.Title) {
			return pr, nil
		}
		if branchRef.MatchString(pr.Head.Ref) {
			return pr, nil
		}
	}
	return nil, nil
}

// getPR fetches one PR by number. The list endpoint omits mergeability, so
// status checks re-fetch the detail view.
func (p *Provider) getPR(ctx context.Context, number int) (*pullRequest, error) {
	var pr pullRequest
	if err := p.doRequest(ctx, http.MethodGet, p.repoPath("/pulls/%d", number), nil, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// GetPRStatus summarizes the PR working on an issue. No PR yields PRNone.
func (p *Provider) GetPRStatus(ctx context.Context, iid int) (*tracker.PRStatus, error) {
	found, err := p.findPR(ctx, iid)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return &tracker.PRStatus{State: tracker.PRNone}, nil
	}
	pr, err := p.getPR(ctx, found.Number)
	if err != nil {
		return nil, err
	}

	status := &tracker.PRStatus{
		IID:          pr.Number,
		URL:          pr.HTMLURL,
		Title:        pr.Title,
		SourceBranch: pr.Head.Ref,
		Mergeable:    pr.Mergeable != nil && *pr.Mergeable,
	}

	switch {
	case pr.MergedAt != nil:
		status.State = tracker.PRMerged
		return status, nil
	case pr.State == "closed":
		status.State = tracker.PRClosed
		return status, nil
	}

	state, err := p.reviewVerdict(ctx, pr.Number)
	if err != nil {
		return nil, err
	}
	status.State = state
	return status, nil
}

// reviewVerdict folds a PR's reviews into one state. Per reviewer only the
// latest submitted verdict counts; a change request outranks an approval.
func (p *Provider) reviewVerdict(ctx context.Context, number int) (tracker.PRState, error) {
	var reviews []review
	if err := p.doRequest(ctx, http.MethodGet, p.repoPath("/pulls/%d/reviews?per_page=100", number), nil, &reviews); err != nil {
		return "", err
	}

	latest := map[string]string{}
	commented := false
	for _, r := range reviews {
		switch r.State {
		case "APPROVED", "CHANGES_REQUESTED":
			latest[r.User.Login] = r.State
		case "COMMENTED":
			commented = true
		}
	}

	approved := false
	for _, state := range latest {
		if state == "CHANGES_REQUESTED" {
			return tracker.PRChangesRequested, nil
		}
		if state == "APPROVED" {
			approved = true
		}
	}
	if approved {
		return tracker.PRApproved, nil
	}

	if !commented {
		var inline []comment
		if err := p.doRequest(ctx, http.MethodGet, p.repoPath("/pulls/%d/comments?per_page=1", number), nil, &inline); err != nil {
			return "", err
		}
		commented = len(inline) > 0
	}
	if commented {
		return tracker.PRHasComments, nil
	}
	return tracker.PROpen, nil
}

// GetPRContext returns the PR's metadata plus its unified diff for review.
func (p *Provider) GetPRContext(ctx context.Context, iid int) (*tracker.PRContext, error) {
	pr, err := p.findPR(ctx, iid)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, nil
	}
	diff, err := p.doRaw(ctx, p.repoPath("/pulls/%d", pr.Number), "application/vnd.github.diff")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PR diff: %w", err)
	}
	return &tracker.PRContext{
		URL:   pr.HTMLURL,
		Title: pr.Title,
		Diff:  string(diff),
	}, nil
}

// GetPRReviewComments returns inline comments and review summaries for the
// PR working on an issue.
func (p *Provider) GetPRReviewComments(ctx context.Context, iid int) ([]tracker.Comment, error) {
	pr, err := p.findPR(ctx, iid)
	if err != nil {
		return nil, err
	}
	if pr == nil {
		return nil, nil
	}

	var out []tracker.Comment

	var inline []comment
	if err := p.doRequest(ctx, http.MethodGet, p.repoPath("/pulls/%d/comments?per_page=100", pr.Number), nil, &inline); err != nil {
		return nil, err
	}
	for _, c := range inline {
		out = append(out, tracker.Comment{
			ID:        c.ID,
			Body:      c.Body,
			Author:    c.User.Login,
			Kind:      tracker.CommentPRInline,
			CreatedAt: c.CreatedAt,
		})
	}

	var reviews []review
	if err := p.doRequest(ctx, http.MethodGet, p.repoPath("/pulls/%d/reviews?per_page=100", pr.Number), nil, &reviews); err != nil {
		return nil, err
	}
	for _, r := range reviews {
		if strings.TrimSpace(r.Body) == "" && r.State == "APPROVED" {
			continue // bare approvals carry no feedback
		}
		out = append(out, tracker.Comment{
			ID:        r.ID,
			Body:      r.Body,
			Author:    r.User.Login,
			Kind:      tracker.CommentPRReview,
			State:     r.State,
			CreatedAt: r.SubmittedAt,
		})
	}
	return out, nil
}

// MergePR merges the PR working on an issue.
func (p *Provider) MergePR(ctx context.Context, iid int) error {
	pr, err := p.findPR(ctx, iid)
	if err != nil {
		return err
	}
	if pr == nil {
		return fmt.Errorf("no pull request found for issue #%d", iid)
	}
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPut, p.repoPath("/pulls/%d/merge", pr.Number), map[string]string{"merge_method": "squash"}, nil)
	}, tracker.DefaultRetryOptions())
}

// ReactToIssue adds a reaction to the issue body.
func (p *Provider) ReactToIssue(ctx context.Context, iid int, content string) error {
	return p.doRequest(ctx, http.MethodPost, p.repoPath("/issues/%d/reactions", iid), reaction{Content: content}, nil)
}

// ReactToPR adds a reaction to the PR body. Pull requests are issues in
// GitHub's reactions API.
func (p *Provider) ReactToPR(ctx context.Context, prIID int, content string) error {
	return p.doRequest(ctx, http.MethodPost, p.repoPath("/issues/%d/reactions", prIID), reaction{Content: content}, nil)
}

// ReactToIssueComment adds a reaction to an issue comment.
func (p *Provider) ReactToIssueComment(ctx context.Context, commentID int64, content string) error {
	return p.doRequest(ctx, http.MethodPost, p.repoPath("/issues/comments/%d/reactions", commentID), reaction{Content: content}, nil)
}

// IssueCommentHasReaction reports whether the comment already carries the
// reaction from anyone.
func (p *Provider) IssueCommentHasReaction(ctx context.Context, commentID int64, content string) (bool, error) {
	return p.hasReaction(ctx, p.repoPath("/issues/comments/%d/reactions", commentID), content)
}

// ReactToPRComment adds a reaction to an inline review comment.
func (p *Provider) ReactToPRComment(ctx context.Context, prIID int, commentID int64, content string) error {
	return p.doRequest(ctx, http.MethodPost, p.repoPath("/pulls/comments/%d/reactions", commentID), reaction{Content: content}, nil)
}

// PRCommentHasReaction reports whether an inline comment carries the reaction.
func (p *Provider) PRCommentHasReaction(ctx context.Context, prIID int, commentID int64, content string) (bool, error) {
	return p.hasReaction(ctx, p.repoPath("/pulls/comments/%d/reactions", commentID), content)
}

// ReactToPRReview acknowledges a review summary. GitHub has no reactions
// endpoint for reviews, so acknowledgement is tracked in-process; a re-ack
// after restart is harmless.
func (p *Provider) ReactToPRReview(ctx context.Context, prIID int, reviewID int64, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ackedReviews[reviewID] = true
	return nil
}

// PRReviewHasReaction reports whether a review summary was acknowledged by
// this process.
func (p *Provider) PRReviewHasReaction(ctx context.Context, prIID int, reviewID int64, content string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ackedReviews[reviewID], nil
}

func (p *Provider) hasReaction(ctx context.Context, path, content string) (bool, error) {
	var reactions []reaction
	if err := p.doRequest(ctx, http.MethodGet, path+"?per_page=100", nil, &reactions); err != nil {
		return false, err
	}
	for _, r := range reactions {
		if r.Content == content {
			return true, nil
		}
	}
	return false, nil
}
