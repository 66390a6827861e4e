package tracker

import "context"

// Provider is the abstract tracker adapter. The core depends only on this
// interface; GitHub and GitLab implementations live in subpackages.
//
// Label operations are idempotent where noted. TransitionLabel must leave at
// most one workflow label on the issue: it removes `from` plus any stray
// state labels and adds `to` in the minimum number of tracker calls.
type Provider interface {
	// Labels.
	EnsureLabel(ctx context.Context, name, color string) error
	EnsureAllStateLabels(ctx context.Context, labels []StateLabel) error
	TransitionLabel(ctx context.Context, iid int, from, to string) error
	AddLabel(ctx context.Context, iid int, label string) error
	RemoveLabels(ctx context.Context, iid int, labels ...string) error

	// Issues.
	CreateIssue(ctx context.Context, title, body, label string, assignees []string) (*Issue, error)
	ListIssuesByLabel(ctx context.Context, label string) ([]*Issue, error)
	GetIssue(ctx context.Context, iid int) (*Issue, error)
	ListComments(ctx context.Context, iid int) ([]Comment, error)
	AddComment(ctx context.Context, iid int, body string) error
	CloseIssue(ctx context.Context, iid int) error
	ReopenIssue(ctx context.Context, iid int) error

	// Pull requests.
	GetPRStatus(ctx context.Context, iid int) (*PRStatus, error)
	GetPRContext(ctx context.Context, iid int) (*PRContext, error)
	GetPRReviewComments(ctx context.Context, iid int) ([]Comment, error)
	MergePR(ctx context.Context, iid int) error

	// Acknowledgement. Reactions are idempotent; HasReaction queries let the
	// core skip items it already acknowledged.
	ReactToIssue(ctx context.Context, iid int, reaction string) error
	ReactToPR(ctx context.Context, prIID int, reaction string) error
	ReactToIssueComment(ctx context.Context, commentID int64, reaction string) error
	IssueCommentHasReaction(ctx context.Context, commentID int64, reaction string) (bool, error)
	ReactToPRComment(ctx context.Context, prIID int, commentID int64, reaction string) error
	PRCommentHasReaction(ctx context.Context, prIID int, commentID int64, reaction string) (bool, error)
	ReactToPRReview(ctx context.Context, prIID int, reviewID int64, reaction string) error
	PRReviewHasReaction(ctx context.Context, prIID int, reviewID int64, reaction string) (bool, error)

	// HealthCheck reports whether the tracker is reachable. Startup only.
	HealthCheck(ctx context.Context) bool
}
