// Package tracker defines the issue-provider contract the orchestrator core
// depends on, plus the shared types its adapters translate into.
package tracker

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an issue does not exist or is not visible.
var ErrNotFound = errors.New("tracker: not found")

// EyesReaction marks an item as seen by a worker.
const EyesReaction = "eyes"

// Issue is a tracker issue in provider-neutral shape.
type Issue struct {
	IID       int
	Title     string
	Body      string
	State     string // open | closed
	URL       string
	Labels    []string
	Assignees []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLabel reports whether the issue carries the exact label.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// CommentKind distinguishes where a comment lives, which decides how it is
// acknowledged.
type CommentKind string

const (
	CommentIssue    CommentKind = "issue"
	CommentPRInline CommentKind = "pr_inline"
	CommentPRReview CommentKind = "pr_review"
)

// Comment is an issue comment, an inline PR comment, or a PR review summary.
// State is only set for review summaries (APPROVED, CHANGES_REQUESTED, ...).
type Comment struct {
	ID        int64
	Body      string
	Author    string
	Kind      CommentKind
	State     string
	CreatedAt time.Time
}

// PRState is the provider-neutral pull/merge request state.
type PRState string

const (
	PROpen             PRState = "open"
	PRApproved         PRState = "approved"
	PRChangesRequested PRState = "changes_requested"
	PRHasComments      PRState = "has_comments"
	PRMerged           PRState = "merged"
	PRClosed           PRState = "closed"
	PRNone             PRState = "none"
)

// PRStatus summarizes the pull request associated with an issue.
type PRStatus struct {
	State        PRState
	IID          int
	URL          string
	Title        string
	SourceBranch string
	Mergeable    bool
}

// PRContext is the diff and metadata handed to reviewers.
type PRContext struct {
	URL   string
	Title string
	Diff  string
}

// StateLabel pairs a label name with its display color for bulk creation.
type StateLabel struct {
	Name  string
	Color string
}
