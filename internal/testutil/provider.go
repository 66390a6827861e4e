package testutil

import (
	"context"
	"sync"

	"github.com/laurentenhoor/devclaw/internal/tracker"
)

// FakeProvider is an in-memory tracker. Issues are seeded by the test; label
// transitions mutate the seeded issues so follow-up queries observe them.
type FakeProvider struct {
	mu sync.Mutex

	Issues    map[int]*tracker.Issue
	PRs       map[int]*tracker.PRStatus
	PRDiffs   map[int]*tracker.PRContext
	Comments  map[int][]tracker.Comment
	Reviews   map[int][]tracker.Comment
	Reactions map[int64]bool

	TransitionErr error
	MergeErr      error

	Transitions   []Transition
	Merged        []int
	Closed        []int
	Reopened      []int
	EnsuredLabels []string
	AddedLabels   map[int][]string
}

// Transition records one label move.
type Transition struct {
	IID  int
	From string
	To   string
}

// NewFakeProvider returns an empty healthy tracker.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Issues:      map[int]*tracker.Issue{},
		PRs:         map[int]*tracker.PRStatus{},
		PRDiffs:     map[int]*tracker.PRContext{},
		Comments:    map[int][]tracker.Comment{},
		Reviews:     map[int][]tracker.Comment{},
		Reactions:   map[int64]bool{},
		AddedLabels: map[int][]string{},
	}
}

// Seed adds an issue.
func (f *FakeProvider) Seed(issue *tracker.Issue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Issues[issue.IID] = issue
}

func (f *FakeProvider) EnsureLabel(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.EnsuredLabels = append(f.EnsuredLabels, name)
	return nil
}

func (f *FakeProvider) EnsureAllStateLabels(_ context.Context, labels []tracker.StateLabel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range labels {
		f.EnsuredLabels = append(f.EnsuredLabels, l.Name)
	}
	return nil
}

func (f *FakeProvider) TransitionLabel(_ context.Context, iid int, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TransitionErr != nil {
		return f.TransitionErr
	}
	f.Transitions = append(f.Transitions, Transition{IID: iid, From: from, To: to})
	if issue, ok := f.Issues[iid]; ok {
		var labels []string
		for _, l := range issue.Labels {
			if l != from && l != to {
				labels = append(labels, l)
			}
		}
		issue.Labels = append(labels, to)
	}
	return nil
}

func (f *FakeProvider) AddLabel(_ context.Context, iid int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AddedLabels[iid] = append(f.AddedLabels[iid], label)
	if issue, ok := f.Issues[iid]; ok && !issue.HasLabel(label) {
		issue.Labels = append(issue.Labels, label)
	}
	return nil
}

func (f *FakeProvider) RemoveLabels(_ context.Context, iid int, labels ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.Issues[iid]
	if !ok {
		return nil
	}
	drop := make(map[string]bool, len(labels))
	for _, l := range labels {
		drop[l] = true
	}
	var kept []string
	for _, l := range issue.Labels {
		if !drop[l] {
			kept = append(kept, l)
		}
	}
	issue.Labels = kept
	return nil
}

func (f *FakeProvider) CreateIssue(_ context.Context, title, body, label string, assignees []string) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	iid := len(f.Issues) + 1
	issue := &tracker.Issue{IID: iid, Title: title, Body: body, State: "open", Labels: []string{label}, Assignees: assignees}
	f.Issues[iid] = issue
	return issue, nil
}

func (f *FakeProvider) ListIssuesByLabel(_ context.Context, label string) ([]*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*tracker.Issue
	for _, issue := range f.Issues {
		if issue.State == "open" && issue.HasLabel(label) {
			out = append(out, issue)
		}
	}
	// Newest first, so the oldest open issue sits at the tail.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *FakeProvider) GetIssue(_ context.Context, iid int) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	issue, ok := f.Issues[iid]
	if !ok {
		return nil, tracker.ErrNotFound
	}
	return issue, nil
}

func (f *FakeProvider) ListComments(_ context.Context, iid int) ([]tracker.Comment, error) {
	return f.Comments[iid], nil
}

func (f *FakeProvider) AddComment(_ context.Context, iid int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Comments[iid] = append(f.Comments[iid], tracker.Comment{Body: body, Kind: tracker.CommentIssue})
	return nil
}

func (f *FakeProvider) CloseIssue(_ context.Context, iid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = append(f.Closed, iid)
	if issue, ok := f.Issues[iid]; ok {
		issue.State = "closed"
	}
	return nil
}

func (f *FakeProvider) ReopenIssue(_ context.Context, iid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reopened = append(f.Reopened, iid)
	if issue, ok := f.Issues[iid]; ok {
		issue.State = "open"
	}
	return nil
}

func (f *FakeProvider) GetPRStatus(_ context.Context, iid int) (*tracker.PRStatus, error) {
	if pr, ok := f.PRs[iid]; ok {
		return pr, nil
	}
	return &tracker.PRStatus{State: tracker.PRNone}, nil
}

func (f *FakeProvider) GetPRContext(_ context.Context, iid int) (*tracker.PRContext, error) {
	return f.PRDiffs[iid], nil
}

func (f *FakeProvider) GetPRReviewComments(_ context.Context, iid int) ([]tracker.Comment, error) {
	return f.Reviews[iid], nil
}

func (f *FakeProvider) MergePR(_ context.Context, iid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MergeErr != nil {
		return f.MergeErr
	}
	f.Merged = append(f.Merged, iid)
	if pr, ok := f.PRs[iid]; ok {
		pr.State = tracker.PRMerged
	}
	return nil
}

func (f *FakeProvider) ReactToIssue(context.Context, int, string) error { return nil }
func (f *FakeProvider) ReactToPR(context.Context, int, string) error    { return nil }

func (f *FakeProvider) ReactToIssueComment(_ context.Context, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions[id] = true
	return nil
}

func (f *FakeProvider) IssueCommentHasReaction(_ context.Context, id int64, _ string) (bool, error) {
	return f.Reactions[id], nil
}

func (f *FakeProvider) ReactToPRComment(_ context.Context, _ int, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions[id] = true
	return nil
}

func (f *FakeProvider) PRCommentHasReaction(_ context.Context, _ int, id int64, _ string) (bool, error) {
	return f.Reactions[id], nil
}

func (f *FakeProvider) ReactToPRReview(_ context.Context, _ int, id int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions[id] = true
	return nil
}

func (f *FakeProvider) PRReviewHasReaction(_ context.Context, _ int, id int64, _ string) (bool, error) {
	return f.Reactions[id], nil
}

func (f *FakeProvider) HealthCheck(context.Context) bool { return true }

var _ tracker.Provider = (*FakeProvider)(nil)
