package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/laurentenhoor/devclaw/internal/tracker"
)

func newTestProvider(t *testing.T, handler http.Handler) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p, err := NewWithBaseURL("test-token", "acme/widgets", srv.URL)
	if err != nil {
		t.Fatalf("NewWithBaseURL: %v", err)
	}
	return p
}

func TestNewRejectsBadRemote(t *testing.T) {
	for _, remote := range []string{"", "acme", "/widgets", "acme/"} {
		if _, err := New("tok", remote); err == nil {
			t.Errorf("New(%q): expected error", remote)
		}
	}
}

func TestEnsureLabelToleratesExisting(t *testing.T) {
	var calls int
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/widgets/labels" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	if err := p.EnsureLabel(context.Background(), "Doing", "#1d76db"); err != nil {
		t.Fatalf("EnsureLabel: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (422 must not retry)", calls)
	}
}

func TestTransitionLabelStripsStrayStateLabels(t *testing.T) {
	var putBody struct {
		Labels []string `json:"labels"`
	}
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/acme/widgets/issues/5":
			json.NewEncoder(w).Encode(issue{
				Number: 5,
				Labels: []label{{Name: "To Do"}, {Name: "bug"}, {Name: "To Review"}},
			})
		case r.Method == http.MethodPut && r.URL.Path == "/repos/acme/widgets/issues/5/labels":
			json.NewDecoder(r.Body).Decode(&putBody)
			w.Write([]byte("[]"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	p.stateLabels = map[string]bool{"To Do": true, "Doing": true, "To Review": true}

	if err := p.TransitionLabel(context.Background(), 5, "To Do", "Doing"); err != nil {
		t.Fatalf("TransitionLabel: %v", err)
	}
	want := []string{"bug", "Doing"}
	if len(putBody.Labels) != len(want) {
		t.Fatalf("labels = %v, want %v", putBody.Labels, want)
	}
	for i := range want {
		if putBody.Labels[i] != want[i] {
			t.Errorf("labels = %v, want %v", putBody.Labels, want)
		}
	}
}

func TestListIssuesByLabelFiltersPullRequests(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]issue{
			{Number: 3, Labels: []label{{Name: "to do"}}},
			{Number: 2, Labels: []label{{Name: "To Do"}}, PullRequest: &struct{}{}},
			{Number: 1, Labels: []label{{Name: "Doing"}}},
		})
	}))

	issues, err := p.ListIssuesByLabel(context.Background(), "To Do")
	if err != nil {
		t.Fatalf("ListIssuesByLabel: %v", err)
	}
	if len(issues) != 1 || issues[0].IID != 3 {
		t.Fatalf("issues = %+v, want just #3", issues)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := p.GetIssue(context.Background(), 99)
	if !errors.Is(err, tracker.ErrNotFound) {
		t.Fatalf("err = %v, want tracker.ErrNotFound", err)
	}
}

func prFixtureHandler(t *testing.T, pr pullRequest, reviews []review) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/pulls":
			json.NewEncoder(w).Encode([]pullRequest{pr})
		case "/repos/acme/widgets/pulls/10":
			json.NewEncoder(w).Encode(pr)
		case "/repos/acme/widgets/pulls/10/reviews":
			json.NewEncoder(w).Encode(reviews)
		case "/repos/acme/widgets/pulls/10/comments":
			w.Write([]byte("[]"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestGetPRStatusMapsReviewVerdicts(t *testing.T) {
	mergeable := true
	pr := pullRequest{Number: 10, Title: "Fix login", Body: "Closes #7", State: "open", Mergeable: &mergeable}
	pr.Head.Ref = "7-fix-login"

	tests := []struct {
		name    string
		reviews []review
		want    tracker.PRState
	}{
		{"no reviews", nil, tracker.PROpen},
		{"approved", []review{{ID: 1, State: "APPROVED", User: user{Login: "ann"}}}, tracker.PRApproved},
		{"changes requested wins", []review{
			{ID: 1, State: "APPROVED", User: user{Login: "ann"}},
			{ID: 2, State: "CHANGES_REQUESTED", User: user{Login: "bob"}},
		}, tracker.PRChangesRequested},
		{"reviewer flips to approve", []review{
			{ID: 1, State: "CHANGES_REQUESTED", User: user{Login: "ann"}},
			{ID: 2, State: "APPROVED", User: user{Login: "ann"}},
		}, tracker.PRApproved},
		{"commented only", []review{{ID: 1, State: "COMMENTED", User: user{Login: "ann"}}}, tracker.PRHasComments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, prFixtureHandler(t, pr, tt.reviews))
			status, err := p.GetPRStatus(context.Background(), 7)
			if err != nil {
				t.Fatalf("GetPRStatus: %v", err)
			}
			if status.State != tt.want {
				t.Errorf("state = %q, want %q", status.State, tt.want)
			}
			if status.IID != 10 || !status.Mergeable {
				t.Errorf("status = %+v, want IID 10 mergeable", status)
			}
		})
	}
}

func TestGetPRStatusMerged(t *testing.T) {
	mergedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pr := pullRequest{Number: 10, Body: "Closes #7", State: "closed", MergedAt: &mergedAt}
	p := newTestProvider(t, prFixtureHandler(t, pr, nil))

	status, err := p.GetPRStatus(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetPRStatus: %v", err)
	}
	if status.State != tracker.PRMerged {
		t.Errorf("state = %q, want merged", status.State)
	}
}

func TestGetPRStatusNoPR(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))

	status, err := p.GetPRStatus(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetPRStatus: %v", err)
	}
	if status.State != tracker.PRNone {
		t.Errorf("state = %q, want none", status.State)
	}
}

func TestFindPRByHeadBranch(t *testing.T) {
	pr := pullRequest{Number: 10, Body: "no reference here", State: "open"}
	pr.Head.Ref = "issue-42-cleanup"
	decoy := pullRequest{Number: 11, Body: "unrelated", State: "open"}
	decoy.Head.Ref = "feature-428"

	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]pullRequest{decoy, pr})
	}))

	found, err := p.findPR(context.Background(), 42)
	if err != nil {
		t.Fatalf("findPR: %v", err)
	}
	if found == nil || found.Number != 10 {
		t.Fatalf("found = %+v, want #10", found)
	}
}

func TestGetPRContextFetchesDiff(t *testing.T) {
	pr := pullRequest{Number: 10, Title: "Fix login", Body: "Closes #7", State: "open", HTMLURL: "https://example.com/pr/10"}
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/pulls":
			json.NewEncoder(w).Encode([]pullRequest{pr})
		case "/repos/acme/widgets/pulls/10":
			if r.Header.Get("Accept") != "application/vnd.github.diff" {
				t.Errorf("Accept = %q, want diff media type", r.Header.Get("Accept"))
			}
			w.Write([]byte("diff --git a/main.go b/main.go"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	pctx, err := p.GetPRContext(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetPRContext: %v", err)
	}
	if pctx.Title != "Fix login" || pctx.Diff == "" {
		t.Errorf("context = %+v, want title and diff", pctx)
	}
}

func TestGetPRReviewCommentsSkipsBareApprovals(t *testing.T) {
	pr := pullRequest{Number: 10, Body: "Closes #7", State: "open"}
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/pulls":
			json.NewEncoder(w).Encode([]pullRequest{pr})
		case "/repos/acme/widgets/pulls/10/comments":
			json.NewEncoder(w).Encode([]comment{{ID: 100, Body: "rename this", User: user{Login: "ann"}}})
		case "/repos/acme/widgets/pulls/10/reviews":
			json.NewEncoder(w).Encode([]review{
				{ID: 200, Body: "", State: "APPROVED", User: user{Login: "bob"}},
				{ID: 201, Body: "please split the function", State: "CHANGES_REQUESTED", User: user{Login: "cho"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	comments, err := p.GetPRReviewComments(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetPRReviewComments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2 (bare approval skipped)", len(comments))
	}
	if comments[0].Kind != tracker.CommentPRInline || comments[1].Kind != tracker.CommentPRReview {
		t.Errorf("kinds = %q %q", comments[0].Kind, comments[1].Kind)
	}
	if comments[1].State != "CHANGES_REQUESTED" {
		t.Errorf("review state = %q", comments[1].State)
	}
}

func TestReviewAcknowledgementIsLocal(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))

	ctx := context.Background()
	has, err := p.PRReviewHasReaction(ctx, 10, 200, tracker.EyesReaction)
	if err != nil || has {
		t.Fatalf("has = %v err = %v, want false nil", has, err)
	}
	if err := p.ReactToPRReview(ctx, 10, 200, tracker.EyesReaction); err != nil {
		t.Fatalf("ReactToPRReview: %v", err)
	}
	has, err = p.PRReviewHasReaction(ctx, 10, 200, tracker.EyesReaction)
	if err != nil || !has {
		t.Fatalf("has = %v err = %v, want true nil", has, err)
	}
}

func TestIssueCommentHasReaction(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/issues/comments/55/reactions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]reaction{{Content: "eyes"}})
	}))

	has, err := p.IssueCommentHasReaction(context.Background(), 55, "eyes")
	if err != nil || !has {
		t.Fatalf("has = %v err = %v, want true nil", has, err)
	}
}

func TestRemoveLabelsToleratesMissing(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	if err := p.RemoveLabels(context.Background(), 5, "gone-label"); err != nil {
		t.Fatalf("RemoveLabels: %v", err)
	}
}
