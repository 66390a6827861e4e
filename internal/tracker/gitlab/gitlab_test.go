package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/laurentenhoor/devclaw/internal/tracker"
)

const projectPrefix = "/projects/acme%2Fwidgets"

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

func TestProjectPathIsEncoded(t *testing.T) {
	var gotPath string
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		if r.Header.Get("PRIVATE-TOKEN") != "test-token" {
			t.Errorf("PRIVATE-TOKEN = %q", r.Header.Get("PRIVATE-TOKEN"))
		}
		w.Write([]byte("{}"))
	}))

	if !p.HealthCheck(context.Background()) {
		t.Fatal("HealthCheck = false")
	}
	if gotPath != projectPrefix {
		t.Errorf("path = %q, want %q", gotPath, projectPrefix)
	}
}

func TestEnsureLabelToleratesConflict(t *testing.T) {
	var calls int
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"message":"Label already exists"}`))
	}))

	if err := p.EnsureLabel(context.Background(), "Doing", "1d76db"); err != nil {
		t.Fatalf("EnsureLabel: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (409 must not retry)", calls)
	}
}

func TestTransitionLabelRemovesStrays(t *testing.T) {
	var update map[string]string
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(issue{IID: 5, Labels: []string{"To Do", "bug", "To Review"}})
		case r.Method == http.MethodPut:
			json.NewDecoder(r.Body).Decode(&update)
			w.Write([]byte("{}"))
		}
	}))
	p.stateLabels = map[string]bool{"To Do": true, "Doing": true, "To Review": true}

	if err := p.TransitionLabel(context.Background(), 5, "To Do", "Doing"); err != nil {
		t.Fatalf("TransitionLabel: %v", err)
	}
	if update["add_labels"] != "Doing" {
		t.Errorf("add_labels = %q, want Doing", update["add_labels"])
	}
	if update["remove_labels"] != "To Do,To Review" {
		t.Errorf("remove_labels = %q, want To Do,To Review", update["remove_labels"])
	}
}

func TestGetIssueMapsOpenedState(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(issue{IID: 5, State: "opened", Labels: []string{"Doing"}})
	}))

	got, err := p.GetIssue(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetIssue: %v", err)
	}
	if got.State != "open" {
		t.Errorf("state = %q, want open", got.State)
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

func TestListCommentsSkipsSystemNotes(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]note{
			{ID: 1, Body: "changed the description", System: true},
			{ID: 2, Body: "please also handle timeouts"},
		})
	}))

	comments, err := p.ListComments(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if len(comments) != 1 || comments[0].ID != 2 {
		t.Fatalf("comments = %+v, want just note 2", comments)
	}
}

func mrFixtureHandler(t *testing.T, mr mergeRequest, reviewers []mrReviewer, approved bool, notes []note) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects/acme/widgets/issues/7/related_merge_requests":
			json.NewEncoder(w).Encode([]mergeRequest{mr})
		case "/projects/acme/widgets/merge_requests/10/reviewers":
			json.NewEncoder(w).Encode(reviewers)
		case "/projects/acme/widgets/merge_requests/10/approvals":
			json.NewEncoder(w).Encode(mrApprovals{Approved: approved})
		case "/projects/acme/widgets/merge_requests/10/notes":
			json.NewEncoder(w).Encode(notes)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestGetPRStatusVerdicts(t *testing.T) {
	openMR := mergeRequest{IID: 10, Title: "Fix login", State: "opened", SourceBranch: "7-fix-login", MergeStatus: "can_be_merged"}

	tests := []struct {
		name      string
		mr        mergeRequest
		reviewers []mrReviewer
		approved  bool
		notes     []note
		want      tracker.PRState
	}{
		{"merged", mergeRequest{IID: 10, State: "merged"}, nil, false, nil, tracker.PRMerged},
		{"closed", mergeRequest{IID: 10, State: "closed"}, nil, false, nil, tracker.PRClosed},
		{"changes requested", openMR, []mrReviewer{{State: "requested_changes"}}, false, nil, tracker.PRChangesRequested},
		{"approved", openMR, []mrReviewer{{State: "reviewed"}}, true, nil, tracker.PRApproved},
		{"has comments", openMR, nil, false, []note{{ID: 1, Body: "nit"}}, tracker.PRHasComments},
		{"system notes ignored", openMR, nil, false, []note{{ID: 1, Body: "assigned", System: true}}, tracker.PROpen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, mrFixtureHandler(t, tt.mr, tt.reviewers, tt.approved, tt.notes))
			status, err := p.GetPRStatus(context.Background(), 7)
			if err != nil {
				t.Fatalf("GetPRStatus: %v", err)
			}
			if status.State != tt.want {
				t.Errorf("state = %q, want %q", status.State, tt.want)
			}
		})
	}
}

func TestGetPRStatusNoMR(t *testing.T) {
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

func TestFindMRPrefersOpenOverClosed(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]mergeRequest{
			{IID: 9, State: "closed"},
			{IID: 10, State: "opened"},
		})
	}))

	mr, err := p.findMR(context.Background(), 7)
	if err != nil {
		t.Fatalf("findMR: %v", err)
	}
	if mr == nil || mr.IID != 10 {
		t.Fatalf("mr = %+v, want !9 (open MR 10)", mr)
	}
}

func TestGetPRContextConcatenatesDiffs(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/projects/acme/widgets/issues/7/related_merge_requests":
			json.NewEncoder(w).Encode([]mergeRequest{{IID: 10, Title: "Fix login", State: "opened"}})
		case "/projects/acme/widgets/merge_requests/10/changes":
			w.Write([]byte(`{"changes":[{"old_path":"a.go","new_path":"a.go","diff":"@@ -1 +1 @@"},{"old_path":"b.go","new_path":"b.go","diff":"@@ -2 +2 @@"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	pctx, err := p.GetPRContext(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetPRContext: %v", err)
	}
	if pctx.Title != "Fix login" {
		t.Errorf("title = %q", pctx.Title)
	}
	for _, want := range []string{"a.go", "b.go", "@@ -1 +1 @@", "@@ -2 +2 @@"} {
		if !strings.Contains(pctx.Diff, want) {
			t.Errorf("diff missing %q:\n%s", want, pctx.Diff)
		}
	}
}

func TestIssueCommentReactionNeedsListing(t *testing.T) {
	var awarded string
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/projects/acme/widgets/issues/5/notes" && r.Method == http.MethodGet:
			json.NewEncoder(w).Encode([]note{{ID: 42, Body: "feedback"}})
		case r.URL.Path == "/projects/acme/widgets/issues/5/notes/42/award_emoji" && r.Method == http.MethodPost:
			var body awardEmoji
			json.NewDecoder(r.Body).Decode(&body)
			awarded = body.Name
			w.Write([]byte("{}"))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	ctx := context.Background()
	// Without a prior listing the note's issue is unknown.
	if err := p.ReactToIssueComment(ctx, 42, tracker.EyesReaction); err == nil {
		t.Fatal("expected error for unseen note")
	}
	if _, err := p.ListComments(ctx, 5); err != nil {
		t.Fatalf("ListComments: %v", err)
	}
	if err := p.ReactToIssueComment(ctx, 42, tracker.EyesReaction); err != nil {
		t.Fatalf("ReactToIssueComment: %v", err)
	}
	if awarded != "eyes" {
		t.Errorf("awarded = %q, want eyes", awarded)
	}
}

func TestAwardToleratesDuplicate(t *testing.T) {
	p := newTestProvider(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"404 Award Emoji Name has already been taken"}`))
	}))

	if err := p.ReactToPR(context.Background(), 10, tracker.EyesReaction); err != nil {
		t.Fatalf("ReactToPR: %v", err)
	}
}
