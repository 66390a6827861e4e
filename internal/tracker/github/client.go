// Package github implements the tracker provider against the GitHub REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/laurentenhoor/devclaw/internal/tracker"
)

const githubAPIURL = "https://api.github.com"

// defaultLabelColor is used when EnsureLabel gets no color.
const defaultLabelColor = "ededed"

// Provider talks to one repository, identified as "owner/name".
type Provider struct {
	token      string
	owner      string
	repo       string
	baseURL    string
	httpClient *http.Client

	// stateLabels is the workflow label vocabulary, recorded by
	// EnsureAllStateLabels so TransitionLabel can strip strays.
	mu          sync.Mutex
	stateLabels map[string]bool

	// ackedReviews tracks review ids acknowledged this process. GitHub has
	// no reactions API for review summaries, so acknowledgement is local.
	ackedReviews map[int64]bool
}

// New creates a provider for "owner/name".
func New(token, remote string) (*Provider, error) {
	owner, repo, ok := strings.Cut(remote, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("github remote must be owner/name, got %q", remote)
	}
	return &Provider{
		token:   token,
		owner:   owner,
		repo:    repo,
		baseURL: githubAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		stateLabels:  map[string]bool{},
		ackedReviews: map[int64]bool{},
	}, nil
}

// NewWithBaseURL creates a provider against a custom API host (GHE, tests).
func NewWithBaseURL(token, remote, baseURL string) (*Provider, error) {
	p, err := New(token, remote)
	if err != nil {
		return nil, err
	}
	p.baseURL = baseURL
	return p, nil
}

type label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type user struct {
	Login string `json:"login"`
}

type issue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	Labels      []label   `json:"labels"`
	Assignees   []user    `json:"assignees"`
	HTMLURL     string    `json:"html_url"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

type comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	User      user      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

type pullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"`
	HTMLURL   string     `json:"html_url"`
	MergedAt  *time.Time `json:"merged_at"`
	Mergeable *bool      `json:"mergeable"`
	Head      struct {
		Ref string `json:"ref"`
	} `json:"head"`
}

type review struct {
	ID    int64  `json:"id"`
	Body  string `json:"body"`
	State string `json:"state"`
	User  user   `json:"user"`

	SubmittedAt time.Time `json:"submitted_at"`
}

type reaction struct {
	Content string `json:"content"`
}

func (p *Provider) repoPath(format string, args ...any) string {
	return fmt.Sprintf("/repos/%s/%s", p.owner, p.repo) + fmt.Sprintf(format, args...)
}

// doRequest performs one JSON exchange with the GitHub API.
func (p *Provider) doRequest(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("API error (status 404): %s: %w", respBody, tracker.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, respBody)
	}
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// doRaw performs a GET returning the raw body, for diff downloads.
func (p *Provider) doRaw(ctx context.Context, path, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, data)
	}
	return data, nil
}

func isUnprocessableError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "status 422")
}

// EnsureLabel creates the label if missing. An existing label is success.
func (p *Provider) EnsureLabel(ctx context.Context, name, color string) error {
	if color == "" {
		color = defaultLabelColor
	}
	color = strings.TrimPrefix(color, "#")
	return tracker.WithRetryVoid(ctx, func() error {
		err := p.doRequest(ctx, http.MethodPost, p.repoPath("/labels"), label{Name: name, Color: color}, nil)
		if isUnprocessableError(err) {
			return nil // already exists
		}
		return err
	}, tracker.DefaultRetryOptions())
}

// EnsureAllStateLabels creates every workflow label and records the
// vocabulary for TransitionLabel.
func (p *Provider) EnsureAllStateLabels(ctx context.Context, labels []tracker.StateLabel) error {
	p.mu.Lock()
	for _, l := range labels {
		p.stateLabels[l.Name] = true
	}
	p.mu.Unlock()

	for _, l := range labels {
		if err := p.EnsureLabel(ctx, l.Name, l.Color); err != nil {
			return fmt.Errorf("failed to ensure label %q: %w", l.Name, err)
		}
	}
	return nil
}

// TransitionLabel replaces the issue's workflow label in one PUT: current
// labels minus `from` and any stray state label, plus `to`.
func (p *Provider) TransitionLabel(ctx context.Context, iid int, from, to string) error {
	return tracker.WithRetryVoid(ctx, func() error {
		var current issue
		if err := p.doRequest(ctx, http.MethodGet, p.repoPath("/issues/%d", iid), nil, &current); err != nil {
			return err
		}

		p.mu.Lock()
		isState := func(name string) bool {
			return name == from || p.stateLabels[name]
		}
		var next []string
		for _, l := range current.Labels {
			if l.Name == to || isState(l.Name) {
				continue
			}
			next = append(next, l.Name)
		}
		p.mu.Unlock()
		next = append(next, to)

		return p.doRequest(ctx, http.MethodPut, p.repoPath("/issues/%d/labels", iid), map[string][]string{"labels": next}, nil)
	}, tracker.DefaultRetryOptions())
}

// AddLabel attaches one label to an issue.
func (p *Provider) AddLabel(ctx context.Context, iid int, name string) error {
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPost, p.repoPath("/issues/%d/labels", iid), map[string][]string{"labels": {name}}, nil)
	}, tracker.DefaultRetryOptions())
}

// RemoveLabels detaches labels; missing ones are not an error.
func (p *Provider) RemoveLabels(ctx context.Context, iid int, labels ...string) error {
	for _, name := range labels {
		err := tracker.WithRetryVoid(ctx, func() error {
			err := p.doRequest(ctx, http.MethodDelete, p.repoPath("/issues/%d/labels/%s", iid, url.PathEscape(name)), nil, nil)
			if err != nil && strings.Contains(err.Error(), "status 404") {
				return nil
			}
			return err
		}, tracker.DefaultRetryOptions())
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateIssue opens a new issue carrying the initial workflow label.
func (p *Provider) CreateIssue(ctx context.Context, title, body, initialLabel string, assignees []string) (*tracker.Issue, error) {
	input := map[string]any{
		"title": title,
		"body":  body,
	}
	if initialLabel != "" {
		input["labels"] = []string{initialLabel}
	}
	if len(assignees) > 0 {
		input["assignees"] = assignees
	}
	return tracker.WithRetry(ctx, func() (*tracker.Issue, error) {
		var created issue
		if err := p.doRequest(ctx, http.MethodPost, p.repoPath("/issues"), input, &created); err != nil {
			return nil, err
		}
		return convertIssue(&created), nil
	}, tracker.DefaultRetryOptions())
}

// ListIssuesByLabel lists open issues with the label, newest first. The
// label match is case-insensitive because the GitHub label query is not.
func (p *Provider) ListIssuesByLabel(ctx context.Context, name string) ([]*tracker.Issue, error) {
	var issues []issue
	path := p.repoPath("/issues?state=open&sort=created&direction=desc&per_page=100")
	if err := p.doRequest(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	var out []*tracker.Issue
	for i := range issues {
		if issues[i].PullRequest != nil {
			continue // the issues API interleaves PRs
		}
		for _, l := range issues[i].Labels {
			if strings.EqualFold(l.Name, name) {
				out = append(out, convertIssue(&issues[i]))
				break
			}
		}
	}
	return out, nil
}

// GetIssue fetches one issue; a missing issue is tracker.ErrNotFound.
func (p *Provider) GetIssue(ctx context.Context, iid int) (*tracker.Issue, error) {
	var got issue
	if err := p.doRequest(ctx, http.MethodGet, p.repoPath("/issues/%d", iid), nil, &got); err != nil {
		return nil, err
	}
	return convertIssue(&got), nil
}

// ListComments returns the issue's discussion comments.
func (p *Provider) ListComments(ctx context.Context, iid int) ([]tracker.Comment, error) {
	var comments []comment
	if err := p.doRequest(ctx, http.MethodGet, p.repoPath("/issues/%d/comments?per_page=100", iid), nil, &comments); err != nil {
		return nil, err
	}
	out := make([]tracker.Comment, 0, len(comments))
	for _, c := range comments {
		out = append(out, tracker.Comment{
			ID:        c.ID,
			Body:      c.Body,
			Author:    c.User.Login,
			Kind:      tracker.CommentIssue,
			CreatedAt: c.CreatedAt,
		})
	}
	return out, nil
}

// AddComment posts a comment on an issue.
func (p *Provider) AddComment(ctx context.Context, iid int, body string) error {
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPost, p.repoPath("/issues/%d/comments", iid), map[string]string{"body": body}, nil)
	}, tracker.DefaultRetryOptions())
}

// CloseIssue closes an issue.
func (p *Provider) CloseIssue(ctx context.Context, iid int) error {
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPatch, p.repoPath("/issues/%d", iid), map[string]string{"state": "closed"}, nil)
	}, tracker.DefaultRetryOptions())
}

// ReopenIssue reopens a closed issue.
func (p *Provider) ReopenIssue(ctx context.Context, iid int) error {
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPatch, p.repoPath("/issues/%d", iid), map[string]string{"state": "open"}, nil)
	}, tracker.DefaultRetryOptions())
}

// HealthCheck verifies the repository is reachable with the configured token.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	return p.doRequest(ctx, http.MethodGet, p.repoPath(""), nil, nil) == nil
}

func convertIssue(in *issue) *tracker.Issue {
	labels := make([]string, 0, len(in.Labels))
	for _, l := range in.Labels {
		labels = append(labels, l.Name)
	}
	assignees := make([]string, 0, len(in.Assignees))
	for _, a := range in.Assignees {
		assignees = append(assignees, a.Login)
	}
	return &tracker.Issue{
		IID:       in.Number,
		Title:     in.Title,
		Body:      in.Body,
		State:     in.State,
		URL:       in.HTMLURL,
		Labels:    labels,
		Assignees: assignees,
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
	}
}

var _ tracker.Provider = (*Provider)(nil)
