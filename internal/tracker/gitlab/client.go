// Package gitlab implements the tracker provider against the GitLab REST API.
package gitlab

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

const gitlabAPIURL = "https://gitlab.com/api/v4"

const defaultLabelColor = "#ededed"

// Provider talks to one project, identified by its full path
// ("group/project").
type Provider struct {
	token      string
	project    string // URL-encoded project path
	baseURL    string
	httpClient *http.Client

	mu          sync.Mutex
	stateLabels map[string]bool

	// noteIssues maps note ids to the issue or MR iid they belong to. The
	// award-emoji endpoints need both, but the acknowledgement contract only
	// carries the note id, so list calls record the association.
	noteIssues map[int64]int
	noteMRs    map[int64]int
}

// New creates a provider for the project at "group/project".
func New(token, remote string) (*Provider, error) {
	if !strings.Contains(remote, "/") {
		return nil, fmt.Errorf("gitlab remote must be group/project, got %q", remote)
	}
	return &Provider{
		token:   token,
		project: url.PathEscape(remote),
		baseURL: gitlabAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		stateLabels: map[string]bool{},
		noteIssues:  map[int64]int{},
		noteMRs:     map[int64]int{},
	}, nil
}

// NewWithBaseURL creates a provider against a custom API host (self-hosted,
// tests).
func NewWithBaseURL(token, remote, baseURL string) (*Provider, error) {
	p, err := New(token, remote)
	if err != nil {
		return nil, err
	}
	p.baseURL = baseURL
	return p, nil
}

type issue struct {
	IID       int       `json:"iid"`
	Title     string    `json:"title"`
	Body      string    `json:"description"`
	State     string    `json:"state"` // opened | closed
	Labels    []string  `json:"labels"`
	WebURL    string    `json:"web_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Assignees []struct {
		Username string `json:"username"`
	} `json:"assignees"`
}

type note struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
	Author    struct {
		Username string `json:"username"`
	} `json:"author"`
}

type awardEmoji struct {
	Name string `json:"name"`
}

func (p *Provider) projectPath(format string, args ...any) string {
	return "/projects/" + p.project + fmt.Sprintf(format, args...)
}

// doRequest performs one JSON exchange with the GitLab API.
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
	req.Header.Set("PRIVATE-TOKEN", p.token)
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

func isConflictError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "status 409")
}

// EnsureLabel creates the label if missing. An existing label is success.
func (p *Provider) EnsureLabel(ctx context.Context, name, color string) error {
	if color == "" {
		color = defaultLabelColor
	}
	if !strings.HasPrefix(color, "#") {
		color = "#" + color
	}
	return tracker.WithRetryVoid(ctx, func() error {
		err := p.doRequest(ctx, http.MethodPost, p.projectPath("/labels"), map[string]string{"name": name, "color": color}, nil)
		if isConflictError(err) {
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

// TransitionLabel replaces the issue's workflow label in one update:
// add_labels/remove_labels land atomically on the issue.
func (p *Provider) TransitionLabel(ctx context.Context, iid int, from, to string) error {
	return tracker.WithRetryVoid(ctx, func() error {
		var current issue
		if err := p.doRequest(ctx, http.MethodGet, p.projectPath("/issues/%d", iid), nil, &current); err != nil {
			return err
		}

		p.mu.Lock()
		remove := []string{from}
		for _, l := range current.Labels {
			if l != from && l != to && p.stateLabels[l] {
				remove = append(remove, l)
			}
		}
		p.mu.Unlock()

		return p.doRequest(ctx, http.MethodPut, p.projectPath("/issues/%d", iid), map[string]string{
			"add_labels":    to,
			"remove_labels": strings.Join(remove, ","),
		}, nil)
	}, tracker.DefaultRetryOptions())
}

// AddLabel attaches one label to an issue.
func (p *Provider) AddLabel(ctx context.Context, iid int, name string) error {
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPut, p.projectPath("/issues/%d", iid), map[string]string{"add_labels": name}, nil)
	}, tracker.DefaultRetryOptions())
}

// RemoveLabels detaches labels; missing ones are ignored by the API.
func (p *Provider) RemoveLabels(ctx context.Context, iid int, labels ...string) error {
	if len(labels) == 0 {
		return nil
	}
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPut, p.projectPath("/issues/%d", iid), map[string]string{"remove_labels": strings.Join(labels, ",")}, nil)
	}, tracker.DefaultRetryOptions())
}

// CreateIssue opens a new issue carrying the initial workflow label.
// Assignees are skipped: GitLab assigns by numeric user id, not username.
func (p *Provider) CreateIssue(ctx context.Context, title, body, initialLabel string, assignees []string) (*tracker.Issue, error) {
	input := map[string]any{
		"title":       title,
		"description": body,
	}
	if initialLabel != "" {
		input["labels"] = initialLabel
	}
	return tracker.WithRetry(ctx, func() (*tracker.Issue, error) {
		var created issue
		if err := p.doRequest(ctx, http.MethodPost, p.projectPath("/issues"), input, &created); err != nil {
			return nil, err
		}
		return convertIssue(&created), nil
	}, tracker.DefaultRetryOptions())
}

// ListIssuesByLabel lists open issues with the label, newest first.
func (p *Provider) ListIssuesByLabel(ctx context.Context, name string) ([]*tracker.Issue, error) {
	var issues []issue
	path := p.projectPath("/issues?state=opened&labels=%s&order_by=created_at&sort=desc&per_page=100", url.QueryEscape(name))
	if err := p.doRequest(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	out := make([]*tracker.Issue, 0, len(issues))
	for i := range issues {
		out = append(out, convertIssue(&issues[i]))
	}
	return out, nil
}

// GetIssue fetches one issue; a missing issue is tracker.ErrNotFound.
func (p *Provider) GetIssue(ctx context.Context, iid int) (*tracker.Issue, error) {
	var got issue
	if err := p.doRequest(ctx, http.MethodGet, p.projectPath("/issues/%d", iid), nil, &got); err != nil {
		return nil, err
	}
	return convertIssue(&got), nil
}

// ListComments returns the issue's discussion notes, excluding system notes.
func (p *Provider) ListComments(ctx context.Context, iid int) ([]tracker.Comment, error) {
	var notes []note
	if err := p.doRequest(ctx, http.MethodGet, p.projectPath("/issues/%d/notes?sort=asc&per_page=100", iid), nil, &notes); err != nil {
		return nil, err
	}
	out := make([]tracker.Comment, 0, len(notes))
	p.mu.Lock()
	for _, n := range notes {
		if n.System {
			continue
		}
		p.noteIssues[n.ID] = iid
		out = append(out, tracker.Comment{
			ID:        n.ID,
			Body:      n.Body,
			Author:    n.Author.Username,
			Kind:      tracker.CommentIssue,
			CreatedAt: n.CreatedAt,
		})
	}
	p.mu.Unlock()
	return out, nil
}

// AddComment posts a note on an issue.
func (p *Provider) AddComment(ctx context.Context, iid int, body string) error {
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPost, p.projectPath("/issues/%d/notes", iid), map[string]string{"body": body}, nil)
	}, tracker.DefaultRetryOptions())
}

// CloseIssue closes an issue.
func (p *Provider) CloseIssue(ctx context.Context, iid int) error {
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPut, p.projectPath("/issues/%d", iid), map[string]string{"state_event": "close"}, nil)
	}, tracker.DefaultRetryOptions())
}

// ReopenIssue reopens a closed issue.
func (p *Provider) ReopenIssue(ctx context.Context, iid int) error {
	return tracker.WithRetryVoid(ctx, func() error {
		return p.doRequest(ctx, http.MethodPut, p.projectPath("/issues/%d", iid), map[string]string{"state_event": "reopen"}, nil)
	}, tracker.DefaultRetryOptions())
}

// HealthCheck verifies the project is reachable with the configured token.
func (p *Provider) HealthCheck(ctx context.Context) bool {
	return p.doRequest(ctx, http.MethodGet, p.projectPath(""), nil, nil) == nil
}

func convertIssue(in *issue) *tracker.Issue {
	state := in.State
	if state == "opened" {
		state = "open"
	}
	assignees := make([]string, 0, len(in.Assignees))
	for _, a := range in.Assignees {
		assignees = append(assignees, a.Username)
	}
	return &tracker.Issue{
		IID:       in.IID,
		Title:     in.Title,
		Body:      in.Body,
		State:     state,
		URL:       in.WebURL,
		Labels:    in.Labels,
		Assignees: assignees,
		CreatedAt: in.CreatedAt,
		UpdatedAt: in.UpdatedAt,
	}
}

var _ tracker.Provider = (*Provider)(nil)
