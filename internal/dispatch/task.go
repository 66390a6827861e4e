package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/tracker"
)

// taskContext collects everything Phase 1 gathered for the brief. Any field
// may be empty; the renderer skips empty sections.
type taskContext struct {
	Project     *registry.Project
	Role        string
	Level       string
	Issue       Input
	Comments    []tracker.Comment
	Feedback    []tracker.Comment
	PRContext   *tracker.PRContext
	Attachments []string
	ChannelID   string
}

// buildTaskMessage renders the structured brief a worker session receives.
func buildTaskMessage(tc taskContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task: %s\n\n", tc.Issue.IssueTitle)
	fmt.Fprintf(&b, "You are the %s (%s) on project %s.\n\n", tc.Role, tc.Level, tc.Project.Name)
	fmt.Fprintf(&b, "Issue #%d", tc.Issue.IssueIID)
	if tc.Issue.IssueURL != "" {
		fmt.Fprintf(&b, " (%s)", tc.Issue.IssueURL)
	}
	b.WriteString("\n\n")

	if tc.Issue.IssueDescription != "" {
		b.WriteString("## Description\n\n")
		b.WriteString(strings.TrimSpace(tc.Issue.IssueDescription))
		b.WriteString("\n\n")
	}

	if len(tc.Comments) > 0 {
		b.WriteString("## Discussion\n\n")
		for _, c := range tc.Comments {
			fmt.Fprintf(&b, "- %s: %s\n", c.Author, strings.TrimSpace(c.Body))
		}
		b.WriteString("\n")
	}

	if len(tc.Feedback) > 0 {
		b.WriteString("## Review feedback to address\n\n")
		for _, c := range tc.Feedback {
			if c.State != "" {
				fmt.Fprintf(&b, "- [%s] %s: %s\n", c.State, c.Author, strings.TrimSpace(c.Body))
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", c.Author, strings.TrimSpace(c.Body))
		}
		b.WriteString("\n")
	}

	if tc.PRContext != nil {
		b.WriteString("## Pull request under review\n\n")
		if tc.PRContext.Title != "" {
			fmt.Fprintf(&b, "%s\n", tc.PRContext.Title)
		}
		if tc.PRContext.URL != "" {
			fmt.Fprintf(&b, "%s\n", tc.PRContext.URL)
		}
		if tc.PRContext.Diff != "" {
			fmt.Fprintf(&b, "\n```diff\n%s\n```\n", tc.PRContext.Diff)
		}
		b.WriteString("\n")
	}

	if len(tc.Attachments) > 0 {
		b.WriteString("## Attachments\n\n")
		for _, a := range tc.Attachments {
			fmt.Fprintf(&b, "- %s\n", a)
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	if tc.Issue.OrchestratorSessionKey != "" {
		fmt.Fprintf(&b, "Report progress to orchestrator session: %s\n", tc.Issue.OrchestratorSessionKey)
	}
	if tc.ChannelID != "" {
		fmt.Fprintf(&b, "Project channel: %s\n", tc.ChannelID)
	}
	return b.String()
}

// loadRolePrompt returns the role's system-prompt instructions: the project's
// own file wins over the workspace default. Missing files are fine.
func loadRolePrompt(repo, workspace, role string) string {
	paths := []string{}
	if repo != "" {
		paths = append(paths, filepath.Join(repo, ".devclaw", "prompts", role+".md"))
	}
	paths = append(paths, filepath.Join(workspace, "prompts", role+".md"))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err == nil && len(data) > 0 {
			return string(data)
		}
	}
	return ""
}

// listAttachments returns the file paths under the issue's attachment
// directory, sorted. A missing directory yields nil.
func listAttachments(workspace, slug string, iid int) []string {
	dir := filepath.Join(workspace, "attachments", slug, fmt.Sprintf("%d", iid))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out
}
