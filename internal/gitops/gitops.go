// Package gitops runs the small set of local git operations transition
// actions need.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Pull fast-forwards the base branch of a local repository. The timeout
// bounds the whole git invocation; a timeout is reported as an error like any
// other failure.
func Pull(ctx context.Context, repo, branch string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{"-C", repo, "pull", "--ff-only"}
	if branch != "" {
		args = append(args, "origin", branch)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("git pull in %s: %s: %w", repo, msg, err)
		}
		return fmt.Errorf("git pull in %s: %w", repo, err)
	}
	return nil
}

// Available reports whether a git binary is on PATH.
func Available() bool {
	_, err := exec.LookPath("git")
	return err == nil
}
