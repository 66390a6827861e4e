// Package doctor runs the preflight checks behind the doctor CLI command:
// system dependencies, configuration, and tracker reachability.
package doctor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/laurentenhoor/devclaw/internal/config"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/tracker"
)

// Status represents a check outcome.
type Status int

const (
	StatusOK Status = iota
	StatusWarning
	StatusError
	StatusDisabled
)

// Symbol returns the display symbol for a status.
func (s Status) Symbol() string {
	switch s {
	case StatusOK:
		return "✓"
	case StatusWarning:
		return "○"
	case StatusError:
		return "✗"
	case StatusDisabled:
		return "·"
	default:
		return "?"
	}
}

// Check is one health check result.
type Check struct {
	Name    string
	Status  Status
	Message string
	Fix     string
}

// Report contains all check results.
type Report struct {
	Dependencies []Check
	Config       []Check
	Projects     []Check
}

// Summary counts errors and warnings across all sections.
func (r *Report) Summary() (errors, warnings int) {
	for _, section := range [][]Check{r.Dependencies, r.Config, r.Projects} {
		for _, c := range section {
			switch c.Status {
			case StatusError:
				errors++
			case StatusWarning:
				warnings++
			}
		}
	}
	return errors, warnings
}

// Ready reports whether the orchestrator can start: no hard errors.
func (r *Report) Ready() bool {
	errors, _ := r.Summary()
	return errors == 0
}

// ProviderFactory yields the tracker adapter for a registered project.
type ProviderFactory func(p *registry.Project) (tracker.Provider, error)

// RunChecks performs all checks for one workspace. The provider factory may
// be nil to skip tracker reachability.
func RunChecks(ctx context.Context, workspace string, providers ProviderFactory) *Report {
	return &Report{
		Dependencies: checkDependencies(),
		Config:       checkConfig(workspace),
		Projects:     checkProjects(ctx, workspace, providers),
	}
}

func checkDependencies() []Check {
	var checks []Check

	if version := commandVersion("git", "--version"); version != "" {
		checks = append(checks, Check{Name: "git", Status: StatusOK, Message: version})
	} else {
		checks = append(checks, Check{
			Name:    "git",
			Status:  StatusError,
			Message: "not found",
			Fix:     "install git and make sure it is on PATH",
		})
	}
	return checks
}

func checkConfig(workspace string) []Check {
	var checks []Check

	// Workspace writable: the state store and audit log both live here.
	if err := probeWritable(filepath.Join(workspace, "state")); err != nil {
		checks = append(checks, Check{
			Name:    "workspace",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "check permissions on " + workspace,
		})
	} else {
		checks = append(checks, Check{Name: "workspace", Status: StatusOK, Message: workspace})
	}

	ws, err := config.LoadFile(filepath.Join(workspace, config.WorkspaceFileName))
	if err != nil {
		checks = append(checks, Check{
			Name:    "config.yaml",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "fix the YAML syntax in " + config.WorkspaceFileName,
		})
		return checks
	}
	checks = append(checks, Check{Name: "config.yaml", Status: StatusOK, Message: "parsed"})

	if _, err := config.Resolve(workspace, ""); err != nil {
		checks = append(checks, Check{
			Name:    "workflow",
			Status:  StatusError,
			Message: err.Error(),
			Fix:     "fix the workflow overrides in " + config.WorkspaceFileName,
		})
	} else {
		checks = append(checks, Check{Name: "workflow", Status: StatusOK, Message: "valid"})
	}

	if ws.Gateway == nil || ws.Gateway.URL == "" {
		checks = append(checks, Check{
			Name:    "gateway",
			Status:  StatusError,
			Message: "no gateway url",
			Fix:     "set gateway.url in " + config.WorkspaceFileName,
		})
	} else {
		checks = append(checks, Check{Name: "gateway", Status: StatusOK, Message: ws.Gateway.URL})
	}

	hasGitHub := ws.Tracker != nil && ws.Tracker.GitHub.Token != ""
	hasGitLab := ws.Tracker != nil && ws.Tracker.GitLab.Token != ""
	switch {
	case hasGitHub || hasGitLab:
		var names []string
		if hasGitHub {
			names = append(names, "github")
		}
		if hasGitLab {
			names = append(names, "gitlab")
		}
		checks = append(checks, Check{Name: "tracker", Status: StatusOK, Message: strings.Join(names, ", ")})
	default:
		checks = append(checks, Check{
			Name:    "tracker",
			Status:  StatusError,
			Message: "no tracker token",
			Fix:     "set tracker.github.token or tracker.gitlab.token",
		})
	}

	if ws.Telegram == nil || ws.Telegram.BotToken == "" {
		checks = append(checks, Check{
			Name:    "telegram",
			Status:  StatusWarning,
			Message: "no bot token (notifications disabled)",
			Fix:     "set telegram.botToken in " + config.WorkspaceFileName,
		})
	} else {
		checks = append(checks, Check{Name: "telegram", Status: StatusOK, Message: "configured"})
	}

	return checks
}

func checkProjects(ctx context.Context, workspace string, providers ProviderFactory) []Check {
	file, err := registry.NewStore(workspace).Read()
	if err != nil {
		return []Check{{Name: "registry", Status: StatusError, Message: err.Error()}}
	}
	if len(file.Projects) == 0 {
		return []Check{{
			Name:    "registry",
			Status:  StatusWarning,
			Message: "no projects registered",
			Fix:     "run: devclaw project add",
		}}
	}

	var checks []Check
	for _, p := range file.Projects {
		check := Check{Name: p.Slug}
		switch {
		case p.Repo != "" && !dirExists(p.Repo):
			check.Status = StatusError
			check.Message = "repo path missing: " + p.Repo
		case providers == nil:
			check.Status = StatusOK
			check.Message = p.Provider + " (not probed)"
		default:
			provider, err := providers(p)
			if err != nil {
				check.Status = StatusError
				check.Message = err.Error()
			} else if provider.HealthCheck(ctx) {
				check.Status = StatusOK
				check.Message = p.Provider + " reachable"
			} else {
				check.Status = StatusError
				check.Message = p.Provider + " unreachable"
				check.Fix = "check the tracker token and the remote path " + p.Remote
			}
		}
		checks = append(checks, check)
	}
	return checks
}

// probeWritable creates the directory and writes a throwaway file in it.
func probeWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func commandVersion(cmd string, args ...string) string {
	out, err := exec.Command(cmd, args...).Output()
	if err != nil {
		return ""
	}
	version := strings.TrimSpace(string(out))
	if strings.Contains(version, " ") {
		for _, p := range strings.Fields(version) {
			if strings.Contains(p, ".") {
				return p
			}
		}
	}
	return version
}
