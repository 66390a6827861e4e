// Package config merges built-in defaults, the workspace file, and
// per-project overrides into the resolved configuration one tick runs on.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/laurentenhoor/devclaw/internal/logging"
	"github.com/laurentenhoor/devclaw/internal/session/gateway"
	"github.com/laurentenhoor/devclaw/internal/workflow"
)

// RoleConfig describes one worker role.
type RoleConfig struct {
	Enabled         bool              `yaml:"enabled"`
	Levels          []string          `yaml:"levels"`
	DefaultLevel    string            `yaml:"defaultLevel"`
	Models          map[string]string `yaml:"models"`
	LevelMaxWorkers map[string]int    `yaml:"levelMaxWorkers"`
}

// MaxWorkers returns the slot budget for a level, defaulting to 1.
func (r *RoleConfig) MaxWorkers(level string) int {
	if n, ok := r.LevelMaxWorkers[level]; ok && n > 0 {
		return n
	}
	return 1
}

// HasLevel reports whether the role defines the level.
func (r *RoleConfig) HasLevel(level string) bool {
	for _, l := range r.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// LowestLevel and HighestLevel assume Levels is ordered ascending by
// competence, which the defaults and all overrides follow.
func (r *RoleConfig) LowestLevel() string {
	if len(r.Levels) == 0 {
		return r.DefaultLevel
	}
	return r.Levels[0]
}

func (r *RoleConfig) HighestLevel() string {
	if len(r.Levels) == 0 {
		return r.DefaultLevel
	}
	return r.Levels[len(r.Levels)-1]
}

// Timeouts bound external calls and staleness checks.
type Timeouts struct {
	SessionPatchMs       int     `yaml:"sessionPatchMs"`
	DispatchMs           int     `yaml:"dispatchMs"`
	GitPullMs            int     `yaml:"gitPullMs"`
	StaleWorkerHours     float64 `yaml:"staleWorkerHours"`
	SessionContextBudget float64 `yaml:"sessionContextBudget"`
}

// SessionPatch returns the session ensure/patch timeout as a duration.
func (t Timeouts) SessionPatch() time.Duration {
	return time.Duration(t.SessionPatchMs) * time.Millisecond
}

// Dispatch returns the task delivery timeout as a duration.
func (t Timeouts) Dispatch() time.Duration {
	return time.Duration(t.DispatchMs) * time.Millisecond
}

// GitPull returns the git pull timeout as a duration.
func (t Timeouts) GitPull() time.Duration {
	return time.Duration(t.GitPullMs) * time.Millisecond
}

// StaleWorker returns the stale-worker horizon as a duration.
func (t Timeouts) StaleWorker() time.Duration {
	return time.Duration(t.StaleWorkerHours * float64(time.Hour))
}

// Heartbeat holds engine scheduling settings.
type Heartbeat struct {
	CadenceSeconds    int    `yaml:"cadenceSeconds"`
	MaxPickupsPerTick int    `yaml:"maxPickupsPerTick"`
	ProjectExecution  string `yaml:"projectExecution"` // sequential | parallel
	RoleExecution     string `yaml:"roleExecution"`    // sequential | parallel
}

// Cadence returns the tick interval.
func (h Heartbeat) Cadence() time.Duration {
	return time.Duration(h.CadenceSeconds) * time.Second
}

// TrackerConfig holds provider credentials.
type TrackerConfig struct {
	GitHub GitHubConfig `yaml:"github"`
	GitLab GitLabConfig `yaml:"gitlab"`
}

// GitHubConfig configures the GitHub adapter.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"baseUrl"` // override for GHE and tests
}

// GitLabConfig configures the GitLab adapter.
type GitLabConfig struct {
	Token   string `yaml:"token"`
	BaseURL string `yaml:"baseUrl"`
}

// TelegramConfig configures the chat transport.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
}

// Resolved is the configuration a tick runs on: a complete workflow, the
// role catalogue in declaration order, and all timeouts.
type Resolved struct {
	Workflow     *workflow.Workflow
	Roles        map[string]*RoleConfig
	RoleOrder    []string
	Timeouts     Timeouts
	Heartbeat    Heartbeat
	InstanceName string
	AgentID      string
}

// Role returns an enabled role's config.
func (r *Resolved) Role(id string) (*RoleConfig, error) {
	rc, ok := r.Roles[id]
	if !ok || !rc.Enabled {
		return nil, fmt.Errorf("role %q is not enabled", id)
	}
	return rc, nil
}

// roleSetting is either `false` (disable the role) or a RoleConfig patch.
type roleSetting struct {
	Disabled bool
	Patch    *RoleConfig
}

func (r *roleSetting) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("role setting must be false or a mapping: %w", err)
		}
		if b {
			r.Patch = &RoleConfig{Enabled: true}
			return nil
		}
		r.Disabled = true
		return nil
	}
	var rc RoleConfig
	rc.Enabled = true
	if err := node.Decode(&rc); err != nil {
		return err
	}
	r.Patch = &rc
	return nil
}

// rolesSection preserves role declaration order, which drives pickup order.
type rolesSection struct {
	Order    []string
	Settings map[string]roleSetting
}

func (rs *rolesSection) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("roles must be a mapping")
	}
	rs.Settings = make(map[string]roleSetting)
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var s roleSetting
		if err := node.Content[i+1].Decode(&s); err != nil {
			return fmt.Errorf("role %q: %w", id, err)
		}
		rs.Order = append(rs.Order, id)
		rs.Settings[id] = s
	}
	return nil
}

// File is the on-disk configuration shape. Workspace and project files share
// it; project files usually set only roles, workflow, or timeouts.
type File struct {
	Logging      *logging.Config `yaml:"logging"`
	Gateway      *gateway.Config `yaml:"gateway"`
	Tracker      *TrackerConfig  `yaml:"tracker"`
	Telegram     *TelegramConfig `yaml:"telegram"`
	InstanceName string          `yaml:"instanceName"`
	AgentID      string          `yaml:"agentId"`
	Heartbeat    *Heartbeat      `yaml:"heartbeat"`
	Timeouts     *Timeouts       `yaml:"timeouts"`
	Roles        *rolesSection   `yaml:"roles"`
	Workflow     *workflowPatch  `yaml:"workflow"`
}
