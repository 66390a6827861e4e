package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WorkspaceFileName is the workspace-level configuration file.
const WorkspaceFileName = "config.yaml"

// ProjectFileRelPath is the per-project override, relative to the repo root.
const ProjectFileRelPath = ".devclaw/config.yaml"

// LoadFile reads one configuration file. A missing file yields an empty
// config; environment variables in the raw bytes are expanded first.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &File{}, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &f, nil
}

// Resolve merges defaults, the workspace file, and the project file (lowest
// to highest precedence) into the configuration one tick runs on. The repo
// path may be empty for workspace-scope resolution.
func Resolve(workspace, repo string) (*Resolved, error) {
	res := defaultResolved()

	ws, err := LoadFile(filepath.Join(workspace, WorkspaceFileName))
	if err != nil {
		return nil, err
	}
	apply(res, ws)

	if repo != "" {
		proj, err := LoadFile(filepath.Join(repo, ProjectFileRelPath))
		if err != nil {
			return nil, err
		}
		apply(res, proj)
	}

	if err := res.Workflow.Validate(); err != nil {
		return nil, fmt.Errorf("resolved workflow invalid: %w", err)
	}
	return res, nil
}

// apply folds one file layer into the resolved config.
func apply(res *Resolved, f *File) {
	if f.InstanceName != "" {
		res.InstanceName = f.InstanceName
	}
	if f.AgentID != "" {
		res.AgentID = f.AgentID
	}
	if f.Heartbeat != nil {
		applyHeartbeat(&res.Heartbeat, f.Heartbeat)
	}
	if f.Timeouts != nil {
		applyTimeouts(&res.Timeouts, f.Timeouts)
	}
	if f.Roles != nil {
		applyRoles(res, f.Roles)
	}
	if f.Workflow != nil {
		res.Workflow = res.Workflow.Clone()
		f.Workflow.apply(res.Workflow)
	}
}

func applyHeartbeat(dst *Heartbeat, src *Heartbeat) {
	if src.CadenceSeconds > 0 {
		dst.CadenceSeconds = src.CadenceSeconds
	}
	if src.MaxPickupsPerTick > 0 {
		dst.MaxPickupsPerTick = src.MaxPickupsPerTick
	}
	if src.ProjectExecution != "" {
		dst.ProjectExecution = src.ProjectExecution
	}
	if src.RoleExecution != "" {
		dst.RoleExecution = src.RoleExecution
	}
}

func applyTimeouts(dst *Timeouts, src *Timeouts) {
	if src.SessionPatchMs > 0 {
		dst.SessionPatchMs = src.SessionPatchMs
	}
	if src.DispatchMs > 0 {
		dst.DispatchMs = src.DispatchMs
	}
	if src.GitPullMs > 0 {
		dst.GitPullMs = src.GitPullMs
	}
	if src.StaleWorkerHours > 0 {
		dst.StaleWorkerHours = src.StaleWorkerHours
	}
	if src.SessionContextBudget > 0 {
		dst.SessionContextBudget = src.SessionContextBudget
	}
}

// applyRoles merges a roles section: `false` disables a role, a mapping
// shallow-merges the per-level keys. Roles new to this layer append to the
// declaration order.
func applyRoles(res *Resolved, section *rolesSection) {
	for _, id := range section.Order {
		setting := section.Settings[id]
		base, known := res.Roles[id]

		if setting.Disabled {
			if known {
				base.Enabled = false
			}
			continue
		}

		patch := setting.Patch
		if !known {
			res.Roles[id] = patch
			res.RoleOrder = append(res.RoleOrder, id)
			continue
		}

		base.Enabled = true
		if len(patch.Levels) > 0 {
			base.Levels = patch.Levels
		}
		if patch.DefaultLevel != "" {
			base.DefaultLevel = patch.DefaultLevel
		}
		for level, model := range patch.Models {
			if base.Models == nil {
				base.Models = map[string]string{}
			}
			base.Models[level] = model
		}
		for level, n := range patch.LevelMaxWorkers {
			if base.LevelMaxWorkers == nil {
				base.LevelMaxWorkers = map[string]int{}
			}
			base.LevelMaxWorkers[level] = n
		}
	}
}

// canonicalLevels maps legacy level aliases onto current names.
var canonicalLevels = map[string]string{
	"jr":     "junior",
	"mid":    "medior",
	"middle": "medior",
	"sr":     "senior",
}

// CanonicalLevel normalizes a level alias; unknown strings pass through
// (they may be raw model ids).
func CanonicalLevel(level string) string {
	if c, ok := canonicalLevels[level]; ok {
		return c
	}
	return level
}

// ResolveModel maps (role, level) to a model id: the resolved role's table
// first, then the built-in registry defaults, then the level itself.
func ResolveModel(role, level string, resolved *RoleConfig) string {
	level = CanonicalLevel(level)
	if resolved != nil {
		if m, ok := resolved.Models[level]; ok {
			return m
		}
	}
	return registryDefaultModels(role, level)
}

// Roles in pickup order limited to enabled ones.
func (r *Resolved) EnabledRoles() []string {
	var out []string
	for _, id := range r.RoleOrder {
		if rc, ok := r.Roles[id]; ok && rc.Enabled {
			out = append(out, id)
		}
	}
	return out
}
