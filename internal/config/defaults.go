package config

import "github.com/laurentenhoor/devclaw/internal/workflow"

// Default model ids per role level. Overridable per role via config.
const (
	modelJunior = "claude-3-5-haiku-latest"
	modelMedior = "claude-sonnet-4-20250514"
	modelSenior = "claude-opus-4-20250514"
)

// defaultResolved returns the built-in baseline every workspace starts from.
func defaultResolved() *Resolved {
	return &Resolved{
		Workflow: workflow.Default(),
		Roles: map[string]*RoleConfig{
			workflow.RoleDeveloper: {
				Enabled:      true,
				Levels:       []string{"junior", "medior", "senior"},
				DefaultLevel: "medior",
				Models: map[string]string{
					"junior": modelJunior,
					"medior": modelMedior,
					"senior": modelSenior,
				},
				LevelMaxWorkers: map[string]int{"junior": 1, "medior": 1, "senior": 1},
			},
			workflow.RoleReviewer: {
				Enabled:      true,
				Levels:       []string{"senior"},
				DefaultLevel: "senior",
				Models:       map[string]string{"senior": modelSenior},
			},
			workflow.RoleTester: {
				Enabled:      true,
				Levels:       []string{"junior", "senior"},
				DefaultLevel: "junior",
				Models: map[string]string{
					"junior": modelJunior,
					"senior": modelMedior,
				},
			},
			workflow.RoleArchitect: {
				Enabled:      true,
				Levels:       []string{"senior"},
				DefaultLevel: "senior",
				Models:       map[string]string{"senior": modelSenior},
			},
		},
		RoleOrder: []string{
			workflow.RoleDeveloper,
			workflow.RoleReviewer,
			workflow.RoleTester,
			workflow.RoleArchitect,
		},
		Timeouts: Timeouts{
			SessionPatchMs:       15000,
			DispatchMs:           30000,
			GitPullMs:            20000,
			StaleWorkerHours:     6,
			SessionContextBudget: 0.8,
		},
		Heartbeat: Heartbeat{
			CadenceSeconds:    60,
			MaxPickupsPerTick: 2,
			ProjectExecution:  "sequential",
			RoleExecution:     "sequential",
		},
		AgentID: "main",
	}
}

// registryDefaultModels resolves a model for (role, level) when the resolved
// role table has no entry. Falls back to the level string itself so a raw
// model id passes through unchanged.
func registryDefaultModels(role, level string) string {
	if rc, ok := defaultResolved().Roles[role]; ok {
		if m, ok := rc.Models[level]; ok {
			return m
		}
	}
	return level
}
