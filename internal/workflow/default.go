package workflow

// Worker roles referenced by the default workflow.
const (
	RoleDeveloper = "developer"
	RoleReviewer  = "reviewer"
	RoleTester    = "tester"
	RoleArchitect = "architect"
)

type declaredState struct {
	key   string
	state State
}

func build(initial string, policy ReviewPolicy, decls []declaredState) *Workflow {
	w := &Workflow{
		Initial:      initial,
		ReviewPolicy: policy,
		States:       make(map[string]State, len(decls)),
	}
	for _, d := range decls {
		w.States[d.key] = d.state
		w.Keys = append(w.Keys, d.key)
	}
	return w
}

// Default returns the built-in workflow: plan, build, review, test, with a
// research loop for architects and rework cycles on rejected or failed work.
func Default() *Workflow {
	return build("planning", PolicyAuto, []declaredState{
		{"planning", State{
			Type: TypeHold, Label: "Planning", Color: "#c5def5",
			On: map[string]Transition{
				EventApprove: {Target: "todo"},
			},
		}},
		{"todo", State{
			Type: TypeQueue, Label: "To Do", Color: "#ededed", Role: RoleDeveloper, Priority: 1,
			On: map[string]Transition{
				EventPickup: {Target: "doing"},
			},
		}},
		{"doing", State{
			Type: TypeActive, Label: "Doing", Color: "#1d76db", Role: RoleDeveloper,
			On: map[string]Transition{
				EventComplete: {Target: "toReview", Actions: []string{ActionDetectPR}},
				EventBlocked:  {Target: "refining"},
			},
		}},
		{"toReview", State{
			Type: TypeQueue, Label: "To Review", Color: "#fbca04", Role: RoleReviewer, Priority: 2,
			Check: CheckPRApproved,
			On: map[string]Transition{
				EventPickup:           {Target: "reviewing"},
				EventApproved:         {Target: "toTest", Actions: []string{ActionMergePR, ActionGitPull}},
				EventMergeFailed:      {Target: "toImprove"},
				EventChangesRequested: {Target: "toImprove"},
				EventMergeConflict:    {Target: "toImprove"},
			},
		}},
		{"reviewing", State{
			Type: TypeActive, Label: "Reviewing", Color: "#d4c5f9", Role: RoleReviewer,
			On: map[string]Transition{
				EventApprove: {Target: "toTest", Actions: []string{ActionMergePR, ActionGitPull}},
				EventReject:  {Target: "toImprove"},
				EventBlocked: {Target: "refining"},
			},
		}},
		{"toTest", State{
			Type: TypeQueue, Label: "To Test", Color: "#bfd4f2", Role: RoleTester, Priority: 2,
			On: map[string]Transition{
				EventPickup: {Target: "testing"},
			},
		}},
		{"testing", State{
			Type: TypeActive, Label: "Testing", Color: "#0e8a16", Role: RoleTester,
			On: map[string]Transition{
				EventPass:    {Target: "done", Actions: []string{ActionCloseIssue}},
				EventFail:    {Target: "toImprove", Actions: []string{ActionReopenIssue}},
				EventRefine:  {Target: "refining"},
				EventBlocked: {Target: "refining"},
			},
		}},
		{"done", State{
			Type: TypeTerminal, Label: "Done", Color: "#5319e7",
		}},
		{"toImprove", State{
			Type: TypeQueue, Label: "To Improve", Color: "#e99695", Role: RoleDeveloper, Priority: 3,
			On: map[string]Transition{
				EventPickup: {Target: "doing"},
			},
		}},
		{"refining", State{
			Type: TypeHold, Label: "Refining", Color: "#f9d0c4",
			On: map[string]Transition{
				EventApprove: {Target: "todo"},
			},
		}},
		{"toResearch", State{
			Type: TypeQueue, Label: "To Research", Color: "#fef2c0", Role: RoleArchitect, Priority: 1,
			On: map[string]Transition{
				EventPickup: {Target: "researching"},
			},
		}},
		{"researching", State{
			Type: TypeActive, Label: "Researching", Color: "#006b75", Role: RoleArchitect,
			On: map[string]Transition{
				EventComplete: {Target: "planning"},
				EventBlocked:  {Target: "refining"},
			},
		}},
	})
}
