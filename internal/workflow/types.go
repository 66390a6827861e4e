// Package workflow defines the declarative state machine that drives issues
// through labelled states. A Workflow is a value: states, transitions, and
// routing policy are data, and every query over them is a pure function.
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StateType classifies a workflow state.
type StateType string

const (
	TypeQueue    StateType = "queue"
	TypeActive   StateType = "active"
	TypeHold     StateType = "hold"
	TypeTerminal StateType = "terminal"
)

// ReviewPolicy governs how reviewable work is routed.
type ReviewPolicy string

const (
	PolicyHuman ReviewPolicy = "human"
	PolicyAgent ReviewPolicy = "agent"
	PolicyAuto  ReviewPolicy = "auto"
	PolicySkip  ReviewPolicy = "skip"
)

// Check names an external condition the review poller watches for.
type Check string

const (
	CheckPRApproved Check = "prApproved"
	CheckPRMerged   Check = "prMerged"
)

// Events fired by the engine and by worker completion results.
const (
	EventPickup           = "PICKUP"
	EventComplete         = "COMPLETE"
	EventReview           = "REVIEW"
	EventApproved         = "APPROVED"
	EventChangesRequested = "CHANGES_REQUESTED"
	EventMergeConflict    = "MERGE_CONFLICT"
	EventMergeFailed      = "MERGE_FAILED"
	EventPass             = "PASS"
	EventFail             = "FAIL"
	EventRefine           = "REFINE"
	EventBlocked          = "BLOCKED"
	EventApprove          = "APPROVE"
	EventReject           = "REJECT"
)

// Transition actions interpreted by the dispatcher. User-defined action
// strings pass through as no-ops.
const (
	ActionGitPull     = "gitPull"
	ActionDetectPR    = "detectPr"
	ActionMergePR     = "mergePr"
	ActionCloseIssue  = "closeIssue"
	ActionReopenIssue = "reopenIssue"
)

// Transition is an edge in the state graph: a target state key plus an
// ordered list of side-effect actions.
type Transition struct {
	Target  string   `yaml:"target"`
	Actions []string `yaml:"actions"`
}

// UnmarshalYAML accepts either a bare target key or a {target, actions} record.
func (t *Transition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.Target = node.Value
		t.Actions = nil
		return nil
	}
	type raw Transition
	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}
	*t = Transition(r)
	return nil
}

// State is one node of the workflow graph.
type State struct {
	Type     StateType             `yaml:"type"`
	Label    string                `yaml:"label"`
	Color    string                `yaml:"color"`
	Role     string                `yaml:"role"`
	Priority int                   `yaml:"priority"`
	Check    Check                 `yaml:"check"`
	On       map[string]Transition `yaml:"on"`
}

// Workflow is the full state machine. Keys preserves state declaration order
// so label resolution and queue scans are deterministic.
type Workflow struct {
	Initial      string
	ReviewPolicy ReviewPolicy
	States       map[string]State
	Keys         []string
}

// UnmarshalYAML decodes a workflow while preserving the declaration order of
// the states mapping.
func (w *Workflow) UnmarshalYAML(node *yaml.Node) error {
	var head struct {
		Initial      string       `yaml:"initial"`
		ReviewPolicy ReviewPolicy `yaml:"reviewPolicy"`
	}
	if err := node.Decode(&head); err != nil {
		return err
	}
	w.Initial = head.Initial
	w.ReviewPolicy = head.ReviewPolicy
	w.States = make(map[string]State)
	w.Keys = nil

	var statesNode *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "states" {
			statesNode = node.Content[i+1]
			break
		}
	}
	if statesNode == nil {
		return nil
	}
	if statesNode.Kind != yaml.MappingNode {
		return fmt.Errorf("workflow states must be a mapping")
	}
	for i := 0; i+1 < len(statesNode.Content); i += 2 {
		key := statesNode.Content[i].Value
		var st State
		if err := statesNode.Content[i+1].Decode(&st); err != nil {
			return fmt.Errorf("state %q: %w", key, err)
		}
		w.States[key] = st
		w.Keys = append(w.Keys, key)
	}
	return nil
}

// State returns the state for a key.
func (w *Workflow) State(key string) (State, bool) {
	st, ok := w.States[key]
	return st, ok
}

// KeyForLabel returns the state key carrying the given label.
func (w *Workflow) KeyForLabel(label string) (string, bool) {
	for _, key := range w.Keys {
		if w.States[key].Label == label {
			return key, true
		}
	}
	return "", false
}

// Clone returns a deep copy. Workflows are immutable for the duration of a
// tick; cloning keeps project-level overrides from leaking into defaults.
func (w *Workflow) Clone() *Workflow {
	out := &Workflow{
		Initial:      w.Initial,
		ReviewPolicy: w.ReviewPolicy,
		States:       make(map[string]State, len(w.States)),
		Keys:         append([]string(nil), w.Keys...),
	}
	for key, st := range w.States {
		cp := st
		cp.On = make(map[string]Transition, len(st.On))
		for ev, tr := range st.On {
			cp.On[ev] = Transition{Target: tr.Target, Actions: append([]string(nil), tr.Actions...)}
		}
		out.States[key] = cp
	}
	return out
}

// Validate checks the structural invariants of a workflow.
func (w *Workflow) Validate() error {
	if w.Initial == "" {
		return fmt.Errorf("workflow: initial state is required")
	}
	if _, ok := w.States[w.Initial]; !ok {
		return fmt.Errorf("workflow: initial state %q is not defined", w.Initial)
	}
	seen := make(map[string]string)
	for _, key := range w.Keys {
		st := w.States[key]
		if st.Label == "" {
			return fmt.Errorf("workflow: state %q has no label", key)
		}
		if prev, dup := seen[st.Label]; dup {
			return fmt.Errorf("workflow: label %q used by both %q and %q", st.Label, prev, key)
		}
		seen[st.Label] = key
		if (st.Type == TypeQueue || st.Type == TypeActive) && st.Role == "" {
			return fmt.Errorf("workflow: %s state %q must carry a role", st.Type, key)
		}
		for ev, tr := range st.On {
			if _, ok := w.States[tr.Target]; !ok {
				return fmt.Errorf("workflow: state %q event %s targets undefined state %q", key, ev, tr.Target)
			}
		}
	}
	return nil
}
