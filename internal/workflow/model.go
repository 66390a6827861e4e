package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// StateLabels returns every state label in declaration order.
func StateLabels(w *Workflow) []string {
	labels := make([]string, 0, len(w.Keys))
	for _, key := range w.Keys {
		labels = append(labels, w.States[key].Label)
	}
	return labels
}

// QueueStateRef pairs a queue state key with its record for priority scans.
type QueueStateRef struct {
	Key   string
	State State
}

// QueueStates returns the queue states for a role ordered by priority
// descending; declaration order breaks ties.
func QueueStates(w *Workflow, role string) []QueueStateRef {
	var refs []QueueStateRef
	for _, key := range w.Keys {
		st := w.States[key]
		if st.Type == TypeQueue && st.Role == role {
			refs = append(refs, QueueStateRef{Key: key, State: st})
		}
	}
	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].State.Priority > refs[j].State.Priority
	})
	return refs
}

// QueueLabels returns the queue labels for a role, highest priority first.
func QueueLabels(w *Workflow, role string) []string {
	refs := QueueStates(w, role)
	labels := make([]string, 0, len(refs))
	for _, ref := range refs {
		labels = append(labels, ref.State.Label)
	}
	return labels
}

// ActiveState returns the key and record of the role's single active state.
func ActiveState(w *Workflow, role string) (string, State, error) {
	var found []string
	for _, key := range w.Keys {
		st := w.States[key]
		if st.Type == TypeActive && st.Role == role {
			found = append(found, key)
		}
	}
	switch len(found) {
	case 1:
		return found[0], w.States[found[0]], nil
	case 0:
		return "", State{}, fmt.Errorf("workflow: no active state for role %q", role)
	default:
		return "", State{}, fmt.Errorf("workflow: role %q has %d active states, want exactly 1", role, len(found))
	}
}

// ActiveLabel returns the label of the role's active state.
func ActiveLabel(w *Workflow, role string) (string, error) {
	_, st, err := ActiveState(w, role)
	if err != nil {
		return "", err
	}
	return st.Label, nil
}

// RevertLabel returns the queue label whose PICKUP transition targets the
// role's active state. This is where issues return when a worker dies.
func RevertLabel(w *Workflow, role string) (string, error) {
	activeKey, _, err := ActiveState(w, role)
	if err != nil {
		return "", err
	}
	for _, ref := range QueueStates(w, role) {
		if tr, ok := ref.State.On[EventPickup]; ok && tr.Target == activeKey {
			return ref.State.Label, nil
		}
	}
	return "", fmt.Errorf("workflow: no queue state picks up into active state %q", activeKey)
}

// CurrentStateLabel returns the workflow label present on the issue. When
// the issue carries several workflow labels the workflow is violated; the
// first label by state declaration order wins.
func CurrentStateLabel(issueLabels []string, w *Workflow) string {
	present := make(map[string]bool, len(issueLabels))
	for _, l := range issueLabels {
		present[l] = true
	}
	for _, key := range w.Keys {
		if present[w.States[key].Label] {
			return w.States[key].Label
		}
	}
	return ""
}

// CompletionRule describes the transition a worker result maps to.
type CompletionRule struct {
	From    string
	To      string
	Actions []string
}

// ResultEvent maps a worker result string to a workflow event: "done" fires
// COMPLETE, anything else is uppercased verbatim.
func ResultEvent(result string) string {
	if strings.EqualFold(result, "done") {
		return EventComplete
	}
	return strings.ToUpper(result)
}

// Completion resolves a worker result against the role's active state.
// Returns nil when the active state has no transition for the event.
func Completion(w *Workflow, role, result string) (*CompletionRule, error) {
	_, active, err := ActiveState(w, role)
	if err != nil {
		return nil, err
	}
	tr, ok := active.On[ResultEvent(result)]
	if !ok {
		return nil, nil
	}
	target, ok := w.States[tr.Target]
	if !ok {
		return nil, fmt.Errorf("workflow: completion target %q undefined", tr.Target)
	}
	return &CompletionRule{
		From:    active.Label,
		To:      target.Label,
		Actions: append([]string(nil), tr.Actions...),
	}, nil
}

// feedbackEvents are the events whose targets hold rework: a worker picked up
// from one of these states should see prior PR feedback.
var feedbackEvents = map[string]bool{
	EventChangesRequested: true,
	EventMergeConflict:    true,
	EventMergeFailed:      true,
	EventReject:           true,
	EventFail:             true,
}

// IsFeedbackState reports whether any feedback-class transition targets the
// state carrying the given label.
func IsFeedbackState(w *Workflow, label string) bool {
	key, ok := w.KeyForLabel(label)
	if !ok {
		return false
	}
	for _, stateKey := range w.Keys {
		for ev, tr := range w.States[stateKey].On {
			if feedbackEvents[ev] && tr.Target == key {
				return true
			}
		}
	}
	return false
}

// HasReviewCheck reports whether any state for the role carries a check.
func HasReviewCheck(w *Workflow, role string) bool {
	for _, key := range w.Keys {
		st := w.States[key]
		if st.Role == role && st.Check != "" {
			return true
		}
	}
	return false
}

// ProducesReviewableWork reports whether the role's active state has a
// transition into a checked state.
func ProducesReviewableWork(w *Workflow, role string) bool {
	_, active, err := ActiveState(w, role)
	if err != nil {
		return false
	}
	for _, tr := range active.On {
		if target, ok := w.States[tr.Target]; ok && target.Check != "" {
			return true
		}
	}
	return false
}

// HasTestPhase reports whether the workflow routes work through a tester role.
func HasTestPhase(w *Workflow) bool {
	for _, key := range w.Keys {
		if w.States[key].Role == "tester" {
			return true
		}
	}
	return false
}

// CheckedStates returns the states carrying the given check, in declaration
// order, for the review poller.
func CheckedStates(w *Workflow, check Check) []QueueStateRef {
	var refs []QueueStateRef
	for _, key := range w.Keys {
		st := w.States[key]
		if st.Check == check {
			refs = append(refs, QueueStateRef{Key: key, State: st})
		}
	}
	return refs
}
