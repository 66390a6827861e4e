package workflow

import (
	"reflect"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
}

func TestValidateRejectsBrokenWorkflows(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(w *Workflow)
	}{
		{
			name:   "undefined initial",
			mutate: func(w *Workflow) { w.Initial = "nowhere" },
		},
		{
			name: "undefined transition target",
			mutate: func(w *Workflow) {
				st := w.States["todo"]
				st.On = map[string]Transition{EventPickup: {Target: "missing"}}
				w.States["todo"] = st
			},
		},
		{
			name: "queue state without role",
			mutate: func(w *Workflow) {
				st := w.States["todo"]
				st.Role = ""
				w.States["todo"] = st
			},
		},
		{
			name: "duplicate labels",
			mutate: func(w *Workflow) {
				st := w.States["todo"]
				st.Label = "Doing"
				w.States["todo"] = st
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Default().Clone()
			tt.mutate(w)
			if err := w.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestQueueLabelsOrderedByPriority(t *testing.T) {
	got := QueueLabels(Default(), RoleDeveloper)
	want := []string{"To Improve", "To Do"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("QueueLabels(developer) = %v, want %v", got, want)
	}
}

func TestActiveLabel(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{RoleDeveloper, "Doing"},
		{RoleReviewer, "Reviewing"},
		{RoleTester, "Testing"},
		{RoleArchitect, "Researching"},
	}
	for _, tt := range tests {
		got, err := ActiveLabel(Default(), tt.role)
		if err != nil {
			t.Fatalf("ActiveLabel(%s): %v", tt.role, err)
		}
		if got != tt.want {
			t.Errorf("ActiveLabel(%s) = %q, want %q", tt.role, got, tt.want)
		}
	}

	if _, err := ActiveLabel(Default(), "manager"); err == nil {
		t.Error("ActiveLabel(manager) = nil error, want error")
	}
}

func TestRevertLabel(t *testing.T) {
	tests := []struct {
		role string
		want string
	}{
		{RoleDeveloper, "To Improve"}, // highest-priority queue picking up into Doing
		{RoleReviewer, "To Review"},
		{RoleTester, "To Test"},
		{RoleArchitect, "To Research"},
	}
	for _, tt := range tests {
		got, err := RevertLabel(Default(), tt.role)
		if err != nil {
			t.Fatalf("RevertLabel(%s): %v", tt.role, err)
		}
		if got != tt.want {
			t.Errorf("RevertLabel(%s) = %q, want %q", tt.role, got, tt.want)
		}
	}
}

func TestCurrentStateLabel(t *testing.T) {
	w := Default()
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"single workflow label", []string{"bug", "Doing", "review:agent"}, "Doing"},
		{"no workflow label", []string{"bug", "notify:123"}, ""},
		{"violated issue takes declaration order", []string{"Testing", "To Do"}, "To Do"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CurrentStateLabel(tt.labels, w); got != tt.want {
				t.Errorf("CurrentStateLabel(%v) = %q, want %q", tt.labels, got, tt.want)
			}
		})
	}
}

func TestCompletion(t *testing.T) {
	w := Default()

	tests := []struct {
		name    string
		role    string
		result  string
		want    *CompletionRule
		wantNil bool
	}{
		{
			name:   "developer done",
			role:   RoleDeveloper,
			result: "done",
			want:   &CompletionRule{From: "Doing", To: "To Review", Actions: []string{ActionDetectPR}},
		},
		{
			name:   "tester pass closes issue",
			role:   RoleTester,
			result: "pass",
			want:   &CompletionRule{From: "Testing", To: "Done", Actions: []string{ActionCloseIssue}},
		},
		{
			name:   "tester fail reopens",
			role:   RoleTester,
			result: "fail",
			want:   &CompletionRule{From: "Testing", To: "To Improve", Actions: []string{ActionReopenIssue}},
		},
		{
			name:   "reviewer approve merges",
			role:   RoleReviewer,
			result: "approve",
			want:   &CompletionRule{From: "Reviewing", To: "To Test", Actions: []string{ActionMergePR, ActionGitPull}},
		},
		{
			name:    "unknown result has no rule",
			role:    RoleDeveloper,
			result:  "shrug",
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Completion(w, tt.role, tt.result)
			if err != nil {
				t.Fatalf("Completion: %v", err)
			}
			if tt.wantNil {
				if got != nil {
					t.Fatalf("Completion = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("Completion = nil, want rule")
			}
			if got.From != tt.want.From || got.To != tt.want.To || !reflect.DeepEqual(got.Actions, tt.want.Actions) {
				t.Errorf("Completion = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestIsFeedbackState(t *testing.T) {
	w := Default()
	if !IsFeedbackState(w, "To Improve") {
		t.Error("To Improve should be a feedback state")
	}
	if IsFeedbackState(w, "To Do") {
		t.Error("To Do should not be a feedback state")
	}
	if IsFeedbackState(w, "not-a-label") {
		t.Error("unknown label should not be a feedback state")
	}
}

func TestReviewableWork(t *testing.T) {
	w := Default()
	if !HasReviewCheck(w, RoleReviewer) {
		t.Error("reviewer states carry a check")
	}
	if HasReviewCheck(w, RoleTester) {
		t.Error("tester states carry no check")
	}
	if !ProducesReviewableWork(w, RoleDeveloper) {
		t.Error("developer completion targets a checked state")
	}
	if ProducesReviewableWork(w, RoleTester) {
		t.Error("tester completion does not target a checked state")
	}
}

func TestResolveReviewRouting(t *testing.T) {
	tests := []struct {
		policy ReviewPolicy
		level  string
		want   string
	}{
		{PolicyHuman, "junior", ReviewHumanLabel},
		{PolicyAgent, "senior", ReviewAgentLabel},
		{PolicyAuto, "senior", ReviewHumanLabel},
		{PolicyAuto, "medior", ReviewAgentLabel},
		{PolicyAuto, "junior", ReviewAgentLabel},
	}
	for _, tt := range tests {
		if got := ResolveReviewRouting(tt.policy, tt.level); got != tt.want {
			t.Errorf("ResolveReviewRouting(%s, %s) = %q, want %q", tt.policy, tt.level, got, tt.want)
		}
	}

	if got := ResolveTestRouting(PolicySkip, "medior"); got != TestSkipLabel {
		t.Errorf("ResolveTestRouting(skip) = %q, want %q", got, TestSkipLabel)
	}
}

func TestCheckedStates(t *testing.T) {
	refs := CheckedStates(Default(), CheckPRApproved)
	if len(refs) != 1 || refs[0].Key != "toReview" {
		t.Errorf("CheckedStates(prApproved) = %v, want [toReview]", refs)
	}
}
