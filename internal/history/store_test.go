package history

import (
	"testing"
	"time"
)

func TestDispatchRoundTrip(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		err := s.RecordDispatch(Dispatch{
			Project: "acme", IssueIID: 40 + i, Role: "developer", Level: "medior",
			Model: "claude-sonnet", SessionAction: "spawn",
			SessionKey: "agent:main:subagent:Acme-developer-medior-cordelia",
			FromLabel:  "To Do", ToLabel: "Doing",
		})
		if err != nil {
			t.Fatalf("RecordDispatch: %v", err)
		}
	}

	got, err := s.RecentDispatches("acme", 2)
	if err != nil {
		t.Fatalf("RecentDispatches: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].IssueIID != 42 || got[1].IssueIID != 41 {
		t.Errorf("order = %d,%d, want newest first (42,41)", got[0].IssueIID, got[1].IssueIID)
	}
}

func TestRecordTick(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	err = s.RecordTick(Tick{
		StartedAt: time.Now(), Duration: 1200 * time.Millisecond,
		Projects: 2, Pickups: 1, Fixes: 1,
	})
	if err != nil {
		t.Fatalf("RecordTick: %v", err)
	}
}
