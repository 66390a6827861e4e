package heartbeat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/laurentenhoor/devclaw/internal/audit"
	"github.com/laurentenhoor/devclaw/internal/dispatch"
	"github.com/laurentenhoor/devclaw/internal/health"
	"github.com/laurentenhoor/devclaw/internal/notify"
	"github.com/laurentenhoor/devclaw/internal/registry"
	"github.com/laurentenhoor/devclaw/internal/testutil"
	"github.com/laurentenhoor/devclaw/internal/tracker"
	"github.com/laurentenhoor/devclaw/internal/workflow"
)

type recordedMessage struct {
	channelID string
	text      string
}

type memoryTransport struct {
	mu   sync.Mutex
	sent []recordedMessage
}

func (m *memoryTransport) Send(_ context.Context, channelID, _, text string, _ notify.SendOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, recordedMessage{channelID: channelID, text: text})
	return nil
}

func (m *memoryTransport) messages() []recordedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recordedMessage(nil), m.sent...)
}

type fixture struct {
	workspace string
	engine    *Engine
	store     *registry.Store
	sessions  *testutil.FakeSessions
	transport *memoryTransport
	providers map[string]*testutil.FakeProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ws := t.TempDir()
	store := registry.NewStore(ws)
	sessions := testutil.NewFakeSessions()
	transport := &memoryTransport{}
	auditLog := audit.New(ws)

	fx := &fixture{
		workspace: ws,
		store:     store,
		sessions:  sessions,
		transport: transport,
		providers: map[string]*testutil.FakeProvider{},
	}
	notifier := notify.New(transport)
	fx.engine = New(Options{
		Workspace:  ws,
		Store:      store,
		Sessions:   sessions,
		Providers:  fx.provider,
		Checker:    health.NewChecker(store, auditLog),
		Dispatcher: dispatch.New(ws, store, sessions, notifier, auditLog, nil),
		Notifier:   notifier,
		Audit:      auditLog,
	})
	return fx
}

func (fx *fixture) provider(p *registry.Project) (tracker.Provider, error) {
	fp, ok := fx.providers[p.Slug]
	if !ok {
		return nil, fmt.Errorf("no provider for %q", p.Slug)
	}
	return fp, nil
}

func (fx *fixture) addProject(t *testing.T, slug, name string) *testutil.FakeProvider {
	t.Helper()
	err := fx.store.EnsureProject(&registry.Project{
		Slug: slug, Name: name, Provider: "github",
		Channels: []registry.ChannelBinding{{ChannelID: "chan-" + slug, Channel: "telegram"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	fp := testutil.NewFakeProvider()
	fx.providers[slug] = fp
	return fp
}

func (fx *fixture) writeWorkspaceConfig(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(fx.workspace, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestTickHappyPath(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 42, Title: "Fix login", State: "open", Labels: []string{"To Do"}})

	stats := fx.engine.Tick(context.Background())
	if stats.Pickups != 1 || stats.Errors != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	if len(fp.Transitions) != 1 || fp.Transitions[0] != (testutil.Transition{IID: 42, From: "To Do", To: "Doing"}) {
		t.Errorf("transitions = %v", fp.Transitions)
	}

	p, err := fx.store.Project("p1")
	if err != nil {
		t.Fatal(err)
	}
	slot := p.Slot(workflow.RoleDeveloper, "medior", 0)
	if slot == nil || !slot.Active || slot.IssueID == nil || *slot.IssueID != 42 {
		t.Fatalf("slot = %+v", slot)
	}
	if slot.SessionKey != "agent:main:subagent:P1-developer-medior-cordelia" {
		t.Errorf("sessionKey = %q", slot.SessionKey)
	}

	msgs := fx.transport.messages()
	if len(msgs) != 1 || msgs[0].channelID != "chan-p1" {
		t.Fatalf("messages = %v", msgs)
	}
	if !strings.HasPrefix(msgs[0].text, "🚀") {
		t.Errorf("text = %q", msgs[0].text)
	}

	data, err := os.ReadFile(filepath.Join(fx.workspace, "logs", "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"dispatch"`, `"heartbeat_tick"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("audit log missing %s", want)
		}
	}
}

func TestTickRevertsZombieThenRequeues(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 42, Title: "Fix login", State: "open", Labels: []string{"Doing"}})

	start := time.Now().Add(-8 * time.Hour)
	if err := fx.store.ActivateWorker("p1", workflow.RoleDeveloper, registry.Activation{
		IssueID:       42,
		Level:         "medior",
		SessionKey:    "agent:main:subagent:P1-developer-medior-cordelia",
		StartTime:     start,
		PreviousLabel: "To Do",
	}); err != nil {
		t.Fatal(err)
	}
	// Session layer is reachable and reports nothing alive: the worker died.

	stats := fx.engine.Tick(context.Background())
	if stats.Fixes != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	// The zombie's issue is reverted, then immediately eligible again: the
	// same tick re-picks it with a fresh session.
	if len(fp.Transitions) != 2 {
		t.Fatalf("transitions = %v", fp.Transitions)
	}
	if fp.Transitions[0] != (testutil.Transition{IID: 42, From: "Doing", To: "To Do"}) {
		t.Errorf("revert = %v", fp.Transitions[0])
	}
	if fp.Transitions[1] != (testutil.Transition{IID: 42, From: "To Do", To: "Doing"}) {
		t.Errorf("requeue pickup = %v", fp.Transitions[1])
	}
}

func TestReviewPassMergedElsewhere(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 43, Title: "Add search", State: "open", Labels: []string{"To Review"}})
	fp.PRs[43] = &tracker.PRStatus{State: tracker.PRMerged, IID: 9, URL: "https://example.test/pr/9"}

	stats := fx.engine.Tick(context.Background())
	if stats.Reviews != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if fp.Transitions[0] != (testutil.Transition{IID: 43, From: "To Review", To: "To Test"}) {
		t.Errorf("transitions = %v", fp.Transitions)
	}
	// Already merged: the merge action must not fire again.
	if len(fp.Merged) != 0 {
		t.Errorf("merged = %v", fp.Merged)
	}

	found := false
	for _, m := range fx.transport.messages() {
		if strings.HasPrefix(m.text, "🎉") {
			found = true
		}
	}
	if !found {
		t.Errorf("no prMerged notification in %v", fx.transport.messages())
	}
}

func TestReviewPassApprovedMergesAndAdvances(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 43, Title: "Add search", State: "open", Labels: []string{"To Review"}})
	fp.PRs[43] = &tracker.PRStatus{State: tracker.PRApproved, IID: 9, Mergeable: true}

	stats := fx.engine.Tick(context.Background())
	if stats.Reviews != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(fp.Merged) != 1 || fp.Merged[0] != 43 {
		t.Errorf("merged = %v", fp.Merged)
	}
	if fp.Transitions[0] != (testutil.Transition{IID: 43, From: "To Review", To: "To Test"}) {
		t.Errorf("transitions = %v", fp.Transitions)
	}
}

func TestReviewPassChangesRequested(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 43, Title: "Add search", State: "open", Labels: []string{"To Review"}})
	fp.PRs[43] = &tracker.PRStatus{State: tracker.PRChangesRequested, IID: 9}

	stats := fx.engine.Tick(context.Background())
	if stats.Reviews != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if fp.Transitions[0] != (testutil.Transition{IID: 43, From: "To Review", To: "To Improve"}) {
		t.Errorf("transitions = %v", fp.Transitions)
	}
	// The rework queue is a developer queue: the same tick dispatches it.
	last := fp.Transitions[len(fp.Transitions)-1]
	if last != (testutil.Transition{IID: 43, From: "To Improve", To: "Doing"}) {
		t.Errorf("pickup after rework = %v", fp.Transitions)
	}

	found := false
	for _, m := range fx.transport.messages() {
		if strings.HasPrefix(m.text, "🔄") {
			found = true
		}
	}
	if !found {
		t.Errorf("no changesRequested notification in %v", fx.transport.messages())
	}
}

func TestReviewPassConflictAndClosed(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 1, State: "open", Labels: []string{"To Review"}})
	fp.Seed(&tracker.Issue{IID: 2, State: "open", Labels: []string{"To Review"}})
	fp.PRs[1] = &tracker.PRStatus{State: tracker.PRApproved, Mergeable: false}
	fp.PRs[2] = &tracker.PRStatus{State: tracker.PRClosed}

	stats := fx.engine.Tick(context.Background())
	if stats.Reviews != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, tr := range fp.Transitions[:2] {
		if tr.From != "To Review" || tr.To != "To Improve" {
			t.Errorf("transition = %+v", tr)
		}
	}
}

func TestReviewPassWaitsOnComments(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 43, State: "open", Labels: []string{"To Review"}})
	fp.PRs[43] = &tracker.PRStatus{State: tracker.PRHasComments, IID: 9}

	stats := fx.engine.Tick(context.Background())
	if stats.Reviews != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	// The reviewer role may still pick the issue up; what must not happen is
	// the review pass advancing it past the review gate.
	for _, tr := range fp.Transitions {
		if tr.To == "To Test" || tr.To == "To Improve" {
			t.Errorf("issue advanced despite pending comments: %+v", tr)
		}
	}
}

func TestPickupBudgetAcrossProjects(t *testing.T) {
	fx := newFixture(t)
	fx.writeWorkspaceConfig(t, "heartbeat:\n  projectExecution: parallel\n")
	for _, slug := range []string{"p1", "p2", "p3"} {
		fp := fx.addProject(t, slug, strings.ToUpper(slug))
		fp.Seed(&tracker.Issue{IID: 1, Title: "work", State: "open", Labels: []string{"To Do"}})
	}

	stats := fx.engine.Tick(context.Background())
	if stats.Pickups != 2 {
		t.Fatalf("stats = %+v, want the default budget of 2", stats)
	}
	if len(fx.providers["p3"].Transitions) != 0 {
		t.Errorf("third project dispatched past the budget: %v", fx.providers["p3"].Transitions)
	}
}

func TestSequentialProjectsSkipIdleOnes(t *testing.T) {
	fx := newFixture(t)
	p1 := fx.addProject(t, "p1", "P1")
	p2 := fx.addProject(t, "p2", "P2")
	p1.Seed(&tracker.Issue{IID: 1, Title: "work", State: "open", Labels: []string{"To Do"}})
	p2.Seed(&tracker.Issue{IID: 1, Title: "work", State: "open", Labels: []string{"To Do"}})

	stats := fx.engine.Tick(context.Background())
	if stats.Pickups != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(fx.providers["p2"].Transitions) != 0 {
		t.Errorf("idle project dispatched while another holds active work: %v", fx.providers["p2"].Transitions)
	}
}

func TestQueuePriorityPrefersRework(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 1, Title: "new work", State: "open", Labels: []string{"To Do"}})
	fp.Seed(&tracker.Issue{IID: 2, Title: "rework", State: "open", Labels: []string{"To Improve"}})

	fx.engine.Tick(context.Background())
	if len(fp.Transitions) == 0 || fp.Transitions[0] != (testutil.Transition{IID: 2, From: "To Improve", To: "Doing"}) {
		t.Errorf("transitions = %v, want rework queue first", fp.Transitions)
	}
}

func TestOldestIssueWins(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	now := time.Now()
	fp.Seed(&tracker.Issue{IID: 1, Title: "old", State: "open", Labels: []string{"To Do"}, CreatedAt: now.Add(-48 * time.Hour)})
	fp.Seed(&tracker.Issue{IID: 2, Title: "new", State: "open", Labels: []string{"To Do"}, CreatedAt: now})

	fx.engine.Tick(context.Background())
	if len(fp.Transitions) == 0 || fp.Transitions[0].IID != 1 {
		t.Errorf("transitions = %v, want oldest issue first", fp.Transitions)
	}
}

func TestRoleSequentialSkipsBusyRole(t *testing.T) {
	fx := newFixture(t)
	fp := fx.addProject(t, "p1", "P1")
	fp.Seed(&tracker.Issue{IID: 7, Title: "busy", State: "open", Labels: []string{"Doing"}})
	fp.Seed(&tracker.Issue{IID: 8, Title: "queued", State: "open", Labels: []string{"To Do"}})

	key := "agent:main:subagent:P1-developer-medior-cordelia"
	if err := fx.store.ActivateWorker("p1", workflow.RoleDeveloper, registry.Activation{
		IssueID:       7,
		Level:         "medior",
		SessionKey:    key,
		StartTime:     time.Now(),
		PreviousLabel: "To Do",
	}); err != nil {
		t.Fatal(err)
	}
	fx.sessions.Live[key] = struct{}{}

	stats := fx.engine.Tick(context.Background())
	if stats.Pickups != 0 {
		t.Fatalf("stats = %+v, want no pickups while the role is busy", stats)
	}
}
