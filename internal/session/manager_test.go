package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"boardroom/internal/clock"
	"boardroom/internal/config"
	"boardroom/internal/registry"
	"boardroom/internal/types"
)

func noopAgent() types.Agent {
	return types.AgentFunc(func(ctx context.Context, dc types.DecisionContext) (types.AnalysisResult, error) {
		return types.AnalysisResult{Confidence: 0.5, Impact: 0.5}, nil
	})
}

func newTestRegistry(roles ...types.Role) *registry.Registry {
	reg := registry.New(registry.Config{BusyThreshold: 3})
	for _, role := range roles {
		if err := reg.Register(role, noopAgent()); err != nil {
			panic(err)
		}
	}
	return reg
}

// eventSink collects notifier events for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []types.Event
}

func (s *eventSink) Notify(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *eventSink) eventTypes() []types.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func newTestManager(t *testing.T, clk clock.Clock, reg *registry.Registry) (*Manager, *eventSink) {
	t.Helper()
	sink := &eventSink{}
	mgr, err := NewManager(Options{
		Config:   config.Default(),
		Registry: reg,
		Notifier: sink,
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, sink
}

// waitForStatus polls until the session reaches the wanted status or the
// deadline passes. Auto-completion runs on its own goroutine, so even with
// a fake clock the observation is asynchronous.
func waitForStatus(t *testing.T, mgr *Manager, id string, want types.SessionStatus) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := mgr.Session(id)
		if err == nil && snap.Status == want {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	snap, err := mgr.Session(id)
	t.Fatalf("session %s never reached %s (now %s, err %v)", id, want, snap.Status, err)
	return Snapshot{}
}

func TestStartSessionDefaults(t *testing.T) {
	clk := clock.NewFake()
	mgr, sink := newTestManager(t, clk, newTestRegistry(types.RoleFinance, types.RoleLegal))

	snap, err := mgr.StartSession(StartRequest{
		Title:         "quarterly budget review",
		RequiredRoles: []types.Role{types.RoleFinance, types.RoleLegal, types.RoleFinance},
		Initiator:     "cfo",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if snap.Type != types.SessionStrategic {
		t.Errorf("type = %s, want strategic default", snap.Type)
	}
	if snap.Priority != types.PriorityMedium {
		t.Errorf("priority = %s, want medium default", snap.Priority)
	}
	if snap.Status != types.StatusActive {
		t.Errorf("status = %s, want active", snap.Status)
	}
	if len(snap.Participants) != 2 {
		t.Errorf("participants = %v, want deduped finance+legal", snap.Participants)
	}
	if snap.EstimatedDuration != 2*time.Hour {
		t.Errorf("estimated = %v, want 2h strategic default", snap.EstimatedDuration)
	}
	if snap.Metrics.RiskLevel != 0.4 {
		t.Errorf("baseline risk = %v, want 0.4 for medium priority", snap.Metrics.RiskLevel)
	}

	// One synthetic join entry per participant at neutral confidence.
	if len(snap.Flow) != 2 {
		t.Fatalf("flow length = %d, want 2 join entries", len(snap.Flow))
	}
	for _, e := range snap.Flow {
		if e.Action != types.ActionJoin || e.Confidence != 0.5 {
			t.Errorf("unexpected join entry %+v", e)
		}
	}

	got := sink.eventTypes()
	if len(got) != 1 || got[0] != types.EventSessionStarted {
		t.Errorf("events = %v, want [session_started]", got)
	}
}

func TestStartSessionRequiresRoles(t *testing.T) {
	mgr, _ := newTestManager(t, clock.NewFake(), newTestRegistry(types.RoleFinance))
	if _, err := mgr.StartSession(StartRequest{Title: "empty"}); err == nil {
		t.Error("expected error for empty required roles")
	}
}

func TestStartSessionNoExecutivesAvailable(t *testing.T) {
	mgr, _ := newTestManager(t, clock.NewFake(), newTestRegistry(types.RoleFinance))
	_, err := mgr.StartSession(StartRequest{
		Title:         "nobody home",
		RequiredRoles: []types.Role{types.RoleMarketing},
	})
	if !errors.Is(err, types.ErrNoExecutivesAvailable) {
		t.Errorf("err = %v, want ErrNoExecutivesAvailable", err)
	}
}

func TestStartSessionSkipsBusyRoles(t *testing.T) {
	reg := newTestRegistry(types.RoleFinance, types.RoleLegal)
	for i := 0; i < 3; i++ { // push finance to the busy threshold
		reg.BeginQuery(types.RoleFinance)
	}
	mgr, _ := newTestManager(t, clock.NewFake(), reg)

	snap, err := mgr.StartSession(StartRequest{
		Title:         "partial board",
		RequiredRoles: []types.Role{types.RoleFinance, types.RoleLegal},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if len(snap.Participants) != 1 || snap.Participants[0] != types.RoleLegal {
		t.Errorf("participants = %v, want only legal", snap.Participants)
	}
}

func TestProcessInputValidation(t *testing.T) {
	mgr, _ := newTestManager(t, clock.NewFake(), newTestRegistry(types.RoleFinance, types.RoleLegal))
	snap, err := mgr.StartSession(StartRequest{
		Title:         "validation",
		RequiredRoles: []types.Role{types.RoleFinance},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := mgr.ProcessInput(snap.ID, types.RoleFinance, "shout", "hey", 0.5); err == nil {
		t.Error("expected error for unknown action")
	}
	if err := mgr.ProcessInput("nope", types.RoleFinance, types.ActionSpeak, "hi", 0.5); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
	if err := mgr.ProcessInput(snap.ID, types.RoleLegal, types.ActionSpeak, "hi", 0.5); !errors.Is(err, types.ErrRoleNotParticipant) {
		t.Errorf("err = %v, want ErrRoleNotParticipant", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	clk := clock.NewFake()
	mgr, sink := newTestManager(t, clk, newTestRegistry(types.RoleFinance, types.RoleLegal))

	snap, err := mgr.StartSession(StartRequest{
		Type:          types.SessionStrategic,
		Priority:      types.PriorityHigh,
		Title:         "approve infrastructure spend",
		RequiredRoles: []types.Role{types.RoleFinance, types.RoleLegal},
		Initiator:     "cli",
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	id := snap.ID

	if err := mgr.ProcessInput(id, types.RoleFinance, types.ActionPropose, "approve the spend", 0.9); err != nil {
		t.Fatalf("propose: %v", err)
	}
	snap, _ = mgr.Session(id)
	if snap.Status != types.StatusCoordinating {
		t.Errorf("status after propose = %s, want coordinating", snap.Status)
	}
	if len(snap.Proposals) != 1 || snap.Proposals[0].Status != types.ProposalProposed {
		t.Fatalf("proposals = %+v", snap.Proposals)
	}

	if err := mgr.ProcessInput(id, types.RoleLegal, types.ActionAgree, "terms fine", 0.85); err != nil {
		t.Fatalf("agree: %v", err)
	}
	snap, _ = mgr.Session(id)
	if snap.Proposals[0].Status != types.ProposalApproved {
		t.Errorf("proposal status = %s, want approved (2/2 supporters)", snap.Proposals[0].Status)
	}
	if snap.Status != types.StatusDeciding {
		t.Errorf("status after approval = %s, want deciding", snap.Status)
	}
	if snap.Metrics.ConsensusLevel != 1.0 {
		t.Errorf("consensus level = %v, want 1.0", snap.Metrics.ConsensusLevel)
	}

	if err := mgr.ProcessInput(id, types.RoleFinance, types.ActionDecide, "approve the spend", 0.95); err != nil {
		t.Fatalf("decide: %v", err)
	}
	snap, _ = mgr.Session(id)
	if snap.Status != types.StatusExecuting {
		t.Fatalf("status after decide = %s, want executing", snap.Status)
	}
	if len(snap.Outcomes) != 1 || snap.Outcomes[0].Status != types.OutcomePending {
		t.Fatalf("outcomes = %+v", snap.Outcomes)
	}

	// Grace period elapses, the session auto-completes.
	clk.Advance(config.Default().ExecutionGracePeriod.Std())
	final := waitForStatus(t, mgr, id, types.StatusCompleted)
	if final.Metrics.ExecutionReadiness != 1.0 {
		t.Errorf("execution readiness = %v, want 1.0 on completion", final.Metrics.ExecutionReadiness)
	}
	if final.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
	if len(mgr.ActiveSessions()) != 0 {
		t.Errorf("active sessions = %d, want 0", len(mgr.ActiveSessions()))
	}
	if len(mgr.History()) != 1 {
		t.Errorf("history = %d, want 1", len(mgr.History()))
	}

	// Metrics remain in range throughout.
	for _, v := range []float64{
		final.Metrics.ConsensusLevel, final.Metrics.CoordinationSpeed,
		final.Metrics.DecisionQuality, final.Metrics.ExecutionReadiness,
		final.Metrics.RiskLevel,
	} {
		if v < 0 || v > 1 {
			t.Errorf("metric out of range: %v", v)
		}
	}

	want := map[types.EventType]bool{
		types.EventSessionStarted:   false,
		types.EventInputProcessed:   false,
		types.EventProposalApproved: false,
		types.EventSessionExecuting: false,
		types.EventSessionCompleted: false,
	}
	for _, et := range sink.eventTypes() {
		if _, ok := want[et]; ok {
			want[et] = true
		}
	}
	for et, seen := range want {
		if !seen {
			t.Errorf("missing event %s", et)
		}
	}
}

func TestObjectionBlocksApproval(t *testing.T) {
	mgr, _ := newTestManager(t, clock.NewFake(),
		newTestRegistry(types.RoleFinance, types.RoleLegal, types.RoleTechnology))

	snap, err := mgr.StartSession(StartRequest{
		Title:         "contested proposal",
		RequiredRoles: []types.Role{types.RoleFinance, types.RoleLegal, types.RoleTechnology},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	id := snap.ID

	mustInput := func(role types.Role, action types.InputAction, content string, conf float64) {
		t.Helper()
		if err := mgr.ProcessInput(id, role, action, content, conf); err != nil {
			t.Fatalf("%s %s: %v", role, action, err)
		}
	}

	mustInput(types.RoleFinance, types.ActionPropose, "ship it", 0.9)
	mustInput(types.RoleLegal, types.ActionObject, "contract risk", 0.7)

	snap, _ = mgr.Session(id)
	p := snap.Proposals[0]
	if p.Status != types.ProposalDebated {
		t.Errorf("proposal status = %s, want debated after objection", p.Status)
	}

	// Support ratio 2/3 clears the threshold, but the standing objection
	// blocks approval.
	mustInput(types.RoleTechnology, types.ActionAgree, "fine by me", 0.8)
	snap, _ = mgr.Session(id)
	if snap.Proposals[0].Status == types.ProposalApproved {
		t.Fatal("proposal approved despite an objector")
	}

	// The objector flips: stance displacement empties the objector set and
	// approval goes through.
	mustInput(types.RoleLegal, types.ActionAgree, "risk addressed", 0.8)
	snap, _ = mgr.Session(id)
	p = snap.Proposals[0]
	if p.Status != types.ProposalApproved {
		t.Fatalf("proposal status = %s, want approved after objector flips", p.Status)
	}
	if len(p.Objectors) != 0 || len(p.Supporters) != 3 {
		t.Errorf("supporters=%v objectors=%v, want 3/0", p.Supporters, p.Objectors)
	}

	// Approval is monotonic: a later objection cannot revert it.
	mustInput(types.RoleTechnology, types.ActionObject, "second thoughts", 0.6)
	snap, _ = mgr.Session(id)
	if snap.Proposals[0].Status != types.ProposalApproved {
		t.Error("approval reverted by a late objection")
	}
}

func TestImpactGrading(t *testing.T) {
	mgr, _ := newTestManager(t, clock.NewFake(), newTestRegistry(types.RoleFinance, types.RoleLegal))

	snap, err := mgr.StartSession(StartRequest{
		Title:         "grading",
		RequiredRoles: []types.Role{types.RoleFinance, types.RoleLegal},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	id := snap.ID

	steps := []struct {
		action     types.InputAction
		confidence float64
		want       types.ImpactLevel
	}{
		{types.ActionSpeak, 0.5, types.ImpactLow},
		{types.ActionSpeak, 0.85, types.ImpactMedium},
		{types.ActionObject, 0.3, types.ImpactMedium},
		{types.ActionDecide, 0.95, types.ImpactHigh},
	}
	for _, step := range steps {
		if err := mgr.ProcessInput(id, types.RoleFinance, step.action, "x", step.confidence); err != nil {
			t.Fatalf("%s: %v", step.action, err)
		}
	}

	snap, _ = mgr.Session(id)
	entries := snap.Flow[2:] // skip the join entries
	for i, step := range steps {
		if entries[i].Impact != step.want {
			t.Errorf("step %d (%s, %.2f): impact = %s, want %s",
				i, step.action, step.confidence, entries[i].Impact, step.want)
		}
	}

	// Critical priority overrides everything.
	crit, err := mgr.StartSession(StartRequest{
		Priority:      types.PriorityCritical,
		Title:         "critical grading",
		RequiredRoles: []types.Role{types.RoleFinance},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := mgr.ProcessInput(crit.ID, types.RoleFinance, types.ActionSpeak, "x", 0.1); err != nil {
		t.Fatalf("speak: %v", err)
	}
	snap, _ = mgr.Session(crit.ID)
	last := snap.Flow[len(snap.Flow)-1]
	if last.Impact != types.ImpactCritical {
		t.Errorf("impact = %s, want critical for critical-priority session", last.Impact)
	}
}

func TestCancelSession(t *testing.T) {
	mgr, sink := newTestManager(t, clock.NewFake(), newTestRegistry(types.RoleFinance))
	snap, err := mgr.StartSession(StartRequest{
		Title:         "doomed",
		RequiredRoles: []types.Role{types.RoleFinance},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := mgr.CancelSession(snap.ID, "initiator withdrew"); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}

	got, err := mgr.Session(snap.ID)
	if err != nil {
		t.Fatalf("Session after cancel: %v", err)
	}
	if got.Status != types.StatusCancelled || got.CancelReason != "initiator withdrew" {
		t.Errorf("snapshot = %s/%q", got.Status, got.CancelReason)
	}

	if err := mgr.ProcessInput(snap.ID, types.RoleFinance, types.ActionSpeak, "hello?", 0.5); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("input after cancel: err = %v, want ErrSessionNotFound", err)
	}
	if err := mgr.CancelSession(snap.ID, "again"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("double cancel: err = %v, want ErrSessionNotFound", err)
	}

	sawCancelled := false
	for _, et := range sink.eventTypes() {
		if et == types.EventSessionCancelled {
			sawCancelled = true
		}
	}
	if !sawCancelled {
		t.Error("missing session_cancelled event")
	}
}

func TestCompleteSessionClosingOutcomes(t *testing.T) {
	mgr, _ := newTestManager(t, clock.NewFake(), newTestRegistry(types.RoleFinance))
	snap, err := mgr.StartSession(StartRequest{
		Title:         "wrap up",
		RequiredRoles: []types.Role{types.RoleFinance},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	closing := []types.Outcome{{
		Type:        types.OutcomeAction,
		Description: "publish the decision memo",
		Responsible: types.RoleFinance,
	}}
	if err := mgr.CompleteSession(snap.ID, closing); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	got, _ := mgr.Session(snap.ID)
	if got.Status != types.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if len(got.Outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(got.Outcomes))
	}
	o := got.Outcomes[0]
	if o.ID == "" || o.Status != types.OutcomeCompleted || o.CreatedAt.IsZero() {
		t.Errorf("closing outcome not defaulted: %+v", o)
	}
	if got.Metrics.ExecutionReadiness != 1.0 {
		t.Errorf("execution readiness = %v, want 1.0", got.Metrics.ExecutionReadiness)
	}
}

func TestManualCompleteCancelsGraceTimer(t *testing.T) {
	clk := clock.NewFake()
	mgr, _ := newTestManager(t, clk, newTestRegistry(types.RoleFinance, types.RoleLegal))

	snap, err := mgr.StartSession(StartRequest{
		Title:         "fast finish",
		RequiredRoles: []types.Role{types.RoleFinance, types.RoleLegal},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	id := snap.ID

	for _, step := range []struct {
		role   types.Role
		action types.InputAction
	}{
		{types.RoleFinance, types.ActionPropose},
		{types.RoleLegal, types.ActionAgree},
		{types.RoleFinance, types.ActionDecide},
	} {
		if err := mgr.ProcessInput(id, step.role, step.action, "go", 0.9); err != nil {
			t.Fatalf("%s: %v", step.action, err)
		}
	}
	if s, _ := mgr.Session(id); s.Status != types.StatusExecuting {
		t.Fatalf("status = %s, want executing", s.Status)
	}

	if err := mgr.CompleteSession(id, nil); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}
	// The timer is gone; advancing past the grace period must not panic or
	// double-complete.
	clk.Advance(time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got, _ := mgr.Session(id); got.Status != types.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestShutdownDrains(t *testing.T) {
	mgr, _ := newTestManager(t, clock.NewFake(), newTestRegistry(types.RoleFinance, types.RoleLegal))

	var ids []string
	for _, title := range []string{"first", "second"} {
		snap, err := mgr.StartSession(StartRequest{
			Title:         title,
			RequiredRoles: []types.Role{types.RoleFinance},
		})
		if err != nil {
			t.Fatalf("StartSession %s: %v", title, err)
		}
		ids = append(ids, snap.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for _, id := range ids {
		snap, err := mgr.Session(id)
		if err != nil {
			t.Fatalf("Session %s: %v", id, err)
		}
		if snap.Status != types.StatusCompleted {
			t.Errorf("session %s status = %s, want completed", id, snap.Status)
		}
		found := false
		for _, o := range snap.Outcomes {
			if o.Description == "system shutdown" && o.Status == types.OutcomeCompleted {
				found = true
			}
		}
		if !found {
			t.Errorf("session %s missing shutdown outcome", id)
		}
	}

	if _, err := mgr.StartSession(StartRequest{
		Title:         "too late",
		RequiredRoles: []types.Role{types.RoleFinance},
	}); err == nil {
		t.Error("StartSession after shutdown must fail")
	}
}

func TestHasActiveSeverity(t *testing.T) {
	mgr, _ := newTestManager(t, clock.NewFake(), newTestRegistry(types.RoleFinance, types.RoleOperations))

	if mgr.HasActiveSeverity(types.SessionEmergency) {
		t.Error("no sessions yet, want false")
	}

	snap, err := mgr.StartSession(StartRequest{
		Type:          types.SessionEmergency,
		Priority:      types.PriorityHigh,
		Title:         "outage",
		RequiredRoles: []types.Role{types.RoleOperations},
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if !mgr.HasActiveSeverity(types.SessionEmergency) {
		t.Error("active emergency session, want true")
	}
	if mgr.HasActiveSeverity(types.SessionStrategic) {
		t.Error("no strategic session active, want false")
	}

	if err := mgr.CancelSession(snap.ID, "resolved"); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if mgr.HasActiveSeverity(types.SessionEmergency) {
		t.Error("emergency finished, want false")
	}

	// A critical-priority session of any type counts for every severity
	// query.
	if _, err := mgr.StartSession(StartRequest{
		Type:          types.SessionStrategic,
		Priority:      types.PriorityCritical,
		Title:         "all hands",
		RequiredRoles: []types.Role{types.RoleFinance},
	}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !mgr.HasActiveSeverity(types.SessionEmergency) {
		t.Error("critical-priority session active, want true for any type")
	}
}

func TestMaxActiveSessions(t *testing.T) {
	reg := newTestRegistry(types.RoleFinance)
	sink := &eventSink{}
	cfg := config.Default()
	cfg.MaxActiveSessions = 1
	mgr, err := NewManager(Options{Config: cfg, Registry: reg, Notifier: sink, Clock: clock.NewFake()})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := mgr.StartSession(StartRequest{
		Title: "first", RequiredRoles: []types.Role{types.RoleFinance},
	}); err != nil {
		t.Fatalf("first session: %v", err)
	}
	if _, err := mgr.StartSession(StartRequest{
		Title: "second", RequiredRoles: []types.Role{types.RoleFinance},
	}); err == nil {
		t.Error("expected active session limit error")
	}
}
