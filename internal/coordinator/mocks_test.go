package coordinator

import (
	"context"
	"sync"
	"time"

	"boardroom/internal/config"
	"boardroom/internal/registry"
	"boardroom/internal/types"
)

// stubAgent returns a fixed result or error. With block set it waits for
// context cancellation, simulating a hung agent.
type stubAgent struct {
	result types.AnalysisResult
	err    error
	block  bool
}

func (a *stubAgent) Analyze(ctx context.Context, dc types.DecisionContext) (types.AnalysisResult, error) {
	if a.block {
		<-ctx.Done()
		return types.AnalysisResult{}, ctx.Err()
	}
	if a.err != nil {
		return types.AnalysisResult{}, a.err
	}
	return a.result, nil
}

// recordingNotifier captures events for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	events []types.Event
}

func (n *recordingNotifier) Notify(ev types.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) all() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.Event(nil), n.events...)
}

// recordingArchiver captures archive writes.
type recordingArchiver struct {
	mu        sync.Mutex
	decisions []types.StrategicDecision
	conflicts []types.ConflictRecord
}

func (a *recordingArchiver) SaveDecision(d types.StrategicDecision) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.decisions = append(a.decisions, d)
	return nil
}

func (a *recordingArchiver) SaveConflict(c types.ConflictRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conflicts = append(a.conflicts, c)
	return nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AgentQueryTimeout = config.Duration(100 * time.Millisecond)
	return cfg
}

func newTestRegistry(agents map[types.Role]types.Agent) *registry.Registry {
	reg := registry.New(registry.Config{BusyThreshold: 3})
	for role, agent := range agents {
		if err := reg.Register(role, agent); err != nil {
			panic(err)
		}
	}
	return reg
}
