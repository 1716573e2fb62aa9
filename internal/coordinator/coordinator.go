// Package coordinator implements one-shot decision coordination: it queries
// every relevant agent in parallel, tests for statistical consensus, and
// either synthesizes a merged decision or resolves the disagreement through
// the role authority hierarchy.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"boardroom/internal/clock"
	"boardroom/internal/config"
	"boardroom/internal/logging"
	"boardroom/internal/registry"
	"boardroom/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Archiver is the optional durable sink for decisions and conflicts.
// Archive failures are logged, never propagated.
type Archiver interface {
	SaveDecision(d types.StrategicDecision) error
	SaveConflict(c types.ConflictRecord) error
}

// Options holds construction dependencies for the coordinator.
type Options struct {
	Config   config.Config
	Registry *registry.Registry
	Notifier types.Notifier
	Logger   *zap.Logger
	Clock    clock.Clock
	Archive  Archiver // optional
}

// Coordinator gathers parallel analyses and produces StrategicDecisions.
// The decision and conflict histories are the only mutable state; both are
// bounded and guarded by mu.
type Coordinator struct {
	cfg      config.Config
	reg      *registry.Registry
	notifier types.Notifier
	logger   *zap.Logger
	clk      clock.Clock
	archive  Archiver

	mu        sync.RWMutex
	history   []types.StrategicDecision
	conflicts []types.ConflictRecord

	// Lifetime counters survive history trimming.
	totalDecisions int
	totalConsensus int
	totalConflicts int
}

// New creates a coordinator. The registry is required.
func New(opts Options) (*Coordinator, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("coordinator: registry is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	if opts.Notifier == nil {
		opts.Notifier = types.NopNotifier{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Coordinator{
		cfg:      opts.Config,
		reg:      opts.Registry,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		clk:      opts.Clock,
		archive:  opts.Archive,
	}, nil
}

// Coordinate runs one decision round: role selection, parallel gather,
// consensus test, synthesis or conflict resolution, history append.
func (c *Coordinator) Coordinate(ctx context.Context, dctx types.DecisionContext) (types.StrategicDecision, error) {
	timer := logging.StartTimer(logging.CategoryCoordinator, "coordinate")
	defer timer.Stop()

	roles := c.reg.RolesFor(dctx.Type)
	if len(roles) == 0 {
		return types.StrategicDecision{}, fmt.Errorf("coordinate %q: %w", dctx.Type, types.ErrNoApplicableRoles)
	}

	analyses := c.gather(ctx, dctx, roles)
	if len(analyses) == 0 {
		return types.StrategicDecision{}, fmt.Errorf("coordinate %q: %w", dctx.Type, types.ErrNoAnalysisAvailable)
	}

	// Authority order makes synthesis output deterministic regardless of
	// which goroutine finished first.
	sort.Slice(analyses, func(i, j int) bool {
		return analyses[i].Role.Authority() > analyses[j].Role.Authority()
	})

	avgConfidence := meanConfidence(analyses)
	variance := impactVariance(analyses)
	hasConsensus := avgConfidence > c.cfg.ConsensusConfidence && variance < c.cfg.ImpactVarianceLimit

	logging.Coordinator("Gathered %d/%d analyses for %q: avgConfidence=%.3f impactVariance=%.3f consensus=%v",
		len(analyses), len(roles), dctx.Title, avgConfidence, variance, hasConsensus)

	decision := types.StrategicDecision{
		ID:        uuid.NewString(),
		Context:   dctx,
		Analyses:  analyses,
		Consensus: hasConsensus,
		CreatedAt: c.clk.Now(),
	}

	var conflict *types.ConflictRecord
	if hasConsensus {
		decision.Synthesis = synthesize(dctx, analyses)
		decision.Confidence = clamp01(avgConfidence)
	} else {
		conflict = c.resolveConflict(&decision, analyses)
	}

	c.record(decision, conflict)

	c.logger.Info("decision made",
		zap.String("decision_id", decision.ID),
		zap.String("context_type", string(dctx.Type)),
		zap.Bool("consensus", decision.Consensus),
		zap.Float64("confidence", decision.Confidence))

	c.notifier.Notify(types.Event{
		Type:      types.EventDecisionMade,
		Timestamp: decision.CreatedAt,
		Role:      decision.DecidedBy,
		Message:   decision.Synthesis.Summary,
		Data:      decision,
	})

	return decision, nil
}

// gather queries every selected role concurrently. Each query is isolated:
// a timeout, error, or malformed result drops the role from the result set
// without failing the others.
func (c *Coordinator) gather(ctx context.Context, dctx types.DecisionContext, roles []types.Role) []types.RoleAnalysis {
	var mu sync.Mutex
	analyses := make([]types.RoleAnalysis, 0, len(roles))

	eg, egCtx := errgroup.WithContext(ctx)
	for _, role := range roles {
		role := role
		eg.Go(func() error {
			agent, ok := c.reg.AgentFor(role)
			if !ok {
				return nil
			}

			c.reg.BeginQuery(role)
			defer c.reg.EndQuery(role)

			qctx, cancel := context.WithTimeout(egCtx, c.cfg.AgentQueryTimeout.Std())
			defer cancel()

			result, err := agent.Analyze(qctx, dctx)
			if err != nil {
				logging.Get(logging.CategoryCoordinator).Warn("Agent %s failed: %v", role, err)
				c.logger.Warn("agent query failed", zap.String("role", string(role)), zap.Error(err))
				return nil
			}
			if !validResult(result) {
				logging.Get(logging.CategoryCoordinator).Warn("Agent %s returned malformed result (confidence=%v impact=%v)",
					role, result.Confidence, result.Impact)
				return nil
			}

			mu.Lock()
			analyses = append(analyses, types.RoleAnalysis{Role: role, Result: result})
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = eg.Wait()

	return analyses
}

// resolveConflict applies the authority hierarchy: the highest-authority
// contributing role's analysis becomes the decision body, with its
// confidence discounted to reflect the unresolved disagreement.
// analyses must already be sorted by descending authority.
func (c *Coordinator) resolveConflict(decision *types.StrategicDecision, analyses []types.RoleAnalysis) *types.ConflictRecord {
	mean := meanImpact(analyses)

	conflicting := make([]types.Role, 0, len(analyses))
	for _, a := range analyses {
		if math.Abs(a.Result.Impact-mean) > c.cfg.ConflictDeviation {
			conflicting = append(conflicting, a.Role)
		}
	}
	// High variance without any single outlier past the deviation bound
	// still counts everyone as party to the disagreement.
	if len(conflicting) == 0 {
		for _, a := range analyses {
			conflicting = append(conflicting, a.Role)
		}
	}

	top := analyses[0]
	decision.Synthesis = synthesize(decision.Context, analyses[:1])
	decision.Synthesis.Summary = fmt.Sprintf("Resolved by %s (authority %d): %s",
		top.Role, top.Role.Authority(), top.Result.Reasoning)
	decision.Confidence = clamp01(top.Result.Confidence * c.cfg.ConflictDiscount)
	decision.DecidedBy = top.Role

	logging.Coordinator("Conflict resolved by %s among %v", top.Role, conflicting)

	return &types.ConflictRecord{
		ID:           uuid.NewString(),
		DecisionID:   decision.ID,
		Participants: conflicting,
		Strategy:     types.StrategyAuthorityHierarchy,
		ResolvedBy:   top.Role,
		CreatedAt:    decision.CreatedAt,
	}
}

// record appends to the bounded histories and the optional archive.
func (c *Coordinator) record(decision types.StrategicDecision, conflict *types.ConflictRecord) {
	c.mu.Lock()
	c.totalDecisions++
	if decision.Consensus {
		c.totalConsensus++
	}
	c.history = append(c.history, decision)
	if len(c.history) > c.cfg.HistoryLimit {
		c.history = c.history[len(c.history)-c.cfg.HistoryLimit:]
	}
	if conflict != nil {
		c.totalConflicts++
		c.conflicts = append(c.conflicts, *conflict)
		if len(c.conflicts) > c.cfg.HistoryLimit {
			c.conflicts = c.conflicts[len(c.conflicts)-c.cfg.HistoryLimit:]
		}
	}
	c.mu.Unlock()

	if c.archive == nil {
		return
	}
	if err := c.archive.SaveDecision(decision); err != nil {
		c.logger.Warn("archive decision failed", zap.String("decision_id", decision.ID), zap.Error(err))
	}
	if conflict != nil {
		if err := c.archive.SaveConflict(*conflict); err != nil {
			c.logger.Warn("archive conflict failed", zap.String("conflict_id", conflict.ID), zap.Error(err))
		}
	}
}

// Metrics summarizes the coordinator's lifetime decision history.
type Metrics struct {
	Decisions     int     `json:"decisions"`
	ConsensusRate float64 `json:"consensus_rate"` // fraction of decisions with consensus
	MeanConflicts float64 `json:"mean_conflicts"` // conflicts per decision
}

// Metrics returns the derived history metrics.
func (c *Coordinator) Metrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m := Metrics{Decisions: c.totalDecisions}
	if c.totalDecisions > 0 {
		m.ConsensusRate = float64(c.totalConsensus) / float64(c.totalDecisions)
		m.MeanConflicts = float64(c.totalConflicts) / float64(c.totalDecisions)
	}
	return m
}

// History returns a copy of the retained decision history, oldest first.
func (c *Coordinator) History() []types.StrategicDecision {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.StrategicDecision(nil), c.history...)
}

// Conflicts returns a copy of the retained conflict history, oldest first.
func (c *Coordinator) Conflicts() []types.ConflictRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]types.ConflictRecord(nil), c.conflicts...)
}

// validResult rejects malformed agent output before it can skew the
// consensus statistics.
func validResult(r types.AnalysisResult) bool {
	if math.IsNaN(r.Confidence) || math.IsInf(r.Confidence, 0) {
		return false
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return false
	}
	if math.IsNaN(r.Impact) || math.IsInf(r.Impact, 0) {
		return false
	}
	return true
}
