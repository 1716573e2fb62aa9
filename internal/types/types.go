// Package types provides shared type definitions used across boardroom packages.
// This package exists to break import cycles between the coordinator, session,
// trigger, and store layers. Types in this package should be foundational data
// structures with no complex dependencies.
package types

import (
	"context"
	"sort"
	"time"
)

// =============================================================================
// ROLES
// =============================================================================

// Role identifies a specialized advisory unit (a "seat" on the board).
// Roles are closed-set values; behavior attaches via the capability tables
// below rather than per-role subtypes.
type Role string

const (
	RoleFinance    Role = "finance"
	RoleMarketing  Role = "marketing"
	RoleTechnology Role = "technology"
	RoleOperations Role = "operations"
	RolePeople     Role = "people"
	RoleLegal      Role = "legal"
	RoleSecurity   Role = "security"
	RoleProduct    Role = "product"
)

// authorityTable holds the fixed authority level per role.
// Higher wins ties when consensus fails.
var authorityTable = map[Role]int{
	RoleFinance:    90,
	RoleLegal:      85,
	RoleTechnology: 80,
	RoleOperations: 75,
	RoleSecurity:   70,
	RoleProduct:    60,
	RoleMarketing:  55,
	RolePeople:     50,
}

// AllRoles returns every known role ordered by descending authority.
func AllRoles() []Role {
	roles := make([]Role, 0, len(authorityTable))
	for r := range authorityTable {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool {
		if authorityTable[roles[i]] != authorityTable[roles[j]] {
			return authorityTable[roles[i]] > authorityTable[roles[j]]
		}
		return roles[i] < roles[j]
	})
	return roles
}

// Valid reports whether the role is a member of the closed set.
func (r Role) Valid() bool {
	_, ok := authorityTable[r]
	return ok
}

// Authority returns the role's fixed authority level (0 for unknown roles).
func (r Role) Authority() int {
	return authorityTable[r]
}

// =============================================================================
// DECISION CONTEXT AND ANALYSIS
// =============================================================================

// ContextType classifies a decision context for role routing.
type ContextType string

const (
	ContextFinancial  ContextType = "financial"
	ContextMarket     ContextType = "market"
	ContextTechnical  ContextType = "technical"
	ContextCompliance ContextType = "compliance"
	ContextGrowth     ContextType = "growth"
	ContextWorkforce  ContextType = "workforce"
	ContextCrisis     ContextType = "crisis"
)

// DecisionContext is the input to a one-shot coordination round.
// The same context is handed to every selected agent.
type DecisionContext struct {
	ID          string         `json:"id"`
	Type        ContextType    `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"`
}

// AnalysisResult is one agent's structured opinion on a decision context.
// Immutable once produced; the coordinator copies, never mutates.
type AnalysisResult struct {
	Confidence    float64  `json:"confidence"` // [0,1]
	Impact        float64  `json:"impact"`     // normalized per domain
	Reasoning     string   `json:"reasoning"`
	RiskFactors   []string `json:"risk_factors,omitempty"`
	Opportunities []string `json:"opportunities,omitempty"`
	Timeline      string   `json:"timeline,omitempty"`
	Resources     string   `json:"resources,omitempty"`
}

// RoleAnalysis pairs a result with the role that produced it.
type RoleAnalysis struct {
	Role   Role           `json:"role"`
	Result AnalysisResult `json:"result"`
}

// Synthesis is the merged decision body of a coordination round.
type Synthesis struct {
	Summary        string   `json:"summary"`
	Implementation []string `json:"implementation,omitempty"`
	Timeline       string   `json:"timeline,omitempty"`
	Resources      string   `json:"resources,omitempty"`
}

// StrategicDecision is the output of one coordination round.
// Appended to the coordinator's bounded history; never mutated after creation.
type StrategicDecision struct {
	ID         string          `json:"id"`
	Context    DecisionContext `json:"context"`
	Analyses   []RoleAnalysis  `json:"analyses"`
	Consensus  bool            `json:"consensus"`
	Synthesis  Synthesis       `json:"synthesis"`
	Confidence float64         `json:"confidence"`
	DecidedBy  Role            `json:"decided_by,omitempty"` // set on the conflict path only
	CreatedAt  time.Time       `json:"created_at"`
}

// ConflictRecord documents one authority-hierarchy resolution.
type ConflictRecord struct {
	ID           string    `json:"id"`
	DecisionID   string    `json:"decision_id"`
	Participants []Role    `json:"participants"`
	Strategy     string    `json:"strategy"`
	ResolvedBy   Role      `json:"resolved_by"`
	CreatedAt    time.Time `json:"created_at"`
}

// StrategyAuthorityHierarchy is the only resolution strategy the coordinator
// applies today; recorded on ConflictRecord.Strategy so alternative
// strategies (mediation, compromise) can coexist in the same history later.
const StrategyAuthorityHierarchy = "authority_hierarchy"

// =============================================================================
// SESSIONS
// =============================================================================

// SessionType classifies a coordination session.
type SessionType string

const (
	SessionEmergency   SessionType = "emergency"
	SessionStrategic   SessionType = "strategic"
	SessionOperational SessionType = "operational"
	SessionCrisis      SessionType = "crisis"
	SessionOpportunity SessionType = "opportunity"
)

// Priority orders sessions and outcomes.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// SessionStatus is the session lifecycle state. Transitions only advance
// forward through this ordering, or jump to Cancelled from any non-terminal
// state.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusActive       SessionStatus = "active"
	StatusCoordinating SessionStatus = "coordinating"
	StatusDeciding     SessionStatus = "deciding"
	StatusExecuting    SessionStatus = "executing"
	StatusCompleted    SessionStatus = "completed"
	StatusCancelled    SessionStatus = "cancelled"
)

var statusOrder = map[SessionStatus]int{
	StatusInitializing: 0,
	StatusActive:       1,
	StatusCoordinating: 2,
	StatusDeciding:     3,
	StatusExecuting:    4,
	StatusCompleted:    5,
	StatusCancelled:    6,
}

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanAdvanceTo reports whether a transition from s to next is legal:
// strictly forward, or to Cancelled from any non-terminal state.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusCancelled {
		return true
	}
	return statusOrder[next] > statusOrder[s]
}

// InputAction is a participant's move inside a session.
type InputAction string

const (
	ActionSpeak   InputAction = "speak"
	ActionDecide  InputAction = "decide"
	ActionObject  InputAction = "object"
	ActionAgree   InputAction = "agree"
	ActionPropose InputAction = "propose"

	// ActionJoin is the synthetic flow entry appended when a session starts.
	// It is never accepted from callers.
	ActionJoin InputAction = "join"
)

// ValidInput reports whether the action is accepted from callers.
func (a InputAction) ValidInput() bool {
	switch a {
	case ActionSpeak, ActionDecide, ActionObject, ActionAgree, ActionPropose:
		return true
	}
	return false
}

// ImpactLevel grades a flow entry's weight.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "low"
	ImpactMedium   ImpactLevel = "medium"
	ImpactHigh     ImpactLevel = "high"
	ImpactCritical ImpactLevel = "critical"
)

// FlowEntry is one line of a session's append-only flow log.
type FlowEntry struct {
	Timestamp  time.Time   `json:"timestamp"`
	Role       Role        `json:"role"`
	Action     InputAction `json:"action"`
	Content    string      `json:"content"`
	Confidence float64     `json:"confidence"`
	Impact     ImpactLevel `json:"impact"`
}

// ProposalStatus tracks a session-local proposal.
//
// Approval is monotonic: once a proposal reaches Approved, a later objection
// is recorded in the objector set and flow log but does not revert the
// status. This mirrors upstream behavior and is authoritative, not a bug.
type ProposalStatus string

const (
	ProposalProposed ProposalStatus = "proposed"
	ProposalDebated  ProposalStatus = "debated"
	ProposalApproved ProposalStatus = "approved"
	ProposalRejected ProposalStatus = "rejected"
)

// Proposal is a session-local candidate decision. Supporters and objectors
// are disjoint; a role's latest stance wins.
type Proposal struct {
	ID         string         `json:"id"`
	ProposedBy Role           `json:"proposed_by"`
	Content    string         `json:"content"`
	Supporters []Role         `json:"supporters"`
	Objectors  []Role         `json:"objectors,omitempty"`
	Status     ProposalStatus `json:"status"`
	Confidence float64        `json:"confidence"`
	Risk       float64        `json:"risk"`
}

// Support records role as a supporter, displacing any prior objection.
// No-op if the role already supports.
func (p *Proposal) Support(role Role) {
	p.Objectors = removeRole(p.Objectors, role)
	if !containsRole(p.Supporters, role) {
		p.Supporters = append(p.Supporters, role)
	}
}

// Object records role as an objector, displacing any prior support.
func (p *Proposal) Object(role Role) {
	p.Supporters = removeRole(p.Supporters, role)
	if !containsRole(p.Objectors, role) {
		p.Objectors = append(p.Objectors, role)
	}
}

// Open reports whether the proposal still accepts status-changing stances.
func (p *Proposal) Open() bool {
	return p.Status == ProposalProposed || p.Status == ProposalDebated
}

// Clone returns a deep copy safe to hand outside the session lock.
func (p *Proposal) Clone() Proposal {
	out := *p
	out.Supporters = append([]Role(nil), p.Supporters...)
	out.Objectors = append([]Role(nil), p.Objectors...)
	return out
}

func containsRole(roles []Role, role Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func removeRole(roles []Role, role Role) []Role {
	for i, r := range roles {
		if r == role {
			return append(roles[:i], roles[i+1:]...)
		}
	}
	return roles
}

// OutcomeType classifies a recorded session side effect.
type OutcomeType string

const (
	OutcomeDecision           OutcomeType = "decision"
	OutcomeAction             OutcomeType = "action"
	OutcomeRiskMitigation     OutcomeType = "risk_mitigation"
	OutcomeOpportunityCapture OutcomeType = "opportunity_capture"
)

// OutcomeStatus tracks an outcome toward execution.
type OutcomeStatus string

const (
	OutcomePending    OutcomeStatus = "pending"
	OutcomeInProgress OutcomeStatus = "in_progress"
	OutcomeCompleted  OutcomeStatus = "completed"
)

// Outcome is a recorded side effect of a session.
type Outcome struct {
	ID          string        `json:"id"`
	Type        OutcomeType   `json:"type"`
	Description string        `json:"description"`
	Responsible Role          `json:"responsible"`
	Priority    Priority      `json:"priority"`
	Deadline    *time.Time    `json:"deadline,omitempty"`
	Status      OutcomeStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
}

// SessionMetrics is the live snapshot recomputed after every input.
// All ratio fields are clamped to [0,1].
type SessionMetrics struct {
	ConsensusLevel     float64 `json:"consensus_level"`
	CoordinationSpeed  float64 `json:"coordination_speed"`
	DecisionQuality    float64 `json:"decision_quality"`
	ExecutionReadiness float64 `json:"execution_readiness"`
	RiskLevel          float64 `json:"risk_level"`
}

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Agent is the pluggable per-role analysis unit. Implementations must be
// pure with respect to the coordinator (no callbacks into it) and complete
// within the context deadline; a failure or timeout is treated as absence
// for that gather.
type Agent interface {
	Analyze(ctx context.Context, dc DecisionContext) (AnalysisResult, error)
}

// AgentFunc adapts a plain function to the Agent contract.
type AgentFunc func(ctx context.Context, dc DecisionContext) (AnalysisResult, error)

// Analyze implements Agent.
func (f AgentFunc) Analyze(ctx context.Context, dc DecisionContext) (AnalysisResult, error) {
	return f(ctx, dc)
}

// MetricsSource exposes named numeric gauges (aggregate agent load, stress
// index) for trigger evaluation. Queried synchronously on every tick.
type MetricsSource interface {
	Gauge(name string) (float64, error)
}
