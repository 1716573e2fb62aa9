// Package session implements live, multi-turn coordination sessions: a
// state machine over timestamped propose/agree/object/decide inputs with a
// running consensus and quality score.
package session

import (
	"sync"
	"time"

	"boardroom/internal/types"
)

// Session is one live negotiation. All mutation goes through the Manager,
// which locks mu before touching any field, so concurrent inputs for the
// same session serialize in arrival order; callers outside this package
// only ever see Snapshot copies.
type Session struct {
	mu sync.Mutex

	id          string
	stype       types.SessionType
	priority    types.Priority
	title       string
	description string
	initiator   string

	participants []types.Role // ordered, no duplicates
	status       types.SessionStatus
	startedAt    time.Time
	estimated    time.Duration
	completedAt  time.Time
	cancelReason string

	flow      []types.FlowEntry
	proposals []*types.Proposal
	outcomes  []types.Outcome
	metrics   types.SessionMetrics

	// graceCancel aborts a pending auto-complete; nil until the session
	// reaches executing.
	graceCancel chan struct{}
}

// Snapshot is an immutable copy of a session's state, safe to hand to
// callers, notifiers, and the archive.
type Snapshot struct {
	ID                string              `json:"id"`
	Type              types.SessionType   `json:"type"`
	Priority          types.Priority      `json:"priority"`
	Title             string              `json:"title"`
	Description       string              `json:"description"`
	Initiator         string              `json:"initiator"`
	Participants      []types.Role        `json:"participants"`
	Status            types.SessionStatus `json:"status"`
	StartedAt         time.Time           `json:"started_at"`
	EstimatedDuration time.Duration       `json:"estimated_duration"`
	CompletedAt       time.Time           `json:"completed_at,omitzero"`
	CancelReason      string              `json:"cancel_reason,omitempty"`
	Flow              []types.FlowEntry   `json:"flow"`
	Proposals         []types.Proposal    `json:"proposals"`
	Outcomes          []types.Outcome     `json:"outcomes"`
	Metrics           types.SessionMetrics `json:"metrics"`
}

// snapshot deep-copies the session. Caller holds the session lock.
func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:                s.id,
		Type:              s.stype,
		Priority:          s.priority,
		Title:             s.title,
		Description:       s.description,
		Initiator:         s.initiator,
		Participants:      append([]types.Role(nil), s.participants...),
		Status:            s.status,
		StartedAt:         s.startedAt,
		EstimatedDuration: s.estimated,
		CompletedAt:       s.completedAt,
		CancelReason:      s.cancelReason,
		Flow:              append([]types.FlowEntry(nil), s.flow...),
		Outcomes:          append([]types.Outcome(nil), s.outcomes...),
		Metrics:           s.metrics,
	}
	snap.Proposals = make([]types.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		snap.Proposals = append(snap.Proposals, p.Clone())
	}
	return snap
}

func (s *Session) isParticipant(role types.Role) bool {
	for _, r := range s.participants {
		if r == role {
			return true
		}
	}
	return false
}

// advance moves the status forward if legal; illegal transitions are
// silently ignored (status only ever moves toward completion).
func (s *Session) advance(next types.SessionStatus) bool {
	if !s.status.CanAdvanceTo(next) {
		return false
	}
	s.status = next
	return true
}

// impactFor grades one input for the flow log.
func (s *Session) impactFor(action types.InputAction, confidence float64) types.ImpactLevel {
	switch {
	case s.priority == types.PriorityCritical:
		return types.ImpactCritical
	case action == types.ActionDecide && confidence > 0.9:
		return types.ImpactHigh
	case action == types.ActionObject || confidence > 0.8:
		return types.ImpactMedium
	default:
		return types.ImpactLow
	}
}

// appendFlow adds one entry to the append-only flow log.
func (s *Session) appendFlow(now time.Time, role types.Role, action types.InputAction, content string, confidence float64) types.FlowEntry {
	entry := types.FlowEntry{
		Timestamp:  now,
		Role:       role,
		Action:     action,
		Content:    content,
		Confidence: confidence,
		Impact:     s.impactFor(action, confidence),
	}
	s.flow = append(s.flow, entry)
	return entry
}

// baselineRisk maps session priority to the starting risk metric.
// Critical sessions open with elevated baseline risk.
func baselineRisk(p types.Priority) float64 {
	switch p {
	case types.PriorityCritical:
		return 0.8
	case types.PriorityHigh:
		return 0.6
	case types.PriorityMedium:
		return 0.4
	default:
		return 0.2
	}
}

// defaultDuration estimates a session's length from its type.
func defaultDuration(t types.SessionType) time.Duration {
	switch t {
	case types.SessionEmergency:
		return 30 * time.Minute
	case types.SessionCrisis:
		return 45 * time.Minute
	case types.SessionOperational:
		return time.Hour
	case types.SessionOpportunity:
		return 90 * time.Minute
	default: // strategic
		return 2 * time.Hour
	}
}
