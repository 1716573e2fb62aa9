package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"boardroom/internal/clock"
	"boardroom/internal/config"
	"boardroom/internal/logging"
	"boardroom/internal/registry"
	"boardroom/internal/types"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Archiver is the optional durable sink for finished sessions.
type Archiver interface {
	SaveSession(snap Snapshot) error
}

// Options holds construction dependencies for the session manager.
type Options struct {
	Config   config.Config
	Registry *registry.Registry
	Notifier types.Notifier
	Logger   *zap.Logger
	Clock    clock.Clock
	Archive  Archiver // optional
}

// StartRequest describes a new coordination session.
type StartRequest struct {
	Type          types.SessionType
	Priority      types.Priority
	Title         string
	Description   string
	RequiredRoles []types.Role
	OptionalRoles []types.Role
	Initiator     string

	// EstimatedDuration overrides the type-based default when positive.
	EstimatedDuration time.Duration
}

// Manager owns the active-session set and session history. It is the only
// entry point for session mutation; inputs for one session serialize on
// that session's lock while different sessions proceed concurrently.
type Manager struct {
	cfg      config.Config
	reg      *registry.Registry
	notifier types.Notifier
	logger   *zap.Logger
	clk      clock.Clock
	archive  Archiver

	mu      sync.RWMutex
	active  map[string]*Session
	history []Snapshot
	closed  bool

	// wg tracks auto-complete timers so Shutdown can wait them out.
	wg sync.WaitGroup
}

// NewManager creates a session manager. The registry is required.
func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("session manager: registry is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
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

	return &Manager{
		cfg:      opts.Config,
		reg:      opts.Registry,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		clk:      opts.Clock,
		archive:  opts.Archive,
		active:   make(map[string]*Session),
	}, nil
}

// StartSession validates availability, creates the session, and transitions
// it to active with a synthetic joined entry per participant.
func (m *Manager) StartSession(req StartRequest) (Snapshot, error) {
	if req.Type == "" {
		req.Type = types.SessionStrategic
	}
	if req.Priority == "" {
		req.Priority = types.PriorityMedium
	}

	required := dedupeRoles(req.RequiredRoles)
	if len(required) == 0 {
		return Snapshot{}, fmt.Errorf("start session %q: no required roles given", req.Title)
	}

	// At least one required role must have an agent below the busy
	// threshold; otherwise nobody can anchor the session.
	participants := make([]types.Role, 0, len(required)+len(req.OptionalRoles))
	anchored := false
	for _, role := range required {
		if m.reg.Available(role) {
			participants = append(participants, role)
			anchored = true
		}
	}
	if !anchored {
		return Snapshot{}, fmt.Errorf("start session %q: %w", req.Title, types.ErrNoExecutivesAvailable)
	}
	for _, role := range dedupeRoles(req.OptionalRoles) {
		if m.reg.Available(role) && !containsRole(participants, role) {
			participants = append(participants, role)
		}
	}

	now := m.clk.Now()
	s := &Session{
		id:           uuid.NewString(),
		stype:        req.Type,
		priority:     req.Priority,
		title:        req.Title,
		description:  req.Description,
		initiator:    req.Initiator,
		participants: participants,
		status:       types.StatusInitializing,
		startedAt:    now,
		estimated:    req.EstimatedDuration,
		metrics:      types.SessionMetrics{RiskLevel: baselineRisk(req.Priority)},
	}
	if s.estimated <= 0 {
		s.estimated = defaultDuration(req.Type)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("start session %q: manager is shut down", req.Title)
	}
	if len(m.active) >= m.cfg.MaxActiveSessions {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("start session %q: active session limit reached (%d)", req.Title, m.cfg.MaxActiveSessions)
	}
	m.active[s.id] = s
	m.mu.Unlock()

	s.mu.Lock()
	for _, role := range participants {
		s.appendFlow(now, role, types.ActionJoin, "joined session", 0.5)
	}
	s.advance(types.StatusActive)
	s.recomputeMetrics()
	snap := s.snapshot()
	s.mu.Unlock()

	logging.Session("Started %s session %s (%s): participants=%v initiator=%s",
		s.stype, s.id, s.title, participants, s.initiator)
	m.logger.Info("session started",
		zap.String("session_id", s.id),
		zap.String("type", string(s.stype)),
		zap.String("priority", string(s.priority)),
		zap.Int("participants", len(participants)))

	m.notifier.Notify(types.Event{
		Type:      types.EventSessionStarted,
		Timestamp: now,
		SessionID: s.id,
		Message:   s.title,
		Data:      snap,
	})
	return snap, nil
}

// ProcessInput applies one participant input to a session: flow-log append,
// proposal/outcome mutation, metric recompute, and the completion check.
func (m *Manager) ProcessInput(sessionID string, role types.Role, action types.InputAction, content string, confidence float64) error {
	if !action.ValidInput() {
		return fmt.Errorf("process input: unknown action %q", action)
	}
	confidence = clamp01(confidence)

	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("process input %s: %w", sessionID, types.ErrSessionNotFound)
	}
	if !s.isParticipant(role) {
		s.mu.Unlock()
		return fmt.Errorf("process input %s: role %s: %w", sessionID, role, types.ErrRoleNotParticipant)
	}

	now := m.clk.Now()
	var approvedNow []types.Proposal

	switch action {
	case types.ActionPropose:
		p := &types.Proposal{
			ID:         uuid.NewString(),
			ProposedBy: role,
			Content:    content,
			Supporters: []types.Role{role},
			Status:     types.ProposalProposed,
			Confidence: confidence,
			Risk:       clamp01(1 - confidence),
		}
		s.proposals = append(s.proposals, p)
		s.advance(types.StatusCoordinating)
		logging.SessionDebug("Session %s: %s proposed %q", s.id, role, content)

	case types.ActionDecide:
		s.outcomes = append(s.outcomes, types.Outcome{
			ID:          uuid.NewString(),
			Type:        types.OutcomeDecision,
			Description: content,
			Responsible: role,
			Priority:    s.priority,
			Status:      types.OutcomePending,
			CreatedAt:   now,
		})

	case types.ActionObject:
		for _, p := range s.proposals {
			if !p.Open() {
				continue
			}
			p.Object(role)
			p.Status = types.ProposalDebated
		}

	case types.ActionAgree:
		for _, p := range s.proposals {
			if !p.Open() {
				continue
			}
			p.Support(role)
			ratio := float64(len(p.Supporters)) / float64(len(s.participants))
			if ratio >= m.cfg.SupportRatio && len(p.Objectors) == 0 {
				p.Status = types.ProposalApproved
				approvedNow = append(approvedNow, p.Clone())
				s.advance(types.StatusDeciding)
				logging.Session("Session %s: proposal %s approved (support %.2f)", s.id, p.ID, ratio)
			}
		}

	case types.ActionSpeak:
		// Flow-log entry only.
	}

	entry := s.appendFlow(now, role, action, content, confidence)
	s.recomputeMetrics()

	executing := m.checkCompletion(s)
	snap := s.snapshot()
	s.mu.Unlock()

	m.notifier.Notify(types.Event{
		Type:      types.EventInputProcessed,
		Timestamp: now,
		SessionID: sessionID,
		Role:      role,
		Message:   content,
		Data:      entry,
	})
	for _, p := range approvedNow {
		m.notifier.Notify(types.Event{
			Type:      types.EventProposalApproved,
			Timestamp: now,
			SessionID: sessionID,
			Role:      p.ProposedBy,
			Message:   p.Content,
			Data:      p,
		})
	}
	if executing {
		m.logger.Info("session executing",
			zap.String("session_id", sessionID),
			zap.Duration("grace_period", m.cfg.ExecutionGracePeriod.Std()))
		m.notifier.Notify(types.Event{
			Type:      types.EventSessionExecuting,
			Timestamp: now,
			SessionID: sessionID,
			Data:      snap,
		})
	}
	return nil
}

// checkCompletion applies the execution rule: at least one approved
// proposal, consensus level above the gate, and at least one outcome.
// On transition it arms the auto-complete grace timer. Caller holds the
// session lock; reports whether the session just moved to executing.
func (m *Manager) checkCompletion(s *Session) bool {
	if s.status == types.StatusExecuting || s.status.Terminal() {
		return false
	}

	anyApproved := false
	for _, p := range s.proposals {
		if p.Status == types.ProposalApproved {
			anyApproved = true
			break
		}
	}
	if !anyApproved || s.metrics.ConsensusLevel <= m.cfg.ConsensusGate || len(s.outcomes) == 0 {
		return false
	}
	if !s.advance(types.StatusExecuting) {
		return false
	}

	cancel := make(chan struct{})
	s.graceCancel = cancel
	id := s.id

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		select {
		case <-m.clk.After(m.cfg.ExecutionGracePeriod.Std()):
			// Session may have completed or cancelled in the meantime.
			if err := m.CompleteSession(id, nil); err != nil {
				logging.SessionDebug("Auto-complete of %s skipped: %v", id, err)
			}
		case <-cancel:
		}
	}()
	return true
}

// CompleteSession appends any closing outcomes, forces execution readiness
// to 1.0, and moves the session from the active set into history.
func (m *Manager) CompleteSession(sessionID string, closing []types.Outcome) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("complete session %s: %w", sessionID, types.ErrSessionNotFound)
	}

	now := m.clk.Now()
	for _, o := range closing {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if o.Status == "" {
			o.Status = types.OutcomeCompleted
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		s.outcomes = append(s.outcomes, o)
	}

	s.stopGraceTimer()
	s.advance(types.StatusCompleted)
	s.metrics.ExecutionReadiness = 1.0
	s.completedAt = now
	snap := s.snapshot()
	s.mu.Unlock()

	m.retire(snap)

	logging.Session("Session %s completed (%d outcomes)", sessionID, len(snap.Outcomes))
	m.logger.Info("session completed", zap.String("session_id", sessionID))
	m.notifier.Notify(types.Event{
		Type:      types.EventSessionCompleted,
		Timestamp: now,
		SessionID: sessionID,
		Data:      snap,
	})
	return nil
}

// CancelSession terminates a session without readiness checks.
func (m *Manager) CancelSession(sessionID, reason string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("cancel session %s: %w", sessionID, types.ErrSessionNotFound)
	}

	now := m.clk.Now()
	s.stopGraceTimer()
	s.advance(types.StatusCancelled)
	s.cancelReason = reason
	s.completedAt = now
	snap := s.snapshot()
	s.mu.Unlock()

	m.retire(snap)

	logging.Session("Session %s cancelled: %s", sessionID, reason)
	m.logger.Info("session cancelled", zap.String("session_id", sessionID), zap.String("reason", reason))
	m.notifier.Notify(types.Event{
		Type:      types.EventSessionCancelled,
		Timestamp: now,
		SessionID: sessionID,
		Message:   reason,
		Data:      snap,
	})
	return nil
}

// Shutdown drains the manager: every active session is force-completed
// with a system-shutdown outcome, then pending timers are awaited. New
// sessions are refused from the first moment.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		outcome := types.Outcome{
			Type:        types.OutcomeAction,
			Description: "system shutdown",
			Status:      types.OutcomeCompleted,
		}
		if err := m.CompleteSession(id, []types.Outcome{outcome}); err != nil {
			logging.SessionDebug("Shutdown completion of %s: %v", id, err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session manager shutdown: %w", ctx.Err())
	}
}

// stopGraceTimer aborts a pending auto-complete. Caller holds the session
// lock.
func (s *Session) stopGraceTimer() {
	if s.graceCancel != nil {
		close(s.graceCancel)
		s.graceCancel = nil
	}
}

// lookup resolves an active session.
func (m *Manager) lookup(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.active[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, types.ErrSessionNotFound)
	}
	return s, nil
}

// retire moves a finished snapshot into bounded history and the archive.
func (m *Manager) retire(snap Snapshot) {
	m.mu.Lock()
	delete(m.active, snap.ID)
	m.history = append(m.history, snap)
	if len(m.history) > m.cfg.HistoryLimit {
		m.history = m.history[len(m.history)-m.cfg.HistoryLimit:]
	}
	m.mu.Unlock()

	if m.archive != nil {
		if err := m.archive.SaveSession(snap); err != nil {
			m.logger.Warn("archive session failed", zap.String("session_id", snap.ID), zap.Error(err))
		}
	}
}

// Session returns a snapshot of an active or historical session.
func (m *Manager) Session(sessionID string) (Snapshot, error) {
	if s, err := m.lookup(sessionID); err == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.snapshot(), nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == sessionID {
			return m.history[i], nil
		}
	}
	return Snapshot{}, fmt.Errorf("session %q: %w", sessionID, types.ErrSessionNotFound)
}

// ActiveSessions returns snapshots of all active sessions, oldest first.
func (m *Manager) ActiveSessions() []Snapshot {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		snaps = append(snaps, s.snapshot())
		s.mu.Unlock()
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].StartedAt.Before(snaps[j].StartedAt) })
	return snaps
}

// History returns a copy of the finished-session history, oldest first.
func (m *Manager) History() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Snapshot(nil), m.history...)
}

// HasActiveSeverity reports whether any active session matches the given
// type or runs at critical priority. The trigger engine uses this to avoid
// stacking equivalent emergency sessions.
func (m *Manager) HasActiveSeverity(t types.SessionType) bool {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		match := s.stype == t || s.priority == types.PriorityCritical
		s.mu.Unlock()
		if match {
			return true
		}
	}
	return false
}

func dedupeRoles(roles []types.Role) []types.Role {
	out := make([]types.Role, 0, len(roles))
	for _, r := range roles {
		if !containsRole(out, r) {
			out = append(out, r)
		}
	}
	return out
}

func containsRole(roles []types.Role, role types.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
