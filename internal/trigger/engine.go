// Package trigger watches system-stress gauges on a fixed tick and
// auto-starts emergency coordination sessions when a configured threshold
// condition holds.
package trigger

import (
	"fmt"
	"sync"
	"time"

	"boardroom/internal/clock"
	"boardroom/internal/config"
	"boardroom/internal/logging"
	"boardroom/internal/registry"
	"boardroom/internal/session"
	"boardroom/internal/types"

	"go.uber.org/zap"
)

// AutoInitiator is the initiator recorded on sessions the engine starts.
const AutoInitiator = "auto_trigger"

// SessionStarter is the slice of the session manager the engine needs.
type SessionStarter interface {
	StartSession(req session.StartRequest) (session.Snapshot, error)
	HasActiveSeverity(t types.SessionType) bool
}

// Options holds construction dependencies for the engine.
type Options struct {
	Config      config.Config
	Definitions []Definition
	Metrics     types.MetricsSource
	Sessions    SessionStarter
	Registry    *registry.Registry // used for fail-fast role validation
	Notifier    types.Notifier
	Logger      *zap.Logger
	Clock       clock.Clock
}

type defState struct {
	def       Definition
	active    bool
	lastFired time.Time
	fired     int
}

// Engine evaluates trigger definitions on a fixed tick. Evaluation errors
// are logged and skipped; nothing stops the tick loop except Stop.
type Engine struct {
	cfg      config.Config
	metrics  types.MetricsSource
	sessions SessionStarter
	notifier types.Notifier
	logger   *zap.Logger
	clk      clock.Clock

	mu      sync.Mutex
	defs    []*defState
	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewEngine validates the definitions and builds the engine. A definition
// referencing an unregistered role fails construction (fail fast, before
// the tick loop ever starts).
func NewEngine(opts Options) (*Engine, error) {
	if opts.Metrics == nil {
		return nil, fmt.Errorf("trigger engine: metrics source is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("trigger engine: session starter is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("trigger engine: %w", err)
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

	defs := make([]*defState, 0, len(opts.Definitions))
	for _, def := range opts.Definitions {
		if err := def.Validate(opts.Registry); err != nil {
			return nil, fmt.Errorf("trigger engine: %w", err)
		}
		defs = append(defs, &defState{def: def, active: def.Active})
	}

	return &Engine{
		cfg:      opts.Config,
		metrics:  opts.Metrics,
		sessions: opts.Sessions,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		clk:      opts.Clock,
		defs:     defs,
	}, nil
}

// Start launches the tick loop. Idempotent while running.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})

	e.wg.Add(1)
	go e.run(e.stop)

	logging.Trigger("Trigger engine started: %d definitions, tick %v", len(e.defs), e.cfg.TriggerInterval.Std())
	e.logger.Info("trigger engine started",
		zap.Int("definitions", len(e.defs)),
		zap.Duration("interval", e.cfg.TriggerInterval.Std()))
}

// Stop halts the tick loop and waits for it to exit. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	e.wg.Wait()
	e.logger.Info("trigger engine stopped")
}

func (e *Engine) run(stop <-chan struct{}) {
	defer e.wg.Done()

	ticker := e.clk.NewTicker(e.cfg.TriggerInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			e.Evaluate()
		}
	}
}

// Evaluate runs one evaluation pass over every definition. Exposed so
// callers (and tests) can force a pass outside the tick cadence.
func (e *Engine) Evaluate() {
	e.mu.Lock()
	defs := append([]*defState(nil), e.defs...)
	e.mu.Unlock()

	for _, st := range defs {
		e.evaluateOne(st)
	}
}

func (e *Engine) evaluateOne(st *defState) {
	e.mu.Lock()
	active := st.active
	lastFired := st.lastFired
	e.mu.Unlock()

	def := st.def
	if !active {
		return
	}

	for name, minimum := range def.Conditions {
		value, err := e.metrics.Gauge(name)
		if err != nil {
			// Metrics unavailable is a per-tick condition, never fatal.
			logging.Get(logging.CategoryTrigger).Warn("Trigger %s: gauge %s unavailable: %v", def.ID, name, err)
			e.logger.Warn("gauge unavailable",
				zap.String("trigger", def.ID), zap.String("gauge", name), zap.Error(err))
			return
		}
		if value < minimum {
			return
		}
	}

	if !def.AutoInitiate {
		logging.TriggerDebug("Trigger %s conditions hold but auto_initiate is off", def.ID)
		return
	}

	cooldown := def.Cooldown.Std()
	if cooldown == 0 {
		cooldown = e.cfg.TriggerCooldown.Std()
	}
	now := e.clk.Now()
	if cooldown > 0 && !lastFired.IsZero() && now.Sub(lastFired) < cooldown {
		return
	}

	// One equivalent-severity session at a time; the trigger re-arms once
	// that session finishes.
	if e.sessions.HasActiveSeverity(def.SessionType) {
		logging.TriggerDebug("Trigger %s suppressed: %s session already active", def.ID, def.SessionType)
		return
	}

	snap, err := e.sessions.StartSession(session.StartRequest{
		Type:          def.SessionType,
		Priority:      def.Priority,
		Title:         def.Title,
		Description:   def.Description,
		RequiredRoles: def.RequiredRoles,
		OptionalRoles: def.OptionalRoles,
		Initiator:     AutoInitiator,
	})
	if err != nil {
		logging.Get(logging.CategoryTrigger).Warn("Trigger %s failed to start session: %v", def.ID, err)
		e.logger.Warn("trigger session start failed", zap.String("trigger", def.ID), zap.Error(err))
		return
	}

	e.mu.Lock()
	st.lastFired = now
	st.fired++
	e.mu.Unlock()

	logging.Trigger("Trigger %s fired: session %s", def.ID, snap.ID)
	e.logger.Info("trigger fired",
		zap.String("trigger", def.ID),
		zap.String("session_id", snap.ID),
		zap.String("session_type", string(def.SessionType)))

	e.notifier.Notify(types.Event{
		Type:      types.EventTriggerFired,
		Timestamp: now,
		SessionID: snap.ID,
		Message:   def.Name,
		Data:      def,
	})
}

// SetActive toggles a definition's active flag at runtime.
func (e *Engine) SetActive(id string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.defs {
		if st.def.ID == id {
			st.active = active
			return nil
		}
	}
	return fmt.Errorf("trigger %q not found", id)
}

// FireCount returns how many times a definition has fired.
func (e *Engine) FireCount(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.defs {
		if st.def.ID == id {
			return st.fired
		}
	}
	return 0
}
