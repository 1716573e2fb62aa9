// Package registry holds the set of registered advisory agents keyed by
// role, the routing table resolving which roles are relevant to a decision
// context, and per-role load used for availability checks.
package registry

import (
	"fmt"
	"sync"

	"boardroom/internal/logging"
	"boardroom/internal/types"

	"go.uber.org/zap"
)

// defaultRouting maps context types to the roles that should weigh in.
// A context type missing from the table routes to all registered roles.
var defaultRouting = map[types.ContextType][]types.Role{
	types.ContextFinancial:  {types.RoleFinance, types.RoleOperations, types.RoleLegal},
	types.ContextMarket:     {types.RoleMarketing, types.RoleProduct, types.RoleFinance},
	types.ContextTechnical:  {types.RoleTechnology, types.RoleSecurity, types.RoleProduct},
	types.ContextCompliance: {types.RoleLegal, types.RoleSecurity, types.RoleFinance},
	types.ContextGrowth:     {types.RoleMarketing, types.RoleFinance, types.RoleProduct, types.RoleOperations},
	types.ContextWorkforce:  {types.RolePeople, types.RoleOperations, types.RoleLegal},
	// ContextCrisis intentionally absent: a crisis routes to every seat.
}

// Registry is the shared agent directory. All fields are guarded by mu;
// the registry is safe for concurrent use by the coordinator, session
// manager, and trigger engine.
type Registry struct {
	mu      sync.RWMutex
	agents  map[types.Role]types.Agent
	routing map[types.ContextType][]types.Role
	load    map[types.Role]int

	busyThreshold int
	logger        *zap.Logger
}

// Config holds construction options for the registry.
type Config struct {
	// BusyThreshold is the in-flight query count at which an agent stops
	// being "available" for new sessions.
	BusyThreshold int

	// Routing overrides the default context-type routing table when non-nil.
	Routing map[types.ContextType][]types.Role

	Logger *zap.Logger
}

// New creates an empty registry.
func New(cfg Config) *Registry {
	if cfg.BusyThreshold <= 0 {
		cfg.BusyThreshold = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	routing := cfg.Routing
	if routing == nil {
		routing = defaultRouting
	}
	// Copy so later table edits never race with lookups.
	routingCopy := make(map[types.ContextType][]types.Role, len(routing))
	for ct, roles := range routing {
		routingCopy[ct] = append([]types.Role(nil), roles...)
	}

	return &Registry{
		agents:        make(map[types.Role]types.Agent),
		routing:       routingCopy,
		load:          make(map[types.Role]int),
		busyThreshold: cfg.BusyThreshold,
		logger:        cfg.Logger,
	}
}

// Register binds an agent to a role, replacing any previous binding.
func (r *Registry) Register(role types.Role, agent types.Agent) error {
	if !role.Valid() {
		return fmt.Errorf("register %q: %w", role, types.ErrUnsupportedRole)
	}
	if agent == nil {
		return fmt.Errorf("register %q: nil agent", role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[role] = agent

	logging.Registry("Registered agent for role %s (authority %d)", role, role.Authority())
	r.logger.Debug("agent registered", zap.String("role", string(role)))
	return nil
}

// AgentFor returns the agent bound to the role.
func (r *Registry) AgentFor(role types.Role) (types.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[role]
	return a, ok
}

// Registered reports whether the role has an agent bound.
func (r *Registry) Registered(role types.Role) bool {
	_, ok := r.AgentFor(role)
	return ok
}

// Roles returns every registered role ordered by descending authority.
func (r *Registry) Roles() []types.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Role, 0, len(r.agents))
	for _, role := range types.AllRoles() {
		if _, ok := r.agents[role]; ok {
			out = append(out, role)
		}
	}
	return out
}

// RolesFor resolves which registered roles are relevant to a context type.
// A context type absent from the routing table defaults to all registered
// roles. The result may be empty when none of the routed roles have agents.
func (r *Registry) RolesFor(ct types.ContextType) []types.Role {
	r.mu.RLock()
	routed, ok := r.routing[ct]
	r.mu.RUnlock()

	if !ok {
		return r.Roles()
	}

	out := make([]types.Role, 0, len(routed))
	for _, role := range routed {
		if r.Registered(role) {
			out = append(out, role)
		}
	}
	return out
}

// BeginQuery records that a query against the role's agent is in flight.
func (r *Registry) BeginQuery(role types.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load[role]++
}

// EndQuery records the completion of an in-flight query.
func (r *Registry) EndQuery(role types.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.load[role] > 0 {
		r.load[role]--
	}
}

// Load returns the role's current in-flight query count.
func (r *Registry) Load(role types.Role) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load[role]
}

// Available reports whether the role has an agent whose current load is
// below the busy threshold.
func (r *Registry) Available(role types.Role) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.agents[role]; !ok {
		return false
	}
	return r.load[role] < r.busyThreshold
}

// AggregateLoad returns the mean load across registered agents as a
// fraction of the busy threshold, clamped to [0,1]. Exposed as a gauge
// for trigger conditions.
func (r *Registry) AggregateLoad() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.agents) == 0 {
		return 0
	}
	total := 0.0
	for role := range r.agents {
		total += float64(r.load[role]) / float64(r.busyThreshold)
	}
	avg := total / float64(len(r.agents))
	if avg > 1 {
		avg = 1
	}
	return avg
}
