// Package config holds the tunable thresholds and timings for the boardroom
// coordination core. Defaults are production values; a .boardroom/config.json
// in the workspace overrides individual fields.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Duration is a time.Duration that marshals as a human-readable string
// ("30s", "5m") in JSON.
type Duration time.Duration

// Std returns the underlying time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler. Accepts either a duration
// string or a bare number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("invalid duration value %s", data)
	}
	*d = Duration(ns)
	return nil
}

// Config carries every threshold the coordination core exposes.
type Config struct {
	// Decision coordinator.
	ConsensusConfidence float64  `json:"consensus_confidence"`  // min avg confidence for consensus
	ImpactVarianceLimit float64  `json:"impact_variance_limit"` // max impact variance for consensus
	ConflictDeviation   float64  `json:"conflict_deviation"`    // impact deviation marking an agent as conflicting
	ConflictDiscount    float64  `json:"conflict_discount"`     // confidence multiplier on the conflict path
	AgentQueryTimeout   Duration `json:"agent_query_timeout"`   // per-agent gather deadline
	HistoryLimit        int      `json:"history_limit"`         // bounded decision/conflict history

	// Coordination sessions.
	SupportRatio         float64  `json:"support_ratio"`          // min supporters/participants for approval
	ConsensusGate        float64  `json:"consensus_gate"`         // min consensusLevel before executing
	BusyLoadThreshold    int      `json:"busy_load_threshold"`    // in-flight queries marking an agent busy
	ExecutionGracePeriod Duration `json:"execution_grace_period"` // executing -> completed delay
	MaxActiveSessions    int      `json:"max_active_sessions"`

	// Trigger engine.
	TriggerInterval Duration `json:"trigger_interval"` // evaluation tick
	TriggerCooldown Duration `json:"trigger_cooldown"` // min re-fire interval per trigger (0 = none)

	// Event fan-out.
	EventBuffer int `json:"event_buffer"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		ConsensusConfidence:  0.7,
		ImpactVarianceLimit:  0.3,
		ConflictDeviation:    0.5,
		ConflictDiscount:     0.8,
		AgentQueryTimeout:    Duration(10 * time.Second),
		HistoryLimit:         1000,
		SupportRatio:         0.6,
		ConsensusGate:        0.8,
		BusyLoadThreshold:    3,
		ExecutionGracePeriod: Duration(30 * time.Second),
		MaxActiveSessions:    25,
		TriggerInterval:      Duration(5 * time.Second),
		TriggerCooldown:      0,
		EventBuffer:          64,
	}
}

// Load reads .boardroom/config.json from the workspace and overlays it on
// the defaults. A missing file is not an error; a malformed one is.
func Load(workspace string) (Config, error) {
	cfg := Default()
	if workspace == "" {
		return cfg, nil
	}

	path := filepath.Join(workspace, ".boardroom", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values that would break the core's invariants.
func (c Config) Validate() error {
	if c.ConsensusConfidence < 0 || c.ConsensusConfidence > 1 {
		return fmt.Errorf("consensus_confidence must be in [0,1], got %v", c.ConsensusConfidence)
	}
	if c.ImpactVarianceLimit < 0 {
		return fmt.Errorf("impact_variance_limit must be >= 0, got %v", c.ImpactVarianceLimit)
	}
	if c.ConflictDiscount <= 0 || c.ConflictDiscount > 1 {
		return fmt.Errorf("conflict_discount must be in (0,1], got %v", c.ConflictDiscount)
	}
	if c.SupportRatio <= 0 || c.SupportRatio > 1 {
		return fmt.Errorf("support_ratio must be in (0,1], got %v", c.SupportRatio)
	}
	if c.ConsensusGate < 0 || c.ConsensusGate > 1 {
		return fmt.Errorf("consensus_gate must be in [0,1], got %v", c.ConsensusGate)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("history_limit must be > 0, got %d", c.HistoryLimit)
	}
	if c.BusyLoadThreshold <= 0 {
		return fmt.Errorf("busy_load_threshold must be > 0, got %d", c.BusyLoadThreshold)
	}
	if c.AgentQueryTimeout <= 0 {
		return fmt.Errorf("agent_query_timeout must be > 0")
	}
	if c.TriggerInterval <= 0 {
		return fmt.Errorf("trigger_interval must be > 0")
	}
	if c.ExecutionGracePeriod < 0 {
		return fmt.Errorf("execution_grace_period must be >= 0")
	}
	return nil
}
