package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlay(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".boardroom")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
		"consensus_confidence": 0.8,
		"execution_grace_period": "10s",
		"trigger_interval": "1s"
	}`), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.ConsensusConfidence)
	assert.Equal(t, 10*time.Second, cfg.ExecutionGracePeriod.Std())
	assert.Equal(t, time.Second, cfg.TriggerInterval.Std())
	// Untouched fields keep defaults.
	assert.Equal(t, Default().SupportRatio, cfg.SupportRatio)
	assert.Equal(t, Default().HistoryLimit, cfg.HistoryLimit)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".boardroom")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"),
		[]byte(`{"agent_query_timeout": "fast"}`), 0644))

	_, err := Load(ws)
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := map[string]func(*Config){
		"confidence above 1":   func(c *Config) { c.ConsensusConfidence = 1.5 },
		"negative variance":    func(c *Config) { c.ImpactVarianceLimit = -0.1 },
		"zero discount":        func(c *Config) { c.ConflictDiscount = 0 },
		"support ratio above":  func(c *Config) { c.SupportRatio = 1.2 },
		"zero history":         func(c *Config) { c.HistoryLimit = 0 },
		"zero busy threshold":  func(c *Config) { c.BusyLoadThreshold = 0 },
		"zero agent timeout":   func(c *Config) { c.AgentQueryTimeout = 0 },
		"zero trigger tick":    func(c *Config) { c.TriggerInterval = 0 },
		"negative grace":       func(c *Config) { c.ExecutionGracePeriod = Duration(-time.Second) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationJSONRoundTrip(t *testing.T) {
	d := Duration(90 * time.Second)
	data, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))

	var parsed Duration
	require.NoError(t, parsed.UnmarshalJSON(data))
	assert.Equal(t, d, parsed)

	// Bare nanosecond numbers are accepted too.
	require.NoError(t, parsed.UnmarshalJSON([]byte("1000000000")))
	assert.Equal(t, time.Second, parsed.Std())
}
