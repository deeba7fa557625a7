// File: internal/config/config_test.go
package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "console", cfg.Logger().Format)
	assert.Equal(t, "polis", cfg.Logger().ServiceName)
	assert.Equal(t, "file", cfg.Store().Backend)
	assert.Equal(t, "specs", cfg.Kernel().SpecsDir)
	assert.Equal(t, 50*time.Millisecond, cfg.Kernel().HookBudget)
	assert.Equal(t, 30*24*time.Hour, cfg.Agents().FactTTL)
	assert.Equal(t, 256, cfg.Agents().SemanticDim)
	assert.Equal(t, "FundingAnalyst", cfg.Queue().DefaultAgentType)
	assert.Equal(t, 3, cfg.Governance().QuorumVoters)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("valid defaults", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("file backend requires data dir", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.StoreCfg.DataDir = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.data_dir")
	})

	t.Run("postgres backend requires url", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.StoreCfg.Backend = "postgres"
		cfg.StoreCfg.URL = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.url")
	})

	t.Run("unknown backend rejected", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.StoreCfg.Backend = "etcd"
		assert.Error(t, cfg.Validate())
	})
}

// -- File Overrides --

func TestConfigOverridesFromYAML(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")

	yamlDoc := `
logger:
  level: debug
kernel:
  specs_dir: /srv/polis/specs
store:
  backend: memory
`
	require.NoError(t, v.ReadConfig(strings.NewReader(yamlDoc)))

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "debug", cfg.Logger().Level)
	assert.Equal(t, "/srv/polis/specs", cfg.Kernel().SpecsDir)
	assert.Equal(t, "memory", cfg.Store().Backend)
	// Untouched keys keep their defaults.
	assert.Equal(t, "FundingAnalyst", cfg.Queue().DefaultAgentType)
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SetSpecsDir("/tmp/specs")
	cfg.SetDataDir("/tmp/data")
	assert.Equal(t, "/tmp/specs", cfg.Kernel().SpecsDir)
	assert.Equal(t, "/tmp/data", cfg.Store().DataDir)
}
