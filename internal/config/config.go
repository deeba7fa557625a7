// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Store() StoreConfig
	Kernel() KernelConfig
	Agents() AgentsConfig
	Queue() QueueConfig
	Governance() GovernanceConfig

	// Path setters used by CLI flags.
	SetSpecsDir(dir string)
	SetDataDir(dir string)
}

// Config holds the entire application configuration. Fields are exported so
// viper can unmarshal them; callers should go through the Interface getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
	KernelCfg     KernelConfig     `mapstructure:"kernel" yaml:"kernel"`
	AgentsCfg     AgentsConfig     `mapstructure:"agents" yaml:"agents"`
	QueueCfg      QueueConfig      `mapstructure:"queue" yaml:"queue"`
	GovernanceCfg GovernanceConfig `mapstructure:"governance" yaml:"governance"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }
func (c *Config) Kernel() KernelConfig         { return c.KernelCfg }
func (c *Config) Agents() AgentsConfig         { return c.AgentsCfg }
func (c *Config) Queue() QueueConfig           { return c.QueueCfg }
func (c *Config) Governance() GovernanceConfig { return c.GovernanceCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetSpecsDir(dir string) { c.KernelCfg.SpecsDir = dir }
func (c *Config) SetDataDir(dir string)  { c.StoreCfg.DataDir = dir }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is "file", "memory" or "postgres".
	Backend string `mapstructure:"backend" yaml:"backend"`
	// DataDir is the root directory for file-backed documents.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// URL is the Postgres connection string when Backend is "postgres".
	URL string `mapstructure:"url" yaml:"-"`
}

// KernelConfig configures the boot sequence and territory discovery.
type KernelConfig struct {
	SpecsDir         string        `mapstructure:"specs_dir" yaml:"specs_dir"`
	ConstitutionFile string        `mapstructure:"constitution_file" yaml:"constitution_file"`
	HookBudget       time.Duration `mapstructure:"hook_budget" yaml:"hook_budget"`
}

// AgentsConfig configures the agent runtime and soul storage.
type AgentsConfig struct {
	SessionTTL     time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	FactTTL        time.Duration `mapstructure:"fact_ttl" yaml:"fact_ttl"`
	SemanticDim    int           `mapstructure:"semantic_dim" yaml:"semantic_dim"`
	SummaryBytes   int           `mapstructure:"summary_bytes" yaml:"summary_bytes"`
	AttestationTTL time.Duration `mapstructure:"attestation_ttl" yaml:"attestation_ttl"`
}

// QueueConfig configures task processing.
type QueueConfig struct {
	DefaultAgentType string `mapstructure:"default_agent_type" yaml:"default_agent_type"`
}

// GovernanceConfig configures proposal tallying.
type GovernanceConfig struct {
	QuorumVoters int `mapstructure:"quorum_voters" yaml:"quorum_voters"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "polis")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Store --
	v.SetDefault("store.backend", "file")
	v.SetDefault("store.data_dir", defaultDataDir())
	v.SetDefault("store.url", "")

	// -- Kernel --
	v.SetDefault("kernel.specs_dir", "specs")
	v.SetDefault("kernel.constitution_file", "kernel/constitution.spec.md")
	v.SetDefault("kernel.hook_budget", 50*time.Millisecond)

	// -- Agents --
	v.SetDefault("agents.session_ttl", time.Hour)
	v.SetDefault("agents.fact_ttl", 30*24*time.Hour)
	v.SetDefault("agents.semantic_dim", 256)
	v.SetDefault("agents.summary_bytes", 2000)
	v.SetDefault("agents.attestation_ttl", time.Hour)

	// -- Queue --
	v.SetDefault("queue.default_agent_type", "FundingAnalyst")

	// -- Governance --
	v.SetDefault("governance.quorum_voters", 3)
}

// defaultDataDir resolves the per-user data directory, falling back to a
// relative path when the home directory cannot be determined.
func defaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return "memory"
	}
	return filepath.Join(home, ".polis", "memory")
}

// Validate checks configuration combinations that cannot work at runtime.
func (c *Config) Validate() error {
	switch c.StoreCfg.Backend {
	case "file":
		if c.StoreCfg.DataDir == "" {
			return fmt.Errorf("store.data_dir is required for the file backend")
		}
	case "postgres":
		if c.StoreCfg.URL == "" {
			return fmt.Errorf("store.url is required for the postgres backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store backend: %q", c.StoreCfg.Backend)
	}
	return nil
}

var _ Interface = (*Config)(nil)
