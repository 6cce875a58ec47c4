// Package config defines the agent configuration, its defaults, and
// startup validation. Configuration lives at <home>/config.json and is
// decoded with struct tags; defaults are applied after load so a
// minimal file stays minimal on disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config holds all agent configuration.
type Config struct {
	Name string `json:"name,omitempty"`

	HomeDir    string `json:"homeDir,omitempty"`
	DataDir    string `json:"dataDir,omitempty"`
	DBPath     string `json:"dbPath,omitempty"`
	ConfigPath string `json:"configPath,omitempty"`

	ChainDefault  string         `json:"chainDefault,omitempty"`
	ChainProfiles []ChainProfile `json:"chainProfiles,omitempty"`

	Brain    BrainConfig    `json:"brain"`
	Autonomy AutonomyConfig `json:"autonomy"`
	Alerting AlertingConfig `json:"alerting"`
	Survival SurvivalConfig `json:"survival"`
	Tooling  ToolingConfig  `json:"tooling"`
	Logging  LoggingConfig  `json:"logging"`

	ToolSources     []ToolSource `json:"toolSources,omitempty"`
	EnabledSkillIDs []string     `json:"enabledSkillIds,omitempty"`

	ConstitutionPolicy ConstitutionPolicy `json:"constitutionPolicy"`

	WalletSessionTTLSec int `json:"walletSessionTtlSec,omitempty"`
	HeartbeatIntervalMs int `json:"heartbeatIntervalMs,omitempty"`
}

// ChainProfile describes one chain the agent may act on and the
// capabilities it supports.
type ChainProfile struct {
	CAIP2    string            `json:"caip2"`
	ChainID  int64             `json:"chainId"`
	Name     string            `json:"name"`
	Supports ChainCapabilities `json:"supports"`
}

// ChainCapabilities is the per-chain capability matrix consulted by
// the action executor's chain gate.
type ChainCapabilities struct {
	Identity   bool `json:"identity"`
	Reputation bool `json:"reputation"`
	Payments   bool `json:"payments"`
	Auth       bool `json:"auth"`
	Messaging  bool `json:"messaging"`
}

// BrainConfig configures the language-model endpoint.
type BrainConfig struct {
	Model           string  `json:"model,omitempty"`
	APIURL          string  `json:"apiUrl,omitempty"`
	APIKeyEnv       string  `json:"apiKeyEnv,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TimeoutMs       int     `json:"timeoutMs,omitempty"`
	MaxRetries      int     `json:"maxRetries,omitempty"`
	RetryBackoffMs  int     `json:"retryBackoffMs,omitempty"`
}

// AutonomyConfig bounds the think-decide-act loop.
type AutonomyConfig struct {
	DefaultIntervalMs          int  `json:"defaultIntervalMs,omitempty"`
	MaxActionsPerTurn          int  `json:"maxActionsPerTurn,omitempty"`
	MaxConsecutiveErrors       int  `json:"maxConsecutiveErrors,omitempty"`
	MaxSleepMs                 int  `json:"maxSleepMs,omitempty"`
	MaxBrainFailuresBeforeStop int  `json:"maxBrainFailuresBeforeStop,omitempty"`
	StrictActionAllowlist      bool `json:"strictActionAllowlist"`
	AllowSelfModifyAction      bool `json:"allowSelfModifyAction"`
}

// AlertingConfig configures threshold evaluation and routing.
type AlertingConfig struct {
	Enabled                   bool   `json:"enabled"`
	Route                     string `json:"route,omitempty"` // db, stdout, webhook
	WebhookURL                string `json:"webhookUrl,omitempty"`
	CriticalIncidentThreshold int    `json:"criticalIncidentThreshold,omitempty"`
	BrainFailureThreshold     int    `json:"brainFailureThreshold,omitempty"`
	QueueDepthThreshold       int    `json:"queueDepthThreshold,omitempty"`
	EvaluationWindowMinutes   int    `json:"evaluationWindowMinutes,omitempty"`
}

// SurvivalConfig holds the liquidity tier thresholds in whole USD.
// Invariant: LowComputeUsd >= CriticalUsd >= DeadUsd.
type SurvivalConfig struct {
	LowComputeUsd int `json:"lowComputeUsd"`
	CriticalUsd   int `json:"criticalUsd"`
	DeadUsd       int `json:"deadUsd"`
}

// ToolingConfig holds runtime tool policy.
type ToolingConfig struct {
	AllowExternalSources bool `json:"allowExternalSources"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `json:"level,omitempty"` // debug, info, warn, error
	Development bool   `json:"development,omitempty"`
	Dir         string `json:"dir,omitempty"` // optional file sink directory
}

// ToolSource describes one registered tool source.
type ToolSource struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"` // internal, api, mcp
	Enabled  bool              `json:"enabled"`
	BaseURL  string            `json:"baseUrl,omitempty"`
	AuthEnv  string            `json:"authEnv,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ConstitutionPolicy points at the hash-verified governance files and
// the paths self-modification may never touch.
type ConstitutionPolicy struct {
	ConstitutionPath string   `json:"constitutionPath,omitempty"`
	LawsPath         string   `json:"lawsPath,omitempty"`
	ProtectedPaths   []string `json:"protectedPaths,omitempty"`
	HashAlgorithm    string   `json:"hashAlgorithm,omitempty"`
}

// Load reads config from path and applies defaults. A missing file
// yields the pure default config rooted at the file's directory.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg.ConfigPath = path
	if cfg.HomeDir == "" {
		cfg.HomeDir = filepath.Dir(path)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Save writes the config to its ConfigPath with 0600 permissions.
func (c *Config) Save() error {
	if c.ConfigPath == "" {
		return fmt.Errorf("config has no path")
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.ConfigPath), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(c.ConfigPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Profile returns the chain profile for a CAIP-2 id, if configured.
func (c *Config) Profile(caip2 string) (ChainProfile, bool) {
	for _, p := range c.ChainProfiles {
		if p.CAIP2 == caip2 {
			return p, true
		}
	}
	return ChainProfile{}, false
}

// WalletPath returns the encrypted keystore location.
func (c *Config) WalletPath() string {
	return filepath.Join(c.HomeDir, "wallet.enc.json")
}

// RollbackDir returns the self-mod backup directory.
func (c *Config) RollbackDir() string {
	return filepath.Join(c.DataDir, "rollbacks")
}

// SkillsDir returns the read-only skills directory.
func (c *Config) SkillsDir() string {
	return filepath.Join(c.HomeDir, "skills")
}
