package config

import "path/filepath"

// InternalRuntimeSourceID is the tool source that is always present
// and exposes the read-only runtime surface.
const InternalRuntimeSourceID = "internal.runtime"

// Default values applied when the config file leaves a field unset.
const (
	DefaultModel           = "gpt-5-mini"
	DefaultAPIURL          = "https://api.openai.com/v1/responses"
	DefaultAPIKeyEnv       = "AETHERNET_BRAIN_API_KEY"
	DefaultTemperature     = 0.4
	DefaultMaxOutputTokens = 4096
	DefaultBrainTimeoutMs  = 60_000
	DefaultMaxRetries      = 2
	DefaultRetryBackoffMs  = 500

	DefaultIntervalMs          = 60_000
	DefaultMaxActionsPerTurn   = 5
	DefaultMaxConsecutive      = 5
	DefaultMaxSleepMs          = 600_000
	DefaultMaxBrainFailures    = 5
	DefaultWalletSessionTTLSec = 900
	DefaultHeartbeatIntervalMs = 60_000

	DefaultCriticalIncidentThreshold = 1
	DefaultBrainFailureThreshold     = 3
	DefaultQueueDepthThreshold       = 10
	DefaultEvaluationWindowMinutes   = 10

	DefaultLowComputeUsd = 20
	DefaultCriticalUsd   = 5
	DefaultDeadUsd       = 1
)

// ApplyDefaults fills unset fields in place. Booleans keep their zero
// values; only numeric and string fields have defaults.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "aethernet"
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(c.HomeDir, "data")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "state.db")
	}
	if c.ChainDefault == "" && len(c.ChainProfiles) > 0 {
		c.ChainDefault = c.ChainProfiles[0].CAIP2
	}

	b := &c.Brain
	if b.Model == "" {
		b.Model = DefaultModel
	}
	if b.APIURL == "" {
		b.APIURL = DefaultAPIURL
	}
	if b.APIKeyEnv == "" {
		b.APIKeyEnv = DefaultAPIKeyEnv
	}
	if b.Temperature == 0 {
		b.Temperature = DefaultTemperature
	}
	if b.MaxOutputTokens == 0 {
		b.MaxOutputTokens = DefaultMaxOutputTokens
	}
	if b.TimeoutMs == 0 {
		b.TimeoutMs = DefaultBrainTimeoutMs
	}
	if b.MaxRetries == 0 {
		b.MaxRetries = DefaultMaxRetries
	}
	if b.RetryBackoffMs == 0 {
		b.RetryBackoffMs = DefaultRetryBackoffMs
	}

	a := &c.Autonomy
	if a.DefaultIntervalMs == 0 {
		a.DefaultIntervalMs = DefaultIntervalMs
	}
	if a.MaxActionsPerTurn == 0 {
		a.MaxActionsPerTurn = DefaultMaxActionsPerTurn
	}
	if a.MaxConsecutiveErrors == 0 {
		a.MaxConsecutiveErrors = DefaultMaxConsecutive
	}
	if a.MaxSleepMs == 0 {
		a.MaxSleepMs = DefaultMaxSleepMs
	}
	if a.MaxBrainFailuresBeforeStop == 0 {
		a.MaxBrainFailuresBeforeStop = DefaultMaxBrainFailures
	}

	al := &c.Alerting
	if al.Route == "" {
		al.Route = "db"
	}
	if al.CriticalIncidentThreshold == 0 {
		al.CriticalIncidentThreshold = DefaultCriticalIncidentThreshold
	}
	if al.BrainFailureThreshold == 0 {
		al.BrainFailureThreshold = DefaultBrainFailureThreshold
	}
	if al.QueueDepthThreshold == 0 {
		al.QueueDepthThreshold = DefaultQueueDepthThreshold
	}
	if al.EvaluationWindowMinutes == 0 {
		al.EvaluationWindowMinutes = DefaultEvaluationWindowMinutes
	}

	s := &c.Survival
	if s.LowComputeUsd == 0 && s.CriticalUsd == 0 && s.DeadUsd == 0 {
		s.LowComputeUsd = DefaultLowComputeUsd
		s.CriticalUsd = DefaultCriticalUsd
		s.DeadUsd = DefaultDeadUsd
	}

	cp := &c.ConstitutionPolicy
	if cp.ConstitutionPath == "" {
		cp.ConstitutionPath = filepath.Join(c.HomeDir, "constitution.md")
	}
	if cp.LawsPath == "" {
		cp.LawsPath = filepath.Join(c.HomeDir, "laws.md")
	}
	if cp.HashAlgorithm == "" {
		cp.HashAlgorithm = "sha256"
	}
	if len(cp.ProtectedPaths) == 0 {
		cp.ProtectedPaths = []string{
			cp.ConstitutionPath,
			cp.LawsPath,
			c.WalletPath(),
			c.ConfigPath,
		}
	}

	if c.WalletSessionTTLSec == 0 {
		c.WalletSessionTTLSec = DefaultWalletSessionTTLSec
	}
	if c.HeartbeatIntervalMs == 0 {
		c.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	c.ensureInternalSource()
}

// ensureInternalSource guarantees the internal.runtime tool source is
// always registered and enabled.
func (c *Config) ensureInternalSource() {
	for _, s := range c.ToolSources {
		if s.ID == InternalRuntimeSourceID {
			return
		}
	}
	c.ToolSources = append([]ToolSource{{
		ID:      InternalRuntimeSourceID,
		Name:    "Runtime introspection",
		Type:    "internal",
		Enabled: true,
	}}, c.ToolSources...)
}
