package config

import (
	"fmt"
)

// Issue is one structured validation finding. Any error-severity
// issue prevents startup.
type Issue struct {
	Field    string `json:"field"`
	Code     string `json:"code"`
	Severity string `json:"severity"` // warning or error
	Message  string `json:"message"`
}

// Validate checks the config after defaults are applied.
func (c *Config) Validate() []Issue {
	var issues []Issue

	errf := func(field, code, format string, args ...any) {
		issues = append(issues, Issue{Field: field, Code: code, Severity: "error", Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(field, code, format string, args ...any) {
		issues = append(issues, Issue{Field: field, Code: code, Severity: "warning", Message: fmt.Sprintf(format, args...)})
	}

	if c.HomeDir == "" {
		errf("homeDir", "missing", "home directory is required")
	}

	s := c.Survival
	if !(s.LowComputeUsd >= s.CriticalUsd && s.CriticalUsd >= s.DeadUsd) {
		errf("survival", "threshold_order",
			"survival thresholds must satisfy lowComputeUsd >= criticalUsd >= deadUsd (got %d/%d/%d)",
			s.LowComputeUsd, s.CriticalUsd, s.DeadUsd)
	}

	switch c.Alerting.Route {
	case "db", "stdout", "webhook":
	default:
		errf("alerting.route", "invalid_route", "unknown alert route %q", c.Alerting.Route)
	}
	if c.Alerting.Route == "webhook" && c.Alerting.WebhookURL == "" {
		errf("alerting.webhookUrl", "missing", "webhook route requires a webhook URL")
	}

	if c.WalletSessionTTLSec < 60 {
		errf("walletSessionTtlSec", "too_small", "wallet session TTL must be at least 60s (got %d)", c.WalletSessionTTLSec)
	}
	if c.HeartbeatIntervalMs < 5000 {
		errf("heartbeatIntervalMs", "too_small", "heartbeat interval must be at least 5000ms (got %d)", c.HeartbeatIntervalMs)
	}

	if c.ChainDefault != "" {
		if _, ok := c.Profile(c.ChainDefault); !ok {
			errf("chainDefault", "unknown_chain", "default chain %q has no profile", c.ChainDefault)
		}
	}
	seen := map[string]bool{}
	for i, p := range c.ChainProfiles {
		field := fmt.Sprintf("chainProfiles[%d]", i)
		if p.CAIP2 == "" {
			errf(field, "missing_caip2", "chain profile needs a caip2 id")
			continue
		}
		if seen[p.CAIP2] {
			errf(field, "duplicate_chain", "duplicate chain profile %q", p.CAIP2)
		}
		seen[p.CAIP2] = true
	}

	srcSeen := map[string]bool{}
	for i, src := range c.ToolSources {
		field := fmt.Sprintf("toolSources[%d]", i)
		if src.ID == "" {
			errf(field, "missing_id", "tool source needs an id")
			continue
		}
		if srcSeen[src.ID] {
			errf(field, "duplicate_source", "duplicate tool source %q", src.ID)
		}
		srcSeen[src.ID] = true
		switch src.Type {
		case "internal", "api", "mcp":
		default:
			errf(field+".type", "invalid_type", "tool source %q has unknown type %q", src.ID, src.Type)
		}
		if src.Type == "api" && src.BaseURL == "" {
			errf(field+".baseUrl", "missing", "api tool source %q needs a base URL", src.ID)
		}
	}

	if c.Brain.APIKeyEnv == "" {
		warnf("brain.apiKeyEnv", "missing", "no API key env var configured; brain calls will be skipped")
	}
	if c.Autonomy.MaxSleepMs < c.Autonomy.DefaultIntervalMs {
		warnf("autonomy.maxSleepMs", "below_interval",
			"maxSleepMs (%d) is below defaultIntervalMs (%d); sleep hints will be clamped",
			c.Autonomy.MaxSleepMs, c.Autonomy.DefaultIntervalMs)
	}
	if c.ConstitutionPolicy.HashAlgorithm != "sha256" {
		errf("constitutionPolicy.hashAlgorithm", "unsupported", "only sha256 is supported (got %q)", c.ConstitutionPolicy.HashAlgorithm)
	}

	return issues
}

// HasErrors reports whether any issue is error severity.
func HasErrors(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == "error" {
			return true
		}
	}
	return false
}
