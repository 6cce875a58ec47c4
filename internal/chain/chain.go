// Package chain resolves action chain selections against the
// configured chain profiles and answers capability questions for the
// executor's chain gate.
package chain

import (
	"errors"
	"fmt"

	"aethernet/internal/config"
)

// Capability names one gated chain feature.
type Capability string

const (
	CapIdentity   Capability = "identity"
	CapReputation Capability = "reputation"
	CapPayments   Capability = "payments"
	CapAuth       Capability = "auth"
	CapMessaging  Capability = "messaging"
)

// ErrUnknownChain is returned when an action names a chain with no
// configured profile.
var ErrUnknownChain = errors.New("unsupported chain")

// Registry holds the configured chain profiles.
type Registry struct {
	profiles map[string]config.ChainProfile
	def      string
}

// NewRegistry builds a registry from config.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		profiles: make(map[string]config.ChainProfile, len(cfg.ChainProfiles)),
		def:      cfg.ChainDefault,
	}
	for _, p := range cfg.ChainProfiles {
		r.profiles[p.CAIP2] = p
	}
	return r
}

// Default returns the default chain id, which may be empty when no
// profiles are configured.
func (r *Registry) Default() string {
	return r.def
}

// Resolve picks the chain an action targets: the first of the params
// "chain", "network", "caip2", falling back to the default. An
// unknown id is refused.
func (r *Registry) Resolve(params map[string]any) (config.ChainProfile, error) {
	selected := r.def
	for _, key := range []string{"chain", "network", "caip2"} {
		if v, ok := params[key].(string); ok && v != "" {
			selected = v
			break
		}
	}
	if selected == "" {
		return config.ChainProfile{}, fmt.Errorf("%w: no chain selected and no default configured", ErrUnknownChain)
	}
	p, ok := r.profiles[selected]
	if !ok {
		return config.ChainProfile{}, fmt.Errorf("%w: %s", ErrUnknownChain, selected)
	}
	return p, nil
}

// Supports reports whether a profile carries a capability.
func Supports(p config.ChainProfile, c Capability) bool {
	switch c {
	case CapIdentity:
		return p.Supports.Identity
	case CapReputation:
		return p.Supports.Reputation
	case CapPayments:
		return p.Supports.Payments
	case CapAuth:
		return p.Supports.Auth
	case CapMessaging:
		return p.Supports.Messaging
	default:
		return false
	}
}
