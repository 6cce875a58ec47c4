// Package tools dispatches tool invocations to adapters under the
// runtime's external-source policy. Sources come from config; adapters
// are registered by name at startup.
package tools

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"aethernet/internal/config"
)

// Invocation names a tool on a registered source.
type Invocation struct {
	SourceID string
	Tool     string
	Input    map[string]any
}

// Result is the uniform adapter outcome. A refused or failed call has
// OK false and a human-readable Error; Metadata carries transport
// detail such as HTTP status.
type Result struct {
	OK       bool           `json:"ok"`
	Output   any            `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Adapter executes one tool call against a source.
type Adapter interface {
	Invoke(ctx context.Context, src config.ToolSource, tool string, input map[string]any) Result
}

// Registry maps source ids to sources and adapter names to adapters.
type Registry struct {
	mu            sync.RWMutex
	sources       map[string]config.ToolSource
	order         []string
	adapters      map[string]Adapter
	allowExternal bool
	logger        *zap.Logger
}

// NewRegistry builds a registry over the configured sources.
func NewRegistry(sources []config.ToolSource, allowExternal bool, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		sources:       make(map[string]config.ToolSource, len(sources)),
		adapters:      make(map[string]Adapter),
		allowExternal: allowExternal,
		logger:        logger,
	}
	for _, s := range sources {
		if _, dup := r.sources[s.ID]; dup {
			continue
		}
		r.sources[s.ID] = s
		r.order = append(r.order, s.ID)
	}
	return r
}

// RegisterAdapter installs an adapter under name, replacing any prior
// registration.
func (r *Registry) RegisterAdapter(name string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = a
}

// Sources returns the registered sources in configuration order.
func (r *Registry) Sources() []config.ToolSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]config.ToolSource, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sources[id])
	}
	return out
}

// Invoke applies the source policy and dispatches to the selected
// adapter. Policy refusals never panic and never reach an adapter.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) Result {
	r.mu.RLock()
	src, known := r.sources[inv.SourceID]
	r.mu.RUnlock()

	if !known {
		return refuse(fmt.Sprintf("unknown tool source %q", inv.SourceID))
	}
	if !src.Enabled {
		return refuse(fmt.Sprintf("tool source %q is disabled", inv.SourceID))
	}
	if src.Type != "internal" && !r.allowExternal {
		return refuse(fmt.Sprintf("external tool sources are disabled; refusing %q", inv.SourceID))
	}

	name := adapterName(src)
	r.mu.RLock()
	adapter, ok := r.adapters[name]
	r.mu.RUnlock()
	if !ok {
		return refuse(fmt.Sprintf("no adapter %q for source %q", name, inv.SourceID))
	}

	res := adapter.Invoke(ctx, src, inv.Tool, inv.Input)
	if !res.OK {
		r.logger.Debug("tool invocation failed",
			zap.String("source", inv.SourceID),
			zap.String("tool", inv.Tool),
			zap.String("error", res.Error))
	}
	return res
}

// adapterName resolves the adapter for a source: an explicit
// metadata override wins, then the type-based defaults.
func adapterName(src config.ToolSource) string {
	if src.Metadata != nil {
		if name, ok := src.Metadata["adapter"]; ok && name != "" {
			return name
		}
	}
	switch src.Type {
	case "internal":
		return "internal"
	case "api":
		return "readonly_api"
	default:
		return src.Type
	}
}

func refuse(msg string) Result {
	return Result{OK: false, Error: msg}
}
