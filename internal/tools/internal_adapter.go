package tools

import (
	"context"
	"fmt"

	"aethernet/internal/config"
	"aethernet/internal/store"
)

// StatusFunc reports the live runtime status for the agent_status
// tool.
type StatusFunc func() map[string]any

// InternalAdapter exposes a fixed read-only view over the state store.
// It performs no writes.
type InternalAdapter struct {
	store  *store.Store
	status StatusFunc
}

// NewInternalAdapter builds the internal adapter. status may be nil,
// in which case agent_status reports store-derived counts only.
func NewInternalAdapter(st *store.Store, status StatusFunc) *InternalAdapter {
	return &InternalAdapter{store: st, status: status}
}

const defaultListLimit = 25

// Invoke dispatches on the tool name.
func (a *InternalAdapter) Invoke(_ context.Context, _ config.ToolSource, tool string, input map[string]any) Result {
	switch tool {
	case "agent_status":
		return a.agentStatus()
	case "memory_facts":
		facts, err := a.store.RecentFacts(limitFrom(input))
		return listResult(facts, err)
	case "memory_episodes":
		episodes, err := a.store.RecentEpisodes(limitFrom(input))
		return listResult(episodes, err)
	case "message_thread":
		threadID, _ := input["threadId"].(string)
		if threadID == "" {
			return refuse("message_thread requires a threadId")
		}
		msgs, err := a.store.ThreadMessages(threadID, limitFrom(input))
		return listResult(msgs, err)
	case "survival_snapshot":
		snap, err := a.store.LatestSurvivalSnapshot()
		if err != nil {
			return refuse(err.Error())
		}
		return Result{OK: true, Output: snap}
	case "queue_depth":
		n, err := a.store.CountMessages()
		if err != nil {
			return refuse(err.Error())
		}
		return Result{OK: true, Output: map[string]any{"queueDepth": n}}
	default:
		return refuse(fmt.Sprintf("unknown internal tool %q", tool))
	}
}

func (a *InternalAdapter) agentStatus() Result {
	out := map[string]any{}
	if a.status != nil {
		for k, v := range a.status() {
			out[k] = v
		}
	}
	if turns, err := a.store.CountTurns(); err == nil {
		out["turns"] = turns
	}
	if depth, err := a.store.CountMessages(); err == nil {
		out["queueDepth"] = depth
	}
	return Result{OK: true, Output: out}
}

func limitFrom(input map[string]any) int {
	switch v := input["limit"].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return defaultListLimit
}

func listResult(v any, err error) Result {
	if err != nil {
		return refuse(err.Error())
	}
	return Result{OK: true, Output: v}
}
