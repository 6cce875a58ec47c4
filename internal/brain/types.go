// Package brain defines the turn plan types and the client that asks
// the external language model for one. Every transport or parsing
// failure degrades to a malformed TurnOutput instead of an error so
// the orchestrator exercises a single path.
package brain

import "context"

// Action types the brain may plan. The set is closed; anything else
// is dropped during sanitization and validation.
const (
	ActionSendMessage   = "send_message"
	ActionReplicate     = "replicate"
	ActionSelfModify    = "self_modify"
	ActionRecordFact    = "record_fact"
	ActionRecordEpisode = "record_episode"
	ActionInvokeTool    = "invoke_tool"
	ActionSleep         = "sleep"
	ActionNoop          = "noop"
)

// Integrity markers on a TurnOutput.
const (
	IntegrityOK        = "ok"
	IntegrityMalformed = "malformed"
)

// AllowedActionTypes is the closed action set.
func AllowedActionTypes() map[string]bool {
	return map[string]bool{
		ActionSendMessage:   true,
		ActionReplicate:     true,
		ActionSelfModify:    true,
		ActionRecordFact:    true,
		ActionRecordEpisode: true,
		ActionInvokeTool:    true,
		ActionSleep:         true,
		ActionNoop:          true,
	}
}

// Action is one element of the brain's plan. Params stay free-form
// here; each handler types the fields it needs.
type Action struct {
	Type   string         `json:"type"`
	Reason string         `json:"reason,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// FactWrite is a memory fact the brain wants recorded.
type FactWrite struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// EpisodeWrite is a memory episode the brain wants recorded.
type EpisodeWrite struct {
	Summary    string `json:"summary"`
	Outcome    string `json:"outcome,omitempty"`
	ActionType string `json:"actionType,omitempty"`
}

// MemoryWrites carries the brain's requested memory updates.
type MemoryWrites struct {
	Facts    []FactWrite    `json:"facts,omitempty"`
	Episodes []EpisodeWrite `json:"episodes,omitempty"`
}

// TurnOutput is the structured plan for one turn.
type TurnOutput struct {
	Summary      string        `json:"summary"`
	NextActions  []Action      `json:"nextActions"`
	MemoryWrites *MemoryWrites `json:"memoryWrites,omitempty"`
	SleepMs      *int          `json:"sleepMs,omitempty"`
	Integrity    string        `json:"integrity,omitempty"`
}

// AgentInfo identifies the agent in a turn input.
type AgentInfo struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	State   string `json:"state,omitempty"`
}

// InboxMessage is one claimed inbound message.
type InboxMessage struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	ThreadID string `json:"threadId,omitempty"`
	Content  string `json:"content"`
}

// TurnSummary is a compressed view of a prior turn.
type TurnSummary struct {
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Summary   string   `json:"summary,omitempty"`
	Actions   []string `json:"actions,omitempty"`
}

// MemoryView is the fact/episode slice handed to the brain.
type MemoryView struct {
	Facts    []FactView    `json:"facts,omitempty"`
	Episodes []EpisodeView `json:"episodes,omitempty"`
}

// FactView is one fact as the brain sees it.
type FactView struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// EpisodeView is one episode as the brain sees it.
type EpisodeView struct {
	Summary    string `json:"summary"`
	Outcome    string `json:"outcome,omitempty"`
	ActionType string `json:"actionType,omitempty"`
}

// SkillView summarizes an enabled skill.
type SkillView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ToolSourceView summarizes a tool source the brain may invoke.
type ToolSourceView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// TurnInput is the bundle assembled for one brain call.
type TurnInput struct {
	Agent            AgentInfo        `json:"agent"`
	SurvivalTier     string           `json:"survivalTier"`
	EstimatedUsd     int              `json:"estimatedUsd"`
	OperatorPrompt   string           `json:"operatorPrompt,omitempty"`
	InboxMessages    []InboxMessage   `json:"inboxMessages"`
	RecentTurns      []TurnSummary    `json:"recentTurns,omitempty"`
	Memory           MemoryView       `json:"memory"`
	Skills           []SkillView      `json:"skills,omitempty"`
	ToolSources      []ToolSourceView `json:"toolSources,omitempty"`
	AvailableActions []string         `json:"availableActions"`
}

// Provider is the brain contract the orchestrator consumes.
type Provider interface {
	GenerateTurn(ctx context.Context, input TurnInput) (TurnOutput, error)
}

// Malformed builds the degraded output used whenever the brain cannot
// produce a usable plan.
func Malformed(reason string) TurnOutput {
	return TurnOutput{
		Summary:     "Brain output unavailable.",
		NextActions: []Action{{Type: ActionNoop, Reason: reason}},
		Integrity:   IntegrityMalformed,
	}
}
