package store

import "time"

// Severity levels shared by incidents and alerts.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Incident codes. The set is closed; callers must not invent codes.
const (
	CodeConfigInvalid           = "CONFIG_INVALID"
	CodeBrainRequestFailed      = "BRAIN_REQUEST_FAILED"
	CodeBrainOutputMalformed    = "BRAIN_OUTPUT_MALFORMED"
	CodeActionBlocked           = "ACTION_BLOCKED"
	CodeActionFailed            = "ACTION_FAILED"
	CodeChainCapabilityBlocked  = "CHAIN_CAPABILITY_BLOCKED"
	CodeWalletLocked            = "WALLET_LOCKED"
	CodeDaemonFailure           = "DAEMON_FAILURE"
	CodeAlertTriggered          = "ALERT_TRIGGERED"
	CodeSecurityPolicyViolation = "SECURITY_POLICY_VIOLATION"
	CodeProviderFailure         = "PROVIDER_FAILURE"
)

// Turn is one orchestrator iteration. Immutable after insertion.
type Turn struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	State     string         `json:"state"`
	Input     string         `json:"input,omitempty"`
	Output    string         `json:"output,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TurnTelemetry is the per-turn metrics row, keyed by turn id.
type TurnTelemetry struct {
	TurnID          string `json:"turnId"`
	SurvivalTier    string `json:"survivalTier"`
	EstimatedUsd    int    `json:"estimatedUsd"`
	QueueDepth      int    `json:"queueDepth"`
	SpendProxyUsd   int    `json:"spendProxyUsd"`
	ActionsTotal    int    `json:"actionsTotal"`
	ActionFailures  int    `json:"actionFailures"`
	BrainDurationMs int64  `json:"brainDurationMs"`
	BrainFailures   int    `json:"brainFailures"`
}

// Message is an inbound or outbound message. ProcessedAt is set once,
// when a turn claims the message.
type Message struct {
	ID          string     `json:"id"`
	From        string     `json:"from"`
	To          string     `json:"to"`
	ThreadID    string     `json:"threadId,omitempty"`
	Content     string     `json:"content"`
	ReceivedAt  time.Time  `json:"receivedAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`
}

// MemoryFact is a keyed belief; upsert by key, newer write wins.
type MemoryFact struct {
	ID         string    `json:"id"`
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MemoryEpisode is an append-only narrative record.
type MemoryEpisode struct {
	ID         string         `json:"id"`
	Summary    string         `json:"summary"`
	Outcome    string         `json:"outcome,omitempty"`
	ActionType string         `json:"actionType,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Incident is an append-only record of a non-success event.
type Incident struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	Severity  string         `json:"severity"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alert is an incident promoted to an operator-routed notification.
type Alert struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	Severity  string         `json:"severity"`
	Route     string         `json:"route"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// SelfModMutation records one applied self-modification.
type SelfModMutation struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	BeforeHash string    `json:"beforeHash,omitempty"`
	AfterHash  string    `json:"afterHash"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// RollbackPoint pairs a mutation with the hash that rollback restores.
type RollbackPoint struct {
	ID           string    `json:"id"`
	MutationID   string    `json:"mutationId"`
	Path         string    `json:"path"`
	RollbackHash string    `json:"rollbackHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EmergencyState is the sticky emergency-stop singleton.
type EmergencyState struct {
	Enabled   bool      `json:"enabled"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UnlockSession is a time-bounded wallet authorization.
type UnlockSession struct {
	ID        string     `json:"id"`
	Address   string     `json:"address"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// SurvivalSnapshot records one tier evaluation.
type SurvivalSnapshot struct {
	ID           string    `json:"id"`
	Tier         string    `json:"tier"`
	EstimatedUsd int       `json:"estimatedUsd"`
	CreatedAt    time.Time `json:"createdAt"`
}
