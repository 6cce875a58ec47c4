package agent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aethernet/internal/brain"
	"aethernet/internal/chain"
	"aethernet/internal/compute"
	"aethernet/internal/config"
	"aethernet/internal/selfmod"
	"aethernet/internal/store"
	"aethernet/internal/survival"
	"aethernet/internal/tools"
	"aethernet/internal/transport"
	"aethernet/internal/wallet"
)

// Gate refusal sentinels. Failure classification keys off these, not
// off message substrings.
var (
	ErrNotAllowlisted  = errors.New("action type not in allowlist")
	ErrPolicyDisabled  = errors.New("disabled by autonomy policy")
	ErrEmergencyStop   = errors.New("emergency stop enabled")
	ErrSurvivalDead    = errors.New("survival tier is dead")
	ErrChainCapability = errors.New("chain does not support capability")
)

// mutatingActions are the types gated on emergency stop and the dead
// survival tier.
var mutatingActions = map[string]bool{
	brain.ActionSendMessage: true,
	brain.ActionReplicate:   true,
	brain.ActionSelfModify:  true,
}

// ActionResult is the data-driven outcome of one executed action. The
// orchestrator, not the executor, turns failures into incidents.
type ActionResult struct {
	Type     string
	Label    string
	OK       bool
	Code     string // incident code when not OK
	Detail   string
	Warnings []string // non-fatal side-effect failures
}

// Executor runs validated actions through the gate chain and the
// per-type handlers. All persistence goes through the store.
type Executor struct {
	cfg       *config.Config
	store     *store.Store
	chains    *chain.Registry
	wallet    *wallet.Session
	selfmod   *selfmod.Engine
	tools     *tools.Registry
	transport transport.MessagingTransport
	compute   compute.Provider
	logger    *zap.Logger
}

// NewExecutor wires an executor.
func NewExecutor(cfg *config.Config, st *store.Store, chains *chain.Registry,
	w *wallet.Session, sm *selfmod.Engine, tr *tools.Registry,
	mt transport.MessagingTransport, cp compute.Provider, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		cfg: cfg, store: st, chains: chains, wallet: w, selfmod: sm,
		tools: tr, transport: mt, compute: cp, logger: logger,
	}
}

// Execute gates and runs one action.
func (e *Executor) Execute(ctx context.Context, a brain.Action) ActionResult {
	res := ActionResult{Type: a.Type, Label: actionLabel(a)}

	if err := e.gate(a); err != nil {
		res.Code = ClassifyFailure(err)
		res.Detail = err.Error()
		return res
	}

	var warnings []string
	var err error
	switch a.Type {
	case brain.ActionSendMessage:
		err = e.sendMessage(ctx, a)
	case brain.ActionReplicate:
		warnings, err = e.replicate(ctx, a)
	case brain.ActionSelfModify:
		err = e.selfModify(a)
	case brain.ActionRecordFact:
		err = e.recordFact(a)
	case brain.ActionRecordEpisode:
		err = e.recordEpisode(a)
	case brain.ActionInvokeTool:
		err = e.invokeTool(ctx, a)
	case brain.ActionSleep:
		err = e.sleep(a)
	case brain.ActionNoop:
	default:
		err = fmt.Errorf("%w: %s", ErrNotAllowlisted, a.Type)
	}

	res.Warnings = warnings
	if err != nil {
		res.Code = ClassifyFailure(err)
		res.Detail = err.Error()
		return res
	}
	res.OK = true
	return res
}

// gate applies the refusal chain in order: allowlist, emergency and
// survival for mutating types, wallet session, chain capability,
// self-modify policy.
func (e *Executor) gate(a brain.Action) error {
	if e.cfg.Autonomy.StrictActionAllowlist && !brain.AllowedActionTypes()[a.Type] {
		return fmt.Errorf("%w: %s", ErrNotAllowlisted, a.Type)
	}

	if mutatingActions[a.Type] {
		es, err := e.store.GetEmergencyState()
		if err != nil {
			return err
		}
		if es != nil && es.Enabled {
			return ErrEmergencyStop
		}
		snap, err := e.store.LatestSurvivalSnapshot()
		if err != nil {
			return err
		}
		if snap != nil && snap.Tier == survival.TierDead {
			return ErrSurvivalDead
		}
	}

	if a.Type == brain.ActionSendMessage || a.Type == brain.ActionReplicate {
		if _, err := e.wallet.Account(); err != nil {
			return err
		}
	}

	if err := e.chainGate(a); err != nil {
		return err
	}

	if a.Type == brain.ActionSelfModify && !e.cfg.Autonomy.AllowSelfModifyAction {
		return fmt.Errorf("self_modify %w", ErrPolicyDisabled)
	}
	return nil
}

// chainGate maps action types to required chain capabilities.
func (e *Executor) chainGate(a brain.Action) error {
	switch a.Type {
	case brain.ActionSendMessage:
		profile, err := e.chains.Resolve(a.Params)
		if err != nil {
			return err
		}
		if !chain.Supports(profile, chain.CapMessaging) {
			return fmt.Errorf("%w: %s lacks messaging", ErrChainCapability, profile.CAIP2)
		}
	case brain.ActionReplicate:
		profile, err := e.chains.Resolve(a.Params)
		if err != nil {
			return err
		}
		if fundingUsdc(a.Params) > 0 && !chain.Supports(profile, chain.CapPayments) {
			return fmt.Errorf("%w: %s lacks payments", ErrChainCapability, profile.CAIP2)
		}
	}
	return nil
}

// ClassifyFailure maps a refusal or failure to its incident code by
// the gate that produced it.
func ClassifyFailure(err error) string {
	switch {
	case errors.Is(err, wallet.ErrLocked):
		return store.CodeWalletLocked
	case errors.Is(err, chain.ErrUnknownChain), errors.Is(err, ErrChainCapability):
		return store.CodeChainCapabilityBlocked
	case errors.Is(err, selfmod.ErrDenied):
		return store.CodeSecurityPolicyViolation
	case errors.Is(err, ErrNotAllowlisted), errors.Is(err, ErrPolicyDisabled),
		errors.Is(err, ErrEmergencyStop), errors.Is(err, ErrSurvivalDead):
		return store.CodeActionBlocked
	default:
		return store.CodeActionFailed
	}
}

func (e *Executor) sendMessage(ctx context.Context, a brain.Action) error {
	to, _ := a.Params["to"].(string)
	content, _ := a.Params["content"].(string)
	if to == "" || content == "" {
		return fmt.Errorf("send_message requires non-empty to and content")
	}
	threadID, _ := a.Params["threadId"].(string)

	sent, err := e.transport.Send(ctx, to, content, threadID)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	// outbound record is never part of the inbox queue
	now := time.Now().UTC()
	sent.ProcessedAt = &now
	if err := e.store.UpsertMessage(sent); err != nil {
		return fmt.Errorf("persist sent message: %w", err)
	}
	return nil
}

// defaultGenesisPrompt seeds a child agent with its mission.
const defaultGenesisPrompt = "You are a newly created autonomous agent. Establish your identity, conserve funds, and report to your parent."

// replicate allocates a sandbox, provisions a child identity inside
// it, and records the lineage. Funding and the lineage-init message
// are best-effort; their failures come back as warnings.
func (e *Executor) replicate(ctx context.Context, a brain.Action) ([]string, error) {
	name, _ := a.Params["name"].(string)
	if name == "" {
		name = "aethernet-child"
	}
	prompt, _ := a.Params["genesisPrompt"].(string)
	if prompt == "" {
		prompt = defaultGenesisPrompt
	}
	parent := e.wallet.Address()

	childID := uuid.NewString()
	sandbox, err := e.compute.Allocate(ctx, childID)
	if err != nil {
		return nil, fmt.Errorf("allocate sandbox: %w", err)
	}

	childAddr, err := wallet.Generate(filepath.Join(sandbox.Dir, "wallet.enc.json"), randomPassphrase())
	if err != nil {
		return nil, fmt.Errorf("generate child signer: %w", err)
	}

	genesis := map[string]any{
		"childId":       childID,
		"name":          name,
		"genesisPrompt": prompt,
		"parent":        parent,
		"creator":       parent,
		"address":       childAddr,
		"createdAt":     time.Now().UTC().Format(time.RFC3339),
	}
	raw, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := sandbox.WriteFile("genesis.json", raw); err != nil {
		return nil, fmt.Errorf("write genesis: %w", err)
	}

	if err := e.store.SetKV(store.KVSelfChildID, childID); err != nil {
		return nil, err
	}
	if err := e.store.UpsertFact(&store.MemoryFact{
		Key:        "child:" + childID,
		Value:      fmt.Sprintf("child %s (%s) at %s", name, childAddr, sandbox.Dir),
		Confidence: 1,
		Source:     "replicate",
	}); err != nil {
		return nil, err
	}

	var warnings []string
	if funding := fundingUsdc(a.Params); funding > 0 {
		// funding goes through the payment facilitator, which is an
		// external collaborator; without one configured the request
		// degrades to a warning
		warnings = append(warnings, fmt.Sprintf("child funding of %d USDC not delivered: no facilitator configured", funding))
	}
	lineage := fmt.Sprintf(`{"type":"lineage_init","childId":%q,"parent":%q}`, childID, parent)
	if _, err := e.transport.Send(ctx, childAddr, lineage, ""); err != nil {
		warnings = append(warnings, fmt.Sprintf("lineage-init message failed: %v", err))
	}

	e.logger.Info("replicated child agent",
		zap.String("child", childID), zap.String("address", childAddr))
	return warnings, nil
}

func (e *Executor) selfModify(a brain.Action) error {
	targetPath, _ := a.Params["targetPath"].(string)
	content, _ := a.Params["content"].(string)
	if targetPath == "" {
		return fmt.Errorf("self_modify requires targetPath")
	}
	_, err := e.selfmod.Apply(targetPath, content, a.Reason)
	return err
}

func (e *Executor) recordFact(a brain.Action) error {
	key, _ := a.Params["key"].(string)
	value, _ := a.Params["value"].(string)
	if key == "" || value == "" {
		return fmt.Errorf("record_fact requires non-empty key and value")
	}
	fact := &store.MemoryFact{Key: key, Value: value}
	if c, ok := a.Params["confidence"].(float64); ok {
		fact.Confidence = c
	}
	if s, ok := a.Params["source"].(string); ok {
		fact.Source = s
	}
	return e.store.UpsertFact(fact)
}

func (e *Executor) recordEpisode(a brain.Action) error {
	summary, _ := a.Params["summary"].(string)
	if summary == "" {
		return fmt.Errorf("record_episode requires a summary")
	}
	ep := &store.MemoryEpisode{Summary: summary}
	if o, ok := a.Params["outcome"].(string); ok {
		ep.Outcome = o
	}
	if at, ok := a.Params["actionType"].(string); ok {
		ep.ActionType = at
	}
	return e.store.AppendEpisode(ep)
}

func (e *Executor) invokeTool(ctx context.Context, a brain.Action) error {
	sourceID, _ := a.Params["sourceId"].(string)
	if sourceID == "" {
		sourceID = config.InternalRuntimeSourceID
	}
	toolName, _ := a.Params["toolName"].(string)
	if toolName == "" {
		toolName, _ = a.Params["tool"].(string)
	}
	if toolName == "" {
		return fmt.Errorf("invoke_tool requires toolName")
	}
	input, _ := a.Params["input"].(map[string]any)

	res := e.tools.Invoke(ctx, tools.Invocation{SourceID: sourceID, Tool: toolName, Input: input})
	if !res.OK {
		return fmt.Errorf("tool %s/%s failed: %s", sourceID, toolName, res.Error)
	}
	return nil
}

// sleep only records the requested delay; the scheduler sleeps. With
// no delay param the action is a no-op and the scheduler keeps its
// current interval.
func (e *Executor) sleep(a brain.Action) error {
	ms, found := 0, false
	for _, key := range []string{"sleepMs", "durationMs"} {
		if v, ok := a.Params[key].(float64); ok {
			ms, found = int(v), true
			break
		}
	}
	if !found {
		return nil
	}
	if ms < 0 {
		ms = 0
	}
	if ms > e.cfg.Autonomy.MaxSleepMs {
		ms = e.cfg.Autonomy.MaxSleepMs
	}
	return e.store.SetKV(store.KVNextSleepMs, strconv.Itoa(ms))
}

// fundingUsdc reads initialFundingUsdc, accepting number or string.
func fundingUsdc(params map[string]any) int {
	switch v := params["initialFundingUsdc"].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

// randomPassphrase mints a throwaway keystore passphrase for a child
// signer. The child rotates it on first boot.
func randomPassphrase() string {
	raw := uuid.New()
	return "A1-" + hex.EncodeToString(raw[:])
}
