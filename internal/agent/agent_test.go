package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aethernet/internal/alerting"
	"aethernet/internal/brain"
	"aethernet/internal/chain"
	"aethernet/internal/compute"
	"aethernet/internal/config"
	"aethernet/internal/selfmod"
	"aethernet/internal/skills"
	"aethernet/internal/store"
	"aethernet/internal/survival"
	"aethernet/internal/tools"
	"aethernet/internal/transport"
	"aethernet/internal/wallet"
)

const walletPass = "Correct-Horse-9-Battery"

// stubBrain returns canned outputs in order, repeating the last one.
type stubBrain struct {
	outputs []brain.TurnOutput
	errs    []error
	calls   int
}

func (s *stubBrain) GenerateTurn(_ context.Context, _ brain.TurnInput) (brain.TurnOutput, error) {
	i := s.calls
	s.calls++
	if i >= len(s.outputs) {
		i = len(s.outputs) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.outputs[i], err
}

type fixture struct {
	cfg       *config.Config
	store     *store.Store
	brain     *stubBrain
	wallet    *wallet.Session
	transport *transport.Loopback
	orch      *Orchestrator
	executor  *Executor
	home      string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	home := t.TempDir()
	cfg := &config.Config{
		Name:    "test-agent",
		HomeDir: home,
		ChainProfiles: []config.ChainProfile{{
			CAIP2: "eip155:8453", ChainID: 8453, Name: "base",
			Supports: config.ChainCapabilities{Identity: true, Payments: true, Auth: true, Messaging: true},
		}},
	}
	cfg.ApplyDefaults()
	cfg.Alerting.Enabled = true
	cfg.Alerting.Route = "db"
	if mutate != nil {
		mutate(cfg)
	}

	st, err := store.Open(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = wallet.Generate(cfg.WalletPath(), walletPass)
	require.NoError(t, err)
	ws := wallet.NewSession(st, cfg.WalletPath(), nil)

	lb := transport.NewLoopback(ws.Address())
	sb := &stubBrain{outputs: []brain.TurnOutput{{
		Summary:     "idle",
		NextActions: []brain.Action{{Type: brain.ActionNoop}},
	}}}

	chains := chain.NewRegistry(cfg)
	sm := selfmod.NewEngine(st, selfmod.Options{
		Enabled:        true,
		HomeDir:        home,
		RollbackDir:    cfg.RollbackDir(),
		ProtectedPaths: cfg.ConstitutionPolicy.ProtectedPaths,
	})
	reg := tools.NewRegistry(cfg.ToolSources, cfg.Tooling.AllowExternalSources, nil)
	reg.RegisterAdapter("internal", tools.NewInternalAdapter(st, nil))
	lib, err := skills.Load(cfg.SkillsDir(), st, nil)
	require.NoError(t, err)

	exec := NewExecutor(cfg, st, chains, ws, sm, reg, lb, compute.NewLocalProvider(cfg.DataDir), nil)
	orch := NewOrchestrator(cfg, OrchestratorDeps{
		Store: st, Brain: sb, Executor: exec,
		Survival:  survival.NewEvaluator(cfg.Survival, st),
		Alerts:    alerting.NewEngine(cfg.Alerting, st, nil),
		Transport: lb, Skills: lib, Tools: reg, Wallet: ws,
	})

	return &fixture{
		cfg: cfg, store: st, brain: sb, wallet: ws,
		transport: lb, orch: orch, executor: exec, home: home,
	}
}

func kvInt(t *testing.T, st *store.Store, key string) int {
	t.Helper()
	raw, ok, err := st.GetKV(key)
	require.NoError(t, err)
	if !ok {
		return 0
	}
	v, err := strconv.Atoi(raw)
	require.NoError(t, err)
	return v
}

// --- validator ---

func TestValidatorFiltersDisallowedTypes(t *testing.T) {
	out := brain.TurnOutput{
		Summary: "go",
		NextActions: []brain.Action{
			{Type: "exec", Params: map[string]any{"cmd": "rm -rf /"}},
			{Type: brain.ActionNoop},
		},
	}
	policy := ValidatorPolicy{MaxActions: 5, MaxSleepMs: 600_000, Allowlist: brain.AllowedActionTypes()}

	v := ValidateTurn(out, policy)
	assert.False(t, v.Malformed)
	assert.Contains(t, v.Errors, "action_not_allowed:exec")
	require.Len(t, v.Output.NextActions, 1)
	assert.Equal(t, brain.ActionNoop, v.Output.NextActions[0].Type)

	policy.StrictAllowlist = true
	v = ValidateTurn(out, policy)
	assert.True(t, v.Malformed, "strict allowlist promotes the filter error")
}

func TestValidatorStructuralErrors(t *testing.T) {
	policy := ValidatorPolicy{MaxActions: 5, MaxSleepMs: 1000, Allowlist: brain.AllowedActionTypes()}

	v := ValidateTurn(brain.TurnOutput{}, policy)
	assert.True(t, v.Malformed)
	assert.Contains(t, v.Errors, "missing_summary")
	assert.Contains(t, v.Errors, "missing_actions")
	assert.Equal(t, "Autonomous turn completed.", v.Output.Summary)
	require.Len(t, v.Output.NextActions, 1)
	assert.Equal(t, "no_actions", v.Output.NextActions[0].Reason)

	v = ValidateTurn(brain.TurnOutput{
		Summary:     "s",
		NextActions: []brain.Action{{Type: brain.ActionNoop}},
		Integrity:   brain.IntegrityMalformed,
	}, policy)
	assert.True(t, v.Malformed)
	assert.Contains(t, v.Errors, "provider_marked_malformed")
}

func TestValidatorClampsSleepAndTruncates(t *testing.T) {
	sleep := 99_999
	actions := make([]brain.Action, 10)
	for i := range actions {
		actions[i] = brain.Action{Type: brain.ActionNoop}
	}
	v := ValidateTurn(brain.TurnOutput{Summary: "s", NextActions: actions, SleepMs: &sleep},
		ValidatorPolicy{MaxActions: 3, MaxSleepMs: 5000, Allowlist: brain.AllowedActionTypes()})
	assert.Len(t, v.Output.NextActions, 3)
	require.NotNil(t, v.Output.SleepMs)
	assert.Equal(t, 5000, *v.Output.SleepMs)
}

func TestValidatorIdempotent(t *testing.T) {
	sleep := -10
	first := ValidateTurn(brain.TurnOutput{
		Summary:     "  do things  ",
		NextActions: []brain.Action{{Type: "bogus"}, {Type: brain.ActionSleep}},
		SleepMs:     &sleep,
	}, ValidatorPolicy{MaxActions: 5, MaxSleepMs: 1000, Allowlist: brain.AllowedActionTypes()})

	second := ValidateTurn(first.Output, ValidatorPolicy{
		MaxActions: 5, MaxSleepMs: 1000, Allowlist: brain.AllowedActionTypes(),
	})
	assert.False(t, second.Malformed)
	assert.Empty(t, second.Errors)
	assert.Equal(t, first.Output, second.Output)
}

// --- executor gates ---

func unlock(t *testing.T, f *fixture) {
	t.Helper()
	require.NoError(t, f.wallet.Unlock(walletPass, time.Minute))
}

func TestExecutorWalletGate(t *testing.T) {
	f := newFixture(t, nil)

	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSendMessage,
		Params: map[string]any{"to": "0xpeer", "content": "hi"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, store.CodeWalletLocked, res.Code)

	unlock(t, f)
	res = f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSendMessage,
		Params: map[string]any{"to": "0xpeer", "content": "hi"},
	})
	assert.True(t, res.OK)
	assert.Len(t, f.transport.Sent(), 1)
}

func TestExecutorSendMessageStaysOutOfInbox(t *testing.T) {
	f := newFixture(t, nil)
	unlock(t, f)

	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSendMessage,
		Params: map[string]any{"to": "0xpeer", "content": "ping"},
	})
	require.True(t, res.OK, res.Detail)

	depth, err := f.store.CountMessages()
	require.NoError(t, err)
	assert.Equal(t, 0, depth, "outbound message must not inflate queue depth")

	msgs, err := f.store.PollMessages(10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "outbound message must not be claimable as inbound")
}

func TestExecutorEmergencyGate(t *testing.T) {
	f := newFixture(t, nil)
	unlock(t, f)
	require.NoError(t, f.store.SetEmergencyStop(true, "operator"))

	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSendMessage,
		Params: map[string]any{"to": "0xpeer", "content": "hi"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, store.CodeActionBlocked, res.Code)

	// non-mutating actions pass the emergency gate
	res = f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionRecordFact,
		Params: map[string]any{"key": "k", "value": "v"},
	})
	assert.True(t, res.OK)
}

func TestExecutorDeadTierGate(t *testing.T) {
	f := newFixture(t, nil)
	unlock(t, f)
	require.NoError(t, f.store.AppendSurvivalSnapshot(&store.SurvivalSnapshot{
		Tier: survival.TierDead, EstimatedUsd: 0,
	}))

	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSelfModify,
		Params: map[string]any{"targetPath": filepath.Join(f.home, "x.txt"), "content": "x"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, store.CodeActionBlocked, res.Code)
}

func TestExecutorChainCapabilityGate(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.ChainProfiles = append(cfg.ChainProfiles, config.ChainProfile{
			CAIP2: "eip155:1", ChainID: 1, Name: "mainnet",
			Supports: config.ChainCapabilities{Identity: true},
		})
	})
	unlock(t, f)

	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSendMessage,
		Params: map[string]any{"to": "0xpeer", "content": "hi", "chain": "eip155:1"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, store.CodeChainCapabilityBlocked, res.Code)

	res = f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSendMessage,
		Params: map[string]any{"to": "0xpeer", "content": "hi", "chain": "eip155:999"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, store.CodeChainCapabilityBlocked, res.Code, "unknown chain refuses")
}

func TestExecutorSelfModifyPolicyGate(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.AllowSelfModifyAction = false
	})

	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSelfModify,
		Params: map[string]any{"targetPath": filepath.Join(f.home, "x.txt"), "content": "x"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, store.CodeActionBlocked, res.Code)
}

func TestExecutorSelfModifyDeniedClassification(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.AllowSelfModifyAction = true
	})

	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSelfModify,
		Params: map[string]any{"targetPath": "/etc/forbidden", "content": "x"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, store.CodeSecurityPolicyViolation, res.Code)
}

func TestExecutorReplicate(t *testing.T) {
	f := newFixture(t, nil)
	unlock(t, f)

	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionReplicate,
		Params: map[string]any{"name": "junior"},
	})
	require.True(t, res.OK, res.Detail)

	childID, ok, err := f.store.GetKV(store.KVSelfChildID)
	require.NoError(t, err)
	require.True(t, ok)

	childDir := filepath.Join(f.cfg.DataDir, "children", childID)
	for _, name := range []string{"genesis.json", "wallet.enc.json"} {
		_, err := os.Stat(filepath.Join(childDir, name))
		assert.NoError(t, err, name)
	}

	fact, err := f.store.FactByKey("child:" + childID)
	require.NoError(t, err)
	require.NotNil(t, fact)

	// lineage-init message went out
	assert.Len(t, f.transport.Sent(), 1)
}

func TestExecutorSleepWritesKV(t *testing.T) {
	f := newFixture(t, nil)
	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionSleep,
		Params: map[string]any{"sleepMs": float64(2_000_000)},
	})
	require.True(t, res.OK)
	assert.Equal(t, f.cfg.Autonomy.MaxSleepMs, kvInt(t, f.store, store.KVNextSleepMs))
}

func TestExecutorSleepWithoutDelayKeepsInterval(t *testing.T) {
	f := newFixture(t, nil)
	res := f.executor.Execute(context.Background(), brain.Action{
		Type: brain.ActionSleep,
	})
	require.True(t, res.OK)

	_, ok, err := f.store.GetKV(store.KVNextSleepMs)
	require.NoError(t, err)
	assert.False(t, ok, "a delay-less sleep must not reschedule the next tick")
}

func TestExecutorInvokeTool(t *testing.T) {
	f := newFixture(t, nil)
	res := f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionInvokeTool,
		Params: map[string]any{"toolName": "agent_status"},
	})
	assert.True(t, res.OK, res.Detail)

	res = f.executor.Execute(context.Background(), brain.Action{
		Type:   brain.ActionInvokeTool,
		Params: map[string]any{"toolName": "no_such_tool"},
	})
	assert.False(t, res.OK)
	assert.Equal(t, store.CodeActionFailed, res.Code)
}

// --- orchestrator ticks ---

func TestTickMissingBrainKeyStrict(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.StrictActionAllowlist = true
		cfg.Alerting.BrainFailureThreshold = 3
	})
	f.orch.brain = brainClientWithoutKey(t, f.cfg)

	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}))

	turns, err := f.store.RecentTurns(5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.EqualValues(t, 0, asInt(turns[0].Metadata["actionCount"]))

	n, err := f.store.CountIncidentsByCode(store.CodeBrainOutputMalformed)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	raw, ok, err := f.store.GetKV(store.KVBrainFailureStreak)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1", raw)

	alerts, err := f.store.CountAlerts()
	require.NoError(t, err)
	assert.Zero(t, alerts, "streak below threshold fires nothing")
}

func brainClientWithoutKey(t *testing.T, cfg *config.Config) brain.Provider {
	t.Helper()
	cfg.Brain.APIKeyEnv = "AE_KEY_UNSET_FOR_TEST"
	t.Setenv("AE_KEY_UNSET_FOR_TEST", "")
	return brain.NewClient(cfg.Brain, nil)
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return -1
}

func TestTickStrictAllowlistFiltersAction(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.StrictActionAllowlist = true
	})
	f.brain.outputs = []brain.TurnOutput{{
		Summary: "go",
		NextActions: []brain.Action{
			{Type: "exec", Params: map[string]any{"cmd": "rm -rf /"}},
			{Type: brain.ActionNoop},
		},
	}}

	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}))

	turns, err := f.store.RecentTurns(1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	actions := turns[0].Metadata["actions"].([]any)
	require.Len(t, actions, 1)
	assert.Equal(t, "noop:none", actions[0])

	n, err := f.store.CountIncidentsByCode(store.CodeBrainOutputMalformed)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "strict mode flags the filtered action")
}

func TestTickEmergencyStopIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.SetEmergencyStop(true, "operator"))

	err := f.orch.Tick(context.Background(), TickOptions{})
	assert.ErrorIs(t, err, ErrEmergencyStop)
}

func TestTickDeadTierIsFatal(t *testing.T) {
	f := newFixture(t, nil)
	t.Setenv(survival.EstimateEnv, "0")

	err := f.orch.Tick(context.Background(), TickOptions{})
	assert.ErrorIs(t, err, ErrSurvivalDead)
}

func TestTickDryRun(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{DryRun: true}))

	turns, err := f.store.RecentTurns(1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "dry_run", turns[0].State)
	assert.Zero(t, f.brain.calls)
}

func TestTickClaimsInboxExactlyOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.transport.Inject(store.Message{From: "0xpeer", Content: "hello"})

	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}))
	depth, err := f.store.CountMessages()
	require.NoError(t, err)
	assert.Zero(t, depth, "claimed message leaves the queue")

	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}))
	depth, err = f.store.CountMessages()
	require.NoError(t, err)
	assert.Zero(t, depth, "re-poll does not resurrect processed messages")
}

func TestTickTelemetryPerTurn(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}))
	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}))

	turns, err := f.store.RecentTurns(10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	for _, turn := range turns {
		tel, err := f.store.GetTelemetry(turn.ID)
		require.NoError(t, err)
		require.NotNil(t, tel, "every turn has exactly one telemetry row")
	}
}

func TestTickAppliesMemoryWrites(t *testing.T) {
	f := newFixture(t, nil)
	f.brain.outputs = []brain.TurnOutput{{
		Summary:     "learned something",
		NextActions: []brain.Action{{Type: brain.ActionNoop}},
		MemoryWrites: &brain.MemoryWrites{
			Facts:    []brain.FactWrite{{Key: "market", Value: "volatile", Confidence: 0.8}},
			Episodes: []brain.EpisodeWrite{{Summary: "observed swing"}},
		},
	}}

	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}))

	fact, err := f.store.FactByKey("market")
	require.NoError(t, err)
	require.NotNil(t, fact)
	assert.Equal(t, "volatile", fact.Value)

	episodes, err := f.store.RecentEpisodes(10)
	require.NoError(t, err)
	// the requested episode plus the per-turn summary episode
	assert.Len(t, episodes, 2)
}

func TestTickStreakResetsOnSuccess(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.SetKV(store.KVBrainFailureStreak, "3"))

	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}))
	raw, _, err := f.store.GetKV(store.KVBrainFailureStreak)
	require.NoError(t, err)
	assert.Equal(t, "0", raw)
}

func TestTickBrainStreakFatal(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.MaxBrainFailuresBeforeStop = 2
	})
	f.brain.outputs = []brain.TurnOutput{brain.Malformed("invalid_json")}

	require.NoError(t, f.orch.Tick(context.Background(), TickOptions{}), "first failure is recoverable")
	err := f.orch.Tick(context.Background(), TickOptions{})
	require.ErrorIs(t, err, ErrBrainFailureStreak)

	incidents, err := f.store.RecentIncidents(20)
	require.NoError(t, err)
	var critical *store.Incident
	for i := range incidents {
		if incidents[i].Code == store.CodeBrainRequestFailed && incidents[i].Severity == store.SeverityCritical {
			critical = &incidents[i]
		}
	}
	require.NotNil(t, critical)
	assert.Contains(t, critical.Message, "2/2")
}

// --- daemon ---

func TestDaemonStopsOnBrainFailureStreak(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.MaxBrainFailuresBeforeStop = 5
		cfg.Autonomy.MaxConsecutiveErrors = 999
		cfg.Autonomy.DefaultIntervalMs = 1
		cfg.Autonomy.MaxSleepMs = 1
	})
	f.brain.outputs = []brain.TurnOutput{brain.Malformed("invalid_json")}

	ticks := 0
	d := NewDaemon(f.cfg, f.store, f.orch, nil, 1, func(error) { ticks++ })

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}

	assert.Equal(t, 5, ticks)
	state, _, err := f.store.GetKV(store.KVAgentState)
	require.NoError(t, err)
	assert.Equal(t, "stopped", state)

	incidents, err := f.store.RecentIncidents(50)
	require.NoError(t, err)
	found := false
	for _, in := range incidents {
		if in.Code == store.CodeBrainRequestFailed && in.Severity == store.SeverityCritical {
			assert.Contains(t, in.Message, "5/5")
			found = true
		}
	}
	assert.True(t, found)
}

func TestDaemonStopsDeadTier(t *testing.T) {
	f := newFixture(t, nil)
	t.Setenv(survival.EstimateEnv, "0")

	d := NewDaemon(f.cfg, f.store, f.orch, nil, 1, nil)
	require.NoError(t, d.Run(context.Background()))

	state, _, err := f.store.GetKV(store.KVAgentState)
	require.NoError(t, err)
	assert.Equal(t, "dead", state)

	n, err := f.store.CountIncidentsByCode(store.CodeDaemonFailure)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDaemonStopsOnConsecutiveErrors(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.MaxConsecutiveErrors = 3
		cfg.Autonomy.MaxSleepMs = 1
	})
	require.NoError(t, f.store.SetEmergencyStop(true, "operator"))

	d := NewDaemon(f.cfg, f.store, f.orch, nil, 1, nil)
	require.NoError(t, d.Run(context.Background()))

	state, _, err := f.store.GetKV(store.KVAgentState)
	require.NoError(t, err)
	assert.Equal(t, "stopped", state)

	n, err := f.store.CountIncidentsByCode(store.CodeDaemonFailure)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDaemonCancellation(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.DefaultIntervalMs = 60_000
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	d := NewDaemon(f.cfg, f.store, f.orch, nil, 0, func(error) { cancel() })
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon ignored cancellation")
	}
}

func TestDaemonReadsAdaptiveSleep(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Autonomy.MaxSleepMs = 50
	})
	sleepMs := 10
	f.brain.outputs = []brain.TurnOutput{{
		Summary:     "nap",
		NextActions: []brain.Action{{Type: brain.ActionNoop}},
		SleepMs:     &sleepMs,
	}}

	ticks := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := NewDaemon(f.cfg, f.store, f.orch, nil, 60_000, func(error) {
		ticks++
		if ticks >= 3 {
			cancel()
		}
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not honor the adaptive sleep")
	}
	assert.Less(t, time.Since(start), 5*time.Second,
		"short KV sleep must override the long interval")
}

// --- classification ---

func TestClassifyFailure(t *testing.T) {
	assert.Equal(t, store.CodeWalletLocked, ClassifyFailure(wallet.ErrLocked))
	assert.Equal(t, store.CodeChainCapabilityBlocked, ClassifyFailure(chain.ErrUnknownChain))
	assert.Equal(t, store.CodeChainCapabilityBlocked, ClassifyFailure(ErrChainCapability))
	assert.Equal(t, store.CodeSecurityPolicyViolation, ClassifyFailure(selfmod.ErrDenied))
	assert.Equal(t, store.CodeActionBlocked, ClassifyFailure(ErrNotAllowlisted))
	assert.Equal(t, store.CodeActionBlocked, ClassifyFailure(ErrPolicyDisabled))
	assert.Equal(t, store.CodeActionFailed, ClassifyFailure(errors.New("boom")))
}
