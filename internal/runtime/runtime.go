// Package runtime assembles the agent: configuration, state store,
// wallet session, brain client, transports, tools, governance, and
// the autonomy loop. The CLI and any host surface own exactly one
// Runtime and drive it through Initialize, Tick or RunDaemon, and
// Close.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aethernet/internal/agent"
	"aethernet/internal/alerting"
	"aethernet/internal/brain"
	"aethernet/internal/chain"
	"aethernet/internal/compute"
	"aethernet/internal/config"
	"aethernet/internal/governance"
	"aethernet/internal/selfmod"
	"aethernet/internal/skills"
	"aethernet/internal/store"
	"aethernet/internal/survival"
	"aethernet/internal/tools"
	"aethernet/internal/transport"
	"aethernet/internal/wallet"
)

// ErrConfigInvalid is returned when validation reports errors;
// startup never proceeds past it.
var ErrConfigInvalid = errors.New("configuration invalid")

// Runtime is the single process-wide agent instance.
type Runtime struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *store.Store
	wallet     *wallet.Session
	brain      brain.Provider
	transport  *transport.Loopback
	tools      *tools.Registry
	skills     *skills.Library
	selfmod    *selfmod.Engine
	governance *governance.Verifier
	alerts     *alerting.Engine
	survival   *survival.Evaluator
	executor   *agent.Executor
	orch       *agent.Orchestrator

	initialized bool
}

// New builds an uninitialized runtime.
func New(cfg *config.Config, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{cfg: cfg, logger: logger}
}

// Initialize validates config, opens the store, seals governance
// files, and wires every component. Call once.
func (r *Runtime) Initialize() error {
	if r.initialized {
		return errors.New("runtime already initialized")
	}

	if err := os.MkdirAll(r.cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.Open(r.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	r.store = st

	issues := r.cfg.Validate()
	for _, issue := range issues {
		if issue.Severity == "error" {
			_ = st.InsertIncident(&store.Incident{
				Code:     store.CodeConfigInvalid,
				Severity: store.SeverityError,
				Category: "config",
				Message:  fmt.Sprintf("%s: %s", issue.Field, issue.Message),
			})
		} else {
			r.logger.Warn("config warning",
				zap.String("field", issue.Field), zap.String("message", issue.Message))
		}
	}
	if config.HasErrors(issues) {
		return fmt.Errorf("%w: %d error(s)", ErrConfigInvalid, countErrors(issues))
	}

	r.governance = governance.NewVerifier(r.cfg.ConstitutionPolicy, st, r.logger)
	if err := r.governance.Seal(); err != nil {
		return fmt.Errorf("seal governance files: %w", err)
	}

	r.wallet = wallet.NewSession(st, r.cfg.WalletPath(), r.logger)
	r.transport = transport.NewLoopback(r.wallet.Address())
	r.brain = brain.NewClient(r.cfg.Brain, r.logger)
	r.survival = survival.NewEvaluator(r.cfg.Survival, st)
	r.alerts = alerting.NewEngine(r.cfg.Alerting, st, r.logger)

	r.tools = tools.NewRegistry(r.cfg.ToolSources, r.cfg.Tooling.AllowExternalSources, r.logger)
	r.tools.RegisterAdapter("internal", tools.NewInternalAdapter(st, r.statusView))
	r.tools.RegisterAdapter("readonly_api", tools.NewReadOnlyAPIAdapter(nil))

	r.skills, err = skills.Load(r.cfg.SkillsDir(), st, r.logger)
	if err != nil {
		return fmt.Errorf("load skills: %w", err)
	}

	r.selfmod = selfmod.NewEngine(st, selfmod.Options{
		Enabled:        r.cfg.Autonomy.AllowSelfModifyAction,
		HomeDir:        r.cfg.HomeDir,
		RollbackDir:    r.cfg.RollbackDir(),
		ProtectedPaths: r.cfg.ConstitutionPolicy.ProtectedPaths,
		Gate:           r.mutationGate,
		Logger:         r.logger,
	})

	r.executor = agent.NewExecutor(r.cfg, st, chain.NewRegistry(r.cfg), r.wallet,
		r.selfmod, r.tools, r.transport, compute.NewLocalProvider(r.cfg.DataDir), r.logger)
	r.orch = agent.NewOrchestrator(r.cfg, agent.OrchestratorDeps{
		Store: st, Brain: r.brain, Executor: r.executor,
		Survival: r.survival, Alerts: r.alerts, Transport: r.transport,
		Skills: r.skills, Tools: r.tools, Wallet: r.wallet,
		Logger: r.logger,
	})

	r.initialized = true
	r.logger.Info("runtime initialized",
		zap.String("home", r.cfg.HomeDir), zap.String("agent", r.cfg.Name))
	return nil
}

// mutationGate refuses self-modification while the emergency stop is
// set or the survival tier is dead.
func (r *Runtime) mutationGate() error {
	es, err := r.store.GetEmergencyState()
	if err != nil {
		return err
	}
	if es != nil && es.Enabled {
		return agent.ErrEmergencyStop
	}
	snap, err := r.store.LatestSurvivalSnapshot()
	if err != nil {
		return err
	}
	if snap != nil && snap.Tier == survival.TierDead {
		return agent.ErrSurvivalDead
	}
	return nil
}

// statusView feeds the internal adapter's agent_status tool.
func (r *Runtime) statusView() map[string]any {
	out := map[string]any{
		"name":    r.cfg.Name,
		"address": r.wallet.Address(),
	}
	if state, ok, _ := r.store.GetKV(store.KVAgentState); ok {
		out["state"] = state
	}
	if snap, err := r.store.LatestSurvivalSnapshot(); err == nil && snap != nil {
		out["survivalTier"] = snap.Tier
		out["estimatedUsd"] = snap.EstimatedUsd
	}
	return out
}

// Tick runs one orchestrator turn.
func (r *Runtime) Tick(ctx context.Context, opts agent.TickOptions) error {
	if !r.initialized {
		return errors.New("runtime not initialized")
	}
	return r.orch.Tick(ctx, opts)
}

// RunDaemon runs the autonomy loop and the governance watcher until
// cancellation or a daemon stop condition.
func (r *Runtime) RunDaemon(ctx context.Context, intervalMs int) error {
	if !r.initialized {
		return errors.New("runtime not initialized")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.governance.Watch(gctx)
	})
	g.Go(func() error {
		defer cancel() // daemon exit takes the watcher down
		d := agent.NewDaemon(r.cfg, r.store, r.orch, r.logger, intervalMs, nil)
		return d.Run(gctx)
	})
	return g.Wait()
}

// Close releases held resources. Safe to call after a failed
// Initialize.
func (r *Runtime) Close() error {
	if r.wallet != nil && r.wallet.IsUnlocked() {
		if err := r.wallet.Lock(); err != nil {
			r.logger.Warn("lock on close failed", zap.Error(err))
		}
	}
	if r.store != nil {
		return r.store.Close()
	}
	return nil
}

// Accessors for the CLI surface.

func (r *Runtime) Config() *config.Config          { return r.cfg }
func (r *Runtime) Store() *store.Store             { return r.store }
func (r *Runtime) Wallet() *wallet.Session         { return r.wallet }
func (r *Runtime) SelfMod() *selfmod.Engine        { return r.selfmod }
func (r *Runtime) Transport() *transport.Loopback  { return r.transport }
func (r *Runtime) WalletSessionTTL() time.Duration {
	return time.Duration(r.cfg.WalletSessionTTLSec) * time.Second
}

func countErrors(issues []config.Issue) int {
	n := 0
	for _, i := range issues {
		if i.Severity == "error" {
			n++
		}
	}
	return n
}
