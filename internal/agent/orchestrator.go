package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"aethernet/internal/alerting"
	"aethernet/internal/brain"
	"aethernet/internal/config"
	"aethernet/internal/skills"
	"aethernet/internal/store"
	"aethernet/internal/survival"
	"aethernet/internal/tools"
	"aethernet/internal/transport"
	"aethernet/internal/wallet"
)

// ErrBrainFailureStreak is raised when the consecutive brain failure
// count reaches the configured stop threshold.
var ErrBrainFailureStreak = errors.New("brain failure streak reached stop threshold")

// Orchestrator drives one think-decide-act tick.
type Orchestrator struct {
	cfg       *config.Config
	store     *store.Store
	brain     brain.Provider
	executor  *Executor
	survival  *survival.Evaluator
	alerts    *alerting.Engine
	transport transport.MessagingTransport
	skills    *skills.Library
	tools     *tools.Registry
	wallet    *wallet.Session
	logger    *zap.Logger
}

// OrchestratorDeps bundles the collaborators a tick consumes.
type OrchestratorDeps struct {
	Store     *store.Store
	Brain     brain.Provider
	Executor  *Executor
	Survival  *survival.Evaluator
	Alerts    *alerting.Engine
	Transport transport.MessagingTransport
	Skills    *skills.Library
	Tools     *tools.Registry
	Wallet    *wallet.Session
	Logger    *zap.Logger
}

// NewOrchestrator wires an orchestrator.
func NewOrchestrator(cfg *config.Config, d OrchestratorDeps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg: cfg, store: d.Store, brain: d.Brain, executor: d.Executor,
		survival: d.Survival, alerts: d.Alerts, transport: d.Transport,
		skills: d.Skills, tools: d.Tools, wallet: d.Wallet, logger: logger,
	}
}

// TickOptions vary one tick.
type TickOptions struct {
	DryRun         bool
	OperatorPrompt string
}

// Tick runs one full turn. A returned error is fatal for the tick;
// recoverable problems become incidents and the tick continues.
func (o *Orchestrator) Tick(ctx context.Context, opts TickOptions) error {
	es, err := o.store.GetEmergencyState()
	if err != nil {
		return err
	}
	if es != nil && es.Enabled {
		return ErrEmergencyStop
	}

	snap, err := o.survival.Snapshot()
	if err != nil {
		return fmt.Errorf("survival snapshot: %w", err)
	}
	if snap.Tier == survival.TierDead {
		return fmt.Errorf("%w (estimated %d USD)", ErrSurvivalDead, snap.EstimatedUsd)
	}

	o.setState(stateForTier(snap.Tier))
	defer o.setState("sleeping")

	if opts.DryRun {
		return o.store.InsertTurn(&store.Turn{
			State: "dry_run",
			Metadata: map[string]any{
				"dryRun":       true,
				"survivalTier": snap.Tier,
			},
		})
	}

	if err := o.syncInbox(ctx); err != nil {
		o.logger.Warn("inbox sync failed", zap.Error(err))
	}
	queueDepth, err := o.store.CountMessages()
	if err != nil {
		return err
	}
	inbox, err := o.claimInbox()
	if err != nil {
		return err
	}

	input, err := o.assembleInput(snap.Tier, snap.EstimatedUsd, opts.OperatorPrompt, inbox)
	if err != nil {
		return err
	}

	brainStart := time.Now()
	output, brainErr := o.brain.GenerateTurn(ctx, input)
	brainDuration := time.Since(brainStart)
	if brainErr != nil {
		o.incident(store.CodeBrainRequestFailed, store.SeverityError, "brain",
			fmt.Sprintf("brain request failed: %v", brainErr), nil)
		output = brain.Malformed("request_failed")
	}

	validation := ValidateTurn(output, ValidatorPolicy{
		MaxActions:      o.cfg.Autonomy.MaxActionsPerTurn,
		MaxSleepMs:      o.cfg.Autonomy.MaxSleepMs,
		StrictAllowlist: o.cfg.Autonomy.StrictActionAllowlist,
		Allowlist:       brain.AllowedActionTypes(),
	})
	if validation.Malformed {
		o.incident(store.CodeBrainOutputMalformed, store.SeverityError, "brain",
			fmt.Sprintf("brain output malformed: %v", validation.Errors), nil)
	}

	streak, err := o.bumpBrainStreak(validation.Malformed || brainErr != nil)
	if err != nil {
		return err
	}
	if limit := o.cfg.Autonomy.MaxBrainFailuresBeforeStop; streak >= limit {
		o.incident(store.CodeBrainRequestFailed, store.SeverityCritical, "brain",
			fmt.Sprintf("brain failure streak %d/%d, stopping", streak, limit), nil)
		return fmt.Errorf("%w: %d/%d", ErrBrainFailureStreak, streak, limit)
	}

	executable := validation.Output.NextActions
	if validation.Malformed {
		executable = []brain.Action{{Type: brain.ActionNoop, Reason: "malformed_output"}}
	}

	var labels []string
	actionCount, actionFailures := 0, 0
	for _, action := range executable {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		res := o.executor.Execute(ctx, action)
		labels = append(labels, res.Label)
		if res.OK {
			if action.Type != brain.ActionNoop {
				actionCount++
			}
		} else {
			actionFailures++
			o.incident(res.Code, store.SeverityWarning, "action",
				fmt.Sprintf("action %s failed: %s", res.Label, res.Detail), nil)
			o.logger.Warn("action failed",
				zap.String("action", res.Label), zap.String("code", res.Code))
		}
		for _, w := range res.Warnings {
			o.incident(store.CodeActionFailed, store.SeverityWarning, "action", w, nil)
		}
	}

	if !validation.Malformed && validation.Output.MemoryWrites != nil {
		o.applyMemoryWrites(validation.Output.MemoryWrites)
	}

	episodeType := "autonomy_idle"
	if actionCount > 0 {
		episodeType = "autonomy_turn"
	}
	if err := o.store.AppendEpisode(&store.MemoryEpisode{
		Summary:    validation.Output.Summary,
		ActionType: episodeType,
		Metadata:   map[string]any{"actions": labels},
	}); err != nil {
		return err
	}

	nextSleepMs := o.cfg.Autonomy.DefaultIntervalMs
	if validation.Output.SleepMs != nil {
		nextSleepMs = *validation.Output.SleepMs
	}
	if err := o.store.SetKV(store.KVNextSleepMs, strconv.Itoa(nextSleepMs)); err != nil {
		return err
	}

	turn := &store.Turn{
		State: "completed",
		Metadata: map[string]any{
			"summary":         validation.Output.Summary,
			"actions":         labels,
			"actionCount":     actionCount,
			"actionFailures":  actionFailures,
			"queueDepth":      queueDepth,
			"brainDurationMs": brainDuration.Milliseconds(),
			"malformed":       validation.Malformed,
		},
	}
	if err := o.store.InsertTurn(turn); err != nil {
		return err
	}
	brainFailures := 0
	if validation.Malformed || brainErr != nil {
		brainFailures = 1
	}
	if err := o.store.InsertTelemetry(&store.TurnTelemetry{
		TurnID:          turn.ID,
		SurvivalTier:    snap.Tier,
		EstimatedUsd:    snap.EstimatedUsd,
		QueueDepth:      queueDepth,
		ActionsTotal:    actionCount,
		ActionFailures:  actionFailures,
		BrainDurationMs: brainDuration.Milliseconds(),
		BrainFailures:   brainFailures,
	}); err != nil {
		return err
	}

	if err := o.alerts.Evaluate(ctx, alerting.EvalContext{
		SurvivalTier:       snap.Tier,
		QueueDepth:         queueDepth,
		BrainFailureStreak: streak,
	}); err != nil {
		o.logger.Warn("alert evaluation failed", zap.Error(err))
	}
	return nil
}

// bumpBrainStreak increments the failure streak on a failed brain
// call, resets it on success, and returns the current value.
func (o *Orchestrator) bumpBrainStreak(failed bool) (int, error) {
	streak := 0
	err := o.store.UpdateKV(store.KVBrainFailureStreak, func(cur string, exists bool) (string, error) {
		if exists {
			if v, perr := strconv.Atoi(cur); perr == nil {
				streak = v
			}
		}
		if failed {
			streak++
		} else {
			streak = 0
		}
		return strconv.Itoa(streak), nil
	})
	return streak, err
}

func (o *Orchestrator) applyMemoryWrites(w *brain.MemoryWrites) {
	for _, f := range w.Facts {
		if f.Key == "" {
			continue
		}
		if err := o.store.UpsertFact(&store.MemoryFact{
			Key: f.Key, Value: f.Value, Confidence: f.Confidence, Source: f.Source,
		}); err != nil {
			o.logger.Warn("fact write failed", zap.String("key", f.Key), zap.Error(err))
		}
	}
	for _, ep := range w.Episodes {
		if ep.Summary == "" {
			continue
		}
		if err := o.store.AppendEpisode(&store.MemoryEpisode{
			Summary: ep.Summary, Outcome: ep.Outcome, ActionType: ep.ActionType,
		}); err != nil {
			o.logger.Warn("episode write failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) incident(code, severity, category, message string, metadata map[string]any) {
	if err := o.store.InsertIncident(&store.Incident{
		Code: code, Severity: severity, Category: category,
		Message: message, Metadata: metadata,
	}); err != nil {
		o.logger.Error("incident write failed", zap.Error(err))
	}
}

func (o *Orchestrator) setState(state string) {
	if err := o.store.SetKV(store.KVAgentState, state); err != nil {
		o.logger.Warn("state write failed", zap.Error(err))
	}
}

// stateForTier maps the survival tier to the agent state shown while
// a tick is in flight.
func stateForTier(tier string) string {
	if tier == survival.TierNormal {
		return "running"
	}
	return tier
}
