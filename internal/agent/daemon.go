package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"aethernet/internal/config"
	"aethernet/internal/store"
)

// Daemon runs ticks serially until cancellation or a stop condition.
type Daemon struct {
	cfg    *config.Config
	store  *store.Store
	orch   *Orchestrator
	logger *zap.Logger

	intervalMs int
	onTick     func(err error) // optional observer
}

// NewDaemon builds the scheduler. intervalMs <= 0 falls back to the
// autonomy default interval, then the heartbeat interval.
func NewDaemon(cfg *config.Config, st *store.Store, orch *Orchestrator, logger *zap.Logger, intervalMs int, onTick func(error)) *Daemon {
	if logger == nil {
		logger = zap.NewNop()
	}
	if intervalMs <= 0 {
		intervalMs = cfg.Autonomy.DefaultIntervalMs
	}
	if intervalMs <= 0 {
		intervalMs = cfg.HeartbeatIntervalMs
	}
	return &Daemon{
		cfg: cfg, store: st, orch: orch, logger: logger,
		intervalMs: intervalMs, onTick: onTick,
	}
}

// Run loops ticks until ctx is cancelled or a stop condition fires.
// The returned error is nil for every stop path; the terminal agent
// state records why the loop ended.
func (d *Daemon) Run(ctx context.Context) error {
	consecutiveErrors := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		d.heartbeat()
		err := d.orch.Tick(ctx, TickOptions{})
		if d.onTick != nil {
			d.onTick(err)
		}

		switch {
		case err == nil:
			consecutiveErrors = 0
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, ErrSurvivalDead):
			consecutiveErrors++
			d.failure(err, consecutiveErrors, store.SeverityCritical)
			d.setState("dead")
			return nil
		case errors.Is(err, ErrBrainFailureStreak):
			consecutiveErrors++
			d.failure(err, consecutiveErrors, store.SeverityWarning)
			d.setState("stopped")
			return nil
		default:
			consecutiveErrors++
			d.failure(err, consecutiveErrors, store.SeverityWarning)
			if consecutiveErrors >= d.cfg.Autonomy.MaxConsecutiveErrors {
				d.setState("stopped")
				return nil
			}
		}

		if !d.sleep(ctx) {
			return nil
		}
	}
}

// sleep waits for the adaptive interval; false means cancellation.
func (d *Daemon) sleep(ctx context.Context) bool {
	ms := d.intervalMs
	if raw, ok, err := d.store.GetKV(store.KVNextSleepMs); err == nil && ok {
		if v, perr := strconv.Atoi(raw); perr == nil && v >= 0 {
			ms = v
			if ms > d.cfg.Autonomy.MaxSleepMs {
				ms = d.cfg.Autonomy.MaxSleepMs
			}
		}
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (d *Daemon) heartbeat() {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, ok, _ := d.store.GetKV(store.KVStartedAt); !ok {
		_ = d.store.SetKV(store.KVStartedAt, now)
	}
	_ = d.store.SetKV("daemon_heartbeat_at", now)
}

func (d *Daemon) failure(err error, streak int, severity string) {
	msg := fmt.Sprintf("tick failed (consecutive %d/%d): %v",
		streak, d.cfg.Autonomy.MaxConsecutiveErrors, err)
	if ierr := d.store.InsertIncident(&store.Incident{
		Code:     store.CodeDaemonFailure,
		Severity: severity,
		Category: "daemon",
		Message:  msg,
	}); ierr != nil {
		d.logger.Error("daemon incident write failed", zap.Error(ierr))
	}
	d.logger.Warn("tick failed", zap.Int("consecutive", streak), zap.Error(err))
}

func (d *Daemon) setState(state string) {
	if err := d.store.SetKV(store.KVAgentState, state); err != nil {
		d.logger.Error("state write failed", zap.Error(err))
	}
}
