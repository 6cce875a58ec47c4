// Package alerting evaluates alert thresholds after each turn and
// routes non-suppressed alerts to the configured destination. Every
// routed alert is also mirrored as an ALERT_TRIGGERED incident so the
// incident log stays the single audit trail.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"aethernet/internal/config"
	"aethernet/internal/store"
	"aethernet/internal/survival"
)

// dedupWindow suppresses a repeated (severity,message) pair.
const dedupWindow = 60 * time.Second

// EvalContext carries the per-tick signals the engine evaluates.
type EvalContext struct {
	SurvivalTier       string
	QueueDepth         int
	BrainFailureStreak int
}

// Engine evaluates and routes alerts.
type Engine struct {
	cfg    config.AlertingConfig
	store  *store.Store
	logger *zap.Logger
	http   *http.Client

	// stdout/stderr are swappable for tests.
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

// NewEngine builds an alert engine.
func NewEngine(cfg config.AlertingConfig, st *store.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		store:  st,
		logger: logger,
		http:   &http.Client{Timeout: 10 * time.Second},
		stdout: os.Stdout,
		stderr: os.Stderr,
		now:    time.Now,
	}
}

type candidate struct {
	code     string
	severity string
	message  string
	metadata map[string]any
}

// Evaluate checks all alert candidates and routes the ones that are
// not suppressed. It never fails the tick; routing errors degrade to
// incidents.
func (e *Engine) Evaluate(ctx context.Context, ec EvalContext) error {
	if !e.cfg.Enabled {
		return nil
	}

	var candidates []candidate

	if ec.SurvivalTier == survival.TierDead {
		candidates = append(candidates, candidate{
			code:     store.CodeAlertTriggered,
			severity: store.SeverityCritical,
			message:  "Survival tier is dead; all mutating actions are refused",
			metadata: map[string]any{"tier": ec.SurvivalTier},
		})
	}

	window := time.Duration(e.cfg.EvaluationWindowMinutes) * time.Minute
	criticals, err := e.store.CountIncidentsSince(store.SeverityCritical, e.now().Add(-window))
	if err != nil {
		return fmt.Errorf("count critical incidents: %w", err)
	}
	if criticals >= e.cfg.CriticalIncidentThreshold {
		// the message stays constant while the condition holds so the
		// de-dup marker matches; the live count rides in metadata
		candidates = append(candidates, candidate{
			code:     store.CodeAlertTriggered,
			severity: store.SeverityCritical,
			message: fmt.Sprintf("critical incident threshold %d reached within %d minutes",
				e.cfg.CriticalIncidentThreshold, e.cfg.EvaluationWindowMinutes),
			metadata: map[string]any{"criticalIncidents": criticals},
		})
	}

	if ec.BrainFailureStreak >= e.cfg.BrainFailureThreshold {
		candidates = append(candidates, candidate{
			code:     store.CodeAlertTriggered,
			severity: store.SeverityCritical,
			message:  fmt.Sprintf("brain failure streak reached %d (threshold %d)", ec.BrainFailureStreak, e.cfg.BrainFailureThreshold),
			metadata: map[string]any{"streak": ec.BrainFailureStreak},
		})
	}

	if ec.QueueDepth >= e.cfg.QueueDepthThreshold {
		candidates = append(candidates, candidate{
			code:     store.CodeAlertTriggered,
			severity: store.SeverityWarning,
			message:  fmt.Sprintf("inbox queue depth %d at or above threshold %d", ec.QueueDepth, e.cfg.QueueDepthThreshold),
			metadata: map[string]any{"queueDepth": ec.QueueDepth},
		})
	}

	for _, c := range candidates {
		fired, err := e.fireOnce(ctx, c)
		if err != nil {
			return err
		}
		if !fired {
			e.logger.Debug("alert suppressed by de-dup",
				zap.String("severity", c.severity), zap.String("message", c.message))
		}
	}
	return nil
}

// fireOnce persists and routes a candidate unless the same
// (severity,message) fired within the de-dup window.
func (e *Engine) fireOnce(ctx context.Context, c candidate) (bool, error) {
	marker := store.KVAlertDedupPrefix + c.severity + ":" + c.message
	nowMs := e.now().UnixMilli()

	if raw, ok, err := e.store.GetKV(marker); err != nil {
		return false, err
	} else if ok {
		if last, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			if nowMs-last < dedupWindow.Milliseconds() {
				return false, nil
			}
		}
	}
	if err := e.store.SetKV(marker, strconv.FormatInt(nowMs, 10)); err != nil {
		return false, err
	}

	alert := &store.Alert{
		Code:     c.code,
		Severity: c.severity,
		Route:    e.cfg.Route,
		Message:  c.message,
		Metadata: c.metadata,
	}
	if err := e.store.InsertAlert(alert); err != nil {
		return false, err
	}
	if err := e.store.InsertIncident(&store.Incident{
		Code:     store.CodeAlertTriggered,
		Severity: c.severity,
		Category: "alert",
		Message:  c.message,
		Metadata: c.metadata,
	}); err != nil {
		return false, err
	}

	e.route(ctx, alert)
	return true, nil
}

// route delivers an alert; db is persist-only, stdout writes to the
// console, webhook posts a JSON envelope. Webhook failures become a
// PROVIDER_FAILURE warning incident and are not retried.
func (e *Engine) route(ctx context.Context, alert *store.Alert) {
	switch e.cfg.Route {
	case "stdout":
		line := fmt.Sprintf("[ALERT %s] %s", alert.Severity, alert.Message)
		if alert.Severity == store.SeverityCritical {
			fmt.Fprintln(e.stderr, line)
		} else {
			fmt.Fprintln(e.stdout, line)
		}
	case "webhook":
		if err := e.postWebhook(ctx, alert); err != nil {
			e.logger.Warn("alert webhook delivery failed", zap.Error(err))
			_ = e.store.InsertIncident(&store.Incident{
				Code:     store.CodeProviderFailure,
				Severity: store.SeverityWarning,
				Category: "alerting",
				Message:  fmt.Sprintf("webhook delivery failed: %v", err),
			})
		}
	}
}

func (e *Engine) postWebhook(ctx context.Context, alert *store.Alert) error {
	envelope := map[string]any{
		"id":        alert.ID,
		"code":      alert.Code,
		"severity":  alert.Severity,
		"message":   alert.Message,
		"metadata":  alert.Metadata,
		"timestamp": alert.Timestamp.Format(time.RFC3339),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
