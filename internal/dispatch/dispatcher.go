// Package dispatch executes the remediation for an approved alert against
// the PR host or a task tracker.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/types"
)

const commentPrefix = "[Signals] "

// Store is the part of storage.Storage the dispatcher uses.
type Store interface {
	GetAlert(ctx context.Context, id string) (*types.Alert, error)
	ClaimAlertForAction(ctx context.Context, id string, ttl time.Duration) (bool, error)
	ReleaseAlertClaim(ctx context.Context, id string) error
	ResolveAlert(ctx context.Context, id string) (bool, error)
}

// ActionResult is the outcome of ExecuteAction. A failed action is a
// result with Success false, not an error.
type ActionResult struct {
	Success     bool             `json:"success"`
	Description string           `json:"description"`
	ActionTaken types.ActionType `json:"actionTaken,omitempty"`
	AIReasoning string           `json:"aiReasoning,omitempty"`
	// FromRecommendation is true when the stored recommendation was used
	// rather than the per-type rules.
	FromRecommendation bool `json:"fromRecommendation"`
}

func failure(format string, args ...any) ActionResult {
	return ActionResult{Description: fmt.Sprintf(format, args...)}
}

// Config tunes the dispatcher.
type Config struct {
	// ClaimTTL is how long a claim blocks other dispatchers for the same
	// alert. A crashed dispatcher's claim expires after it.
	ClaimTTL time.Duration
	// GatewayTimeout bounds the write-back calls of one dispatch.
	GatewayTimeout time.Duration
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{ClaimTTL: 10 * time.Minute, GatewayTimeout: 30 * time.Second}
}

// Dispatcher turns an alert into write-back calls.
type Dispatcher struct {
	store    Store
	registry *gateway.Registry
	cfg      Config
}

// New creates a dispatcher.
func New(store Store, registry *gateway.Registry, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = def.GatewayTimeout
	}
	return &Dispatcher{store: store, registry: registry, cfg: cfg}
}

// ExecuteAction runs the remediation for alertID. The only error returned
// is a wrapped storage.ErrNotFound for an unknown id; every other problem
// is reported as a failed ActionResult.
//
// The alert is claimed before any gateway call so two concurrent
// approvals cannot both act. A successful action that changed something
// resolves the alert; anything else releases the claim.
func (d *Dispatcher) ExecuteAction(ctx context.Context, alertID string) (ActionResult, error) {
	alert, err := d.store.GetAlert(ctx, alertID)
	if err != nil {
		return ActionResult{}, err
	}
	if alert.IsResolved {
		return failure("Alert is already resolved"), nil
	}

	claimed, err := d.store.ClaimAlertForAction(ctx, alertID, d.cfg.ClaimTTL)
	if err != nil {
		return failure("Action failed: %v", err), nil
	}
	if !claimed {
		if current, err := d.store.GetAlert(ctx, alertID); err == nil && current.IsResolved {
			return failure("Alert is already resolved"), nil
		}
		return failure("Action already in progress for this alert"), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	defer cancel()

	result := d.dispatchSafely(callCtx, alert)

	// NO_ACTION changed nothing, so the alert stays open for a human.
	if !result.Success || result.ActionTaken == types.ActionNoAction {
		if err := d.store.ReleaseAlertClaim(ctx, alertID); err != nil {
			slog.Warn("failed to release action claim", "alert_id", alertID, "error", err)
		}
		d.logResult(alert, result)
		return result, nil
	}

	if _, err := d.store.ResolveAlert(ctx, alertID); err != nil {
		// the write-back happened; report it and leave the claim to expire
		slog.Error("action executed but alert could not be resolved", "alert_id", alertID, "error", err)
	}
	d.addAuditComment(callCtx, alert, result)
	d.logResult(alert, result)
	return result, nil
}

func (d *Dispatcher) dispatchSafely(ctx context.Context, alert *types.Alert) (result ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("action dispatch panicked", "alert_id", alert.ID, "panic", r)
			result = failure("Action failed: %v", r)
		}
	}()

	if alert.AIActionJSON != nil {
		rec, err := types.ParseActionRecommendation(*alert.AIActionJSON)
		if err == nil {
			result = d.executeRecommendation(ctx, alert, rec)
			result.FromRecommendation = true
			return result
		}
		slog.Warn("unusable action recommendation, using rule-based dispatch", "alert_id", alert.ID, "error", err)
	}
	return d.legacyDispatch(ctx, alert)
}

func (d *Dispatcher) logResult(alert *types.Alert, result ActionResult) {
	if result.Success {
		slog.Info("alert action executed",
			"alert_id", alert.ID, "action", result.ActionTaken,
			"from_recommendation", result.FromRecommendation, "description", result.Description)
		return
	}
	slog.Info("alert action not executed",
		"alert_id", alert.ID, "action", result.ActionTaken, "description", result.Description)
}

// addAuditComment notes the action on the alert's task. Failures are
// logged and do not change the result.
func (d *Dispatcher) addAuditComment(ctx context.Context, alert *types.Alert, result ActionResult) {
	if !alert.TargetSystem.IsProjectManagement() || alert.TargetID == "" {
		return
	}
	pm, err := d.registry.PM(alert.TargetSystem)
	if err != nil {
		return
	}
	msg := fmt.Sprintf(commentPrefix+"Auto-action executed: %s", result.Description)
	if err := pm.AddComment(ctx, alert.TargetID, msg); err != nil {
		slog.Warn("failed to add audit comment", "alert_id", alert.ID, "target", alert.TargetID, "error", err)
	}
}

// splitLabels parses a comma-separated label list, dropping blanks.
func splitLabels(s string) []string {
	var labels []string
	for _, l := range strings.Split(s, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}
