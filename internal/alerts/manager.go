// Package alerts owns the alert lifecycle: deduplicated creation, read and
// resolve transitions, and handing new alerts to the enrichment queue.
package alerts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/signalspoc/signals/internal/storage"
	"github.com/signalspoc/signals/internal/types"
)

// Enqueuer accepts enrichment requests without blocking. It reports
// false when the request was dropped.
type Enqueuer interface {
	Enqueue(ev types.EnrichmentEvent) bool
}

// Store is the part of storage.Storage the manager uses.
type Store interface {
	InsertAlertIfAbsent(ctx context.Context, alert *types.Alert) (*types.Alert, bool, error)
	MarkAlertRead(ctx context.Context, id string) error
	ResolveAlert(ctx context.Context, id string) (bool, error)
	ResolveAlertsBySource(ctx context.Context, system types.ConnectorType, sourceID string) (int, error)
}

var _ Store = (storage.Storage)(nil)

// Candidate is an alert a producer wants to raise, with the PR and task it
// was derived from so enrichment does not need to refetch them.
type Candidate struct {
	Alert *types.Alert
	PR    *types.PRSnapshot
	Task  *types.TaskSnapshot
}

// Manager creates and transitions alerts.
type Manager struct {
	store Store
	queue Enqueuer
}

// NewManager creates a manager. queue may be nil, in which case new alerts
// are left for reconciliation to enrich.
func NewManager(store Store, queue Enqueuer) *Manager {
	return &Manager{store: store, queue: queue}
}

// CreateAlert stores the candidate unless an unresolved alert with the
// same dedup key exists, in which case that alert is returned unchanged.
// Only a newly stored alert is queued for enrichment. Safe for concurrent
// use with the same key.
func (m *Manager) CreateAlert(ctx context.Context, c Candidate) (*types.Alert, bool, error) {
	if c.Alert == nil {
		return nil, false, fmt.Errorf("alert is required")
	}
	alert := *c.Alert
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	stored, created, err := m.store.InsertAlertIfAbsent(ctx, &alert)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create %s alert for %s/%s: %w",
			alert.Type, alert.SourceSystem, alert.SourceID, err)
	}
	if !created {
		slog.Debug("alert already open", "alert_id", stored.ID, "type", stored.Type)
		return stored, false, nil
	}

	slog.Info("alert created",
		"alert_id", stored.ID,
		"type", stored.Type,
		"severity", stored.Severity,
		"source", fmt.Sprintf("%s/%s", stored.SourceSystem, stored.SourceID),
		"target", fmt.Sprintf("%s/%s", stored.TargetSystem, stored.TargetID))

	if m.queue != nil {
		m.queue.Enqueue(types.EnrichmentEvent{
			AlertID:  stored.ID,
			Type:     stored.Type,
			Severity: stored.Severity,
			PR:       c.PR,
			Task:     c.Task,
		})
	}
	return stored, true, nil
}

// MarkAsRead marks an alert read. Unknown ids return storage.ErrNotFound.
func (m *Manager) MarkAsRead(ctx context.Context, id string) error {
	return m.store.MarkAlertRead(ctx, id)
}

// Resolve resolves an alert and reports whether it was still open.
// Unknown ids return storage.ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, id string) (bool, error) {
	resolved, err := m.store.ResolveAlert(ctx, id)
	if err != nil {
		return false, err
	}
	if resolved {
		slog.Info("alert resolved", "alert_id", id)
	}
	return resolved, nil
}

// ResolveAlertsForSource resolves every open alert raised for the given
// origin, e.g. when the PR was closed without merging.
func (m *Manager) ResolveAlertsForSource(ctx context.Context, system types.ConnectorType, sourceID string) (int, error) {
	n, err := m.store.ResolveAlertsBySource(ctx, system, sourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alerts for %s/%s: %w", system, sourceID, err)
	}
	if n > 0 {
		slog.Info("resolved alerts for source", "source_system", system, "source_id", sourceID, "count", n)
	}
	return n, nil
}
