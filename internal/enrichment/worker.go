// Package enrichment attaches model-generated suggestions and action
// recommendations to newly created alerts.
//
// A single consumer drains a bounded queue. The inference backend serves
// one request at a time, so more consumers would only queue inside it.
// Producers never block: when the queue is full the request is dropped and
// the alert waits for the analyzer's reconciliation pass.
package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/signalspoc/signals/internal/types"
)

// DefaultQueueSize is the backlog capacity used when none is configured.
const DefaultQueueSize = 100

// Store is the part of storage.Storage the worker uses.
type Store interface {
	GetAlert(ctx context.Context, id string) (*types.Alert, error)
	UpdateAlertEnrichment(ctx context.Context, id string, suggestion *string, actionJSON *string) (bool, error)
}

// Suggester produces the two enrichment artifacts. ai.SuggestionService
// implements it.
type Suggester interface {
	GenerateSuggestion(ctx context.Context, ev types.EnrichmentEvent) (string, error)
	RecommendAction(ctx context.Context, ev types.EnrichmentEvent) (*types.ActionRecommendation, bool)
}

// Stats counts what the worker has done since it was created.
type Stats struct {
	Enqueued int64
	Dropped  int64
	Enriched int64
	Partial  int64 // stored an action but no suggestion
	Skipped  int64 // alert missing, resolved or already enriched
	Failed   int64
}

// Worker is the single enrichment consumer.
type Worker struct {
	store     Store
	suggester Suggester
	queue     chan types.EnrichmentEvent

	enqueued atomic.Int64
	dropped  atomic.Int64
	enriched atomic.Int64
	partial  atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// NewWorker creates a worker with a backlog of queueSize events.
func NewWorker(store Store, suggester Suggester, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Worker{
		store:     store,
		suggester: suggester,
		queue:     make(chan types.EnrichmentEvent, queueSize),
	}
}

// Enqueue offers ev to the backlog without blocking. It returns false and
// drops the event when the backlog is full.
func (w *Worker) Enqueue(ev types.EnrichmentEvent) bool {
	select {
	case w.queue <- ev:
		w.enqueued.Add(1)
		return true
	default:
		w.dropped.Add(1)
		slog.Warn("enrichment queue full, dropping request",
			"alert_id", ev.AlertID, "capacity", cap(w.queue))
		return false
	}
}

// Pending returns the number of queued events.
func (w *Worker) Pending() int {
	return len(w.queue)
}

// Run consumes the backlog until ctx is cancelled. Events still queued at
// shutdown are abandoned; reconciliation picks their alerts up later.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("enrichment worker started", "capacity", cap(w.queue))
	for {
		select {
		case <-ctx.Done():
			slog.Info("enrichment worker stopped", "pending", len(w.queue))
			return nil
		case ev := <-w.queue:
			w.handle(ctx, ev)
		}
	}
}

// Drain processes everything currently queued and returns. One-shot
// commands use it in place of Run.
func (w *Worker) Drain(ctx context.Context) {
	for {
		select {
		case ev := <-w.queue:
			w.handle(ctx, ev)
		default:
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Stats returns a snapshot of the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Enqueued: w.enqueued.Load(),
		Dropped:  w.dropped.Load(),
		Enriched: w.enriched.Load(),
		Partial:  w.partial.Load(),
		Skipped:  w.skipped.Load(),
		Failed:   w.failed.Load(),
	}
}

func (w *Worker) handle(ctx context.Context, ev types.EnrichmentEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.failed.Add(1)
			slog.Error("enrichment panicked", "alert_id", ev.AlertID, "panic", r)
		}
	}()

	if err := w.Process(ctx, ev); err != nil {
		w.failed.Add(1)
		slog.Warn("enrichment failed", "alert_id", ev.AlertID, "error", err)
	}
}

// Process enriches one alert. Model failures are not errors: the alert is
// left without a suggestion for a later pass. Only store failures are
// returned.
func (w *Worker) Process(ctx context.Context, ev types.EnrichmentEvent) error {
	alert, err := w.store.GetAlert(ctx, ev.AlertID)
	if err != nil {
		w.skipped.Add(1)
		return fmt.Errorf("failed to load alert: %w", err)
	}
	if alert.IsResolved || alert.IsEnriched() {
		w.skipped.Add(1)
		slog.Debug("skipping enrichment", "alert_id", alert.ID,
			"resolved", alert.IsResolved, "enriched", alert.IsEnriched())
		return nil
	}

	var suggestion *string
	text, err := w.suggester.GenerateSuggestion(ctx, ev)
	if err != nil {
		slog.Warn("no AI suggestion for alert", "alert_id", alert.ID, "error", err)
	} else {
		suggestion = &text
	}

	var actionJSON *string
	rec, fromModel := w.suggester.RecommendAction(ctx, ev)
	if rec != nil {
		data, err := rec.Marshal()
		if err != nil {
			return err
		}
		actionJSON = &data
	}

	updated, err := w.store.UpdateAlertEnrichment(ctx, alert.ID, suggestion, actionJSON)
	if err != nil {
		return err
	}
	if !updated {
		w.skipped.Add(1)
		slog.Debug("alert changed during enrichment", "alert_id", alert.ID)
		return nil
	}

	if suggestion == nil {
		w.partial.Add(1)
	} else {
		w.enriched.Add(1)
	}
	action := ""
	if rec != nil {
		action = string(rec.ActionType)
	}
	slog.Info("alert enriched",
		"alert_id", alert.ID,
		"has_suggestion", suggestion != nil,
		"action", action,
		"action_from_model", fromModel)
	return nil
}
