// Package analysis runs the periodic background pass: it re-queues alerts
// whose enrichment never landed and asks the model to review PR/task pairs
// whose content changed since it last looked.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/signalspoc/signals/internal/ai"
	"github.com/signalspoc/signals/internal/alerts"
	"github.com/signalspoc/signals/internal/detector"
	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/types"
)

// maxTitleBytes bounds titles of model-generated alerts.
const maxTitleBytes = 500

// Config tunes the analyzer.
type Config struct {
	BatchSize      int           // pairs per model call
	MaxTokens      int           // token budget for a batch answer
	GatewayTimeout time.Duration // bounds the PR fetch and each PR's task lookup
	ReconcileLimit int           // max alerts re-queued per pass, 0 = all
}

// DefaultConfig returns the default analyzer settings.
func DefaultConfig() Config {
	return Config{BatchSize: 5, MaxTokens: 1500, GatewayTimeout: 30 * time.Second}
}

// Store is the part of storage.Storage the analyzer uses.
type Store interface {
	gateway.TaskIndex
	ListUnenrichedAlerts(ctx context.Context, limit int) ([]*types.Alert, error)
	GetAnalysisState(ctx context.Context, entityType, entityID string) (*types.AnalysisState, error)
	UpsertAnalysisState(ctx context.Context, state *types.AnalysisState) error
}

// Result summarizes one pass.
type Result struct {
	Requeued      int
	Pairs         int
	Unchanged     int
	Batches       int
	FailedBatches int
	Findings      int
	Created       int
}

// Analyzer is the batch semantic analyzer.
type Analyzer struct {
	source  gateway.PRSource
	store   Store
	manager *alerts.Manager
	queue   alerts.Enqueuer
	model   ai.Gateway
	cfg     Config
	now     func() time.Time
}

// New creates an analyzer. queue receives reconciliation events.
func New(source gateway.PRSource, store Store, manager *alerts.Manager, queue alerts.Enqueuer, model ai.Gateway, cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = def.GatewayTimeout
	}
	return &Analyzer{
		source:  source,
		store:   store,
		manager: manager,
		queue:   queue,
		model:   model,
		cfg:     cfg,
		now:     time.Now,
	}
}

// RunOnce reconciles then analyzes. Each step logs its own failure and
// the other still runs; the first error is returned.
func (a *Analyzer) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	var firstErr error

	n, err := a.Reconcile(ctx)
	res.Requeued = n
	if err != nil {
		slog.Warn("reconciliation failed", "error", err)
		firstErr = err
	}

	batchRes, err := a.AnalyzePairs(ctx)
	batchRes.Requeued = res.Requeued
	res = batchRes
	if err != nil {
		slog.Warn("batch analysis failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	slog.Info("analysis pass complete",
		"requeued", res.Requeued,
		"pairs", res.Pairs,
		"unchanged", res.Unchanged,
		"batches", res.Batches,
		"failed_batches", res.FailedBatches,
		"findings", res.Findings,
		"created", res.Created)
	return res, firstErr
}

// Reconcile re-queues unresolved alerts that have no suggestion, oldest
// first. The events carry no PR or task, so enrichment works from the
// alert type alone.
func (a *Analyzer) Reconcile(ctx context.Context) (int, error) {
	if a.queue == nil {
		return 0, nil
	}
	pending, err := a.store.ListUnenrichedAlerts(ctx, a.cfg.ReconcileLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unenriched alerts: %w", err)
	}

	queued := 0
	for _, alert := range pending {
		if !a.queue.Enqueue(types.EnrichmentEvent{AlertID: alert.ID, Type: alert.Type, Severity: alert.Severity}) {
			break
		}
		queued++
	}
	if queued > 0 {
		slog.Info("re-queued unenriched alerts", "count", queued, "pending", len(pending))
	}
	return queued, nil
}

// AnalyzePairs sends changed PR/task pairs to the model in batches. Every
// pair in a batch gets its checksum recorded afterwards, even when the
// batch failed, so a pair the model chokes on is not resent every tick.
func (a *Analyzer) AnalyzePairs(ctx context.Context) (Result, error) {
	var res Result

	pairs, err := a.collectPairs(ctx)
	if err != nil {
		return res, err
	}
	res.Pairs = len(pairs)

	var changed []Pair
	for _, p := range pairs {
		state, err := a.store.GetAnalysisState(ctx, types.EntityTypePRTaskPair, p.EntityID())
		if err != nil {
			slog.Warn("skipping pair with unreadable analysis state", "entity_id", p.EntityID(), "error", err)
			continue
		}
		if state != nil && state.ContentChecksum == p.Checksum() {
			res.Unchanged++
			continue
		}
		changed = append(changed, p)
	}

	for start := 0; start < len(changed); start += a.cfg.BatchSize {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		end := min(start+a.cfg.BatchSize, len(changed))
		batch := changed[start:end]
		res.Batches++

		findings, created, err := a.analyzeBatch(ctx, batch)
		res.Findings += findings
		res.Created += created
		if err != nil {
			res.FailedBatches++
			slog.Warn("batch analysis failed", "batch_size", len(batch), "error", err)
		}
		a.recordChecksums(ctx, batch)
	}
	return res, nil
}

// collectPairs lists every open PR paired with each task it links to. The
// fetch and each PR's task lookup get their own GatewayTimeout.
func (a *Analyzer) collectPairs(ctx context.Context) ([]Pair, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.GatewayTimeout)
	prs, err := a.source.FetchPullRequests(fetchCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pull requests: %w", err)
	}

	var pairs []Pair
	for _, pr := range prs {
		if pr.State != types.PRStateOpen || pr.Merged {
			continue
		}
		ids := detector.ExtractLinkedTaskIDs(pr)
		if len(ids) == 0 {
			continue
		}
		lookupCtx, cancel := context.WithTimeout(ctx, a.cfg.GatewayTimeout)
		tasks, err := detector.FindLinkedTasks(lookupCtx, a.store, ids)
		cancel()
		if err != nil {
			slog.Warn("skipping pull request in analysis", "pr", pr.Number, "error", err)
			continue
		}
		for _, task := range tasks {
			pairs = append(pairs, Pair{PR: pr, Task: task})
		}
	}
	return pairs, nil
}

func (a *Analyzer) analyzeBatch(ctx context.Context, batch []Pair) (int, int, error) {
	raw, err := a.model.GenerateJSON(ctx, batchPrompt(batch), a.cfg.MaxTokens)
	if err != nil {
		return 0, 0, err
	}

	parsed := ai.Parse[batchResponse](raw, ai.ParseOptions{Context: "batch analysis"})
	if err := parsed.Err(); err != nil {
		return 0, 0, err
	}

	findings, created := 0, 0
	for _, f := range parsed.Data.Findings {
		if f.PairIndex < 1 || f.PairIndex > len(batch) {
			slog.Debug("ignoring finding with out-of-range pair index", "pair_index", f.PairIndex, "batch_size", len(batch))
			continue
		}
		findings++
		p := batch[f.PairIndex-1]

		title := f.Title
		if title == "" {
			title = "AI-detected sync issue"
		}
		title = truncateTitle(title, maxTitleBytes)

		_, isNew, err := a.manager.CreateAlert(ctx, alerts.Candidate{
			PR:   p.PR,
			Task: p.Task,
			Alert: &types.Alert{
				Type:         types.ParseAlertType(f.AlertType),
				Severity:     types.ParseSeverity(f.Severity),
				Title:        title,
				Message:      f.Message,
				SourceSystem: types.ConnectorGitHub,
				SourceID:     p.PR.SourceID(),
				SourceURL:    p.PR.URL,
				TargetSystem: p.Task.SourceSystem,
				TargetID:     p.Task.ExternalID,
				TargetURL:    p.Task.URL,
			},
		})
		if err != nil {
			slog.Warn("failed to create alert from finding", "pr", p.PR.Number, "task", p.Task.ExternalID, "error", err)
			continue
		}
		if isNew {
			created++
		}
	}
	return findings, created, nil
}

// truncateTitle cuts s to at most n bytes without splitting a rune.
func truncateTitle(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func (a *Analyzer) recordChecksums(ctx context.Context, batch []Pair) {
	now := a.now()
	for _, p := range batch {
		err := a.store.UpsertAnalysisState(ctx, &types.AnalysisState{
			EntityType:      types.EntityTypePRTaskPair,
			EntityID:        p.EntityID(),
			SourceSystem:    string(p.Task.SourceSystem),
			ContentChecksum: p.Checksum(),
			LastAnalyzedAt:  now,
		})
		if err != nil {
			slog.Warn("failed to record analysis checksum", "entity_id", p.EntityID(), "error", err)
		}
	}
}
