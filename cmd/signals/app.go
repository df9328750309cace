package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/signalspoc/signals/internal/ai"
	"github.com/signalspoc/signals/internal/alerts"
	"github.com/signalspoc/signals/internal/analysis"
	"github.com/signalspoc/signals/internal/config"
	"github.com/signalspoc/signals/internal/detector"
	"github.com/signalspoc/signals/internal/dispatch"
	"github.com/signalspoc/signals/internal/enrichment"
	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/gateway/fixture"
	"github.com/signalspoc/signals/internal/storage"
	"github.com/signalspoc/signals/internal/types"
)

// app is the wired pipeline shared by every command that touches alerts.
type app struct {
	cfg        config.Config
	store      storage.Storage
	model      ai.Gateway
	source     gateway.PRSource
	writes     *gateway.DryRun
	worker     *enrichment.Worker
	manager    *alerts.Manager
	detector   *detector.Detector
	analyzer   *analysis.Analyzer
	dispatcher *dispatch.Dispatcher
}

func newApp(cfg config.Config, store storage.Storage) (*app, error) {
	aiCfg := cfg.AIGateway()
	model, err := ai.New(aiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure AI provider: %w", err)
	}

	var source gateway.PRSource = fixture.Empty{}
	if cfg.Fixtures != "" {
		source = fixture.NewSource(cfg.Fixtures)
	}

	// Write-backs are recorded rather than sent until live connectors exist.
	writes := gateway.NewDryRun()
	registry := gateway.NewRegistry(writes).
		RegisterPM(types.ConnectorAsana, writes.ForTracker(types.ConnectorAsana)).
		RegisterPM(types.ConnectorLinear, writes.ForTracker(types.ConnectorLinear))

	suggester := ai.NewSuggestionService(model, aiCfg.PromptBaked(), cfg.Enrichment.MaxTokens)
	worker := enrichment.NewWorker(store, suggester, cfg.Enrichment.QueueSize)
	manager := alerts.NewManager(store, worker)

	return &app{
		cfg:        cfg,
		store:      store,
		model:      model,
		source:     source,
		writes:     writes,
		worker:     worker,
		manager:    manager,
		detector:   detector.New(source, store, manager, cfg.Detector()),
		analyzer:   analysis.New(source, store, manager, worker, model, cfg.Analyzer()),
		dispatcher: dispatch.New(store, registry, cfg.Dispatcher()),
	}, nil
}

// syncFixtureTasks loads the fixture file's tasks into the task index.
func (a *app) syncFixtureTasks(ctx context.Context) (int, error) {
	if a.cfg.Fixtures == "" {
		return 0, nil
	}
	f, err := fixture.Load(a.cfg.Fixtures)
	if err != nil {
		return 0, err
	}
	return importTasks(ctx, a.store, f.Tasks)
}

func importTasks(ctx context.Context, store storage.Storage, tasks []*types.TaskSnapshot) (int, error) {
	for i, task := range tasks {
		if err := store.UpsertTask(ctx, task); err != nil {
			return i, fmt.Errorf("task %s: %w", task.ID, err)
		}
	}
	return len(tasks), nil
}

func (a *app) detect(ctx context.Context) (detector.Result, error) {
	if _, err := a.syncFixtureTasks(ctx); err != nil {
		return detector.Result{}, err
	}
	return a.detector.RunOnce(ctx)
}

func (a *app) analyze(ctx context.Context) (analysis.Result, error) {
	if _, err := a.syncFixtureTasks(ctx); err != nil {
		return analysis.Result{}, err
	}
	return a.analyzer.RunOnce(ctx)
}

func (a *app) logWorkerStats() {
	st := a.worker.Stats()
	slog.Info("enrichment stats",
		"enqueued", st.Enqueued,
		"dropped", st.Dropped,
		"enriched", st.Enriched,
		"partial", st.Partial,
		"skipped", st.Skipped,
		"failed", st.Failed)
}
