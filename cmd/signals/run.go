package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalspoc/signals/internal/scheduler"
	"github.com/signalspoc/signals/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run detection, analysis and enrichment until interrupted",
	Long: `Start the long-running pipeline:

  - rule-based detection every detection.interval (default 5m, first run after 1m)
  - batch semantic analysis every analysis.interval (default 30m, first run after 2m)
  - the enrichment worker, which turns new alerts into suggestions and actions

Only one 'signals run' may use a database at a time. Stop with Ctrl+C.

Examples:
  # Run against a fixture file with the local Ollama model
  signals run --fixtures fixtures.yaml

  # Run without any model (template recommendations only)
  signals run --fixtures fixtures.yaml --ai-provider none`,
	RunE: func(cmd *cobra.Command, args []string) error {
		lockPath, err := storage.AcquireRunLock(cfg.DB.Path, "signals run")
		if err != nil {
			return err
		}
		defer func() {
			if err := storage.ReleaseRunLock(lockPath); err != nil {
				slog.Warn("failed to release run lock", "path", lockPath, "error", err)
			}
		}()

		a, err := newApp(cfg, store)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s signals running (db %s, AI %s/%s). Press Ctrl+C to stop.\n",
			green("✓"), cfg.DB.Path, cfg.AI.Provider, cfg.AI.Model)

		runner := scheduler.New().
			AddService(scheduler.Service{Name: "enrichment", Run: a.worker.Run}).
			AddJob(scheduler.Job{
				Name:         "detection",
				InitialDelay: cfg.Detection.InitialDelay,
				Interval:     cfg.Detection.Interval,
				Run: func(ctx context.Context) error {
					_, err := a.detect(ctx)
					return err
				},
			}).
			AddJob(scheduler.Job{
				Name:         "analysis",
				InitialDelay: cfg.Analysis.InitialDelay,
				Interval:     cfg.Analysis.Interval,
				Run: func(ctx context.Context) error {
					_, err := a.analyze(ctx)
					return err
				},
			})

		err = runner.Run(ctx)
		a.logWorkerStats()
		if err != nil {
			return err
		}
		fmt.Printf("\n%s Stopped\n", green("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
