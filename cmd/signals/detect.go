package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one detection pass and enrich the new alerts",
	Long: `Fetch pull requests once, apply the detection rules, and enrich every
alert the pass created before exiting.

Examples:
  signals detect --fixtures fixtures.yaml
  signals detect --fixtures fixtures.yaml --ai-provider none`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, store)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		res, err := a.detect(ctx)
		if err != nil {
			return err
		}
		a.worker.Drain(ctx)
		a.logWorkerStats()

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Checked %d pull request(s): %d new alert(s), %d already open, %d superseded\n",
			green("✓"), res.PullRequests, res.Created, res.Existing, res.Superseded)
		if res.Failed > 0 {
			fmt.Printf("%s %d pull request(s) could not be checked (see log)\n", yellow("⚠"), res.Failed)
		}
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one batch semantic analysis pass",
	Long: `Re-queue alerts that are still missing enrichment, then send changed
PR/task pairs to the model in batches and raise alerts for what it finds.
Pairs whose content has not changed since the last pass are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, store)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		res, runErr := a.analyze(ctx)
		a.worker.Drain(ctx)
		a.logWorkerStats()

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Re-queued %d alert(s); analyzed %d pair(s) in %d batch(es), %d unchanged; %d finding(s), %d new alert(s)\n",
			green("✓"), res.Requeued, res.Pairs-res.Unchanged, res.Batches, res.Unchanged, res.Findings, res.Created)
		if res.FailedBatches > 0 {
			fmt.Printf("%s %d batch(es) failed and will be retried when their content changes\n",
				yellow("⚠"), res.FailedBatches)
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(analyzeCmd)
}
