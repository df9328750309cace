package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalspoc/signals/internal/ai"
	"github.com/signalspoc/signals/internal/gateway/fixture"
	"github.com/signalspoc/signals/internal/storage"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the Signals installation and environment",
	Long: `Run health checks to diagnose common configuration problems.

This command checks for:
- Database accessibility and contents
- A running 'signals run' holding the database
- Fixture file validity
- Inference backend reachability and credentials

Exit codes:
  0 - All checks passed
  1 - One or more checks failed (but not critical)
  2 - Critical failures that prevent Signals from running`,
	Annotations: map[string]string{"store": "none"},
	Run: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		ctx := cmd.Context()

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("Running Signals health checks...\n\n")

		var failures []string
		var criticalFailures []string

		fmt.Printf("%s Database\n", cyan("→"))
		if err := openStore(cmd); err != nil {
			criticalFailures = append(criticalFailures, err.Error())
			fmt.Printf("  %s Cannot open %s\n", red("✗"), cfg.DB.Path)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			fmt.Printf("  %s Opened %s\n", green("✓"), cfg.DB.Path)
			unread, aerr := store.CountUnreadAlerts(ctx)
			tasks, terr := store.CountTasks(ctx)
			if aerr != nil || terr != nil {
				failures = append(failures, "database queries failed")
				fmt.Printf("  %s Queries failed\n", red("✗"))
			} else {
				fmt.Printf("  %s %d unread alert(s), %d indexed task(s)\n", green("✓"), unread, tasks)
				if tasks == 0 {
					fmt.Printf("  %s No tasks indexed; PRs cannot be linked (see 'signals tasks import')\n", yellow("⚠"))
				}
			}
		}

		fmt.Printf("%s Scheduler\n", cyan("→"))
		if lock, ok := readRunLock(cfg.DB.Path); ok {
			fmt.Printf("  %s 'signals run' lock held by PID %d on %s since %s\n",
				yellow("⚠"), lock.PID, lock.Hostname, lock.StartedAt.Format(time.RFC3339))
		} else {
			fmt.Printf("  %s No scheduler running against this database\n", green("✓"))
		}

		fmt.Printf("%s Fixtures\n", cyan("→"))
		if cfg.Fixtures == "" {
			fmt.Printf("  %s No fixture file configured; detection will see no pull requests\n", yellow("⚠"))
		} else if f, err := fixture.Load(cfg.Fixtures); err != nil {
			failures = append(failures, fmt.Sprintf("fixture file: %v", err))
			fmt.Printf("  %s %s is invalid\n", red("✗"), cfg.Fixtures)
			if verbose {
				fmt.Printf("    Error: %v\n", err)
			}
		} else {
			fmt.Printf("  %s %s: %d pull request(s), %d task(s)\n",
				green("✓"), cfg.Fixtures, len(f.PullRequests), len(f.Tasks))
		}

		fmt.Printf("%s Inference backend (%s)\n", cyan("→"), cfg.AI.Provider)
		switch cfg.AI.Provider {
		case ai.ProviderNone:
			fmt.Printf("  %s Disabled; alerts get template recommendations only\n", yellow("⚠"))
		case ai.ProviderAnthropic:
			if cfg.AI.APIKey == "" && os.Getenv("ANTHROPIC_API_KEY") == "" {
				failures = append(failures, "ANTHROPIC_API_KEY not set")
				fmt.Printf("  %s ANTHROPIC_API_KEY not set\n", red("✗"))
				break
			}
			fmt.Printf("  %s API key is set (model %s)\n", green("✓"), cfg.AI.Model)
		default:
			if err := pingModel(ctx); err != nil {
				failures = append(failures, fmt.Sprintf("model unreachable: %v", err))
				fmt.Printf("  %s %s not reachable; alerts will get template recommendations\n", red("✗"), cfg.AI.URL)
				if verbose {
					fmt.Printf("    Error: %v\n", err)
				}
			} else {
				fmt.Printf("  %s %s reachable (model %s)\n", green("✓"), cfg.AI.URL, cfg.AI.Model)
			}
			if cfg.AIGateway().PromptBaked() {
				fmt.Printf("  %s System prompt baked into model\n", green("✓"))
			}
		}

		fmt.Println()
		if len(criticalFailures) > 0 {
			fmt.Printf("%s Critical failures prevent Signals from running:\n", red("✗"))
			for _, f := range criticalFailures {
				fmt.Printf("  - %s\n", f)
			}
			os.Exit(2)
		}
		if len(failures) > 0 {
			fmt.Printf("%s %d check(s) failed:\n", yellow("⚠"), len(failures))
			for _, f := range failures {
				fmt.Printf("  - %s\n", f)
			}
			os.Exit(1)
		}
		fmt.Printf("%s All checks passed\n", green("✓"))
	},
}

func pingModel(ctx context.Context) error {
	model, err := ai.New(cfg.AIGateway())
	if err != nil {
		return err
	}
	p, ok := model.(ai.Pinger)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return p.Ping(ctx)
}

func readRunLock(dbPath string) (storage.RunLock, bool) {
	var lock storage.RunLock
	data, err := os.ReadFile(storage.LockPath(dbPath))
	if err != nil {
		return lock, false
	}
	if json.Unmarshal(data, &lock) != nil {
		return lock, false
	}
	return lock, true
}

func init() {
	doctorCmd.Flags().BoolP("verbose", "v", false, "Show detailed error messages")
	rootCmd.AddCommand(doctorCmd)
}
