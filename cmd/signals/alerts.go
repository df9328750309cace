package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalspoc/signals/internal/alerts"
	"github.com/signalspoc/signals/internal/repl"
	"github.com/signalspoc/signals/internal/storage"
	"github.com/signalspoc/signals/internal/types"
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List and act on alerts",
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved alerts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		unread, _ := cmd.Flags().GetBool("unread")
		asJSON, _ := cmd.Flags().GetBool("json")
		limit, _ := cmd.Flags().GetInt("limit")

		var list []*types.Alert
		var err error
		if unread {
			list, err = store.ListUnreadAlerts(cmd.Context())
		} else {
			list, err = store.ListUnresolvedAlerts(cmd.Context(), limit)
		}
		if err != nil {
			return err
		}

		if asJSON {
			if list == nil {
				list = []*types.Alert{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(list)
		}
		repl.PrintAlertTable(os.Stdout, list)
		return nil
	},
}

var alertsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of unread alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := store.CountUnreadAlerts(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

var alertsShowCmd = &cobra.Command{
	Use:   "show <alert-id>",
	Short: "Show one alert with its suggestion and recommended action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alert, err := store.GetAlert(cmd.Context(), args[0])
		if err != nil {
			return notFound(args[0], err)
		}
		repl.PrintAlert(os.Stdout, alert)
		fmt.Println()
		return nil
	},
}

var alertsReadCmd = &cobra.Command{
	Use:   "read <alert-id>",
	Short: "Mark an alert as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := alerts.NewManager(store, nil).MarkAsRead(cmd.Context(), args[0]); err != nil {
			return notFound(args[0], err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Marked %s as read\n", green("✓"), args[0])
		return nil
	},
}

var alertsResolveCmd = &cobra.Command{
	Use:   "resolve <alert-id>",
	Short: "Resolve an alert without acting on it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		changed, err := alerts.NewManager(store, nil).Resolve(cmd.Context(), args[0])
		if err != nil {
			return notFound(args[0], err)
		}
		green := color.New(color.FgGreen).SprintFunc()
		if !changed {
			fmt.Printf("%s %s was already resolved\n", green("✓"), args[0])
			return nil
		}
		fmt.Printf("%s Resolved %s\n", green("✓"), args[0])
		return nil
	},
}

var alertsApproveCmd = &cobra.Command{
	Use:   "approve <alert-id>",
	Short: "Execute the recommended action for an alert",
	Long: `Execute the alert's stored AI recommendation, or the rule-based action
for its type when there is no usable recommendation. A successful action
resolves the alert. Write-backs are recorded and printed, not sent.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, store)
		if err != nil {
			return err
		}
		result, err := a.dispatcher.ExecuteAction(cmd.Context(), args[0])
		if err != nil {
			return notFound(args[0], err)
		}

		if !result.Success {
			return errors.New(result.Description)
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		source := "rule-based"
		if result.FromRecommendation {
			source = "AI recommendation"
		}
		fmt.Printf("%s %s (%s, %s)\n", green("✓"), result.Description, result.ActionTaken, source)
		if result.AIReasoning != "" {
			fmt.Printf("  %s\n", result.AIReasoning)
		}
		for _, m := range a.writes.Mutations() {
			fmt.Printf("  %s %s %s %s %s\n", gray("dry-run:"), m.System, m.Op, m.Target, m.Value)
		}
		return nil
	},
}

func notFound(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("alert %s not found", id)
	}
	return err
}

func init() {
	alertsListCmd.Flags().Bool("unread", false, "Only unread alerts")
	alertsListCmd.Flags().Bool("json", false, "Output JSON")
	alertsListCmd.Flags().Int("limit", 50, "Maximum alerts to list (0 = all)")

	alertsCmd.AddCommand(alertsListCmd)
	alertsCmd.AddCommand(alertsCountCmd)
	alertsCmd.AddCommand(alertsShowCmd)
	alertsCmd.AddCommand(alertsReadCmd)
	alertsCmd.AddCommand(alertsResolveCmd)
	alertsCmd.AddCommand(alertsApproveCmd)
	rootCmd.AddCommand(alertsCmd)
}
