package main

import (
	"github.com/spf13/cobra"

	"github.com/signalspoc/signals/internal/repl"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review alerts interactively",
	Long: `Open an interactive shell for working through alerts: list them, read
the AI suggestion, then resolve or approve the recommended action.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg, store)
		if err != nil {
			return err
		}
		shell, err := repl.New(&repl.Config{
			Store:     store,
			Lifecycle: a.manager,
			Actions:   a.dispatcher,
		})
		if err != nil {
			return err
		}
		return shell.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)
}
