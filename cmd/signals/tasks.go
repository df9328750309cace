package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/signalspoc/signals/internal/gateway/fixture"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Manage the task index used to link pull requests to tasks",
}

var tasksImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load tasks from a fixture file into the task index",
	Long: `Upsert every task listed under 'tasks:' in a YAML fixture file.
Pull requests in the file are ignored. Re-importing a task replaces it.

Example file:
  tasks:
    - external_id: SIG-7
      source_system: ASANA
      title: "SIG-7 Login page"
      status: In Progress
      assignee: dana`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := fixture.Load(args[0])
		if err != nil {
			return err
		}
		n, err := importTasks(cmd.Context(), store, f.Tasks)
		if err != nil {
			return err
		}
		total, err := store.CountTasks(cmd.Context())
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Imported %d task(s); %d indexed\n", green("✓"), n, total)
		return nil
	},
}

var tasksCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of indexed tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := store.CountTasks(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksImportCmd)
	tasksCmd.AddCommand(tasksCountCmd)
	rootCmd.AddCommand(tasksCmd)
}
