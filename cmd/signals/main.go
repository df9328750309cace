// Command signals detects drift between pull requests and project tasks,
// enriches the resulting alerts with a language model, and executes the
// recommended fixes.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/signalspoc/signals/internal/config"
	"github.com/signalspoc/signals/internal/storage"
)

var (
	// settings holds defaults, env overrides and bound flags until cfg is decoded.
	settings = config.NewViper()

	cfg   config.Config
	store storage.Storage
)

var rootCmd = &cobra.Command{
	Use:   "signals",
	Short: "Keep pull requests and project tasks in sync",
	Long: `Signals watches GitHub pull requests and the Asana/Linear tasks they reference.

When the two disagree (a merged PR whose task is still open, a PR in review
whose task was never moved, a PR that has gone stale) it raises an alert,
asks a language model how to fix it, and can apply the fix on approval.

Settings come from built-in defaults, an optional YAML file (--config) and
SIGNALS_* environment variables, e.g. SIGNALS_AI_MODEL=llama3.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if err := configure(configPath); err != nil {
			return err
		}

		if cmd.Annotations["store"] == "none" {
			return nil
		}
		return openStore(cmd)
	},
}

func main() {
	addPersistentFlags()
	err := rootCmd.Execute()
	if store != nil {
		if cerr := store.Close(); cerr != nil {
			slog.Warn("failed to close database", "error", cerr)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file")
	flags.String("db", storage.DefaultPath, "SQLite database path")
	flags.String("fixtures", "", "YAML file of pull requests and tasks to run against")
	flags.String("ai-provider", "", "inference backend: ollama, anthropic or none")
	flags.String("log-level", "info", "log level: debug, info, warn, error")

	_ = settings.BindPFlag("db.path", flags.Lookup("db"))
	_ = settings.BindPFlag("fixtures", flags.Lookup("fixtures"))
	_ = settings.BindPFlag("ai.provider", flags.Lookup("ai-provider"))
	_ = settings.BindPFlag("log_level", flags.Lookup("log-level"))
}

func openStore(cmd *cobra.Command) error {
	if dir := dbDir(cfg.DB.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	s, err := storage.NewStorage(cmd.Context(), &storage.Config{Path: cfg.DB.Path})
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", cfg.DB.Path, err)
	}
	store = s
	return nil
}

func dbDir(path string) string {
	if path == ":memory:" {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}

// configure decodes cfg from settings and the optional file, then sets the
// log level from the merged result.
func configure(configPath string) error {
	loaded, err := config.FromViper(settings, configPath)
	if err != nil {
		return err
	}
	cfg = loaded
	if err := setupLogging(cfg.LogLevel); err != nil {
		return err
	}
	slog.Debug("configuration loaded", "config", cfg.String())
	return nil
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
	return nil
}
