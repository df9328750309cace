// Package repl is the interactive alert review shell behind `signals review`.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/signalspoc/signals/internal/dispatch"
	"github.com/signalspoc/signals/internal/types"
)

// Store is the read side of the alert store the shell needs.
type Store interface {
	GetAlert(ctx context.Context, id string) (*types.Alert, error)
	ListUnresolvedAlerts(ctx context.Context, limit int) ([]*types.Alert, error)
	ListUnreadAlerts(ctx context.Context) ([]*types.Alert, error)
	CountUnreadAlerts(ctx context.Context) (int, error)
}

// Lifecycle changes alert state. *alerts.Manager implements it.
type Lifecycle interface {
	MarkAsRead(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string) (bool, error)
}

// Executor runs the remediation for an alert. *dispatch.Dispatcher
// implements it.
type Executor interface {
	ExecuteAction(ctx context.Context, alertID string) (dispatch.ActionResult, error)
}

// REPL represents the interactive shell
type REPL struct {
	store     Store
	lifecycle Lifecycle
	actions   Executor
	out       io.Writer
	rl        *readline.Instance
	ctx       context.Context
	commands  map[string]CommandHandler
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

// Config holds REPL configuration
type Config struct {
	Store     Store
	Lifecycle Lifecycle
	Actions   Executor
	Out       io.Writer // defaults to stdout
}

// errExit ends the loop.
var errExit = errors.New("exit")

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if cfg.Lifecycle == nil {
		return nil, fmt.Errorf("alert lifecycle is required")
	}
	if cfg.Actions == nil {
		return nil, fmt.Errorf("action executor is required")
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		store:     cfg.Store,
		lifecycle: cfg.Lifecycle,
		actions:   cfg.Actions,
		out:       out,
		ctx:       context.Background(),
		commands:  make(map[string]CommandHandler),
	}
	r.registerCommands()
	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("signals> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		AutoComplete:      r.completer(),
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()
	r.rl = rl

	r.printWelcome()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		if err := r.processInput(line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
	}
}

// processInput processes a single line of input
func (r *REPL) processInput(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	handler, ok := r.commands[strings.ToLower(parts[0])]
	if !ok {
		return fmt.Errorf("unknown command %q (type 'help' for available commands)", parts[0])
	}
	return handler(parts[1:])
}

func (r *REPL) registerCommands() {
	r.commands["help"] = r.cmdHelp
	r.commands["?"] = r.cmdHelp
	r.commands["exit"] = r.cmdExit
	r.commands["quit"] = r.cmdExit
	r.commands["list"] = r.cmdList
	r.commands["ls"] = r.cmdList
	r.commands["unread"] = r.cmdUnread
	r.commands["count"] = r.cmdCount
	r.commands["show"] = r.cmdShow
	r.commands["read"] = r.cmdRead
	r.commands["resolve"] = r.cmdResolve
	r.commands["approve"] = r.cmdApprove
}

func (r *REPL) completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("list"),
		readline.PcItem("unread"),
		readline.PcItem("count"),
		readline.PcItem("show"),
		readline.PcItem("read"),
		readline.PcItem("resolve"),
		readline.PcItem("approve"),
		readline.PcItem("exit"),
	)
}

func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("Signals alert review"))
	if n, err := r.store.CountUnreadAlerts(r.ctx); err == nil {
		fmt.Fprintf(r.out, "%d unread alert(s)\n", n)
	}
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'exit' to quit")
	fmt.Fprintln(r.out)
}

func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Available Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{"list [n]", "Show unresolved alerts, newest first"},
		{"unread", "Show unread alerts"},
		{"count", "Show the unread alert count"},
		{"show <id>", "Show one alert with its AI suggestion and action"},
		{"read <id>", "Mark an alert as read"},
		{"resolve <id>", "Resolve an alert without acting on it"},
		{"approve <id>", "Execute the recommended action for an alert"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the shell"},
	}
	for _, c := range commands {
		fmt.Fprintf(r.out, "  %-14s %s\n", green(c.name), c.desc)
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Alert ids may be abbreviated to any unique prefix.")
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdExit(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s Goodbye!\n", green("✓"))
	return errExit
}
