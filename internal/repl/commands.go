package repl

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/signalspoc/signals/internal/types"
)

const defaultListLimit = 20

func (r *REPL) cmdList(args []string) error {
	limit := defaultListLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid limit %q", args[0])
		}
		limit = n
	}
	alerts, err := r.store.ListUnresolvedAlerts(r.ctx, limit)
	if err != nil {
		return err
	}
	PrintAlertTable(r.out, alerts)
	return nil
}

func (r *REPL) cmdUnread(args []string) error {
	alerts, err := r.store.ListUnreadAlerts(r.ctx)
	if err != nil {
		return err
	}
	PrintAlertTable(r.out, alerts)
	return nil
}

func (r *REPL) cmdCount(args []string) error {
	n, err := r.store.CountUnreadAlerts(r.ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%d unread alert(s)\n", n)
	return nil
}

func (r *REPL) cmdShow(args []string) error {
	alert, err := r.lookup(args)
	if err != nil {
		return err
	}
	PrintAlert(r.out, alert)
	fmt.Fprintln(r.out)
	return nil
}

func (r *REPL) cmdRead(args []string) error {
	alert, err := r.lookup(args)
	if err != nil {
		return err
	}
	if err := r.lifecycle.MarkAsRead(r.ctx, alert.ID); err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "%s Marked %s as read\n", green("✓"), ShortID(alert.ID))
	return nil
}

func (r *REPL) cmdResolve(args []string) error {
	alert, err := r.lookup(args)
	if err != nil {
		return err
	}
	changed, err := r.lifecycle.Resolve(r.ctx, alert.ID)
	if err != nil {
		return err
	}
	green := color.New(color.FgGreen).SprintFunc()
	if !changed {
		fmt.Fprintf(r.out, "%s %s was already resolved\n", green("✓"), ShortID(alert.ID))
		return nil
	}
	fmt.Fprintf(r.out, "%s Resolved %s\n", green("✓"), ShortID(alert.ID))
	return nil
}

func (r *REPL) cmdApprove(args []string) error {
	alert, err := r.lookup(args)
	if err != nil {
		return err
	}
	result, err := r.actions.ExecuteAction(r.ctx, alert.ID)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	if !result.Success {
		fmt.Fprintf(r.out, "%s %s\n", red("✗"), result.Description)
		return nil
	}
	source := "rule-based"
	if result.FromRecommendation {
		source = "AI recommendation"
	}
	fmt.Fprintf(r.out, "%s %s (%s, %s)\n", green("✓"), result.Description, result.ActionTaken, source)
	if result.AIReasoning != "" {
		fmt.Fprintf(r.out, "  %s\n", result.AIReasoning)
	}
	return nil
}

// lookup finds the alert named by args[0], which may be a unique prefix
// of an unresolved alert's id.
func (r *REPL) lookup(args []string) (*types.Alert, error) {
	if len(args) == 0 {
		return nil, errors.New("alert id required")
	}
	id := args[0]

	if alert, err := r.store.GetAlert(r.ctx, id); err == nil {
		return alert, nil
	}

	open, err := r.store.ListUnresolvedAlerts(r.ctx, 0)
	if err != nil {
		return nil, err
	}
	var matches []*types.Alert
	for _, a := range open {
		if strings.HasPrefix(a.ID, id) {
			matches = append(matches, a)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no alert matches %q", id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q is ambiguous (%d alerts match)", id, len(matches))
	}
}
