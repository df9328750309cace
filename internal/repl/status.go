package repl

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/signalspoc/signals/internal/types"
)

// PrintAlertTable writes a one-line-per-alert summary table.
func PrintAlertTable(w io.Writer, alerts []*types.Alert) {
	if len(alerts) == 0 {
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Fprintf(w, "%s No alerts\n", green("✓"))
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"ID", "Severity", "Type", "Title", "Source", "AI", "Age"})
	for _, a := range alerts {
		id := ShortID(a.ID)
		if !a.IsRead {
			id = "*" + id
		}
		ai := "-"
		if a.IsEnriched() {
			ai = "yes"
		}
		tw.AppendRow(table.Row{
			id,
			SeverityLabel(a.Severity),
			string(a.Type),
			truncate(a.Title, 48),
			fmt.Sprintf("%s %s", a.SourceSystem, a.SourceID),
			ai,
			formatAge(time.Since(a.CreatedAt)),
		})
	}
	tw.Render()
}

// PrintAlert writes the full detail of one alert.
func PrintAlert(w io.Writer, a *types.Alert) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Fprintf(w, "\n%s %s\n", cyan(a.Title), gray(a.ID))
	fmt.Fprintf(w, "  Type:     %s\n", a.Type)
	fmt.Fprintf(w, "  Severity: %s\n", SeverityLabel(a.Severity))
	fmt.Fprintf(w, "  Source:   %s %s", a.SourceSystem, a.SourceID)
	if a.SourceURL != "" {
		fmt.Fprintf(w, " (%s)", a.SourceURL)
	}
	fmt.Fprintln(w)
	if a.TargetSystem != types.ConnectorNone {
		fmt.Fprintf(w, "  Target:   %s %s", a.TargetSystem, a.TargetID)
		if a.TargetURL != "" {
			fmt.Fprintf(w, " (%s)", a.TargetURL)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "  Created:  %s\n", a.CreatedAt.Local().Format("2006-01-02 15:04:05"))

	state := "unread"
	if a.IsRead {
		state = "read"
	}
	if a.IsResolved {
		state = "resolved"
		if a.ResolvedAt != nil {
			state += " " + a.ResolvedAt.Local().Format("2006-01-02 15:04:05")
		}
	}
	fmt.Fprintf(w, "  State:    %s\n", state)

	if a.Message != "" {
		fmt.Fprintf(w, "\n  %s\n", a.Message)
	}

	if !a.IsEnriched() {
		fmt.Fprintf(w, "\n  %s\n", gray("Not yet enriched"))
		return
	}
	if s := strings.TrimSpace(*a.AISuggestion); s != "" {
		fmt.Fprintf(w, "\n  %s %s\n", cyan("Suggestion:"), s)
	}
	if a.AIActionJSON != nil {
		rec, err := types.ParseActionRecommendation(*a.AIActionJSON)
		if err != nil {
			fmt.Fprintf(w, "  %s %s\n", cyan("Action:"), gray("unreadable, rule-based dispatch will be used"))
			return
		}
		fmt.Fprintf(w, "  %s %s", cyan("Action:"), rec.ActionType)
		if rec.TargetPlatform != types.ConnectorNone {
			fmt.Fprintf(w, " on %s %s", rec.TargetPlatform, rec.TargetEntityID)
		}
		fmt.Fprintf(w, " (confidence %.0f%%)\n", rec.Confidence*100)
		if rec.Reasoning != "" {
			fmt.Fprintf(w, "          %s\n", rec.Reasoning)
		}
	}
}

// SeverityLabel colors a severity for terminal output.
func SeverityLabel(s types.Severity) string {
	switch s {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint(string(s))
	case types.SeverityWarning:
		return color.New(color.FgYellow).Sprint(string(s))
	default:
		return color.New(color.FgCyan).Sprint(string(s))
	}
}

// ShortID returns the first eight characters of an alert id.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}
