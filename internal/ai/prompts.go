package ai

import (
	"fmt"
	"strings"

	"github.com/signalspoc/signals/internal/types"
)

// SystemPreamble gives the model product context. Models built from the
// product Modelfile have it baked in and do not receive it per call.
const SystemPreamble = `You are the AI monitoring engine for Signals, a platform that synchronizes GitHub pull requests with Asana and Linear project tasks.

Alert types: PR_READY_TASK_NOT_UPDATED (PR open but task not in review), PR_MERGED_TASK_OPEN (PR merged but task still open), STALE_PR (7+ days open), STATUS_MISMATCH, ASSIGNEE_MISMATCH, MISSING_LINK.

Asana statuses: In Progress, In Review, Complete, Blocked. Linear statuses: In Progress, In Review, Done, Cancelled, Backlog.

For JSON responses, output only valid JSON with no surrounding text or markdown.`

const actionReference = `
Choose one action:
  UPDATE_TASK_STATUS  move Asana/Linear task to a new status
    Asana statuses: In Progress, In Review, Complete, Blocked
    Linear statuses: In Progress, In Review, Done, Cancelled, Backlog
    parameters: {"status": "<new status>", "comment": "<PR URL or context>"}
  COMPLETE_TASK       mark Asana/Linear task as done; parameters: {}
  ADD_COMMENT         add comment to Asana/Linear task; parameters: {"comment": "<text>"}
  ADD_PR_COMMENT      post comment on GitHub PR; parameters: {"comment": "<text>"}
  UPDATE_PR_LABELS    set GitHub PR labels; parameters: {"labels": "<comma-separated>"}
  APPROVE_PR          submit GitHub approved review (only if PR is ready and checks pass)
                      parameters: {"body": "<review message>"}
  NO_ACTION           no automated action needed; parameters: {}
  MANUAL_REVIEW       human decision required; parameters: {}
`

// SuggestionPrompt asks for a short natural-language remediation.
func SuggestionPrompt(ev types.EnrichmentEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Signals detected a %s-severity sync discrepancy: %s.\n\n", ev.Severity, ev.Type)

	if pr := ev.PR; pr != nil {
		fmt.Fprintf(&b, "GitHub PR #%d: %q\n", pr.Number, pr.Title)
		fmt.Fprintf(&b, "  state=%s, draft=%t, merged=%t", pr.State, pr.Draft, pr.Merged)
		if pr.Author != "" {
			fmt.Fprintf(&b, ", author=%s", pr.Author)
		}
		if pr.Branch != "" {
			fmt.Fprintf(&b, ", branch=%s", pr.Branch)
		}
		b.WriteString("\n")
	}

	if task := ev.Task; task != nil {
		fmt.Fprintf(&b, "Linked %s task: %q\n", task.SourceSystem, task.Title)
		fmt.Fprintf(&b, "  status=%s", task.Status)
		if task.Assignee != "" {
			fmt.Fprintf(&b, ", assignee=%s", task.Assignee)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nIn 2-3 sentences, describe the exact action to take: which platform to update, " +
		"what status to set, and why. Be specific.")
	return b.String()
}

// ActionPrompt asks for a single ActionRecommendation as JSON. The action
// reference is left out when the model has the system prompt baked in.
func ActionPrompt(ev types.EnrichmentEvent, baked bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Signals alert: type %s, severity %s\n\n", ev.Type, ev.Severity)

	if pr := ev.PR; pr != nil {
		fmt.Fprintf(&b, "GitHub PR #%d: %q\n", pr.Number, pr.Title)
		fmt.Fprintf(&b, "  state=%s, draft=%t, merged=%t", pr.State, pr.Draft, pr.Merged)
		if pr.Author != "" {
			fmt.Fprintf(&b, ", author=%s", pr.Author)
		}
		b.WriteString("\n")
	}

	if task := ev.Task; task != nil {
		fmt.Fprintf(&b, "Linked %s task (id=%s): %q\n", task.SourceSystem, task.ExternalID, task.Title)
		fmt.Fprintf(&b, "  status=%s", task.Status)
		if task.Assignee != "" {
			fmt.Fprintf(&b, ", assignee=%s", task.Assignee)
		}
		b.WriteString("\n")
	}

	if !baked {
		b.WriteString(actionReference)
		b.WriteString("\n")
	}

	b.WriteString("Example (PR_MERGED_TASK_OPEN on Asana task 98765):\n")
	b.WriteString(`{"actionType":"COMPLETE_TASK","targetPlatform":"ASANA","targetEntityId":"98765",`)
	b.WriteString(`"parameters":{},"reasoning":"PR merged; marking linked Asana task complete.","confidence":0.95}` + "\n\n")
	b.WriteString("Now output JSON only for the current alert:")
	return b.String()
}
