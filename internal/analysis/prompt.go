package analysis

import (
	"fmt"
	"strings"
)

// batchPrompt asks the model to review a batch of pairs and answer with
// findings keyed by 1-based pair index.
func batchPrompt(pairs []Pair) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Signals background analysis: check these %d GitHub PR / task pair(s) for sync discrepancies.\n\n", len(pairs))
	b.WriteString("Look for:\n")
	b.WriteString("- STATUS_MISMATCH: task status does not reflect the PR state\n")
	b.WriteString("- ASSIGNEE_MISMATCH: PR author and task assignee look like different people\n")
	b.WriteString("- STALE_PR: PR open for a long time without progress\n")
	b.WriteString("- MISSING_LINK: the task does not look related to the PR\n\n")
	b.WriteString("Severity guide: CRITICAL = work shipped but tracking is wrong, WARNING = needs an update soon, INFO = minor.\n\n")

	for i, p := range pairs {
		fmt.Fprintf(&b, "Pair %d:\n", i+1)
		fmt.Fprintf(&b, "  PR #%d: %q (state=%s, merged=%t, draft=%t, author=%s)\n",
			p.PR.Number, p.PR.Title, p.PR.State, p.PR.Merged, p.PR.Draft, p.PR.Author)
		fmt.Fprintf(&b, "  Task [%s %s]: %q (status=%s, assignee=%s)\n",
			p.Task.SourceSystem, p.Task.ExternalID, p.Task.Title, p.Task.Status, p.Task.Assignee)
	}

	b.WriteString("\nRespond with JSON only:\n")
	b.WriteString(`{"findings":[{"pairIndex":1,"alertType":"STATUS_MISMATCH","severity":"WARNING","title":"...","message":"..."}]}`)
	b.WriteString("\nalertType is one of STATUS_MISMATCH, ASSIGNEE_MISMATCH, STALE_PR, MISSING_LINK. ")
	b.WriteString("severity is one of INFO, WARNING, CRITICAL.\n")
	b.WriteString(`If nothing is wrong, respond with {"findings": []}`)
	return b.String()
}

type finding struct {
	PairIndex int    `json:"pairIndex"`
	AlertType string `json:"alertType"`
	Severity  string `json:"severity"`
	Title     string `json:"title"`
	Message   string `json:"message"`
}

type batchResponse struct {
	Findings []finding `json:"findings"`
}
