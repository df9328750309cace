package detector

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/types"
)

var taskRefRegex = regexp.MustCompile(`(?i)\b([A-Z]{2,10}-\d+)\b`)

// ExtractLinkedTaskIDs returns the task references (e.g. SIG-123) in the
// PR title and body, upper-cased, deduplicated, in order of appearance.
func ExtractLinkedTaskIDs(pr *types.PRSnapshot) []string {
	text := pr.Title + "\n" + pr.Body
	seen := make(map[string]bool)
	var ids []string
	for _, m := range taskRefRegex.FindAllStringSubmatch(text, -1) {
		id := strings.ToUpper(m[1])
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// FindLinkedTasks returns the tasks matching any of ids, by title
// substring first and then by external id, deduplicated by internal id.
func FindLinkedTasks(ctx context.Context, index gateway.TaskIndex, ids []string) ([]*types.TaskSnapshot, error) {
	seen := make(map[string]bool)
	var tasks []*types.TaskSnapshot
	add := func(found []*types.TaskSnapshot) {
		for _, t := range found {
			if !seen[t.ID] {
				seen[t.ID] = true
				tasks = append(tasks, t)
			}
		}
	}

	for _, id := range ids {
		byTitle, err := index.FindTasksByTitleContaining(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up tasks titled %s: %w", id, err)
		}
		add(byTitle)

		byID, err := index.FindTasksByExternalID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up task %s: %w", id, err)
		}
		add(byID)
	}
	return tasks, nil
}

func (d *Detector) findTasks(ctx context.Context, ids []string) ([]*types.TaskSnapshot, error) {
	return FindLinkedTasks(ctx, d.tasks, ids)
}
