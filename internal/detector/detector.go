// Package detector compares pull requests with their linked tasks and
// raises alerts where the two disagree.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/signalspoc/signals/internal/alerts"
	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/types"
)

// Config tunes detection.
type Config struct {
	// StaleAfterDays is how many whole days a PR may stay open before it
	// is reported as stale.
	StaleAfterDays int
	// GatewayTimeout bounds each fetch and each PR's task lookups.
	GatewayTimeout time.Duration
}

// DefaultConfig returns the default detection settings.
func DefaultConfig() Config {
	return Config{StaleAfterDays: 7, GatewayTimeout: 30 * time.Second}
}

// Result summarizes one detection pass.
type Result struct {
	PullRequests int
	Created      int
	Existing     int
	Superseded   int
	Failed       int
}

func (r *Result) add(o Result) {
	r.Created += o.Created
	r.Existing += o.Existing
	r.Superseded += o.Superseded
}

// Detector is the rule engine. It only reads PR and task data; its only
// writes are alerts.
type Detector struct {
	source  gateway.PRSource
	tasks   gateway.TaskIndex
	manager *alerts.Manager
	cfg     Config
	now     func() time.Time
}

// New creates a detector.
func New(source gateway.PRSource, tasks gateway.TaskIndex, manager *alerts.Manager, cfg Config) *Detector {
	if cfg.StaleAfterDays <= 0 {
		cfg.StaleAfterDays = DefaultConfig().StaleAfterDays
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultConfig().GatewayTimeout
	}
	return &Detector{source: source, tasks: tasks, manager: manager, cfg: cfg, now: time.Now}
}

// RunOnce fetches pull requests and checks each one. A failure on one PR
// is logged and counted without stopping the others; only a failed fetch
// fails the pass.
func (d *Detector) RunOnce(ctx context.Context) (Result, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	prs, err := d.source.FetchPullRequests(fetchCtx)
	cancel()
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch pull requests: %w", err)
	}

	res := Result{PullRequests: len(prs)}
	for _, pr := range prs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		prRes, err := d.CheckPR(ctx, pr)
		res.add(prRes)
		if err != nil {
			res.Failed++
			slog.Warn("detection failed for pull request", "pr", pr.Number, "error", err)
		}
	}

	slog.Info("detection pass complete",
		"pull_requests", res.PullRequests,
		"created", res.Created,
		"existing", res.Existing,
		"superseded", res.Superseded,
		"failed", res.Failed)
	return res, nil
}

// CheckPR evaluates the rules for one pull request. Every rule runs even
// when raising an earlier alert failed; the first such error is returned.
func (d *Detector) CheckPR(ctx context.Context, pr *types.PRSnapshot) (Result, error) {
	var res Result

	if pr.IsClosedUnmerged() {
		n, err := d.manager.ResolveAlertsForSource(ctx, types.ConnectorGitHub, pr.SourceID())
		res.Superseded = n
		return res, err
	}

	ids := ExtractLinkedTaskIDs(pr)
	if len(ids) == 0 {
		msg := fmt.Sprintf("PR #%d '%s' does not reference any Asana or Linear task. "+
			"Consider adding a task reference (e.g., SIG-123) to the PR title or description.",
			pr.Number, pr.Title)
		err := d.raise(ctx, &res, alerts.Candidate{PR: pr, Alert: &types.Alert{
			Type:     types.AlertMissingLink,
			Severity: types.SeverityInfo,
			Title:    "PR has no linked task",
			Message:  msg,
		}})
		return res, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
	tasks, err := d.findTasks(lookupCtx, ids)
	cancel()
	if err != nil {
		return res, err
	}

	// A failed write is reported once the remaining rules have run.
	var firstErr error
	for _, task := range tasks {
		for _, c := range d.taskCandidates(pr, task) {
			if err := d.raise(ctx, &res, c); err != nil {
				slog.Warn("failed to raise alert", "pr", pr.Number, "task", task.ExternalID, "type", c.Alert.Type, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}

	if d.isStale(pr) {
		msg := fmt.Sprintf("PR #%d '%s' has been open for more than %d days. Linked tasks: %s. "+
			"Consider reviewing or closing this PR.",
			pr.Number, pr.Title, d.cfg.StaleAfterDays, strings.Join(ids, ", "))
		err := d.raise(ctx, &res, alerts.Candidate{PR: pr, Alert: &types.Alert{
			Type:         types.AlertStalePR,
			Severity:     types.SeverityWarning,
			Title:        "Stale pull request",
			Message:      msg,
			TargetSystem: types.ConnectorGitHub,
			TargetID:     pr.SourceID(),
			TargetURL:    pr.URL,
		}})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return res, firstErr
}

// taskCandidates applies the per-task status rules.
func (d *Detector) taskCandidates(pr *types.PRSnapshot, task *types.TaskSnapshot) []alerts.Candidate {
	inReview := task.IsInReview()
	done := task.IsDone()
	ready := pr.IsReady()

	var out []alerts.Candidate
	candidate := func(t types.AlertType, sev types.Severity, title, msg string) {
		out = append(out, alerts.Candidate{PR: pr, Task: task, Alert: &types.Alert{
			Type:         t,
			Severity:     sev,
			Title:        title,
			Message:      msg,
			TargetSystem: task.SourceSystem,
			TargetID:     task.ExternalID,
			TargetURL:    task.URL,
		}})
	}

	if pr.IsOpen() && !ready && !inReview {
		candidate(types.AlertPRReadyTaskNotUpdated, types.SeverityWarning,
			"PR opened but task not updated",
			fmt.Sprintf("PR #%d '%s' was opened but %s task '%s' is still '%s'. Update to 'In Review'.",
				pr.Number, pr.Title, task.SourceSystem, task.Title, task.Status))
	}
	if ready && !inReview && !done {
		candidate(types.AlertPRReadyTaskNotUpdated, types.SeverityWarning,
			"PR ready but task not updated",
			fmt.Sprintf("PR #%d '%s' is ready to merge but %s task '%s' status is '%s'.",
				pr.Number, pr.Title, task.SourceSystem, task.Title, task.Status))
	}
	if pr.Merged && !done {
		candidate(types.AlertPRMergedTaskOpen, types.SeverityCritical,
			"PR merged but task still open",
			fmt.Sprintf("PR #%d was merged but %s task '%s' is still '%s'. Mark as complete.",
				pr.Number, task.SourceSystem, task.Title, task.Status))
	}
	return out
}

// isStale reports whether an open PR is older than the threshold in whole
// days, so a PR exactly StaleAfterDays old is not yet stale.
func (d *Detector) isStale(pr *types.PRSnapshot) bool {
	if pr.State != types.PRStateOpen || pr.Merged || pr.CreatedAt.IsZero() {
		return false
	}
	days := int(d.now().Sub(pr.CreatedAt) / (24 * time.Hour))
	return days > d.cfg.StaleAfterDays
}

func (d *Detector) raise(ctx context.Context, res *Result, c alerts.Candidate) error {
	c.Alert.SourceSystem = types.ConnectorGitHub
	c.Alert.SourceID = c.PR.SourceID()
	c.Alert.SourceURL = c.PR.URL

	_, created, err := d.manager.CreateAlert(ctx, c)
	if err != nil {
		return err
	}
	if created {
		res.Created++
	} else {
		res.Existing++
	}
	return nil
}
