package dispatch

import (
	"context"
	"fmt"

	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/types"
)

const (
	defaultTaskComment = "Action required, please review."
	defaultPRComment   = "Action required, please review this PR."
	defaultApproval    = commentPrefix + "Approved by AI assistant"
	readyForReview     = commentPrefix + "PR is ready for review; task status should be updated to 'In Review'"
	staleReminder      = commentPrefix + "This PR has been flagged as stale (open > 7 days). Please review or close if no longer needed."
)

func (d *Dispatcher) executeRecommendation(ctx context.Context, alert *types.Alert, rec *types.ActionRecommendation) ActionResult {
	var result ActionResult
	switch a := rec.ActionType; {
	case a.TargetsPullRequest():
		result = d.executePRAction(ctx, alert, rec)
	case a == types.ActionCompleteTask, a == types.ActionUpdateTaskStatus, a == types.ActionAddComment:
		result = d.executeTaskAction(ctx, alert, rec)
	case a == types.ActionNoAction:
		result = ActionResult{
			Success:     true,
			ActionTaken: types.ActionNoAction,
			Description: "AI determined no action is needed",
		}
	case a == types.ActionManualReview:
		result = ActionResult{
			ActionTaken: types.ActionManualReview,
			Description: "AI recommends manual review: " + rec.Reasoning,
		}
	default:
		result = failure("Unsupported action type: %s", rec.ActionType)
	}
	result.AIReasoning = rec.Reasoning
	return result
}

func (d *Dispatcher) executeTaskAction(ctx context.Context, alert *types.Alert, rec *types.ActionRecommendation) ActionResult {
	platform := rec.TargetPlatform
	if platform == types.ConnectorNone {
		platform = alert.TargetSystem
	}
	taskID := rec.TargetEntityID
	if taskID == "" {
		taskID = alert.TargetID
	}
	if taskID == "" {
		return failure("Alert has no target task")
	}

	pm, err := d.registry.PM(platform)
	if err != nil {
		return failure("Target PM connector not available: %s", platform)
	}

	switch rec.ActionType {
	case types.ActionCompleteTask:
		if err := pm.CompleteTask(ctx, taskID); err != nil {
			return failure("Action failed: %v", err)
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionCompleteTask,
			Description: fmt.Sprintf("Marked %s task as complete", platform),
		}

	case types.ActionUpdateTaskStatus:
		status, ok := rec.Param("status")
		if !ok {
			status = "In Review"
		}
		if err := pm.UpdateStatus(ctx, taskID, status); err != nil {
			return failure("Action failed: %v", err)
		}
		if comment, ok := rec.Param("comment"); ok {
			if err := pm.AddComment(ctx, taskID, commentPrefix+comment); err != nil {
				return failure("Action failed: %v", err)
			}
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionUpdateTaskStatus,
			Description: fmt.Sprintf("Updated %s task status to '%s'", platform, status),
		}

	default: // ADD_COMMENT
		comment, ok := rec.Param("comment")
		if !ok {
			comment = defaultTaskComment
		}
		if err := pm.AddComment(ctx, taskID, commentPrefix+comment); err != nil {
			return failure("Action failed: %v", err)
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionAddComment,
			Description: fmt.Sprintf("Added comment to %s task", platform),
		}
	}
}

func (d *Dispatcher) executePRAction(ctx context.Context, alert *types.Alert, rec *types.ActionRecommendation) ActionResult {
	prGateway, err := d.registry.PR()
	if err != nil {
		return failure("GitHub connector not available")
	}
	pr, err := gateway.ParsePRURL(alert.SourceURL)
	if err != nil {
		return failure("Could not parse PR URL from alert")
	}

	switch rec.ActionType {
	case types.ActionAddPRComment:
		comment, ok := rec.Param("comment")
		if !ok {
			comment = defaultPRComment
		}
		if err := prGateway.AddComment(ctx, pr, commentPrefix+comment); err != nil {
			return failure("Action failed: %v", err)
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionAddPRComment,
			Description: "Added comment to GitHub PR",
		}

	case types.ActionUpdatePRLabels:
		raw, _ := rec.Param("labels")
		labels := splitLabels(raw)
		if err := prGateway.SetLabels(ctx, pr, labels); err != nil {
			return failure("Action failed: %v", err)
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionUpdatePRLabels,
			Description: fmt.Sprintf("Updated labels on GitHub PR: %v", labels),
		}

	default: // APPROVE_PR
		body, ok := rec.Param("body")
		if !ok {
			body = defaultApproval
		}
		if err := prGateway.Approve(ctx, pr, body); err != nil {
			return failure("Action failed: %v", err)
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionApprovePR,
			Description: fmt.Sprintf("Submitted APPROVED review on GitHub PR #%d", pr.Number),
		}
	}
}

// legacyDispatch picks the action from the alert type alone.
func (d *Dispatcher) legacyDispatch(ctx context.Context, alert *types.Alert) ActionResult {
	switch alert.Type {
	case types.AlertPRMergedTaskOpen:
		pm, err := d.registry.PM(alert.TargetSystem)
		if err != nil {
			return failure("Target PM connector not available: %s", alert.TargetSystem)
		}
		if err := pm.CompleteTask(ctx, alert.TargetID); err != nil {
			return failure("Action failed: %v", err)
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionCompleteTask,
			Description: fmt.Sprintf("Marked %s task as complete", alert.TargetSystem),
		}

	case types.AlertPRReadyTaskNotUpdated:
		pm, err := d.registry.PM(alert.TargetSystem)
		if err != nil {
			return failure("Target PM connector not available: %s", alert.TargetSystem)
		}
		if err := pm.UpdateStatus(ctx, alert.TargetID, "In Review"); err != nil {
			return failure("Action failed: %v", err)
		}
		if err := pm.AddComment(ctx, alert.TargetID, readyForReview); err != nil {
			return failure("Action failed: %v", err)
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionUpdateTaskStatus,
			Description: fmt.Sprintf("Updated %s task status to 'In Review'", alert.TargetSystem),
		}

	case types.AlertStalePR:
		prGateway, err := d.registry.PR()
		if err != nil {
			return failure("GitHub connector is not enabled, cannot comment on stale PR")
		}
		if alert.SourceURL == "" {
			return failure("Alert has no source URL, cannot locate PR")
		}
		pr, err := gateway.ParsePRURL(alert.SourceURL)
		if err != nil {
			return failure("Could not parse PR URL: %s", alert.SourceURL)
		}
		if err := prGateway.AddComment(ctx, pr, staleReminder); err != nil {
			return failure("Action failed: %v", err)
		}
		return ActionResult{
			Success:     true,
			ActionTaken: types.ActionAddPRComment,
			Description: "Added stale PR reminder comment to GitHub",
		}

	case types.AlertMissingLink:
		return failure("Missing link alerts require manual action: add a task reference to the PR")

	default:
		return failure("No automatic action available for alert type: %s", alert.Type)
	}
}
