package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/signalspoc/signals/internal/types"
)

// SuggestionService turns an enrichment event into a suggestion and an
// action recommendation.
type SuggestionService struct {
	gateway   Gateway
	baked     bool
	maxTokens int
}

// NewSuggestionService creates a service. maxTokens bounds the
// recommendation JSON; baked drops the action reference from prompts.
func NewSuggestionService(gateway Gateway, baked bool, maxTokens int) *SuggestionService {
	return &SuggestionService{gateway: gateway, baked: baked, maxTokens: maxTokens}
}

// GenerateSuggestion returns the model's remediation text. An error or an
// empty answer means no suggestion.
func (s *SuggestionService) GenerateSuggestion(ctx context.Context, ev types.EnrichmentEvent) (string, error) {
	text, err := s.gateway.GenerateText(ctx, SuggestionPrompt(ev))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty suggestion from model")
	}
	return text, nil
}

// RecommendAction asks the model for a recommendation and falls back to
// TemplateRecommendation when the call fails or the answer does not parse
// into a valid recommendation. The bool reports whether the model's
// answer was used.
func (s *SuggestionService) RecommendAction(ctx context.Context, ev types.EnrichmentEvent) (*types.ActionRecommendation, bool) {
	raw, err := s.gateway.GenerateJSON(ctx, ActionPrompt(ev, s.baked), s.maxTokens)
	if err != nil {
		slog.Warn("AI action recommendation failed, using template fallback",
			"alert_id", ev.AlertID, "error", err)
		return TemplateRecommendation(ev), false
	}

	parsed := Parse[types.ActionRecommendation](raw, ParseOptions{Context: "action recommendation"})
	if !parsed.Success {
		slog.Warn("unparseable action recommendation, using template fallback",
			"alert_id", ev.AlertID, "error", parsed.Error)
		return TemplateRecommendation(ev), false
	}

	rec := parsed.Data
	if err := rec.Validate(); err != nil {
		slog.Warn("invalid action recommendation, using template fallback",
			"alert_id", ev.AlertID, "error", err)
		return TemplateRecommendation(ev), false
	}

	slog.Debug("AI generated action recommendation",
		"alert_id", ev.AlertID, "action", rec.ActionType, "confidence", rec.Confidence)
	return &rec, true
}

// TemplateRecommendation is the deterministic recommendation for an alert
// type, used when the model cannot provide one.
func TemplateRecommendation(ev types.EnrichmentEvent) *types.ActionRecommendation {
	var platform types.ConnectorType
	var taskID string
	if ev.Task != nil {
		platform = ev.Task.SourceSystem
		taskID = ev.Task.ExternalID
	}

	switch ev.Type {
	case types.AlertPRMergedTaskOpen:
		return &types.ActionRecommendation{
			ActionType:     types.ActionCompleteTask,
			TargetPlatform: platform,
			TargetEntityID: taskID,
			Parameters:     map[string]string{},
			Reasoning:      "PR has been merged but the linked task is still open. Auto-completing the task.",
			Confidence:     0.9,
		}
	case types.AlertPRReadyTaskNotUpdated:
		params := map[string]string{"status": "In Review"}
		if ev.PR != nil {
			params["comment"] = fmt.Sprintf("PR #%d opened: %s", ev.PR.Number, ev.PR.URL)
		}
		return &types.ActionRecommendation{
			ActionType:     types.ActionUpdateTaskStatus,
			TargetPlatform: platform,
			TargetEntityID: taskID,
			Parameters:     params,
			Reasoning:      "PR is open but task status has not been updated to 'In Review'.",
			Confidence:     0.85,
		}
	case types.AlertStalePR:
		var prID string
		if ev.PR != nil {
			prID = strconv.Itoa(ev.PR.Number)
		}
		return &types.ActionRecommendation{
			ActionType:     types.ActionAddPRComment,
			TargetPlatform: types.ConnectorGitHub,
			TargetEntityID: prID,
			Parameters: map[string]string{
				"comment": "This PR has been open for more than 7 days. Please review or close if no longer needed.",
			},
			Reasoning:  "PR is stale and needs attention.",
			Confidence: 0.8,
		}
	default:
		return &types.ActionRecommendation{
			ActionType:     types.ActionManualReview,
			TargetPlatform: platform,
			TargetEntityID: taskID,
			Parameters:     map[string]string{},
			Reasoning:      "This alert type requires manual review.",
			Confidence:     0.5,
		}
	}
}
