package types

import (
	"encoding/json"
	"fmt"
)

// ActionType is the closed set of remediations a recommendation can name.
type ActionType string

const (
	ActionUpdateTaskStatus ActionType = "UPDATE_TASK_STATUS"
	ActionCompleteTask     ActionType = "COMPLETE_TASK"
	ActionAddComment       ActionType = "ADD_COMMENT"
	ActionAddPRComment     ActionType = "ADD_PR_COMMENT"
	ActionUpdatePRLabels   ActionType = "UPDATE_PR_LABELS"
	ActionApprovePR        ActionType = "APPROVE_PR"
	ActionNoAction         ActionType = "NO_ACTION"
	ActionManualReview     ActionType = "MANUAL_REVIEW"
)

// IsValid checks if the action type value is valid
func (a ActionType) IsValid() bool {
	switch a {
	case ActionUpdateTaskStatus, ActionCompleteTask, ActionAddComment, ActionAddPRComment,
		ActionUpdatePRLabels, ActionApprovePR, ActionNoAction, ActionManualReview:
		return true
	}
	return false
}

// TargetsPullRequest reports whether the action is executed against the
// PR gateway rather than a task tracker.
func (a ActionType) TargetsPullRequest() bool {
	switch a {
	case ActionAddPRComment, ActionUpdatePRLabels, ActionApprovePR:
		return true
	}
	return false
}

// ActionRecommendation is a structured remediation for one alert, either
// parsed from model output or synthesized from a template.
type ActionRecommendation struct {
	ActionType     ActionType        `json:"actionType"`
	TargetPlatform ConnectorType     `json:"targetPlatform,omitempty"`
	TargetEntityID string            `json:"targetEntityId,omitempty"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	Reasoning      string            `json:"reasoning,omitempty"`
	Confidence     float64           `json:"confidence"`
}

// Param returns a parameter value and whether it was present and non-empty.
func (r *ActionRecommendation) Param(key string) (string, bool) {
	if r.Parameters == nil {
		return "", false
	}
	v, ok := r.Parameters[key]
	return v, ok && v != ""
}

// Validate checks the recommendation is executable: a known action type,
// a known (or empty) platform and a confidence in [0,1].
func (r *ActionRecommendation) Validate() error {
	if r.ActionType == "" {
		return fmt.Errorf("action type is required")
	}
	if !r.ActionType.IsValid() {
		return fmt.Errorf("invalid action type: %s", r.ActionType)
	}
	if !r.TargetPlatform.IsValid() {
		return fmt.Errorf("invalid target platform: %s", r.TargetPlatform)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1 (got %.2f)", r.Confidence)
	}
	return nil
}

// Marshal serializes the recommendation for storage on an alert.
func (r *ActionRecommendation) Marshal() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal action recommendation: %w", err)
	}
	return string(data), nil
}

// ParseActionRecommendation decodes a stored recommendation and validates
// it. Any error means callers should use rule-based dispatch instead.
func ParseActionRecommendation(data string) (*ActionRecommendation, error) {
	var rec ActionRecommendation
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("failed to parse action recommendation: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
