package types

import (
	"fmt"
	"time"
)

// ConnectorType identifies an external system a record came from or an
// action is aimed at.
type ConnectorType string

const (
	ConnectorGitHub ConnectorType = "GITHUB"
	ConnectorAsana  ConnectorType = "ASANA"
	ConnectorLinear ConnectorType = "LINEAR"
	// ConnectorNone marks an alert with no target (e.g. MISSING_LINK)
	ConnectorNone ConnectorType = ""
)

// IsValid checks if the connector type value is valid
func (c ConnectorType) IsValid() bool {
	switch c {
	case ConnectorGitHub, ConnectorAsana, ConnectorLinear, ConnectorNone:
		return true
	}
	return false
}

// IsProjectManagement reports whether the connector is a task tracker
// rather than the source-control system.
func (c ConnectorType) IsProjectManagement() bool {
	return c == ConnectorAsana || c == ConnectorLinear
}

// AlertType is the closed set of discrepancies the system can raise.
type AlertType string

const (
	AlertPRReadyTaskNotUpdated AlertType = "PR_READY_TASK_NOT_UPDATED"
	AlertPRMergedTaskOpen      AlertType = "PR_MERGED_TASK_OPEN"
	AlertTaskCompletedNoPR     AlertType = "TASK_COMPLETED_NO_PR"
	AlertStalePR               AlertType = "STALE_PR"
	AlertMissingLink           AlertType = "MISSING_LINK"
	AlertStatusMismatch        AlertType = "STATUS_MISMATCH"
	AlertAssigneeMismatch      AlertType = "ASSIGNEE_MISMATCH"
)

// IsValid checks if the alert type value is valid
func (t AlertType) IsValid() bool {
	switch t {
	case AlertPRReadyTaskNotUpdated, AlertPRMergedTaskOpen, AlertTaskCompletedNoPR,
		AlertStalePR, AlertMissingLink, AlertStatusMismatch, AlertAssigneeMismatch:
		return true
	}
	return false
}

// ParseAlertType maps free text (usually model output) onto the closed
// enum. Unknown values fall back to STATUS_MISMATCH.
func ParseAlertType(s string) AlertType {
	t := AlertType(s)
	if t.IsValid() {
		return t
	}
	return AlertStatusMismatch
}

// Severity ranks how urgently an alert needs attention.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity maps free text onto the closed enum, defaulting to INFO.
func ParseSeverity(s string) Severity {
	sev := Severity(s)
	if sev.IsValid() {
		return sev
	}
	return SeverityInfo
}

// Alert is a persisted discrepancy between a pull request and a task.
//
// At most one unresolved alert exists per DedupKey. Resolved alerts drop
// out of dedup lookups, so the same condition can fire again later.
type Alert struct {
	ID           string        `json:"id"`
	Type         AlertType     `json:"alert_type"`
	Severity     Severity      `json:"severity"`
	Title        string        `json:"title"`
	Message      string        `json:"message"`
	AISuggestion *string       `json:"ai_suggestion,omitempty"`
	AIActionJSON *string       `json:"ai_action_json,omitempty"`
	SourceSystem ConnectorType `json:"source_system"`
	SourceID     string        `json:"source_id"`
	SourceURL    string        `json:"source_url,omitempty"`
	TargetSystem ConnectorType `json:"target_system,omitempty"`
	TargetID     string        `json:"target_id,omitempty"`
	TargetURL    string        `json:"target_url,omitempty"`
	IsRead       bool          `json:"is_read"`
	IsResolved   bool          `json:"is_resolved"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// DedupKey identifies "the same finding" for deduplication.
type DedupKey struct {
	SourceSystem ConnectorType
	SourceID     string
	TargetSystem ConnectorType
	TargetID     string
	Type         AlertType
}

// Key returns the alert's dedup key
func (a *Alert) Key() DedupKey {
	return DedupKey{
		SourceSystem: a.SourceSystem,
		SourceID:     a.SourceID,
		TargetSystem: a.TargetSystem,
		TargetID:     a.TargetID,
		Type:         a.Type,
	}
}

// IsEnriched reports whether the enrichment worker already stored a
// suggestion. An alert can carry an action recommendation without one
// when the model was unreachable; those are enriched again later.
func (a *Alert) IsEnriched() bool {
	return a.AISuggestion != nil
}

// Validate checks if the alert has valid field values
func (a *Alert) Validate() error {
	if len(a.Title) == 0 {
		return fmt.Errorf("title is required")
	}
	if len(a.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(a.Title))
	}
	if !a.Type.IsValid() {
		return fmt.Errorf("invalid alert type: %s", a.Type)
	}
	if !a.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", a.Severity)
	}
	if !a.SourceSystem.IsValid() || a.SourceSystem == ConnectorNone {
		return fmt.Errorf("invalid source system: %q", a.SourceSystem)
	}
	if a.SourceID == "" {
		return fmt.Errorf("source_id is required")
	}
	if !a.TargetSystem.IsValid() {
		return fmt.Errorf("invalid target system: %q", a.TargetSystem)
	}
	return nil
}

// AnalysisState records the content fingerprint of an entity pair the
// batch analyzer last evaluated.
type AnalysisState struct {
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	SourceSystem    string    `json:"source_system,omitempty"`
	ContentChecksum string    `json:"content_checksum"`
	LastAnalyzedAt  time.Time `json:"last_analyzed_at"`
}

// EntityTypePRTaskPair is the AnalysisState entity type for PR/task pairs.
const EntityTypePRTaskPair = "PR_TASK_PAIR"

// EnrichmentEvent asks the enrichment worker to enrich one alert. PR and
// Task are optional; without them the worker falls back to templates.
type EnrichmentEvent struct {
	AlertID  string
	Type     AlertType
	Severity Severity
	PR       *PRSnapshot
	Task     *TaskSnapshot
}
