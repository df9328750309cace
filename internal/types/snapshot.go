package types

import (
	"strconv"
	"strings"
	"time"
)

// PRState is the lifecycle state reported by the source-control system.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
)

// PRSnapshot is a read-only view of a pull request as fetched.
type PRSnapshot struct {
	ID             int64     `json:"id" yaml:"id"`
	Number         int       `json:"number" yaml:"number"`
	Title          string    `json:"title" yaml:"title"`
	Body           string    `json:"body,omitempty" yaml:"body"`
	State          PRState   `json:"state" yaml:"state"`
	Draft          bool      `json:"draft" yaml:"draft"`
	Merged         bool      `json:"merged" yaml:"merged"`
	MergeableState string    `json:"mergeable_state,omitempty" yaml:"mergeable_state"`
	Author         string    `json:"author,omitempty" yaml:"author"`
	Branch         string    `json:"branch,omitempty" yaml:"branch"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
	URL            string    `json:"html_url" yaml:"url"`
}

// SourceID is the identifier alerts use to refer back to the PR.
func (p *PRSnapshot) SourceID() string {
	return strconv.FormatInt(p.ID, 10)
}

// IsOpen reports whether the PR is open and not a draft.
func (p *PRSnapshot) IsOpen() bool {
	return p.State == PRStateOpen && !p.Draft
}

// IsReady reports whether the PR is ready to merge: not a draft and the
// host reports a clean or unstable mergeable state.
func (p *PRSnapshot) IsReady() bool {
	if p.Draft {
		return false
	}
	return p.MergeableState == "clean" || p.MergeableState == "unstable"
}

// IsClosedUnmerged reports whether the PR was closed without merging.
func (p *PRSnapshot) IsClosedUnmerged() bool {
	return p.State == PRStateClosed && !p.Merged
}

// TaskSnapshot is a read-only view of a task in a project-management
// system.
type TaskSnapshot struct {
	ID                 string        `json:"id" yaml:"id"`
	ExternalID         string        `json:"external_id" yaml:"external_id"`
	SourceSystem       ConnectorType `json:"source_system" yaml:"source_system"`
	Title              string        `json:"title" yaml:"title"`
	Status             string        `json:"status" yaml:"status"`
	Assignee           string        `json:"assignee,omitempty" yaml:"assignee"`
	DueDate            *time.Time    `json:"due_date,omitempty" yaml:"due_date"`
	ExternalModifiedAt time.Time     `json:"external_modified_at" yaml:"modified_at"`
	URL                string        `json:"url,omitempty" yaml:"url"`
}

// IsInReview reports whether the status reads as "in review".
//
// Status matching is a case-insensitive keyword heuristic, so platform
// names such as "Preview" or "Not Done" are misclassified.
func (t *TaskSnapshot) IsInReview() bool {
	return strings.Contains(strings.ToLower(t.Status), "review")
}

// IsDone reports whether the status reads as finished.
func (t *TaskSnapshot) IsDone() bool {
	s := strings.ToLower(t.Status)
	return strings.Contains(s, "done") || strings.Contains(s, "complete") || strings.Contains(s, "closed")
}
