// Package gateway defines the external systems the pipeline reads from and
// writes back to: the pull-request host and the task trackers.
package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/signalspoc/signals/internal/types"
)

// PRSource lists pull requests to check. Implementations return open PRs
// plus recently closed or merged ones, since merged PRs drive
// PR_MERGED_TASK_OPEN and closed ones supersede their alerts.
type PRSource interface {
	FetchPullRequests(ctx context.Context) ([]*types.PRSnapshot, error)
}

// TaskIndex looks up synced task snapshots.
type TaskIndex interface {
	FindTasksByExternalID(ctx context.Context, externalID string) ([]*types.TaskSnapshot, error)
	FindTasksByTitleContaining(ctx context.Context, fragment string) ([]*types.TaskSnapshot, error)
}

// PMGateway mutates tasks in one project-management system.
type PMGateway interface {
	UpdateStatus(ctx context.Context, taskID, status string) error
	AddComment(ctx context.Context, taskID, text string) error
	CompleteTask(ctx context.Context, taskID string) error
}

// PRGateway mutates pull requests on the source-control host.
type PRGateway interface {
	AddComment(ctx context.Context, pr PRRef, text string) error
	Approve(ctx context.Context, pr PRRef, body string) error
	SetLabels(ctx context.Context, pr PRRef, labels []string) error
}

// PRRef addresses a pull request.
type PRRef struct {
	Owner  string
	Repo   string
	Number int
}

func (r PRRef) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number)
}

var prURLRegex = regexp.MustCompile(`([^/]+)/([^/]+)/pull/(\d+)`)

// ParsePRURL extracts owner, repo and number from a PR web URL such as
// https://github.com/acme/api/pull/42.
func ParsePRURL(url string) (PRRef, error) {
	m := prURLRegex.FindStringSubmatch(url)
	if m == nil {
		return PRRef{}, fmt.Errorf("cannot parse pull request URL %q", url)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return PRRef{}, fmt.Errorf("invalid pull request number in %q: %w", url, err)
	}
	return PRRef{Owner: m[1], Repo: m[2], Number: n}, nil
}

// Registry maps connector types to their write-back gateways. It is built
// once at startup and passed to the components that need it.
type Registry struct {
	pr PRGateway
	pm map[types.ConnectorType]PMGateway
}

// NewRegistry creates a registry with the given PR gateway.
func NewRegistry(pr PRGateway) *Registry {
	return &Registry{pr: pr, pm: make(map[types.ConnectorType]PMGateway)}
}

// RegisterPM adds the gateway for a task tracker. It is not safe to call
// once the registry is in use.
func (r *Registry) RegisterPM(system types.ConnectorType, gw PMGateway) *Registry {
	r.pm[system] = gw
	return r
}

// PM returns the gateway for system.
func (r *Registry) PM(system types.ConnectorType) (PMGateway, error) {
	gw, ok := r.pm[system]
	if !ok {
		return nil, fmt.Errorf("no task gateway registered for %q", system)
	}
	return gw, nil
}

// PR returns the pull-request gateway.
func (r *Registry) PR() (PRGateway, error) {
	if r.pr == nil {
		return nil, fmt.Errorf("no pull request gateway registered")
	}
	return r.pr, nil
}
