// Package fixture reads pull requests and tasks from a YAML file so the
// pipeline can run without live connectors.
package fixture

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/types"
)

// File is the on-disk fixture layout.
type File struct {
	PullRequests []*types.PRSnapshot   `yaml:"pull_requests"`
	Tasks        []*types.TaskSnapshot `yaml:"tasks"`
}

// Load reads and validates a fixture file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixture file: %w", err)
	}
	return Parse(data)
}

// Parse decodes fixture YAML and fills defaulted fields.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture file: %w", err)
	}

	for i, pr := range f.PullRequests {
		if pr == nil || pr.Number <= 0 {
			return nil, fmt.Errorf("pull_requests[%d]: number is required", i)
		}
		if pr.ID == 0 {
			pr.ID = int64(pr.Number)
		}
		if pr.State == "" {
			pr.State = types.PRStateOpen
		}
		if pr.Merged {
			pr.State = types.PRStateClosed
		}
	}

	for i, task := range f.Tasks {
		if task == nil || task.ExternalID == "" {
			return nil, fmt.Errorf("tasks[%d]: external_id is required", i)
		}
		if !task.SourceSystem.IsProjectManagement() {
			return nil, fmt.Errorf("tasks[%d]: source_system must be ASANA or LINEAR (got %q)", i, task.SourceSystem)
		}
		if task.ID == "" {
			task.ID = string(task.SourceSystem) + ":" + task.ExternalID
		}
	}

	return &f, nil
}

// Source is a gateway.PRSource that rereads the fixture file on every
// fetch, so edits show up on the next detection tick.
type Source struct {
	path string
}

var _ gateway.PRSource = (*Source)(nil)

// NewSource creates a source for path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// FetchPullRequests implements gateway.PRSource.
func (s *Source) FetchPullRequests(ctx context.Context) ([]*types.PRSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	return f.PullRequests, nil
}

// Empty is a PRSource with nothing to report, used when no fixture file
// is configured.
type Empty struct{}

// FetchPullRequests implements gateway.PRSource.
func (Empty) FetchPullRequests(context.Context) ([]*types.PRSnapshot, error) {
	return nil, nil
}
