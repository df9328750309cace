package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/signalspoc/signals/internal/types"
)

// Mutation is one write-back call captured by a DryRun gateway.
type Mutation struct {
	System types.ConnectorType
	Op     string
	Target string
	Value  string
	At     time.Time
}

// DryRun records and logs write-back calls instead of performing them.
// One DryRun can stand in for the PR host and every task tracker.
type DryRun struct {
	mu        sync.Mutex
	mutations []Mutation
}

// NewDryRun creates an empty recorder.
func NewDryRun() *DryRun {
	return &DryRun{}
}

// ForTracker returns a PMGateway view that tags mutations with system.
func (d *DryRun) ForTracker(system types.ConnectorType) PMGateway {
	return &dryRunPM{d: d, system: system}
}

// Mutations returns a copy of everything recorded so far.
func (d *DryRun) Mutations() []Mutation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Mutation, len(d.mutations))
	copy(out, d.mutations)
	return out
}

func (d *DryRun) record(m Mutation) {
	m.At = time.Now()
	d.mu.Lock()
	d.mutations = append(d.mutations, m)
	d.mu.Unlock()
	slog.Info("dry-run write-back", "system", m.System, "op", m.Op, "target", m.Target, "value", m.Value)
}

// AddComment implements PRGateway.
func (d *DryRun) AddComment(_ context.Context, pr PRRef, text string) error {
	d.record(Mutation{System: types.ConnectorGitHub, Op: "add_comment", Target: pr.String(), Value: text})
	return nil
}

// Approve implements PRGateway.
func (d *DryRun) Approve(_ context.Context, pr PRRef, body string) error {
	d.record(Mutation{System: types.ConnectorGitHub, Op: "approve", Target: pr.String(), Value: body})
	return nil
}

// SetLabels implements PRGateway.
func (d *DryRun) SetLabels(_ context.Context, pr PRRef, labels []string) error {
	d.record(Mutation{System: types.ConnectorGitHub, Op: "set_labels", Target: pr.String(), Value: strings.Join(labels, ",")})
	return nil
}

type dryRunPM struct {
	d      *DryRun
	system types.ConnectorType
}

func (p *dryRunPM) UpdateStatus(_ context.Context, taskID, status string) error {
	p.d.record(Mutation{System: p.system, Op: "update_status", Target: taskID, Value: status})
	return nil
}

func (p *dryRunPM) AddComment(_ context.Context, taskID, text string) error {
	p.d.record(Mutation{System: p.system, Op: "add_comment", Target: taskID, Value: text})
	return nil
}

func (p *dryRunPM) CompleteTask(_ context.Context, taskID string) error {
	p.d.record(Mutation{System: p.system, Op: "complete_task", Target: taskID})
	return nil
}
