// Package gatewaytest provides recording gateway fakes for tests.
package gatewaytest

import (
	"context"
	"strings"
	"sync"

	"github.com/signalspoc/signals/internal/gateway"
	"github.com/signalspoc/signals/internal/types"
)

// Call is one recorded gateway invocation.
type Call struct {
	Op     string
	Target string
	Value  string
}

// Recorder records calls and fails the operations listed in Errors.
// Keys of Errors are operation names such as "complete_task".
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	Errors map[string]error
}

func (r *Recorder) record(op, target, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: op, Target: target, Value: value})
	return r.Errors[op]
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Ops returns the operation names in call order.
func (r *Recorder) Ops() []string {
	var ops []string
	for _, c := range r.Calls() {
		ops = append(ops, c.Op)
	}
	return ops
}

// PM is a recording gateway.PMGateway.
type PM struct{ Recorder }

var _ gateway.PMGateway = (*PM)(nil)

func (p *PM) UpdateStatus(_ context.Context, taskID, status string) error {
	return p.record("update_status", taskID, status)
}

func (p *PM) AddComment(_ context.Context, taskID, text string) error {
	return p.record("add_comment", taskID, text)
}

func (p *PM) CompleteTask(_ context.Context, taskID string) error {
	return p.record("complete_task", taskID, "")
}

// PR is a recording gateway.PRGateway.
type PR struct{ Recorder }

var _ gateway.PRGateway = (*PR)(nil)

func (p *PR) AddComment(_ context.Context, pr gateway.PRRef, text string) error {
	return p.record("add_comment", pr.String(), text)
}

func (p *PR) Approve(_ context.Context, pr gateway.PRRef, body string) error {
	return p.record("approve", pr.String(), body)
}

func (p *PR) SetLabels(_ context.Context, pr gateway.PRRef, labels []string) error {
	return p.record("set_labels", pr.String(), strings.Join(labels, ","))
}

// PRSource is a static gateway.PRSource.
type PRSource struct {
	mu  sync.Mutex
	PRs []*types.PRSnapshot
	Err error
}

var _ gateway.PRSource = (*PRSource)(nil)

// FetchPullRequests implements gateway.PRSource.
func (s *PRSource) FetchPullRequests(context.Context) ([]*types.PRSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	return s.PRs, nil
}

// Set replaces the PRs returned by later fetches.
func (s *PRSource) Set(prs ...*types.PRSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PRs = prs
}
