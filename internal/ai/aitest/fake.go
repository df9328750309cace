// Package aitest provides a scripted ai.Gateway for tests.
package aitest

import (
	"context"
	"strings"
	"sync"

	"github.com/signalspoc/signals/internal/ai"
)

// Call records one request made to a Fake.
type Call struct {
	JSON   bool
	Prompt string
}

// Fake is an ai.Gateway whose answers are scripted by the test.
//
// TextFunc and JSONFunc take precedence over Text and JSON. Err, when set,
// is returned from every call.
type Fake struct {
	mu sync.Mutex

	Text     string
	JSON     string
	Err      error
	TextFunc func(prompt string) (string, error)
	JSONFunc func(prompt string) (string, error)

	calls []Call
}

var _ ai.Gateway = (*Fake)(nil)

// GenerateText implements ai.Gateway.
func (f *Fake) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.record(Call{Prompt: prompt})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Err != nil {
		return "", f.Err
	}
	if f.TextFunc != nil {
		return f.TextFunc(prompt)
	}
	return f.Text, nil
}

// GenerateJSON implements ai.Gateway.
func (f *Fake) GenerateJSON(ctx context.Context, prompt string, _ int) (string, error) {
	f.record(Call{JSON: true, Prompt: prompt})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.Err != nil {
		return "", f.Err
	}
	if f.JSONFunc != nil {
		return f.JSONFunc(prompt)
	}
	return f.JSON, nil
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallCount returns the number of calls made so far.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// CallsContaining counts calls whose prompt contains substr.
func (f *Fake) CallsContaining(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.Prompt, substr) {
			n++
		}
	}
	return n
}
