package ai

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	calls atomic.Int32
	err   error
	text  string
}

func (s *stubBackend) GenerateText(ctx context.Context, _ string) (string, error) {
	s.calls.Add(1)
	return s.text, s.err
}

func (s *stubBackend) GenerateJSON(ctx context.Context, _ string, _ int) (string, error) {
	s.calls.Add(1)
	return s.text, s.err
}

func testGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:               time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      3,
		SuccessThreshold:      1,
		OpenTimeout:           time.Minute,
		MaxConcurrentCalls:    1,
	}
}

func TestCircuitBreakerTransitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(3, 1, time.Minute)
	cb.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
		require.NoError(t, cb.Allow())
	}
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	now = now.Add(61 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, CircuitHalfOpen, cb.GetState())

	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.GetState())

	now = now.Add(61 * time.Second)
	require.NoError(t, cb.Allow())
	cb.RecordSuccess()
	assert.Equal(t, CircuitClosed, cb.GetState())

	_, failures, _ := cb.GetMetrics()
	assert.Zero(t, failures)
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.GetState())
}

func TestGuardOpensOnTransientFailures(t *testing.T) {
	backend := &stubBackend{err: fmt.Errorf("%w: connection refused", ErrUnavailable)}
	g := NewGuard(backend, testGuardConfig())

	for i := 0; i < 3; i++ {
		_, err := g.GenerateText(context.Background(), "x")
		require.ErrorIs(t, err, ErrUnavailable)
	}
	assert.Equal(t, CircuitOpen, g.CircuitState())

	_, err := g.GenerateJSON(context.Background(), "x", 10)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(3), backend.calls.Load(), "open circuit must not reach the backend")
}

func TestGuardIgnoresPermanentFailures(t *testing.T) {
	backend := &stubBackend{err: errors.New("ollama: model not found")}
	g := NewGuard(backend, testGuardConfig())

	for i := 0; i < 5; i++ {
		_, err := g.GenerateText(context.Background(), "x")
		require.Error(t, err)
	}
	assert.Equal(t, CircuitClosed, g.CircuitState())
	assert.Equal(t, int32(5), backend.calls.Load())
}

func TestGuardDoesNotRetry(t *testing.T) {
	backend := &stubBackend{err: ErrUnavailable}
	g := NewGuard(backend, testGuardConfig())

	_, err := g.GenerateText(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestGuardAppliesTimeout(t *testing.T) {
	cfg := testGuardConfig()
	cfg.Timeout = 20 * time.Millisecond
	g := NewGuard(blockingBackend{}, cfg)

	start := time.Now()
	_, err := g.GenerateText(context.Background(), "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

type blockingBackend struct{}

func (blockingBackend) GenerateText(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingBackend) GenerateJSON(ctx context.Context, _ string, _ int) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrUnavailable, true},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{errors.New("HTTP 429 Too Many Requests"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isTransientError(tt.err), "%v", tt.err)
	}
}
