package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// GuardConfig tunes the protections wrapped around an inference backend.
type GuardConfig struct {
	Timeout time.Duration // Per-call timeout (default: 30s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 3)
	SuccessThreshold      int           // Successes in half-open before closing (default: 1)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 2m)

	// MaxConcurrentCalls bounds in-flight calls. The local model serves one
	// request at a time, so the default is 1.
	MaxConcurrentCalls int

	RequestsPerMinute int // 0 = unlimited
}

// DefaultGuardConfig derives guard settings from the gateway config.
func DefaultGuardConfig(cfg Config) GuardConfig {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return GuardConfig{
		Timeout:               timeout,
		CircuitBreakerEnabled: true,
		FailureThreshold:      3,
		SuccessThreshold:      1,
		OpenTimeout:           2 * time.Minute,
		MaxConcurrentCalls:    1,
		RequestsPerMinute:     cfg.RequestsPerMinute,
	}
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calls to a backend that keeps failing so a dead
// model fails fast instead of holding the enrichment queue on timeouts.
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
	}
}

// Allow returns ErrCircuitOpen while the circuit is open and the open
// timeout has not elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure in half-open immediately opens the circuit
		cb.transition(CircuitOpen)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns current metrics (for monitoring/logging)
func (cb *CircuitBreaker) GetMetrics() (state CircuitState, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.successCount
}

// transition must be called with lock held
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	slog.Info("circuit breaker state transition",
		"from", from.String(), "to", to.String(),
		"failures", cb.failureCount, "open_timeout", cb.openTimeout)
}

// Guard wraps a Gateway with a concurrency limit, request pacing, a
// per-call timeout and a circuit breaker. It never retries: a failed call
// is reported to the caller, and periodic work tries again on its next
// tick.
type Guard struct {
	backend        Gateway
	timeout        time.Duration
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter
}

// NewGuard wraps backend.
func NewGuard(backend Gateway, cfg GuardConfig) *Guard {
	g := &Guard{backend: backend, timeout: cfg.Timeout}

	if cfg.CircuitBreakerEnabled {
		g.circuitBreaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout)
	}
	if cfg.MaxConcurrentCalls > 0 {
		g.concurrencySem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}
	if cfg.RequestsPerMinute > 0 {
		g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return g
}

// GenerateText implements Gateway.
func (g *Guard) GenerateText(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.do(ctx, "generate_text", func(callCtx context.Context) error {
		var err error
		out, err = g.backend.GenerateText(callCtx, prompt)
		return err
	})
	return out, err
}

// GenerateJSON implements Gateway.
func (g *Guard) GenerateJSON(ctx context.Context, prompt string, maxTokens int) (string, error) {
	var out string
	err := g.do(ctx, "generate_json", func(callCtx context.Context) error {
		var err error
		out, err = g.backend.GenerateJSON(callCtx, prompt, maxTokens)
		return err
	})
	return out, err
}

// Ping forwards to the backend when it supports it.
func (g *Guard) Ping(ctx context.Context) error {
	p, ok := g.backend.(Pinger)
	if !ok {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return p.Ping(callCtx)
}

// CircuitState reports the breaker state, CircuitClosed when disabled.
func (g *Guard) CircuitState() CircuitState {
	if g.circuitBreaker == nil {
		return CircuitClosed
	}
	return g.circuitBreaker.GetState()
}

func (g *Guard) do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if g.circuitBreaker != nil {
		if err := g.circuitBreaker.Allow(); err != nil {
			state, failures, _ := g.circuitBreaker.GetMetrics()
			slog.Debug("AI call blocked by circuit breaker",
				"operation", operation, "state", state.String(), "failures", failures)
			return fmt.Errorf("%s failed: %w", operation, err)
		}
	}

	if g.concurrencySem != nil {
		if err := g.concurrencySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer g.concurrencySem.Release(1)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s rate limit wait: %w", operation, err)
		}
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if g.circuitBreaker != nil {
		switch {
		case err == nil:
			g.circuitBreaker.RecordSuccess()
		case isTransientError(err):
			g.circuitBreaker.RecordFailure()
		}
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", operation, err)
	}
	return nil
}

// isTransientError reports whether err means the backend is unreachable
// or overloaded, as opposed to a bad request.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "500", "502", "503", "504",
		"connection refused", "connection reset", "timeout", "temporary failure",
	} {
		if strings.Contains(errStr, marker) {
			return true
		}
	}
	return false
}
