package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sophia/internal/logging"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed - normal operation, requests allowed
	StateClosed CircuitState = iota
	// StateOpen - failing, requests rejected without reaching the dependency
	StateOpen
	// StateHalfOpen - testing whether the dependency recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// DependencyClass identifies the external dependency a breaker protects.
// Each class carries its own failure threshold and cooldown.
type DependencyClass string

const (
	ClassLLM    DependencyClass = "llm"
	ClassDB     DependencyClass = "db"
	ClassMCP    DependencyClass = "mcp"
	ClassVector DependencyClass = "vector"
)

// CircuitBreakerConfig configures one breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int                                      // consecutive failures that open the circuit
	SuccessThreshold int                                      // consecutive half-open successes that close it
	Cooldown         time.Duration                            // time to wait before attempting half-open
	OnStateChange    func(from, to CircuitState, name string) // optional callback, fired off-lock
}

// DefaultBreakerConfigs returns the per-class defaults: LLM calls tolerate
// more consecutive failures with a short cooldown, storage classes trip
// earlier and back off longer.
func DefaultBreakerConfigs() map[DependencyClass]CircuitBreakerConfig {
	return map[DependencyClass]CircuitBreakerConfig{
		ClassLLM:    {FailureThreshold: 10, SuccessThreshold: 2, Cooldown: 30 * time.Second},
		ClassDB:     {FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 60 * time.Second},
		ClassMCP:    {FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 60 * time.Second},
		ClassVector: {FailureThreshold: 5, SuccessThreshold: 2, Cooldown: 60 * time.Second},
	}
}

// CircuitBreaker implements the closed/open/half-open breaker pattern.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger
	clock  func() time.Time

	mu              sync.RWMutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a breaker with the given name and config.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logging.NewComponentLogger("circuit-breaker"),
		clock:           time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterRequest(err)
	return err
}

// ExecuteFunc runs a value-returning function under breaker protection.
func ExecuteFunc[T any](cb *CircuitBreaker, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.beforeRequest(); err != nil {
		return zero, err
	}
	result, err := fn(ctx)
	cb.afterRequest(err)
	return result, err
}

// Allow checks whether a request may proceed. Callers that need to inspect
// responses use Allow/Mark instead of Execute.
func (cb *CircuitBreaker) Allow() error {
	return cb.beforeRequest()
}

// Mark records a request outcome. Pass nil for success.
func (cb *CircuitBreaker) Mark(err error) {
	cb.afterRequest(err)
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.clock().Sub(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.setState(StateHalfOpen)
			cb.successCount = 0
			cb.logger.Info("[%s] transitioning to half-open (testing recovery)", cb.name)
			return nil
		}
		remaining := cb.config.Cooldown - cb.clock().Sub(cb.lastFailureTime)
		return NewDegradedError(
			fmt.Errorf("circuit breaker open for %s", cb.name),
			fmt.Sprintf("dependency %q is unavailable after repeated failures; retrying in %v", cb.name, remaining.Round(time.Second)),
			"",
		)

	case StateHalfOpen:
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.state)
	}
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
			cb.logger.Info("[%s] closed (dependency recovered)", cb.name)
		}

	case StateOpen:
		cb.logger.Warn("[%s] unexpected success while open", cb.name)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.lastFailureTime = cb.clock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
			cb.logger.Warn("[%s] opened after %d consecutive failures", cb.name, cb.failureCount)
		}

	case StateHalfOpen:
		cb.setState(StateOpen)
		cb.successCount = 0
		cb.logger.Warn("[%s] reopened (recovery test failed)", cb.name)

	case StateOpen:
		// already open, only the failure timestamp moves
	}
}

func (cb *CircuitBreaker) setState(newState CircuitState) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.clock()

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(oldState, newState, cb.name)
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastStateChange = cb.clock()
}

// CircuitBreakerMetrics is a point-in-time snapshot of one breaker.
type CircuitBreakerMetrics struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"-"`
	StateLabel      string       `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	LastFailureTime time.Time    `json:"last_failure_time"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// Metrics returns a snapshot of the breaker.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return CircuitBreakerMetrics{
		Name:            cb.name,
		State:           cb.state,
		StateLabel:      cb.state.String(),
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
		LastStateChange: cb.lastStateChange,
	}
}

// BreakerSet holds one breaker per dependency class.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[DependencyClass]*CircuitBreaker
	configs  map[DependencyClass]CircuitBreakerConfig
	logger   logging.Logger
}

// NewBreakerSet builds a set from per-class configs; classes missing from the
// map fall back to DefaultBreakerConfigs.
func NewBreakerSet(configs map[DependencyClass]CircuitBreakerConfig) *BreakerSet {
	merged := DefaultBreakerConfigs()
	for class, cfg := range configs {
		merged[class] = cfg
	}
	return &BreakerSet{
		breakers: make(map[DependencyClass]*CircuitBreaker),
		configs:  merged,
		logger:   logging.NewComponentLogger("breaker-set"),
	}
}

// For returns the breaker for a dependency class, creating it on first use.
func (s *BreakerSet) For(class DependencyClass) *CircuitBreaker {
	s.mu.RLock()
	if cb, ok := s.breakers[class]; ok {
		s.mu.RUnlock()
		return cb
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[class]; ok {
		return cb
	}

	cfg, ok := s.configs[class]
	if !ok {
		cfg = CircuitBreakerConfig{}
	}
	cb := NewCircuitBreaker(string(class), cfg)
	s.breakers[class] = cb
	s.logger.Debug("created circuit breaker for class %q", class)
	return cb
}

// Metrics returns snapshots for every instantiated breaker.
func (s *BreakerSet) Metrics() []CircuitBreakerMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CircuitBreakerMetrics, 0, len(s.breakers))
	for _, cb := range s.breakers {
		out = append(out, cb.Metrics())
	}
	return out
}

// ResetAll resets every instantiated breaker to closed.
func (s *BreakerSet) ResetAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cb := range s.breakers {
		cb.Reset()
	}
}
