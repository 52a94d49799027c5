package errors

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests advance breaker time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time            { return c.now }
func (c *fakeClock) Advance(d time.Duration)   { c.now = c.now.Add(d) }
func newFakeClock() *fakeClock                 { return &fakeClock{now: time.Unix(1700000000, 0)} }
func withClock(cb *CircuitBreaker, c *fakeClock) { cb.clock = c.Now }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("llm", CircuitBreakerConfig{
		FailureThreshold: 10,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	})
	withClock(cb, clock)

	boom := errors.New("HTTP 500: upstream exploded")
	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return boom
	}

	for i := 0; i < 10; i++ {
		if err := cb.Execute(context.Background(), fn); !errors.Is(err, boom) {
			t.Fatalf("failure %d: expected underlying error, got %v", i+1, err)
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("state after %d failures = %v, want open", calls, cb.State())
	}

	// While open, calls must be rejected without reaching the dependency.
	before := calls
	err := cb.Execute(context.Background(), fn)
	if !IsDegraded(err) {
		t.Fatalf("open breaker returned %v, want degraded error", err)
	}
	if calls != before {
		t.Fatal("open breaker still invoked the dependency")
	}
}

func TestBreakerRejectsForFullCooldown(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("db", CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         60 * time.Second,
	})
	withClock(cb, clock)

	for i := 0; i < 5; i++ {
		cb.Mark(errors.New("write failed"))
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	clock.Advance(59 * time.Second)
	if err := cb.Allow(); !IsDegraded(err) {
		t.Fatalf("Allow() inside cooldown = %v, want degraded error", err)
	}

	clock.Advance(2 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after cooldown = %v, want nil (half-open probe)", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after cooldown = %v, want half-open", cb.State())
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("vector", CircuitBreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Cooldown:         time.Second,
	})
	withClock(cb, clock)

	cb.Mark(errors.New("a"))
	cb.Mark(errors.New("b"))
	clock.Advance(2 * time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	cb.Mark(nil)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state after one half-open success = %v, want half-open", cb.State())
	}
	cb.Mark(nil)
	if cb.State() != StateClosed {
		t.Fatalf("state after two half-open successes = %v, want closed", cb.State())
	}
}

func TestBreakerReopensOnHalfOpenFailure(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker("mcp", CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         time.Second,
	})
	withClock(cb, clock)

	cb.Mark(errors.New("down"))
	clock.Advance(2 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v", err)
	}
	cb.Mark(errors.New("still down"))
	if cb.State() != StateOpen {
		t.Fatalf("state after half-open failure = %v, want open", cb.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("llm", CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Cooldown: time.Second})

	cb.Mark(errors.New("one"))
	cb.Mark(errors.New("two"))
	cb.Mark(nil)
	cb.Mark(errors.New("three"))
	cb.Mark(errors.New("four"))

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed (failure streak was interrupted)", cb.State())
	}
}

func TestBreakerSetUsesClassDefaults(t *testing.T) {
	set := NewBreakerSet(nil)

	llm := set.For(ClassLLM)
	if llm.config.FailureThreshold != 10 || llm.config.Cooldown != 30*time.Second {
		t.Errorf("llm breaker config = %+v, want threshold 10 / cooldown 30s", llm.config)
	}
	db := set.For(ClassDB)
	if db.config.FailureThreshold != 5 || db.config.Cooldown != 60*time.Second {
		t.Errorf("db breaker config = %+v, want threshold 5 / cooldown 60s", db.config)
	}
	if set.For(ClassLLM) != llm {
		t.Error("For() did not return the cached breaker")
	}
	if got := len(set.Metrics()); got != 2 {
		t.Errorf("Metrics() returned %d entries, want 2", got)
	}
}

func TestBreakerSetOverride(t *testing.T) {
	set := NewBreakerSet(map[DependencyClass]CircuitBreakerConfig{
		ClassLLM: {FailureThreshold: 3, SuccessThreshold: 1, Cooldown: 5 * time.Second},
	})
	if got := set.For(ClassLLM).config.FailureThreshold; got != 3 {
		t.Errorf("overridden llm threshold = %d, want 3", got)
	}
	// Unconfigured classes keep their defaults.
	if got := set.For(ClassVector).config.Cooldown; got != 60*time.Second {
		t.Errorf("vector cooldown = %v, want 60s", got)
	}
}

func TestExecuteFuncPassesThroughResult(t *testing.T) {
	cb := NewCircuitBreaker("llm", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Second})
	got, err := ExecuteFunc(cb, context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("ExecuteFunc = (%q, %v), want (ok, nil)", got, err)
	}
}
