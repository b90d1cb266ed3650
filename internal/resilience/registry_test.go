package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerRegistry_LazyCreation(t *testing.T) {
	r := NewBreakerRegistry(DefaultCircuitBreakerConfig(), nil)

	a := r.Get("quote-api")
	b := r.Get("news-api")
	if a == b {
		t.Error("expected distinct breakers per resource")
	}
	if again := r.Get("quote-api"); again != a {
		t.Error("expected the same breaker instance on repeat lookup")
	}

	states := r.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(states))
	}
	if states["quote-api"] != CircuitClosed {
		t.Errorf("expected new breaker closed, got %s", states["quote-api"])
	}
}

func TestBreakerRegistry_PerResourceOverride(t *testing.T) {
	overrides := map[string]CircuitBreakerConfig{
		"flaky-api": {FailureThreshold: 1, ResetTimeout: time.Hour},
	}
	r := NewBreakerRegistry(DefaultCircuitBreakerConfig(), overrides)

	cb := r.Get("flaky-api")
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})
	if cb.State() != CircuitOpen {
		t.Errorf("override threshold=1 should open after one failure, got %s", cb.State())
	}

	// Default-config breaker still needs 5 failures.
	def := r.Get("stable-api")
	_ = def.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})
	if def.State() != CircuitClosed {
		t.Errorf("default breaker should stay closed after one failure, got %s", def.State())
	}
}

func TestBreakerRegistry_StateListener(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}, nil)

	type event struct {
		resource string
		from, to CircuitState
	}
	var events []event
	r.OnStateChange(func(resource string, from, to CircuitState) {
		events = append(events, event{resource, from, to})
	})

	cb := r.Get("quote-api")
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return errors.New("fail")
	})
	cb.Reset()

	if len(events) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(events))
	}
	if events[0].resource != "quote-api" || events[0].to != CircuitOpen {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if events[1].from != CircuitOpen || events[1].to != CircuitClosed {
		t.Errorf("unexpected second event: %+v", events[1])
	}
}

func TestBreakerRegistry_ResetAll(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour}, nil)

	for _, name := range []string{"a", "b"} {
		_ = r.Get(name).Execute(context.Background(), func(_ context.Context) error {
			return errors.New("fail")
		})
	}
	r.ResetAll()
	for name, state := range r.States() {
		if state != CircuitClosed {
			t.Errorf("breaker %s not reset, state %s", name, state)
		}
	}
}
