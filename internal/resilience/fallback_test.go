package resilience

import (
	"errors"
	"testing"
)

func TestFallbackGroupPrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "main", FallbackConfig{})
	fg.AddFallback("backup", "secondary")

	var used []string
	err := fg.Execute(func(p string) error {
		used = append(used, p)
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(used) != 1 || used[0] != "primary" {
		t.Errorf("used = %v, want [primary]", used)
	}
}

func TestFallbackGroupFailsOverInOrder(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "main", FallbackConfig{})
	fg.AddFallback("backup", "secondary")

	var used []string
	err := fg.Execute(func(p string) error {
		used = append(used, p)
		if p == "primary" {
			return errBackend
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(used) != 2 || used[1] != "secondary" {
		t.Errorf("used = %v, want [primary secondary]", used)
	}
}

func TestFallbackGroupAllFail(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "main", FallbackConfig{})
	fg.AddFallback("backup", "secondary")

	err := fg.Execute(func(string) error { return errBackend })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroupSkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("primary", "main", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fg.AddFallback("backup", "secondary")

	// Trip the primary's breaker.
	if err := fg.Execute(func(p string) error {
		if p == "primary" {
			return errBackend
		}
		return nil
	}); err != nil {
		t.Fatalf("first round: %v", err)
	}

	primaryCalls := 0
	if err := fg.Execute(func(p string) error {
		if p == "primary" {
			primaryCalls++
		}
		return nil
	}); err != nil {
		t.Fatalf("second round: %v", err)
	}
	if primaryCalls != 0 {
		t.Errorf("primary called %d times behind an open breaker", primaryCalls)
	}
}

func TestExecuteWithResultReturnsFirstHealthyValue(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	fg.AddFallback("two", 2)

	got, err := ExecuteWithResult(fg, func(n int) (string, error) {
		if n == 1 {
			return "", errBackend
		}
		return "answer", nil
	})
	if err != nil {
		t.Fatalf("ExecuteWithResult: %v", err)
	}
	if got != "answer" {
		t.Errorf("result = %q, want %q", got, "answer")
	}
}

func TestExecuteWithResultAllFail(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup(1, "one", FallbackConfig{})

	got, err := ExecuteWithResult(fg, func(int) (string, error) {
		return "partial", errBackend
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if got != "" {
		t.Errorf("result = %q, want zero value", got)
	}
}
