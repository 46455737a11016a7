package resilience

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func newGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()

	fg := newGroup(3)
	if got := fg.Names(); !slices.Equal(got, []string{"primary", "secondary"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		failing  map[string]bool
		wantCall string
		wantErr  bool
	}{
		{"primary succeeds", nil, "primary", false},
		{"fallback after primary failure", map[string]bool{"primary": true}, "secondary", false},
		{"all fail", map[string]bool{"primary": true, "secondary": true}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fg := newGroup(3)
			var called string
			err := fg.Execute(func(v string) error {
				if tt.failing[v] {
					return errTest
				}
				called = v
				return nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if called != tt.wantCall {
				t.Errorf("called = %q, want %q", called, tt.wantCall)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenEntry(t *testing.T) {
	t.Parallel()

	fg := newGroup(2)
	var primaryCalls int
	for range 3 {
		_ = fg.Execute(func(v string) error {
			if v == "primary" {
				primaryCalls++
				return errTest
			}
			return nil
		})
	}
	if primaryCalls != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", primaryCalls)
	}
}

func TestFallbackGroup_ShouldFallbackStops(t *testing.T) {
	t.Parallel()

	errFatal := errors.New("fatal")
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		ShouldFallback: func(err error) bool { return !errors.Is(err, errFatal) },
	})
	fg.AddFallback("secondary", "secondary")

	var calls []string
	err := fg.Execute(func(v string) error {
		calls = append(calls, v)
		return errFatal
	})
	if !errors.Is(err, errFatal) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want errFatal alone", err)
	}
	if !slices.Equal(calls, []string{"primary"}) {
		t.Errorf("calls = %v, want only primary", calls)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)

	result, err := ExecuteWithResult(fg, func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 40 {
		t.Errorf("result = %d, want 40", result)
	}
}
