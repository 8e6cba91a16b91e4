package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/saga/backoff"
)

func TestConstant(t *testing.T) {
	var s backoff.Strategy = backoff.NewConstant(250 * time.Millisecond)
	for _, attempt := range []int{0, 1, 7, 1000} {
		if got := s.Delay(attempt); got != 250*time.Millisecond {
			t.Errorf("attempt %d: got %v", attempt, got)
		}
	}
}

func TestFunc(t *testing.T) {
	s := backoff.Func(func(attempt int) time.Duration { return time.Duration(attempt) * time.Minute })
	if got := s.Delay(3); got != 3*time.Minute {
		t.Errorf("got %v, want 3m", got)
	}
}

func TestLinear(t *testing.T) {
	l := backoff.NewLinear(2*time.Second, 7*time.Second)
	want := map[int]time.Duration{0: 2 * time.Second, 1: 2 * time.Second, 3: 6 * time.Second, 4: 7 * time.Second, 50: 7 * time.Second}
	for attempt, w := range want {
		if got := l.Delay(attempt); got != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, w)
		}
	}
	if got := (&backoff.Linear{Initial: time.Second}).Delay(90); got != 90*time.Second {
		t.Errorf("uncapped: got %v", got)
	}
}

func TestExponential_Grows(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{200, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CustomMultiplier(t *testing.T) {
	e := &backoff.Exponential{Initial: 100 * time.Millisecond, Multiplier: 3}
	if got := e.Delay(3); got != 900*time.Millisecond {
		t.Errorf("Delay(3) = %v, want 900ms", got)
	}
}

func TestExponential_JitterBounds(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second).WithJitter(0.5)

	seen := make(map[time.Duration]bool)
	for attempt := 1; attempt <= 6; attempt++ {
		ceiling := min(time.Second<<(attempt-1), 10*time.Second)
		for range 100 {
			got := e.Delay(attempt)
			if got < ceiling/2 || got > ceiling {
				t.Fatalf("Delay(%d) = %v, want in [%v, %v]", attempt, got, ceiling/2, ceiling)
			}
			seen[got] = true
		}
	}
	if len(seen) < 2 {
		t.Errorf("expected jitter variance, got %d distinct values", len(seen))
	}
}

func TestDefaultStrategy(t *testing.T) {
	d := backoff.DefaultStrategy().Delay(1)
	if d < 500*time.Millisecond || d > time.Second {
		t.Errorf("DefaultStrategy().Delay(1) = %v, want in [500ms, 1s]", d)
	}
}
