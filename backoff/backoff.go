// Package backoff computes the pause between attempts of an activity call
// or a batch entity. Every Strategy here is a pure function of the attempt
// number plus optional jitter, so one value can serve many goroutines.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy maps the number of the attempt that just failed (starting at
// 1) to the wait before the next one.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Func lets a closure act as a Strategy.
type Func func(attempt int) time.Duration

func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits Interval every time.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant { return &Constant{Interval: interval} }

func (c *Constant) Delay(int) time.Duration { return c.Interval }

// Linear waits Initial after the first failure, 2*Initial after the
// second, and so on up to Max. A zero Max means no cap.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

func (l *Linear) Delay(attempt int) time.Duration {
	return capAt(l.Initial*time.Duration(max(attempt, 1)), l.Max)
}

// Exponential waits Initial*Multiplier^(attempt-1), capped at Max.
// A Multiplier below 1 is treated as 2.
//
// Jitter subtracts a random share of the capped delay: 0.25 turns 8s into
// something in [6s, 8s]. Values outside [0, 1] are clamped. Jitter never
// pushes a delay above Max.
type Exponential struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// NewExponential doubles from initial up to maxDelay, with no jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Multiplier: 2}
}

// WithJitter returns a copy using fraction as its Jitter.
func (e Exponential) WithJitter(fraction float64) *Exponential {
	e.Jitter = fraction
	return &e
}

// maxDelay keeps float results inside time.Duration.
const maxDelay = float64(1 << 62)

func (e *Exponential) Delay(attempt int) time.Duration {
	factor := e.Multiplier
	if factor < 1 {
		factor = 2
	}
	d := float64(e.Initial) * math.Pow(factor, float64(max(attempt, 1)-1))
	if e.Max > 0 {
		d = min(d, float64(e.Max))
	}
	if math.IsInf(d, 0) || d > maxDelay {
		d = maxDelay
	}
	if share := min(max(e.Jitter, 0), 1); share > 0 {
		d *= 1 - share*rand.Float64() //nolint:gosec // scheduling jitter
	}
	return time.Duration(d)
}

// DefaultStrategy is the activity retry default: 1s doubling to 1m with
// half of each delay jittered.
func DefaultStrategy() Strategy {
	return &Exponential{Initial: time.Second, Max: time.Minute, Multiplier: 2, Jitter: 0.5}
}

func capAt(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
