package queue

import (
	"math"
	"time"
)

const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

type Backoff struct {
	Type  string        `json:"type"`
	Delay time.Duration `json:"delay"`
	// Jitter in [0,1] is the fraction of the delay that may be shaved off at random.
	Jitter float64 `json:"jitter,omitempty"`
}

// Next returns the wait before the retry that follows the attemptsMade-th failure.
// Exponential backoff waits Delay * 2^(attemptsMade-1); jitter draws uniformly
// from (d*(1-Jitter), d]. rnd returns values in [0,1). The lower bound is open so
// that with Jitter <= 0.5 consecutive exponential delays strictly increase.
func (b Backoff) Next(attemptsMade int, rnd func() float64) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	d := b.Delay
	if b.Type != BackoffFixed {
		d = time.Duration(float64(b.Delay) * math.Pow(2, float64(attemptsMade-1)))
	}
	if b.Jitter > 0 && rnd != nil {
		j := math.Min(b.Jitter, 1)
		lo := time.Duration(float64(d) * (1 - j))
		// at least 1ns above lo, even when the float sum would round back onto it
		d = lo + time.Duration(math.Ceil((1-rnd())*float64(d)*j))
	}
	if d < 0 {
		return 0
	}
	return d
}
