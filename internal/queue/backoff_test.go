package queue

import (
	"testing"
	"time"
)

func TestBackoff_ExponentialNoJitter(t *testing.T) {
	b := Backoff{Type: BackoffExponential, Delay: time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, w := range want {
		if got := b.Next(i+1, nil); got != w {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, w, got)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := Backoff{Type: BackoffExponential, Delay: time.Second, Jitter: 0.5}
	if got := b.Next(2, func() float64 { return 0 }); got != 2*time.Second {
		t.Fatalf("expected upper bound 2s, got %v", got)
	}
	if got := b.Next(2, func() float64 { return 0.999999 }); got <= time.Second || got > 1001*time.Millisecond {
		t.Fatalf("expected just above 1s, got %v", got)
	}
}

func TestBackoff_JitteredDelaysStrictlyIncrease(t *testing.T) {
	b := Backoff{Type: BackoffExponential, Delay: time.Second, Jitter: 0.5}
	highest := func() float64 { return 0 }
	lowest := func() float64 { return 0.9999999999 }
	for attempt := 1; attempt < 6; attempt++ {
		prev := b.Next(attempt, highest)
		next := b.Next(attempt+1, lowest)
		if next <= prev {
			t.Fatalf("attempt %d: largest delay %v not below next smallest %v", attempt, prev, next)
		}
	}
}

func TestBackoff_Fixed(t *testing.T) {
	b := Backoff{Type: BackoffFixed, Delay: 300 * time.Millisecond}
	if b.Next(1, nil) != b.Next(5, nil) {
		t.Fatalf("fixed backoff must not grow")
	}
}
