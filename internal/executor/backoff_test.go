package executor

import (
	"testing"
	"time"
)

func TestBackoffZeroBaseDisablesWaiting(t *testing.T) {
	t.Parallel()

	b := NewBackoff(0, 0)
	for i := 0; i < 5; i++ {
		if d := b.Delay(i); d != 0 {
			t.Fatalf("attempt %d: expected no delay, got %v", i, d)
		}
	}
}

func TestBackoffGrowsExponentiallyWithinJitterBounds(t *testing.T) {
	t.Parallel()

	b := NewBackoff(100*time.Millisecond, 10*time.Second)
	for i := 0; i < 4; i++ {
		full := 100 * time.Millisecond * (1 << i)
		d := b.Delay(i)
		if d < full/2 || d > full {
			t.Fatalf("attempt %d: delay %v outside [%v, %v]", i, d, full/2, full)
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	t.Parallel()

	b := NewBackoff(time.Second, 2*time.Second)
	for i := 0; i < 20; i++ {
		if d := b.Delay(i); d > 2*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds cap", i, d)
		}
	}
}
