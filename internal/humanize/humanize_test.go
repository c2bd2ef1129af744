package humanize

import (
	"math/rand"
	"testing"
	"time"
)

func TestDelayStaysInRange(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	min, max := 5, 20

	lo := time.Duration(min)*time.Second - maxJitter
	hi := time.Duration(max)*time.Second + maxJitter

	for i := 0; i < 10000; i++ {
		d := Delay(min, max, rnd)
		if d < lo || d > hi {
			t.Fatalf("sample %d: delay %v outside [%v, %v]", i, d, lo, hi)
		}
	}
}

func TestDelayNeverNegative(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	for i := 0; i < 10000; i++ {
		if d := Delay(0, 0, rnd); d < 0 {
			t.Fatalf("sample %d: negative delay %v", i, d)
		}
	}
}

func TestDelayZeroRangeIsJitterOnly(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		d := Delay(3, 3, rnd)
		if d < 3*time.Second-maxJitter || d > 3*time.Second+maxJitter {
			t.Fatalf("sample %d: delay %v outside jitter band around 3s", i, d)
		}
	}
}

func TestDelayCentersOnMidpoint(t *testing.T) {
	rnd := rand.New(rand.NewSource(4))
	min, max := 10, 30

	var sum time.Duration
	const n = 10000
	for i := 0; i < n; i++ {
		sum += Delay(min, max, rnd)
	}
	mean := sum / n

	// Midpoint is 20s; clamping pulls the mean in slightly, so allow 1s.
	if mean < 19*time.Second || mean > 21*time.Second {
		t.Fatalf("mean %v not near 20s midpoint", mean)
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	for _, n := range []int{0, 1, 2, 7, 100, 1000} {
		order := Shuffle(n, rnd)
		if len(order) != n {
			t.Fatalf("n=%d: got %d positions", n, len(order))
		}
		seen := make(map[int]bool, n)
		for _, p := range order {
			if p < 0 || p >= n {
				t.Fatalf("n=%d: position %d out of range", n, p)
			}
			if seen[p] {
				t.Fatalf("n=%d: duplicate position %d", n, p)
			}
			seen[p] = true
		}
	}
}

func TestShuffleDeterministicForSeed(t *testing.T) {
	a := Shuffle(50, rand.New(rand.NewSource(42)))
	b := Shuffle(50, rand.New(rand.NewSource(42)))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed diverged at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestIdentity(t *testing.T) {
	order := Identity(4)
	for i, p := range order {
		if p != i {
			t.Fatalf("identity order broken at %d: %d", i, p)
		}
	}
}
