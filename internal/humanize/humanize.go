// Package humanize produces randomized pacing for bulk sends: bell-shaped
// inter-send delays and a shuffled processing order, so a campaign does not
// fire messages on a mechanical clock in a mechanical order.
package humanize

import (
	"math/rand"
	"time"
)

// maxJitter bounds the independent jitter added on top of the distributed
// delay.
const maxJitter = 500 * time.Millisecond

// Delay draws an inter-send delay from a normal distribution centered at the
// midpoint of [minSecs, maxSecs] with sigma (max-min)/6, clamps the draw to
// the range, then adds uniform jitter in [-500ms, +500ms]. The result is
// never negative. The range is assumed valid (0 <= min <= max); submission
// validation rejects anything else.
func Delay(minSecs, maxSecs int, rnd *rand.Rand) time.Duration {
	mean := float64(minSecs+maxSecs) / 2
	sigma := float64(maxSecs-minSecs) / 6

	secs := mean
	if sigma > 0 {
		secs = rnd.NormFloat64()*sigma + mean
	}
	if secs < float64(minSecs) {
		secs = float64(minSecs)
	}
	if secs > float64(maxSecs) {
		secs = float64(maxSecs)
	}

	jitter := time.Duration((rnd.Float64()*2 - 1) * float64(maxJitter))
	d := time.Duration(secs*float64(time.Second)) + jitter
	if d < 0 {
		d = 0
	}
	return d
}

// Shuffle returns a uniform random permutation of [0, n) (Fisher-Yates).
func Shuffle(n int, rnd *rand.Rand) []int {
	order := Identity(n)
	for i := n - 1; i > 0; i-- {
		j := rnd.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// Identity returns the order 0..n-1 unchanged, for campaigns that opt out of
// randomization.
func Identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}
