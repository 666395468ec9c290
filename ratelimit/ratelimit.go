package ratelimit

import (
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"
)

// FetchSleep returns a randomized polite delay applied before each external
// fetch tool invocation, keeping the download provider from seeing a burst
// of back-to-back requests from concurrent workers.
func FetchSleep() time.Duration {
	const (
		from = 2
		to   = 6
	)
	millis := (rand.IntN(to-from)+from)*1000 + rand.N(1000) //nolint:gosec

	return time.Duration(millis) * time.Millisecond
}

// NewPerMinute builds a limiter allowing n requests per minute with a burst
// of one, used to pace calls against external web APIs.
func NewPerMinute(n int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), 1)
}
