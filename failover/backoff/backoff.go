package backoff

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	mrand "math/rand/v2"
	"time"
)

// Shifting past 62 bits would overflow int64 before the cap check runs.
const maxShift = 62

// Exponential returns base * 2^attempt, saturating at math.MaxInt64.
// A negative attempt counts as the first one; a non-positive base yields 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}

	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1 << attempt)

	baseInt := int64(base)
	if baseInt > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(baseInt * multiplier)
}

// FullJitter draws a random duration in [0, delay) so concurrent reconnect
// attempts against the same provider spread out instead of arriving in
// lockstep. Zero or negative delays yield 0.
func FullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(delay)))
	if err != nil {
		return time.Duration(cryptoFallbackRand(int64(delay)))
	}

	return time.Duration(n.Int64())
}

const fallbackDivisor = 2

// cryptoFallbackRand keeps jitter alive when rand.Int errors. rand.Read takes
// a different path through crypto/rand and may still work, so it seeds a PRNG
// first; if even that fails, the midpoint keeps delays finite and non-zero.
func cryptoFallbackRand(maxValue int64) int64 {
	var seed [8]byte

	_, err := rand.Read(seed[:])
	if err != nil {
		return maxValue / fallbackDivisor
	}

	rng := mrand.New(
		mrand.NewPCG(binary.LittleEndian.Uint64(seed[:]), 0),
	) // #nosec G404 -- Fallback when crypto/rand fails

	return rng.Int64N(maxValue)
}

// ExponentialWithJitter draws a random duration in [0, base * 2^attempt).
// This is the reconnect pacing used by the cache and datastore clients.
func ExponentialWithJitter(base time.Duration, attempt int) time.Duration {
	exponentialDelay := Exponential(base, attempt)

	return FullJitter(exponentialDelay)
}

// SleepWithContext blocks for duration or until ctx is done, whichever comes
// first. Cancellation is reported as an error wrapping ctx.Err(); zero or
// negative durations return immediately.
func SleepWithContext(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
