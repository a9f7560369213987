package notify

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// maxShift caps the exponent so large attempt numbers cannot overflow.
const maxShift = 30

// Delay returns the wait before attempt+1, given that attempt (1-based)
// just failed: base * 2^(attempt-1).
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	shift := attempt - 1
	if shift > maxShift {
		shift = maxShift
	}
	return base * time.Duration(1<<shift)
}

// Schedule lists the waits taken between maxAttempts attempts when every
// attempt fails. There is no wait after the last attempt.
func Schedule(base time.Duration, maxAttempts int) []time.Duration {
	var out []time.Duration
	for k := 1; k < maxAttempts; k++ {
		out = append(out, Delay(base, k))
	}
	return out
}

// newBackoff adapts Delay to go-retry, stopping after maxAttempts tries.
// observe, if set, sees every wait before it is taken.
func newBackoff(base time.Duration, maxAttempts int, observe func(time.Duration)) retry.Backoff {
	failed := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		failed++
		if failed >= maxAttempts {
			return 0, true
		}
		d := Delay(base, failed)
		if observe != nil {
			observe(d)
		}
		return d, false
	})
}
