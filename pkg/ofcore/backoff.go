package ofcore

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reconnectBackoff implements the §4.2/§6.3 active-side reconnection
// policy: 1s initial, doubling each consecutive failure, and clamped at
// the maximum after the fourth consecutive failure (scenario 6 in
// §8: attempts land at t+1s, +3s, +7s, +15s, then +120s, +120s, ...).
// The doubling itself is delegated to cenkalti/backoff's
// ExponentialBackOff rather than hand-rolled, per §10.6; only the
// "clamp after four" rule, which a stock ExponentialBackOff does not
// express, is layered on top.
type reconnectBackoff struct {
	eb       *backoff.ExponentialBackOff
	max      time.Duration
	attempts int
}

func newReconnectBackoff(initial, max time.Duration) *reconnectBackoff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = max
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	return &reconnectBackoff{eb: eb, max: max}
}

// Next returns the delay before the next reconnect attempt, advancing
// the internal failure counter.
func (r *reconnectBackoff) Next() time.Duration {
	r.attempts++
	if r.attempts > 4 {
		return r.max
	}
	return r.eb.NextBackOff()
}

// Reset clears the failure counter after a successful ESTABLISHED
// transition (§4.2).
func (r *reconnectBackoff) Reset() {
	r.attempts = 0
	r.eb.Reset()
}
