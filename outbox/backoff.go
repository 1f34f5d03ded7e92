package outbox

import "time"

// Backoff computes the delay applied before re-attempting a failed entry.
// The first attempt is never delayed.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff matches the relay defaults: 1s base, 30s cap.
func DefaultBackoff() Backoff {
	return Backoff{Base: time.Second, Max: 30 * time.Second}
}

// Delay returns base × 2^(retryCount−1), capped at Max.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount <= 0 || b.Base <= 0 {
		return 0
	}
	// Shifting past 62 bits would overflow; anything that far is capped anyway.
	shift := retryCount - 1
	if shift > 32 {
		shift = 32
	}
	d := b.Base << shift
	if b.Max > 0 && (d > b.Max || d < 0) {
		d = b.Max
	}
	return d
}
