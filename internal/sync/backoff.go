package sync

import "time"

// Policy is an explicit exponential backoff policy. Delay is a pure function
// of the attempt number so retry schedules are assertable without sleeping.
type Policy struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultPolicy matches the worker defaults: 2s base, doubling, capped at
// 30s, three attempts per order per cycle.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   2 * time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 3,
	}
}

// Delay returns the pause before the given retry. attempt is 1-based: the
// delay after the first failed attempt is Delay(1) == BaseDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}
