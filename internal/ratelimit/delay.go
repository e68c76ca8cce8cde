package ratelimit

import (
	"context"
	"time"
)

// DelayPolicy maps a failure count to artificial response latency: Base
// doubled per additional failure, capped at Cap. The delay slows automated
// guessing without signalling where the hard lockout threshold sits.
type DelayPolicy struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the latency to inject after the given number of consecutive
// failures. Zero failures means no delay.
func (p DelayPolicy) Delay(failures int64) time.Duration {
	if failures <= 0 || p.Base <= 0 {
		return 0
	}

	d := p.Base
	for i := int64(1); i < failures; i++ {
		d *= 2
		if p.Cap > 0 && d >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
