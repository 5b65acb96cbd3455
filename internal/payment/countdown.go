package payment

import (
	"context"
	"time"
)

// Countdown reports the time left on a challenge window at a fixed cadence.
// It only recomputes a derived value: no network calls, no session mutation.
// It runs independently of any in-flight confirm, so a user watches time run
// out even while a confirm response is still pending.
type Countdown struct {
	clock    func() time.Time
	interval time.Duration
}

// NewCountdown builds a countdown ticking at the given interval (0 means
// once per second).
func NewCountdown(clock func() time.Time, interval time.Duration) *Countdown {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{clock: clock, interval: interval}
}

// Run invokes onTick with the remaining time once per interval, starting
// immediately, until the window lapses or ctx is cancelled. The final
// invocation reports zero; expiry observed here is authoritative for the
// caller's display regardless of any pending confirm.
func (c *Countdown) Run(ctx context.Context, expiresAt time.Time, onTick func(remaining time.Duration)) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		remaining := expiresAt.Sub(c.clock())
		if remaining < 0 {
			remaining = 0
		}
		onTick(remaining)
		if remaining == 0 || ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
