package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCountdownTicksDownToZero(t *testing.T) {
	clock := newFakeClock(t0)
	cd := NewCountdown(clock.Now, time.Millisecond)

	var seen []time.Duration
	cd.Run(context.Background(), t0.Add(3*time.Second), func(remaining time.Duration) {
		seen = append(seen, remaining)
		clock.Advance(time.Second)
	})

	require.Equal(t, []time.Duration{3 * time.Second, 2 * time.Second, time.Second, 0}, seen)
}

func TestCountdownNeverReportsNegative(t *testing.T) {
	clock := newFakeClock(t0.Add(time.Hour))
	cd := NewCountdown(clock.Now, time.Millisecond)

	var seen []time.Duration
	cd.Run(context.Background(), t0, func(remaining time.Duration) {
		seen = append(seen, remaining)
	})

	require.Equal(t, []time.Duration{0}, seen)
}

func TestCountdownStopsOnCancel(t *testing.T) {
	clock := newFakeClock(t0)
	cd := NewCountdown(clock.Now, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	ticks := 0
	cd.Run(ctx, t0.Add(time.Hour), func(remaining time.Duration) {
		ticks++
		if ticks == 3 {
			cancel()
		}
	})

	require.Equal(t, 3, ticks)
}
