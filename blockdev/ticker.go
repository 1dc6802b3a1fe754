package blockdev

import (
	"context"
	"time"

	"github.com/ardnew/ghostfat/pkg"
)

// Tickable receives elapsed time in milliseconds.
type Tickable interface {
	Tick(elapsedMs uint32) error
}

// Ticker calls Tick on a fixed period.
type Ticker struct {
	Period time.Duration // DefaultTickPeriod when zero
}

// Run ticks t until ctx is cancelled. Each call reports the monotonic
// time since the previous one, so late wakeups are not lost. Tick errors
// are logged; the page cache has already been invalidated by then.
func (tk Ticker) Run(ctx context.Context, t Tickable) error {
	period := tk.Period
	if period <= 0 {
		period = DefaultTickPeriod
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	last := time.Now()
	var carry time.Duration
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			carry += now.Sub(last)
			last = now
			ms := carry.Milliseconds()
			if ms <= 0 {
				continue
			}
			carry -= time.Duration(ms) * time.Millisecond
			if err := t.Tick(uint32(ms)); err != nil {
				pkg.LogError(pkg.ComponentTick, "tick failed", "error", err)
			}
		}
	}
}
