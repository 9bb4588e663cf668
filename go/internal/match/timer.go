package match

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// MatchTimer derives the countdown from the document's single
// authoritative start timestamp instead of decrementing locally, so
// two clients converge on the same remaining time no matter when each
// attached or how far its wall clock drifts.
//
// Until the startedAt snapshot arrives the timer runs a locally-seeded
// fallback countdown; the switch to the authoritative value may move
// the displayed time forward or backward. That jump is specified
// behavior, not smoothed.
type MatchTimer struct {
	clock    clockwork.Clock
	duration time.Duration

	mu           sync.Mutex
	startedAt    *time.Time
	fallbackFrom time.Time
	expired      bool

	onTick   func(remaining time.Duration)
	onExpire func()
}

// NewMatchTimer creates a timer for one match. onTick and onExpire may
// be nil.
func NewMatchTimer(clock clockwork.Clock, duration time.Duration, onTick func(time.Duration), onExpire func()) *MatchTimer {
	return &MatchTimer{
		clock:    clock,
		duration: duration,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// SetStartedAt installs the authoritative start timestamp. Repeated
// calls with the same value are no-ops; startedAt is written at most
// once in the document, so no other case exists.
func (t *MatchTimer) SetStartedAt(startedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.startedAt != nil {
		return
	}
	ts := startedAt
	t.startedAt = &ts

	log.Debug().
		Time("started_at", startedAt).
		Dur("remaining", t.remainingLocked()).
		Msg("match timer switched to authoritative start time")
}

// Remaining computes the current countdown value. Recomputed from the
// anchor on every call rather than decremented.
func (t *MatchTimer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

func (t *MatchTimer) remainingLocked() time.Duration {
	anchor := t.fallbackFrom
	if t.startedAt != nil {
		anchor = *t.startedAt
	}
	if anchor.IsZero() {
		return t.duration
	}
	remaining := t.duration - t.clock.Now().Sub(anchor)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Run ticks once per second until the countdown reaches zero or ctx
// ends. Completion fires exactly once even though the expiry condition
// re-evaluates on every tick.
func (t *MatchTimer) Run(ctx context.Context) {
	t.mu.Lock()
	if t.fallbackFrom.IsZero() {
		t.fallbackFrom = t.clock.Now()
	}
	t.mu.Unlock()

	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			remaining := t.Remaining()
			if t.onTick != nil {
				t.onTick(remaining)
			}
			if remaining > 0 {
				continue
			}

			t.mu.Lock()
			alreadyExpired := t.expired
			t.expired = true
			t.mu.Unlock()

			if !alreadyExpired && t.onExpire != nil {
				t.onExpire()
			}
			return
		}
	}
}
