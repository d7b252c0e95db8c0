package tca

import (
	"context"
	"sync"
	"time"
)

// Timer delivers the id of a compilation cycle once its deadline passes.
// Restarting the timer replaces the previous deadline.
type Timer struct {
	mu       sync.Mutex
	timer    *time.Timer
	expireCh chan uint32
}

func NewTimer() *Timer {
	return &Timer{
		expireCh: make(chan uint32, 1),
	}
}

func (t *Timer) Start(ctx context.Context, cycle uint32, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}

	// drop an expiry nobody consumed
	select {
	case <-t.expireCh:
	default:
	}

	t.timer = time.AfterFunc(max(duration, 0), func() {
		if ctx.Err() != nil {
			return
		}
		select {
		case t.expireCh <- cycle:
		default:
		}
	})
}

func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *Timer) GetExpiryChan() <-chan uint32 {
	return t.expireCh
}

// await waits for the expiry of cycle. It returns false when ctx is done.
func (t *Timer) await(ctx context.Context, cycle uint32) bool {
	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case c := <-t.expireCh:
			if c == cycle {
				return true
			}
		}
	}
}
