package blind

import (
	"sync"
	"time"
)

// DefaultIdleTimeout is how long a connection may sit unused before it is torn down.
const DefaultIdleTimeout = 120 * time.Second

// IdleDisconnectTimer is a restartable countdown. Every Arm cancels the pending
// countdown and starts a new one; fire receives the generation of the countdown
// that elapsed so a receiver can drop a firing that raced with a later Arm.
type IdleDisconnectTimer struct {
	mu    sync.Mutex
	delay time.Duration
	timer *time.Timer
	gen   uint64
	fire  func(gen uint64)
}

func NewIdleDisconnectTimer(delay time.Duration, fire func(gen uint64)) *IdleDisconnectTimer {
	if delay <= 0 {
		delay = DefaultIdleTimeout
	}
	return &IdleDisconnectTimer{delay: delay, fire: fire}
}

// Arm (re)starts the countdown and returns its generation.
func (t *IdleDisconnectTimer) Arm() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(t.delay, func() { t.fire(gen) })
	return gen
}

// Cancel stops the pending countdown, if any. A firing already in progress is
// invalidated through the generation counter.
func (t *IdleDisconnectTimer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Current reports whether gen is the generation of the countdown still pending.
func (t *IdleDisconnectTimer) Current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil && t.gen == gen
}

// Delay returns the configured quiet period.
func (t *IdleDisconnectTimer) Delay() time.Duration {
	return t.delay
}
