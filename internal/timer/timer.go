package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	defaultInterval      = time.Second
	defaultPanicInterval = 250 * time.Millisecond
)

type Config struct {
	Clock clockwork.Clock
	// Interval between ticks in normal mode.
	Interval time.Duration
	// PanicInterval between ticks while panicking.
	PanicInterval time.Duration
}

// TickFunc receives the remaining time on every tick. It is called without any timer lock held,
// so it may call back into the timer.
type TickFunc func(remaining time.Duration)

// Timer is a pausable countdown. Remaining time is measured against a deadline on the clock,
// ticks only notify; a tick that fires late never skews the accounting.
type Timer struct {
	clock         clockwork.Clock
	interval      time.Duration
	panicInterval time.Duration
	onTick        TickFunc

	mu        sync.Mutex
	gen       uint64
	stop      chan struct{}
	deadline  time.Time
	remaining time.Duration // authoritative only while paused
	paused    bool
	panicking bool
}

func New(c Config, onTick TickFunc) *Timer {
	t := &Timer{
		clock:         c.Clock,
		interval:      c.Interval,
		panicInterval: c.PanicInterval,
		onTick:        onTick,
		paused:        true,
	}

	if t.clock == nil {
		t.clock = clockwork.NewRealClock()
	}
	if t.interval <= 0 {
		t.interval = defaultInterval
	}
	if t.panicInterval <= 0 || t.panicInterval > t.interval {
		t.panicInterval = min(defaultPanicInterval, t.interval)
	}

	return t
}

// StartCountdown re-arms the timer for d, cancelling whatever was running and leaving panic mode.
func (t *Timer) StartCountdown(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if d < 0 {
		d = 0
	}

	t.panicking = false
	t.paused = false
	t.remaining = d
	t.deadline = t.clock.Now().Add(d)
	t.run()
}

// Pause stops ticking and keeps the remaining time.
func (t *Timer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pause()
}

// TogglePause pauses a running timer or resumes a paused one, and returns the new paused state.
// A finished timer stays paused.
func (t *Timer) TogglePause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.paused {
		t.pause()
		return true
	}

	if t.remaining <= 0 {
		return true
	}

	t.paused = false
	t.deadline = t.clock.Now().Add(t.remaining)
	t.run()
	return false
}

// Panic switches to the faster tick rate. The deadline is untouched.
func (t *Timer) Panic() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.panicking {
		return
	}

	t.panicking = true
	if !t.paused {
		t.run()
	}
}

func (t *Timer) StopPanicking() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.panicking {
		return
	}

	t.panicking = false
	if !t.paused {
		t.run()
	}
}

// Stop cancels the timer for good. Pending ticks are discarded.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pause()
	t.panicking = false
}

// Remaining returns the time left, clamped at zero.
func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.remainingLocked()
}

func (t *Timer) IsDone() bool {
	return t.Remaining() <= 0
}

func (t *Timer) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.paused
}

func (t *Timer) IsPanicking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.panicking
}

func (t *Timer) remainingLocked() time.Duration {
	if t.paused {
		return max(t.remaining, 0)
	}

	return max(t.deadline.Sub(t.clock.Now()), 0)
}

func (t *Timer) pause() {
	if t.paused {
		return
	}

	t.remaining = t.remainingLocked()
	t.paused = true
	t.halt()
}

// run starts a fresh tick loop, superseding the previous one. Caller holds mu.
func (t *Timer) run() {
	t.halt()

	interval := t.interval
	if t.panicking {
		interval = t.panicInterval
	}

	var (
		gen    = t.gen
		stop   = make(chan struct{})
		ticker = t.clock.NewTicker(interval)
	)
	t.stop = stop

	go t.loop(gen, ticker, stop)
}

// halt invalidates the running loop, if any. Caller holds mu.
func (t *Timer) halt() {
	t.gen++
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Timer) loop(gen uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			if !t.tick(gen) {
				return
			}
		}
	}
}

// tick reports the remaining time and self-pauses at zero. It returns false when the loop that
// owns gen should exit.
func (t *Timer) tick(gen uint64) bool {
	t.mu.Lock()
	if gen != t.gen {
		t.mu.Unlock()
		return false
	}

	remaining := t.remainingLocked()
	done := remaining <= 0
	if done {
		t.remaining = 0
		t.paused = true
		t.panicking = false
		t.halt()
	}
	t.mu.Unlock()

	if t.onTick != nil {
		t.onTick(remaining)
	}

	return !done
}
