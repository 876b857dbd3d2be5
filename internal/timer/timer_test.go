package timer_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/timer"
)

const interval = time.Second

func TestTimer_Countdown(t *testing.T) {
	fc, tm, ticks := makeTimer(t)

	tm.StartCountdown(3 * time.Second)
	require.Equal(t, 3*time.Second, tm.Remaining())
	require.False(t, tm.IsDone())

	var got []time.Duration
	for range 3 {
		fc.Advance(interval)
		got = append(got, receive(t, ticks))
	}

	require.Equal(t, []time.Duration{2 * time.Second, time.Second, 0}, got, "remaining should decrease monotonically to 0")
	require.True(t, tm.IsDone())
	require.True(t, tm.IsPaused(), "should self-pause at 0")

	fc.Advance(5 * interval)
	requireNoTick(t, ticks)
	require.Equal(t, time.Duration(0), tm.Remaining(), "remaining should be clamped at 0")
}

func TestTimer_TogglePause(t *testing.T) {
	fc, tm, ticks := makeTimer(t)

	tm.StartCountdown(5 * time.Second)
	fc.Advance(interval)
	require.Equal(t, 4*time.Second, receive(t, ticks))

	require.True(t, tm.TogglePause(), "should report paused")
	fc.Advance(3 * interval)
	requireNoTick(t, ticks)
	require.Equal(t, 4*time.Second, tm.Remaining(), "pausing should not consume time")

	require.False(t, tm.TogglePause(), "should report resumed")
	fc.Advance(interval)
	require.Equal(t, 3*time.Second, receive(t, ticks))
}

func TestTimer_TogglePauseWhenDone(t *testing.T) {
	fc, tm, ticks := makeTimer(t)

	tm.StartCountdown(interval)
	fc.Advance(interval)
	require.Equal(t, time.Duration(0), receive(t, ticks))

	require.True(t, tm.TogglePause(), "a finished timer should stay paused")
	require.True(t, tm.IsDone())
}

func TestTimer_Panic(t *testing.T) {
	fc, tm, ticks := makeTimer(t)

	tm.StartCountdown(2 * time.Second)
	tm.Panic()
	require.True(t, tm.IsPanicking())
	require.Equal(t, 2*time.Second, tm.Remaining(), "panicking should not alter the duration")

	for _, want := range []time.Duration{1750, 1500, 1250, 1000} {
		fc.Advance(250 * time.Millisecond)
		require.Equal(t, want*time.Millisecond, receive(t, ticks))
	}

	tm.StopPanicking()
	require.False(t, tm.IsPanicking())
	fc.Advance(interval)
	require.Equal(t, time.Duration(0), receive(t, ticks))
}

func TestTimer_StartCountdownResetsPanicAndRemaining(t *testing.T) {
	fc, tm, ticks := makeTimer(t)

	tm.StartCountdown(10 * time.Second)
	tm.Panic()
	fc.Advance(250 * time.Millisecond)
	receive(t, ticks)

	tm.StartCountdown(5 * time.Second)
	require.False(t, tm.IsPanicking())
	require.Equal(t, 5*time.Second, tm.Remaining())

	fc.Advance(interval)
	require.Equal(t, 4*time.Second, receive(t, ticks))
}

func TestTimer_Stop(t *testing.T) {
	fc, tm, ticks := makeTimer(t)

	tm.StartCountdown(5 * time.Second)
	tm.Stop()

	fc.Advance(10 * interval)
	requireNoTick(t, ticks)
	require.Equal(t, 5*time.Second, tm.Remaining())
}

func makeTimer(t *testing.T) (*clockwork.FakeClock, *timer.Timer, <-chan time.Duration) {
	t.Helper()

	fc := clockwork.NewFakeClock()
	ticks := make(chan time.Duration, 16)
	tm := timer.New(timer.Config{
		Clock:         fc,
		Interval:      interval,
		PanicInterval: 250 * time.Millisecond,
	}, func(remaining time.Duration) {
		ticks <- remaining
	})
	t.Cleanup(tm.Stop)

	return fc, tm, ticks
}

func receive(t *testing.T, ticks <-chan time.Duration) time.Duration {
	t.Helper()

	select {
	case r := <-ticks:
		return r
	case <-time.After(time.Second):
		t.Fatal("expected a tick")
		return 0
	}
}

func requireNoTick(t *testing.T, ticks <-chan time.Duration) {
	t.Helper()

	select {
	case r := <-ticks:
		t.Fatalf("unexpected tick: %v", r)
	case <-time.After(50 * time.Millisecond):
	}
}
