package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_NewTicker(t *testing.T) {
	clock := RealClock{}
	ticker := clock.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Error("ticker did not fire")
	}
}

func TestUnixSeconds(t *testing.T) {
	ts := time.Unix(1700000000, 500_000_000)
	if got := UnixSeconds(ts); got != 1700000000.5 {
		t.Errorf("UnixSeconds = %v, want 1700000000.5", got)
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := NewMockClock(start)
	ticker := clock.NewTicker(100 * time.Millisecond)

	clock.Advance(50 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its interval elapsed")
	default:
	}

	clock.Advance(50 * time.Millisecond)
	select {
	case got := <-ticker.C():
		if want := start.Add(100 * time.Millisecond); !got.Equal(want) {
			t.Errorf("tick time = %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire after interval")
	}
}

func TestMockClock_StoppedTickerDoesNotFire(t *testing.T) {
	clock := NewMockClock(time.Time{})
	ticker := clock.NewTicker(time.Millisecond)
	if clock.Tickers() != 1 {
		t.Fatalf("Tickers() = %d, want 1", clock.Tickers())
	}
	ticker.Stop()
	if clock.Tickers() != 0 {
		t.Errorf("Tickers() = %d after Stop, want 0", clock.Tickers())
	}

	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}

func TestMockClock_Sleep(t *testing.T) {
	clock := NewMockClock(time.Time{})
	clock.Sleep(100 * time.Millisecond)
	clock.Sleep(200 * time.Millisecond)

	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 100*time.Millisecond || sleeps[1] != 200*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
	if !clock.Now().IsZero() {
		t.Error("Sleep must not advance the mock clock")
	}
}

func TestFromUnixSeconds(t *testing.T) {
	ts := time.Unix(1700000000, 500_000_000)
	if got := FromUnixSeconds(UnixSeconds(ts)); !got.Equal(ts) {
		t.Errorf("FromUnixSeconds(UnixSeconds(%v)) = %v", ts, got)
	}
}
