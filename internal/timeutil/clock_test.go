package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, outside [%v, %v]", got, before, after)
	}
}

func TestRealClock_TickerFires(t *testing.T) {
	ticker := RealClock{}.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker never fired")
	}
}

func TestMockClock_NowAndSet(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(base)

	if !clock.Now().Equal(base) {
		t.Errorf("Now() = %v, want %v", clock.Now(), base)
	}

	later := base.Add(time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", clock.Now(), later)
	}
}

func TestMockClock_AdvanceFiresTicker(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(base)
	ticker := clock.NewTicker(time.Second)

	// Under the interval: quiet.
	clock.Advance(500 * time.Millisecond)
	select {
	case tick := <-ticker.C():
		t.Fatalf("unexpected tick at %v", tick)
	default:
	}

	// Crossing the interval fires with the advanced time.
	clock.Advance(500 * time.Millisecond)
	select {
	case tick := <-ticker.C():
		if !tick.Equal(base.Add(time.Second)) {
			t.Errorf("tick = %v, want %v", tick, base.Add(time.Second))
		}
	default:
		t.Fatal("expected a tick after advancing past the interval")
	}

	// The ticker reschedules itself for the next interval.
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected a second tick")
	}
}

func TestMockClock_UndrainedTickIsDropped(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Second)

	clock.Advance(time.Second)
	clock.Advance(time.Second)

	<-ticker.C()
	select {
	case tick := <-ticker.C():
		t.Errorf("second tick %v should have been dropped", tick)
	default:
	}
}

func TestMockClock_StoppedTickerStaysQuiet(t *testing.T) {
	clock := NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ticker := clock.NewTicker(time.Second)
	ticker.Stop()

	clock.Advance(5 * time.Second)
	select {
	case tick := <-ticker.C():
		t.Errorf("stopped ticker fired at %v", tick)
	default:
	}
}

func TestMockClock_SetDoesNotFireTickers(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := NewMockClock(base)
	ticker := clock.NewTicker(time.Second)

	clock.Set(base.Add(time.Hour))
	select {
	case tick := <-ticker.C():
		t.Errorf("Set should not fire tickers, got %v", tick)
	default:
	}
}
