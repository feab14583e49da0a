package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	fc := NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	ch := fc.After(5 * time.Minute)
	select {
	case <-ch:
		t.Fatal("timer fired before advance")
	default:
	}

	fc.Advance(4 * time.Minute)
	select {
	case <-ch:
		t.Fatal("timer fired before its deadline")
	default:
	}

	fc.Advance(time.Minute)
	select {
	case <-ch:
	default:
		t.Fatal("timer did not fire at its deadline")
	}
}

func TestFakeTickerRepeats(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	ticker := fc.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; i < 3; i++ {
		fc.Advance(time.Second)
		select {
		case <-ticker.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}
}

func TestFakeTickerStop(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	ticker := fc.NewTicker(time.Second)
	ticker.Stop()

	fc.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeSleepUnblocks(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	done := make(chan struct{})

	go func() {
		fc.Sleep(10 * time.Second)
		close(done)
	}()

	fc.BlockUntilTimers(1)
	fc.Advance(10 * time.Second)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Sleep did not return after advance")
	}
}

func TestFakeNowAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := NewFake(start)
	fc.Advance(90 * time.Minute)
	if got := fc.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(90*time.Minute))
	}
}
