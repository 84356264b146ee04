package timeutil

import (
	"testing"
	"time"
)

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	if !c.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", c.Now(), start)
	}

	c.Advance(90 * time.Second)
	if got := c.Since(start); got != 90*time.Second {
		t.Errorf("Since(start) = %v, want 90s", got)
	}
}

func TestMockClockAfter(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	ch := c.After(time.Second)

	select {
	case <-ch:
		t.Fatal("waiter fired before clock advance")
	default:
	}

	c.Advance(2 * time.Second)
	select {
	case <-ch:
	default:
		t.Fatal("waiter did not fire after advance")
	}
}

func TestMockClockSleepRecords(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	c.Sleep(500 * time.Millisecond)
	c.Sleep(time.Second)

	sleeps := c.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 500*time.Millisecond || sleeps[1] != time.Second {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}
