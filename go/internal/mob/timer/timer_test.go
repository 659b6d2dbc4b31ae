package timer

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var start = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func waitForTicker(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("ticker never registered: %v", err)
	}
}

func nextEvent(t *testing.T, e *Engine) Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for timer event")
		return Event{}
	}
}

func waitForExpiry(t *testing.T, e *Engine) Event {
	t.Helper()
	for {
		ev := nextEvent(t, e)
		if ev.Type == EventExpired {
			return ev
		}
	}
}

func assertNoExpiry(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.After(50 * time.Millisecond)
	for {
		select {
		case ev := <-e.Events():
			if ev.Type == EventExpired {
				t.Fatalf("unexpected expiry: %+v", ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestRemaining(t *testing.T) {
	cases := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{name: "just started", elapsed: 0, want: 10},
		{name: "partial seconds truncate", elapsed: 3*time.Second + 900*time.Millisecond, want: 7},
		{name: "exactly at interval", elapsed: 10 * time.Second, want: 0},
		{name: "late delivery goes negative", elapsed: 12 * time.Second, want: -2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Remaining(start.Add(tc.elapsed), start, 10); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestEngine_ExpiresOnceAfterInterval(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	e := NewEngine(clock)

	if !e.Arm(start, 10) {
		t.Fatalf("first arm must start the timer")
	}
	waitForTicker(t, clock)

	clock.Advance(9 * time.Second)
	ev := nextEvent(t, e)
	if ev.Type != EventTick || ev.Remaining != 1 {
		t.Fatalf("want tick with 1s remaining, got %+v", ev)
	}

	clock.Advance(time.Second)
	expired := waitForExpiry(t, e)
	if !e.Current(expired.RunID) {
		t.Fatalf("expiry of the live run must be current")
	}
	if e.Armed() {
		t.Fatalf("timer must stop itself after expiry")
	}

	clock.Advance(30 * time.Second)
	assertNoExpiry(t, e)
}

func TestEngine_ArmWhileArmedIsNoop(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	e := NewEngine(clock)

	if !e.Arm(start, 10) {
		t.Fatalf("first arm must start the timer")
	}
	if e.Arm(start, 10) {
		t.Fatalf("second arm must be a no-op")
	}
	waitForTicker(t, clock)

	clock.Advance(10 * time.Second)
	waitForExpiry(t, e)

	clock.Advance(10 * time.Second)
	assertNoExpiry(t, e)
}

func TestEngine_LateStartExpiresOnFirstTick(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start.Add(25 * time.Second))
	e := NewEngine(clock)

	e.Arm(start, 10)
	waitForTicker(t, clock)
	clock.Advance(time.Second)

	ev := nextEvent(t, e)
	if ev.Type != EventExpired {
		t.Fatalf("want immediate expiry, got %+v", ev)
	}
	if ev.Remaining > 0 {
		t.Fatalf("remaining must be non-positive, got %d", ev.Remaining)
	}
}

func TestEngine_Disarm(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	e := NewEngine(clock)

	// Disarming an idle engine is allowed.
	e.Disarm()

	e.Arm(start, 10)
	waitForTicker(t, clock)
	first := nextRunID(e)

	e.Disarm()
	if e.Armed() {
		t.Fatalf("timer must not be armed after disarm")
	}
	if e.Current(first) {
		t.Fatalf("events of a disarmed run must not be current")
	}

	clock.Advance(20 * time.Second)
	assertNoExpiry(t, e)

	if !e.Arm(clock.Now(), 5) {
		t.Fatalf("re-arm after disarm must start a new run")
	}
	if e.Current(first) || !e.Current(nextRunID(e)) {
		t.Fatalf("only the new run is current")
	}
	e.Disarm()
}

func nextRunID(e *Engine) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}
