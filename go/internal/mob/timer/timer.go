package timer

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TickInterval is the resolution of the turn timer.
const TickInterval = time.Second

// EventType represents the type of timer event
type EventType string

const (
	EventTick    EventType = "Tick"
	EventExpired EventType = "Expired"
)

// Event is emitted by a running turn timer.
type Event struct {
	Type      EventType
	RunID     uint64
	Remaining int // seconds, may be negative for a late tick
}

// Engine tracks elapsed time against a fixed turn interval.
// Remaining time is always derived from the wall clock difference between
// now and the start time, so a late or dropped tick corrects itself.
type Engine struct {
	clock  clockwork.Clock
	events chan Event

	mu      sync.Mutex
	seq     uint64
	current uint64 // run id whose events are still meaningful, 0 when disarmed
	active  *run
}

type run struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a turn timer driven by the given clock.
func NewEngine(clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock:  clock,
		events: make(chan Event, 16),
	}
}

// Events returns the stream of tick and expiry events for all runs.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Arm starts ticking against startTime. Arming while a run is already in
// progress does nothing and returns false.
func (e *Engine) Arm(startTime time.Time, intervalSec int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		log.Debug().Uint64("run_id", e.active.id).Msg("timer already running, ignoring arm")
		return false
	}

	e.seq++
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{id: e.seq, cancel: cancel, done: make(chan struct{})}
	e.active = r
	e.current = r.id

	// Created here rather than in the goroutine so the ticker exists once Arm returns.
	ticker := e.clock.NewTicker(TickInterval)
	go e.loop(ctx, r, ticker, startTime, intervalSec)

	log.Debug().
		Uint64("run_id", r.id).
		Time("start_time", startTime).
		Int("interval_sec", intervalSec).
		Msg("timer armed")
	return true
}

// Disarm cancels the running timer, if any. Events already queued for the
// cancelled run are no longer Current.
func (e *Engine) Disarm() {
	e.mu.Lock()
	r := e.active
	e.active = nil
	e.current = 0
	e.mu.Unlock()

	if r == nil {
		return
	}
	r.cancel()
	<-r.done
	log.Debug().Uint64("run_id", r.id).Msg("timer disarmed")
}

// Armed reports whether a run is in progress.
func (e *Engine) Armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

// Current reports whether events of the given run should still be acted on.
func (e *Engine) Current(runID uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return runID != 0 && e.current == runID
}

// Remaining computes the seconds left in a turn started at startTime.
func Remaining(now, startTime time.Time, intervalSec int) int {
	elapsed := int(now.Sub(startTime) / time.Second)
	return intervalSec - elapsed
}

func (e *Engine) loop(ctx context.Context, r *run, ticker clockwork.Ticker, startTime time.Time, intervalSec int) {
	defer close(r.done)
	defer r.cancel()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			remaining := Remaining(e.clock.Now(), startTime, intervalSec)
			if remaining > 0 {
				select {
				case e.events <- Event{Type: EventTick, RunID: r.id, Remaining: remaining}:
				default:
					// Ticks only refresh the display; the next one carries the same information.
				}
				continue
			}

			e.finish(r)
			select {
			case e.events <- Event{Type: EventExpired, RunID: r.id, Remaining: remaining}:
				log.Debug().Uint64("run_id", r.id).Msg("timer expired")
			case <-ctx.Done():
			}
			return
		}
	}
}

// finish releases the run slot without invalidating its events.
func (e *Engine) finish(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == r {
		e.active = nil
	}
}
