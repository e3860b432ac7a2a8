package countdown

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	appLog "gigclock/internal/log"
)

// DefaultPeriod is the tick cadence of an Engine.
const DefaultPeriod = time.Second

// ErrNotScheduled is returned by Activate when the engine has no way to
// schedule ticks (no clock, a non-positive period, or a zero target).
var ErrNotScheduled = errors.New("countdown: cannot schedule ticks")

// Tick is one emission of an Engine.
type Tick struct {
	Target    time.Time
	Now       time.Time
	Remaining Remaining
}

// Option customizes an Engine.
type Option func(*Engine)

// WithPeriod overrides the one second cadence.
func WithPeriod(d time.Duration) Option {
	return func(e *Engine) { e.period = d }
}

// Engine emits the remaining time to a fixed target on a recurring
// schedule. It owns a single ticker per activation. Retargeting always
// goes through a full stop of the previous schedule.
//
// emit is called from the engine's goroutine, one tick at a time. It must
// not call back into the same engine synchronously.
type Engine struct {
	clock  clock.Clock
	period time.Duration
	emit   func(Tick)

	mu  sync.Mutex
	run *run
}

// run is the state of one activation.
type run struct {
	target time.Time
	ticker *clock.Ticker
	stop   chan struct{}
	done   chan struct{}
}

// NewEngine builds an inactive engine. A nil emit discards ticks.
func NewEngine(clk clock.Clock, emit func(Tick), opts ...Option) *Engine {
	if emit == nil {
		emit = func(Tick) {}
	}
	e := &Engine{
		clock:  clk,
		period: DefaultPeriod,
		emit:   emit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Activate starts counting down to target. The first tick is emitted right
// away, then once per period. A running schedule is stopped first.
func (e *Engine) Activate(target time.Time) error {
	if e.clock == nil || e.period <= 0 || target.IsZero() {
		return ErrNotScheduled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked()

	r := &run{
		target: target,
		ticker: e.clock.Ticker(e.period),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	e.run = r
	go e.loop(r)

	appLog.Debug("countdown activated", "target", target.Format(time.RFC3339), "period", e.period)
	return nil
}

// Deactivate stops the current schedule and waits until its goroutine has
// returned, so nothing is emitted once it returns. Safe to call repeatedly
// and on an engine that was never activated.
func (e *Engine) Deactivate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

// Active reports whether a schedule is running.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.run != nil
}

func (e *Engine) stopLocked() {
	r := e.run
	if r == nil {
		return
	}
	e.run = nil
	r.ticker.Stop()
	close(r.stop)
	<-r.done
	appLog.Debug("countdown deactivated", "target", r.target.Format(time.RFC3339))
}

func (e *Engine) loop(r *run) {
	defer close(r.done)

	select {
	case <-r.stop:
		return
	default:
		e.emit(e.tick(r.target))
	}
	for {
		select {
		case <-r.stop:
			return
		case <-r.ticker.C:
			// The ticker may have fired in the same instant stop was closed.
			select {
			case <-r.stop:
				return
			default:
			}
			e.emit(e.tick(r.target))
		}
	}
}

func (e *Engine) tick(target time.Time) Tick {
	now := e.clock.Now()
	return Tick{
		Target:    target,
		Now:       now,
		Remaining: Compute(target, now),
	}
}
