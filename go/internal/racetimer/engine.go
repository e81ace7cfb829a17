package racetimer

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrEngineFaulted is returned by every Engine operation once a mutation has
// panicked while holding the state lock. The engine never recovers from it.
var ErrEngineFaulted = errors.New("race timer engine faulted")

// ErrNonFiniteState is returned when an operation would leave a NaN or
// infinite value in the state. The operation is rolled back.
var ErrNonFiniteState = errors.New("race timer value out of range")

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Engine owns the single TimerState behind a mutex. Every operation first
// integrates elapsed time where required and returns the snapshot taken under
// the same lock, so callers never observe a partially applied change.
type Engine struct {
	clock Clock

	mu    sync.Mutex
	state State
	fault error
}

// NewEngine creates an engine in its default state
func NewEngine(clock Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock: clock,
		state: defaultState(),
	}
}

// apply runs fn under the lock. A panic inside fn poisons the engine.
func (e *Engine) apply(op string, fn func(s *State, now time.Time)) (snap Snapshot, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.fault != nil {
		return Snapshot{}, e.fault
	}

	defer func() {
		if r := recover(); r != nil {
			e.fault = fmt.Errorf("%w: panic during %s: %v", ErrEngineFaulted, op, r)
			log.Error().
				Str("op", op).
				Interface("panic", r).
				Msg("race timer state poisoned")
			snap, err = Snapshot{}, e.fault
		}
	}()

	prev := e.state
	fn(&e.state, e.clock.Now())
	if !e.state.finite() {
		e.state = prev
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNonFiniteState, op)
	}
	return e.state.snapshot(), nil
}

// Faulted reports the fault that poisoned the engine, if any.
func (e *Engine) Faulted() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fault
}

// Tick integrates elapsed time and returns the current snapshot. It is the
// primitive the Ticker calls on every period.
func (e *Engine) Tick() (Snapshot, error) {
	return e.apply("tick", func(s *State, now time.Time) {
		s.integrate(now)
	})
}

// State returns the current snapshot, integrated up to now.
func (e *Engine) State() (Snapshot, error) {
	return e.apply("get_state", func(s *State, now time.Time) {
		s.integrate(now)
	})
}

// Start sets the timer running with now as the integration baseline.
func (e *Engine) Start() (Snapshot, error) {
	return e.apply("start", func(s *State, now time.Time) {
		s.integrate(now)
		s.IsRunning = true
	})
}

// Stop captures distance and race time up to now, then stops.
func (e *Engine) Stop() (Snapshot, error) {
	return e.apply("stop", func(s *State, now time.Time) {
		s.integrate(now)
		s.IsRunning = false
	})
}

// Toggle flips the running flag. The new flag is Snapshot.IsRunning.
func (e *Engine) Toggle() (Snapshot, error) {
	return e.apply("toggle", func(s *State, now time.Time) {
		s.integrate(now)
		s.IsRunning = !s.IsRunning
	})
}

// SetSpeed flushes elapsed time under the old speed before replacing it.
func (e *Engine) SetSpeed(kmh float64) (Snapshot, error) {
	return e.apply("set_speed", func(s *State, now time.Time) {
		s.integrate(now)
		s.CurrentSpeedKmh = kmh
	})
}

// SetCorrectionFactor replaces the factor. Raw distance is unaffected.
func (e *Engine) SetCorrectionFactor(factor float64) (Snapshot, error) {
	return e.apply("set_correction_factor", func(s *State, _ time.Time) {
		s.CorrectionFactor = factor
	})
}

// AdjustCorrectionFactor adds delta to the factor.
func (e *Engine) AdjustCorrectionFactor(delta float64) (Snapshot, error) {
	return e.apply("adjust_correction_factor", func(s *State, _ time.Time) {
		s.CorrectionFactor += delta
	})
}

// RecordOdometerSnapshot stores the physical odometer reading and computes
// the diff against the corrected distance as of the last integration.
func (e *Engine) RecordOdometerSnapshot(meters float64) (Snapshot, error) {
	return e.apply("record_odometer_snapshot", func(s *State, _ time.Time) {
		s.OdometerMeters = meters
		s.refreshDiff()
	})
}

// AdjustOdometer nudges the odometer reading and recomputes the diff.
func (e *Engine) AdjustOdometer(delta float64) (Snapshot, error) {
	return e.apply("adjust_odometer", func(s *State, _ time.Time) {
		s.OdometerMeters += delta
		s.refreshDiff()
	})
}

// ResetOdometer zeroes the odometer reading and recomputes the diff.
func (e *Engine) ResetOdometer() (Snapshot, error) {
	return e.apply("reset_odometer", func(s *State, _ time.Time) {
		s.OdometerMeters = 0
		s.refreshDiff()
	})
}

// Reset clears distance and stops the timer. Correction factor, speed,
// odometer and the race clock are kept.
func (e *Engine) Reset() (Snapshot, error) {
	return e.apply("reset", func(s *State, _ time.Time) {
		s.AccumulatedMeters = 0
		s.IsRunning = false
		s.LastTick = nil
		s.DiffSnapshotMeters = 0
	})
}

// FullReset restores every field to its default.
func (e *Engine) FullReset() (Snapshot, error) {
	return e.apply("full_reset", func(s *State, _ time.Time) {
		*s = defaultState()
	})
}

// SetRaceClockStart rebases the race clock on centiseconds and clears the
// accumulated race time. Elapsed time is flushed first so it is not charged
// to the new base.
func (e *Engine) SetRaceClockStart(centiseconds int64) (Snapshot, error) {
	return e.apply("set_race_clock_start", func(s *State, now time.Time) {
		s.integrate(now)
		s.RaceClockStartCs = centiseconds
		s.RaceClockAccumCs = 0
	})
}
