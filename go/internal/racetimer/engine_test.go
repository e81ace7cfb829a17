package racetimer

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-9

func newTestEngine(t *testing.T) (*Engine, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	return NewEngine(fc), fc
}

func mustSnap(t *testing.T) func(Snapshot, error) Snapshot {
	return func(s Snapshot, err error) Snapshot {
		t.Helper()
		require.NoError(t, err)
		return s
	}
}

func TestEngine_DefaultState(t *testing.T) {
	e, _ := newTestEngine(t)
	snap := mustSnap(t)(e.State())

	assert.Equal(t, Snapshot{CorrectionFactor: DefaultCorrectionFactor}, snap)
}

func TestEngine_DistanceIsLinearInElapsedTime(t *testing.T) {
	tests := []struct {
		name    string
		speed   float64
		elapsed time.Duration
		want    float64
	}{
		{name: "36 km/h for 1s", speed: 36, elapsed: time.Second, want: 10},
		{name: "72 km/h for 3s", speed: 72, elapsed: 3 * time.Second, want: 60},
		{name: "90 km/h for 250ms", speed: 90, elapsed: 250 * time.Millisecond, want: 6.25},
		{name: "zero speed", speed: 0, elapsed: 5 * time.Second, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, fc := newTestEngine(t)
			mustSnap(t)(e.SetSpeed(tt.speed))
			mustSnap(t)(e.Start())

			fc.Advance(tt.elapsed)
			snap := mustSnap(t)(e.State())

			assert.InDelta(t, tt.want, snap.RawMeters, tolerance)
			assert.InDelta(t, tt.speed/3.6*tt.elapsed.Seconds(), snap.RawMeters, tolerance)
		})
	}
}

func TestEngine_SetSpeedThenGetState(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.Start())
	mustSnap(t)(e.SetSpeed(36.0))

	fc.Advance(time.Second)
	snap := mustSnap(t)(e.State())

	assert.InDelta(t, 10.0, snap.RawMeters, tolerance)
	assert.InDelta(t, 10.42, snap.CorrectedMeters, tolerance)
}

func TestEngine_SetSpeedFlushesUnderOldSpeed(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.Start())

	fc.Advance(time.Second)
	mustSnap(t)(e.SetSpeed(72))
	fc.Advance(time.Second)
	snap := mustSnap(t)(e.State())

	assert.InDelta(t, 30.0, snap.RawMeters, tolerance)
	assert.Equal(t, 72.0, snap.CurrentSpeed)
}

func TestEngine_StoppedGapDoesNotAccumulate(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.Start())

	fc.Advance(2 * time.Second)
	stopped := mustSnap(t)(e.Stop())
	assert.InDelta(t, 20.0, stopped.RawMeters, tolerance)
	assert.EqualValues(t, 200, stopped.RaceClockCentiseconds)

	fc.Advance(10 * time.Second)
	restarted := mustSnap(t)(e.Start())

	assert.Equal(t, stopped.RawMeters, restarted.RawMeters)
	assert.Equal(t, stopped.RaceClockCentiseconds, restarted.RaceClockCentiseconds)
	assert.True(t, restarted.IsRunning)
}

func TestEngine_NotRunningDoesNotAdvance(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(100))

	fc.Advance(time.Minute)
	snap := mustSnap(t)(e.State())

	assert.Zero(t, snap.RawMeters)
	assert.Zero(t, snap.RaceClockCentiseconds)
}

func TestEngine_NonPositiveSpeedStillAdvancesRaceClock(t *testing.T) {
	for _, speed := range []float64{0, -20} {
		e, fc := newTestEngine(t)
		mustSnap(t)(e.SetSpeed(speed))
		mustSnap(t)(e.Start())

		fc.Advance(3 * time.Second)
		snap := mustSnap(t)(e.State())

		assert.Zero(t, snap.RawMeters)
		assert.EqualValues(t, 300, snap.RaceClockCentiseconds)
	}
}

func TestEngine_ToggleIsItsOwnInverse(t *testing.T) {
	e, _ := newTestEngine(t)

	first := mustSnap(t)(e.Toggle())
	assert.True(t, first.IsRunning)
	second := mustSnap(t)(e.Toggle())
	assert.False(t, second.IsRunning)

	mustSnap(t)(e.Start())
	third := mustSnap(t)(e.Toggle())
	fourth := mustSnap(t)(e.Toggle())
	assert.False(t, third.IsRunning)
	assert.True(t, fourth.IsRunning)
}

func TestEngine_ToggleStopCapturesDistance(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.Toggle())

	fc.Advance(1500 * time.Millisecond)
	snap := mustSnap(t)(e.Toggle())

	assert.False(t, snap.IsRunning)
	assert.InDelta(t, 15.0, snap.RawMeters, tolerance)
}

func TestEngine_CorrectedDistanceHoldsAfterEveryOperation(t *testing.T) {
	e, fc := newTestEngine(t)
	ops := []func() (Snapshot, error){
		e.Start,
		func() (Snapshot, error) { return e.SetSpeed(54) },
		func() (Snapshot, error) { fc.Advance(700 * time.Millisecond); return e.State() },
		func() (Snapshot, error) { return e.SetCorrectionFactor(998.5) },
		func() (Snapshot, error) { return e.AdjustCorrectionFactor(3) },
		func() (Snapshot, error) { return e.RecordOdometerSnapshot(12) },
		func() (Snapshot, error) { return e.AdjustOdometer(-1) },
		e.ResetOdometer,
		e.Toggle,
		func() (Snapshot, error) { return e.SetRaceClockStart(1000) },
		e.Stop,
		e.Reset,
		e.FullReset,
		e.Tick,
	}

	for i, op := range ops {
		snap, err := op()
		require.NoError(t, err, "op %d", i)
		assert.InDelta(t, snap.RawMeters*snap.CorrectionFactor/1000, snap.CorrectedMeters, tolerance, "op %d", i)
	}
}

func TestEngine_CorrectionFactor(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.Start())
	fc.Advance(time.Second)

	snap := mustSnap(t)(e.SetCorrectionFactor(1000))
	assert.Equal(t, 1000.0, snap.CorrectionFactor)

	snap = mustSnap(t)(e.AdjustCorrectionFactor(-2.5))
	assert.Equal(t, 997.5, snap.CorrectionFactor)

	snap = mustSnap(t)(e.AdjustCorrectionFactor(-1000))
	assert.Equal(t, -2.5, snap.CorrectionFactor)
}

func TestEngine_OdometerSnapshotIsPointInTime(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.Start())

	fc.Advance(time.Second)
	mustSnap(t)(e.State())
	snap := mustSnap(t)(e.RecordOdometerSnapshot(15))
	assert.Equal(t, 15.0, snap.OdometerMeters)
	assert.InDelta(t, 15-10.42, snap.DiffSnapshot, tolerance)

	fc.Advance(5 * time.Second)
	later := mustSnap(t)(e.State())
	assert.InDelta(t, 60.0, later.RawMeters, tolerance)
	assert.InDelta(t, 15-10.42, later.DiffSnapshot, tolerance)
}

func TestEngine_OdometerUsesLastIntegratedDistance(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.Start())

	// No integration between the advance and the snapshot.
	fc.Advance(time.Second)
	snap := mustSnap(t)(e.RecordOdometerSnapshot(5))

	assert.Zero(t, snap.RawMeters)
	assert.Equal(t, 5.0, snap.DiffSnapshot)
}

func TestEngine_AdjustOdometerTwice(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.Start())

	first := mustSnap(t)(e.AdjustOdometer(5.0))
	assert.Equal(t, 5.0, first.OdometerMeters)
	assert.Equal(t, 5.0, first.DiffSnapshot)

	fc.Advance(time.Second)
	mustSnap(t)(e.State())
	second := mustSnap(t)(e.AdjustOdometer(5.0))
	assert.Equal(t, 10.0, second.OdometerMeters)
	assert.InDelta(t, 10-10.42, second.DiffSnapshot, tolerance)
}

func TestEngine_ResetOdometer(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.Start())
	fc.Advance(time.Second)
	mustSnap(t)(e.State())
	mustSnap(t)(e.RecordOdometerSnapshot(20))

	snap := mustSnap(t)(e.ResetOdometer())

	assert.Zero(t, snap.OdometerMeters)
	assert.InDelta(t, -10.42, snap.DiffSnapshot, tolerance)
}

func TestEngine_PartialResetPreservesCalibration(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetCorrectionFactor(1010))
	mustSnap(t)(e.SetSpeed(36))
	mustSnap(t)(e.SetRaceClockStart(500))
	mustSnap(t)(e.Start())
	fc.Advance(2 * time.Second)
	mustSnap(t)(e.State())
	mustSnap(t)(e.RecordOdometerSnapshot(30))

	snap := mustSnap(t)(e.Reset())

	assert.Zero(t, snap.RawMeters)
	assert.Zero(t, snap.CorrectedMeters)
	assert.False(t, snap.IsRunning)
	assert.Zero(t, snap.DiffSnapshot)
	assert.Equal(t, 1010.0, snap.CorrectionFactor)
	assert.Equal(t, 36.0, snap.CurrentSpeed)
	assert.Equal(t, 30.0, snap.OdometerMeters)
	assert.EqualValues(t, 700, snap.RaceClockCentiseconds)

	// The cleared baseline means the first start after a reset charges nothing.
	fc.Advance(time.Minute)
	restarted := mustSnap(t)(e.Start())
	assert.Zero(t, restarted.RawMeters)
	assert.EqualValues(t, 700, restarted.RaceClockCentiseconds)
}

func TestEngine_FullResetRestoresDefaults(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetCorrectionFactor(990))
	mustSnap(t)(e.SetSpeed(80))
	mustSnap(t)(e.SetRaceClockStart(3060000))
	mustSnap(t)(e.Start())
	fc.Advance(4 * time.Second)
	mustSnap(t)(e.AdjustOdometer(12))

	snap := mustSnap(t)(e.FullReset())

	assert.Equal(t, Snapshot{CorrectionFactor: DefaultCorrectionFactor}, snap)

	e.mu.Lock()
	assert.Nil(t, e.state.LastTick)
	assert.Zero(t, e.state.RaceClockAccumCs)
	assert.Zero(t, e.state.RaceClockStartCs)
	e.mu.Unlock()
}

func TestEngine_RaceClock(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetRaceClockStart(500))
	mustSnap(t)(e.Start())

	fc.Advance(2500 * time.Millisecond)
	snap := mustSnap(t)(e.State())

	assert.EqualValues(t, 750, snap.RaceClockCentiseconds)
}

func TestEngine_RaceClockFloorsPartialCentiseconds(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.Start())

	fc.Advance(15 * time.Millisecond)
	snap := mustSnap(t)(e.State())

	assert.EqualValues(t, 1, snap.RaceClockCentiseconds)
}

func TestEngine_SetRaceClockStartWhileRunningClearsAccumulated(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.Start())
	fc.Advance(3 * time.Second)

	snap := mustSnap(t)(e.SetRaceClockStart(ReferenceTime{Hours: 8, Minutes: 30}.ToCentiseconds()))
	assert.EqualValues(t, 3060000, snap.RaceClockCentiseconds)

	fc.Advance(time.Second)
	snap = mustSnap(t)(e.State())
	assert.EqualValues(t, 3060100, snap.RaceClockCentiseconds)
}

func TestEngine_PanicPoisonsEngine(t *testing.T) {
	e, _ := newTestEngine(t)
	mustSnap(t)(e.Start())

	_, err := e.apply("boom", func(*State, time.Time) { panic("boom") })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEngineFaulted))
	assert.ErrorIs(t, e.Faulted(), ErrEngineFaulted)

	ops := map[string]func() (Snapshot, error){
		"state": e.State,
		"tick":  e.Tick,
		"start": e.Start,
		"speed": func() (Snapshot, error) { return e.SetSpeed(10) },
		"reset": e.FullReset,
	}
	for name, op := range ops {
		snap, err := op()
		assert.ErrorIs(t, err, ErrEngineFaulted, name)
		assert.Equal(t, Snapshot{}, snap, name)
	}
}

func TestEngine_NonFiniteResultIsRolledBack(t *testing.T) {
	e, _ := newTestEngine(t)

	mustSnap(t)(e.AdjustCorrectionFactor(1e308))
	_, err := e.AdjustCorrectionFactor(1e308)
	require.ErrorIs(t, err, ErrNonFiniteState)

	_, err = e.SetSpeed(math.NaN())
	require.ErrorIs(t, err, ErrNonFiniteState)
	_, err = e.RecordOdometerSnapshot(math.Inf(-1))
	require.ErrorIs(t, err, ErrNonFiniteState)

	snap := mustSnap(t)(e.State())
	assert.Equal(t, 1e308, snap.CorrectionFactor)
	assert.Zero(t, snap.CurrentSpeed)
	assert.Zero(t, snap.OdometerMeters)
	assert.NoError(t, e.Faulted())
}

func TestEngine_OverflowingIntegrationKeepsLastState(t *testing.T) {
	e, fc := newTestEngine(t)
	mustSnap(t)(e.SetSpeed(math.MaxFloat64))
	mustSnap(t)(e.Start())

	fc.Advance(10 * time.Second)
	_, err := e.State()
	require.ErrorIs(t, err, ErrNonFiniteState)

	snap := mustSnap(t)(e.FullReset())
	assert.Equal(t, Snapshot{CorrectionFactor: DefaultCorrectionFactor}, snap)
}
