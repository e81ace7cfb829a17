package racetimer

import (
	"math"
	"time"
)

// DefaultCorrectionFactor is the per-mille factor applied to raw distance
// after a full reset.
const DefaultCorrectionFactor = 1042.0

// State is the authoritative simulation state owned by an Engine.
// It is never shared outside the engine's lock.
type State struct {
	AccumulatedMeters  float64
	CorrectionFactor   float64
	CurrentSpeedKmh    float64
	IsRunning          bool
	OdometerMeters     float64
	DiffSnapshotMeters float64
	RaceClockStartCs   int64
	RaceClockAccumCs   float64
	LastTick           *time.Time
}

// Snapshot is the derived, immutable view of State returned by every command
// and published on every tick.
type Snapshot struct {
	RawMeters             float64 `json:"raw_meters"`
	CorrectedMeters       float64 `json:"corrected_meters"`
	CorrectionFactor      float64 `json:"correction_factor"`
	CurrentSpeed          float64 `json:"current_speed"`
	IsRunning             bool    `json:"is_running"`
	DiffSnapshot          float64 `json:"diff_snapshot"`
	OdometerMeters        float64 `json:"odometer_meters"`
	RaceClockCentiseconds int64   `json:"race_clock_centiseconds"`
}

func defaultState() State {
	return State{CorrectionFactor: DefaultCorrectionFactor}
}

// CorrectedMeters returns raw distance scaled by the per-mille correction factor.
func (s *State) CorrectedMeters() float64 {
	return s.AccumulatedMeters * s.CorrectionFactor / 1000.0
}

// RaceClockNow returns the race clock in whole centiseconds.
func (s *State) RaceClockNow() int64 {
	return s.RaceClockStartCs + int64(math.Floor(s.RaceClockAccumCs))
}

// integrate charges the wall-clock time since the last tick against the
// current speed and running flag, then rebases on now. A nil LastTick
// contributes nothing.
func (s *State) integrate(now time.Time) {
	if s.LastTick != nil {
		elapsed := now.Sub(*s.LastTick).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		if s.IsRunning {
			s.RaceClockAccumCs += elapsed * 100.0
			if s.CurrentSpeedKmh > 0 {
				s.AccumulatedMeters += (s.CurrentSpeedKmh / 3.6) * elapsed
			}
		}
	}
	s.LastTick = &now
}

// finite reports whether every value a snapshot exposes can be encoded.
func (s *State) finite() bool {
	for _, v := range []float64{
		s.AccumulatedMeters,
		s.CorrectionFactor,
		s.CurrentSpeedKmh,
		s.OdometerMeters,
		s.DiffSnapshotMeters,
		s.RaceClockAccumCs,
		s.CorrectedMeters(),
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s *State) refreshDiff() {
	s.DiffSnapshotMeters = s.OdometerMeters - s.CorrectedMeters()
}

func (s *State) snapshot() Snapshot {
	return Snapshot{
		RawMeters:             s.AccumulatedMeters,
		CorrectedMeters:       s.CorrectedMeters(),
		CorrectionFactor:      s.CorrectionFactor,
		CurrentSpeed:          s.CurrentSpeedKmh,
		IsRunning:             s.IsRunning,
		DiffSnapshot:          s.DiffSnapshotMeters,
		OdometerMeters:        s.OdometerMeters,
		RaceClockCentiseconds: s.RaceClockNow(),
	}
}
