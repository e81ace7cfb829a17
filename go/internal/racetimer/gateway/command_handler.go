package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mcdev12/roadbook/go/internal/racetimer"
	"github.com/rs/zerolog/log"
)

// TimerEngine defines what the command handler needs from the race timer
type TimerEngine interface {
	StateSource
	Start() (racetimer.Snapshot, error)
	Stop() (racetimer.Snapshot, error)
	Toggle() (racetimer.Snapshot, error)
	SetSpeed(kmh float64) (racetimer.Snapshot, error)
	SetCorrectionFactor(factor float64) (racetimer.Snapshot, error)
	AdjustCorrectionFactor(delta float64) (racetimer.Snapshot, error)
	RecordOdometerSnapshot(meters float64) (racetimer.Snapshot, error)
	AdjustOdometer(delta float64) (racetimer.Snapshot, error)
	ResetOdometer() (racetimer.Snapshot, error)
	Reset() (racetimer.Snapshot, error)
	FullReset() (racetimer.Snapshot, error)
	SetRaceClockStart(centiseconds int64) (racetimer.Snapshot, error)
}

var _ TimerEngine = (*racetimer.Engine)(nil)

// SpeedRequest is the body of POST /api/timer/speed
type SpeedRequest struct {
	Speed *float64 `json:"speed"`
}

// FactorRequest is the body of POST /api/timer/correction-factor
type FactorRequest struct {
	Factor *float64 `json:"factor"`
}

// DeltaRequest is the body of the adjust endpoints
type DeltaRequest struct {
	Delta *float64 `json:"delta"`
}

// OdometerRequest is the body of POST /api/timer/odometer/snapshot
type OdometerRequest struct {
	OdometerMeters *float64 `json:"odometer_meters"`
}

// RaceClockStartRequest is the body of POST /api/timer/race-clock/start.
// Exactly one of the fields must be set.
type RaceClockStartRequest struct {
	Centiseconds *int64                   `json:"centiseconds,omitempty"`
	Clock        string                   `json:"clock,omitempty"`
	Reference    *racetimer.ReferenceTime `json:"reference,omitempty"`
}

// resolve turns the request into a race-clock value
func (r RaceClockStartRequest) resolve() (int64, error) {
	set := 0
	var cs int64
	if r.Centiseconds != nil {
		set++
		cs = *r.Centiseconds
	}
	if r.Clock != "" {
		set++
		v, err := racetimer.ParseRaceClock(r.Clock)
		if err != nil {
			return 0, err
		}
		cs = v
	}
	if r.Reference != nil {
		set++
		if err := r.Reference.Validate(); err != nil {
			return 0, fmt.Errorf("invalid reference: %w", err)
		}
		cs = r.Reference.ToCentiseconds()
	}
	if set != 1 {
		return 0, errors.New("exactly one of centiseconds, clock or reference is required")
	}
	return cs, nil
}

// ErrorResponse is written for every non-2xx response
type ErrorResponse struct {
	Error string `json:"error"`
}

type badRequestError struct{ err error }

func (e badRequestError) Error() string { return e.err.Error() }
func (e badRequestError) Unwrap() error { return e.err }

// CommandHandler exposes TimerEngine operations over HTTP
type CommandHandler struct {
	engine TimerEngine
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(engine TimerEngine) *CommandHandler {
	return &CommandHandler{engine: engine}
}

// RegisterCommandRoutes registers the timer command routes
func (h *CommandHandler) RegisterCommandRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/timer/state", h.query(h.engine.State))
	mux.HandleFunc("/api/timer/start", h.command(noArgs(h.engine.Start)))
	mux.HandleFunc("/api/timer/stop", h.command(noArgs(h.engine.Stop)))
	mux.HandleFunc("/api/timer/toggle", h.command(noArgs(h.engine.Toggle)))
	mux.HandleFunc("/api/timer/speed", h.command(h.setSpeed))
	mux.HandleFunc("/api/timer/correction-factor", h.command(h.setCorrectionFactor))
	mux.HandleFunc("/api/timer/correction-factor/adjust", h.command(floatArg(h.engine.AdjustCorrectionFactor)))
	mux.HandleFunc("/api/timer/odometer/snapshot", h.command(h.recordOdometer))
	mux.HandleFunc("/api/timer/odometer/adjust", h.command(floatArg(h.engine.AdjustOdometer)))
	mux.HandleFunc("/api/timer/odometer/reset", h.command(noArgs(h.engine.ResetOdometer)))
	mux.HandleFunc("/api/timer/reset", h.command(noArgs(h.engine.Reset)))
	mux.HandleFunc("/api/timer/full-reset", h.command(noArgs(h.engine.FullReset)))
	mux.HandleFunc("/api/timer/race-clock/start", h.command(h.setRaceClockStart))
}

type commandFunc func(r *http.Request) (racetimer.Snapshot, error)

func noArgs(fn func() (racetimer.Snapshot, error)) commandFunc {
	return func(*http.Request) (racetimer.Snapshot, error) { return fn() }
}

func floatArg(fn func(float64) (racetimer.Snapshot, error)) commandFunc {
	return func(r *http.Request) (racetimer.Snapshot, error) {
		var req DeltaRequest
		if err := decodeBody(r, &req); err != nil {
			return racetimer.Snapshot{}, err
		}
		if req.Delta == nil {
			return racetimer.Snapshot{}, badRequestError{errors.New("delta is required")}
		}
		return fn(*req.Delta)
	}
}

func (h *CommandHandler) setSpeed(r *http.Request) (racetimer.Snapshot, error) {
	var req SpeedRequest
	if err := decodeBody(r, &req); err != nil {
		return racetimer.Snapshot{}, err
	}
	if req.Speed == nil {
		return racetimer.Snapshot{}, badRequestError{errors.New("speed is required")}
	}
	return h.engine.SetSpeed(*req.Speed)
}

func (h *CommandHandler) setCorrectionFactor(r *http.Request) (racetimer.Snapshot, error) {
	var req FactorRequest
	if err := decodeBody(r, &req); err != nil {
		return racetimer.Snapshot{}, err
	}
	if req.Factor == nil {
		return racetimer.Snapshot{}, badRequestError{errors.New("factor is required")}
	}
	return h.engine.SetCorrectionFactor(*req.Factor)
}

func (h *CommandHandler) recordOdometer(r *http.Request) (racetimer.Snapshot, error) {
	var req OdometerRequest
	if err := decodeBody(r, &req); err != nil {
		return racetimer.Snapshot{}, err
	}
	if req.OdometerMeters == nil {
		return racetimer.Snapshot{}, badRequestError{errors.New("odometer_meters is required")}
	}
	return h.engine.RecordOdometerSnapshot(*req.OdometerMeters)
}

func (h *CommandHandler) setRaceClockStart(r *http.Request) (racetimer.Snapshot, error) {
	var req RaceClockStartRequest
	if err := decodeBody(r, &req); err != nil {
		return racetimer.Snapshot{}, err
	}
	cs, err := req.resolve()
	if err != nil {
		return racetimer.Snapshot{}, badRequestError{err}
	}
	return h.engine.SetRaceClockStart(cs)
}

func (h *CommandHandler) command(fn commandFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		h.respond(w, r, fn)
	}
}

func (h *CommandHandler) query(fn func() (racetimer.Snapshot, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		h.respond(w, r, noArgs(fn))
	}
}

func (h *CommandHandler) respond(w http.ResponseWriter, r *http.Request, fn commandFunc) {
	snap, err := fn(r)
	if err != nil {
		var badReq badRequestError
		switch {
		case errors.As(err, &badReq), errors.Is(err, racetimer.ErrNonFiniteState):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, racetimer.ErrEngineFaulted):
			log.Error().Err(err).Str("path", r.URL.Path).Msg("race timer command rejected")
			writeError(w, http.StatusServiceUnavailable, racetimer.ErrEngineFaulted)
		default:
			log.Error().Err(err).Str("path", r.URL.Path).Msg("race timer command failed")
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}

	log.Debug().
		Str("path", r.URL.Path).
		Bool("running", snap.IsRunning).
		Float64("raw_meters", snap.RawMeters).
		Str("race_clock", racetimer.FormatRaceClock(snap.RaceClockCentiseconds)).
		Msg("race timer command applied")

	writeJSON(w, http.StatusOK, snap)
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequestError{fmt.Errorf("invalid request body: %w", err)}
	}
	return nil
}

// writeJSON encodes before writing the header so an encoding failure still
// reaches the client as a 500.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode response")
		status = http.StatusInternalServerError
		data, _ = json.Marshal(ErrorResponse{Error: "failed to encode response"})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
