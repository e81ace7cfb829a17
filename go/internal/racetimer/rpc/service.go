package rpc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"connectrpc.com/connect"
	"github.com/mcdev12/roadbook/go/internal/racetimer"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// RaceTimerServiceName is the fully-qualified name of the RaceTimerService service.
const RaceTimerServiceName = "racetimer.v1.RaceTimerService"

// Procedure paths, one per engine operation.
const (
	GetStateProcedure                  = "/racetimer.v1.RaceTimerService/GetState"
	StartProcedure                     = "/racetimer.v1.RaceTimerService/Start"
	StopProcedure                      = "/racetimer.v1.RaceTimerService/Stop"
	ToggleProcedure                    = "/racetimer.v1.RaceTimerService/Toggle"
	SetSpeedProcedure                  = "/racetimer.v1.RaceTimerService/SetSpeed"
	SetCorrectionFactorProcedure       = "/racetimer.v1.RaceTimerService/SetCorrectionFactor"
	AdjustCorrectionFactorProcedure    = "/racetimer.v1.RaceTimerService/AdjustCorrectionFactor"
	RecordOdometerSnapshotProcedure    = "/racetimer.v1.RaceTimerService/RecordOdometerSnapshot"
	AdjustOdometerProcedure            = "/racetimer.v1.RaceTimerService/AdjustOdometer"
	ResetOdometerProcedure             = "/racetimer.v1.RaceTimerService/ResetOdometer"
	ResetProcedure                     = "/racetimer.v1.RaceTimerService/Reset"
	FullResetProcedure                 = "/racetimer.v1.RaceTimerService/FullReset"
	SetRaceClockStartProcedure         = "/racetimer.v1.RaceTimerService/SetRaceClockStart"
	SetRaceClockStartFromTimeProcedure = "/racetimer.v1.RaceTimerService/SetRaceClockStartFromTime"
)

// TimerEngine defines what the RPC service needs from the race timer
type TimerEngine interface {
	State() (racetimer.Snapshot, error)
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

// Service implements the RaceTimerService Connect interface on top of
// protobuf well-known types
type Service struct {
	engine TimerEngine
}

// NewService creates a new race timer RPC service
func NewService(engine TimerEngine) *Service {
	return &Service{
		engine: engine,
	}
}

// NewRaceTimerServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewRaceTimerServiceHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()

	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, svc.noArgs(svc.engine.State), opts...))
	mux.Handle(StartProcedure, connect.NewUnaryHandler(StartProcedure, svc.noArgs(svc.engine.Start), opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, svc.noArgs(svc.engine.Stop), opts...))
	mux.Handle(ToggleProcedure, connect.NewUnaryHandler(ToggleProcedure, svc.noArgs(svc.engine.Toggle), opts...))
	mux.Handle(SetSpeedProcedure, connect.NewUnaryHandler(SetSpeedProcedure, svc.doubleArg(svc.engine.SetSpeed), opts...))
	mux.Handle(SetCorrectionFactorProcedure, connect.NewUnaryHandler(SetCorrectionFactorProcedure, svc.doubleArg(svc.engine.SetCorrectionFactor), opts...))
	mux.Handle(AdjustCorrectionFactorProcedure, connect.NewUnaryHandler(AdjustCorrectionFactorProcedure, svc.doubleArg(svc.engine.AdjustCorrectionFactor), opts...))
	mux.Handle(RecordOdometerSnapshotProcedure, connect.NewUnaryHandler(RecordOdometerSnapshotProcedure, svc.doubleArg(svc.engine.RecordOdometerSnapshot), opts...))
	mux.Handle(AdjustOdometerProcedure, connect.NewUnaryHandler(AdjustOdometerProcedure, svc.doubleArg(svc.engine.AdjustOdometer), opts...))
	mux.Handle(ResetOdometerProcedure, connect.NewUnaryHandler(ResetOdometerProcedure, svc.noArgs(svc.engine.ResetOdometer), opts...))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, svc.noArgs(svc.engine.Reset), opts...))
	mux.Handle(FullResetProcedure, connect.NewUnaryHandler(FullResetProcedure, svc.noArgs(svc.engine.FullReset), opts...))
	mux.Handle(SetRaceClockStartProcedure, connect.NewUnaryHandler(SetRaceClockStartProcedure, svc.SetRaceClockStart, opts...))
	mux.Handle(SetRaceClockStartFromTimeProcedure, connect.NewUnaryHandler(SetRaceClockStartFromTimeProcedure, svc.SetRaceClockStartFromTime, opts...))

	return "/" + RaceTimerServiceName + "/", mux
}

func (s *Service) noArgs(fn func() (racetimer.Snapshot, error)) func(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, _ *connect.Request[emptypb.Empty]) (*connect.Response[structpb.Struct], error) {
		return snapshotResponse(fn())
	}
}

func (s *Service) doubleArg(fn func(float64) (racetimer.Snapshot, error)) func(context.Context, *connect.Request[wrapperspb.DoubleValue]) (*connect.Response[structpb.Struct], error) {
	return func(ctx context.Context, req *connect.Request[wrapperspb.DoubleValue]) (*connect.Response[structpb.Struct], error) {
		v := req.Msg.GetValue()
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("value must be finite, got %v", v))
		}
		return snapshotResponse(fn(v))
	}
}

// SetRaceClockStart rebases the race clock on a centisecond value
func (s *Service) SetRaceClockStart(ctx context.Context, req *connect.Request[wrapperspb.Int64Value]) (*connect.Response[structpb.Struct], error) {
	return snapshotResponse(s.engine.SetRaceClockStart(req.Msg.GetValue()))
}

// SetRaceClockStartFromTime rebases the race clock on an HH:MM:SS:cc string
func (s *Service) SetRaceClockStartFromTime(ctx context.Context, req *connect.Request[wrapperspb.StringValue]) (*connect.Response[structpb.Struct], error) {
	cs, err := racetimer.ParseRaceClock(req.Msg.GetValue())
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return snapshotResponse(s.engine.SetRaceClockStart(cs))
}

func snapshotResponse(snap racetimer.Snapshot, err error) (*connect.Response[structpb.Struct], error) {
	if err != nil {
		if errors.Is(err, racetimer.ErrEngineFaulted) {
			return nil, connect.NewError(connect.CodeUnavailable, err)
		}
		if errors.Is(err, racetimer.ErrNonFiniteState) {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	msg, err := SnapshotToProto(snap)
	if err != nil {
		log.Error().Err(err).Msg("failed to convert snapshot")
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// SnapshotToProto converts a snapshot into a Struct keyed by the JSON field names
func SnapshotToProto(snap racetimer.Snapshot) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"raw_meters":              snap.RawMeters,
		"corrected_meters":        snap.CorrectedMeters,
		"correction_factor":       snap.CorrectionFactor,
		"current_speed":           snap.CurrentSpeed,
		"is_running":              snap.IsRunning,
		"diff_snapshot":           snap.DiffSnapshot,
		"odometer_meters":         snap.OdometerMeters,
		"race_clock_centiseconds": snap.RaceClockCentiseconds,
	})
}

// SnapshotFromProto is the inverse of SnapshotToProto
func SnapshotFromProto(msg *structpb.Struct) racetimer.Snapshot {
	f := msg.GetFields()
	return racetimer.Snapshot{
		RawMeters:             f["raw_meters"].GetNumberValue(),
		CorrectedMeters:       f["corrected_meters"].GetNumberValue(),
		CorrectionFactor:      f["correction_factor"].GetNumberValue(),
		CurrentSpeed:          f["current_speed"].GetNumberValue(),
		IsRunning:             f["is_running"].GetBoolValue(),
		DiffSnapshot:          f["diff_snapshot"].GetNumberValue(),
		OdometerMeters:        f["odometer_meters"].GetNumberValue(),
		RaceClockCentiseconds: int64(f["race_clock_centiseconds"].GetNumberValue()),
	}
}
