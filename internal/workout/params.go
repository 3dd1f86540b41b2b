package workout

import (
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

// Parameters configures one set. It is passed by value and never changes
// while the set runs; routines derive the next set's Parameters from a copy.
type Parameters struct {
	Type             protocol.WorkoutType
	Reps             int
	WeightPerCableKg float64
	ProgressionKg    float64
	IsJustLift       bool
	UseAutoStart     bool
	StopAtTop        bool
	WarmupReps       int
	// ExerciseID is optional. Personal records are only tracked with it.
	ExerciseID   string
	ExerciseName string
}

// workoutType defaults to Old School.
func (p Parameters) workoutType() protocol.WorkoutType {
	if p.Type == nil {
		return protocol.Program{Mode: protocol.OldSchool}
	}
	return p.Type
}

// ModeName is the persisted name of the workout type.
func (p Parameters) ModeName() string {
	if p.IsJustLift {
		return "Just Lift"
	}
	return p.workoutType().String()
}

// startFrame encodes the single command that starts the set: ECHO_CONTROL
// for Echo, PROGRAM_PARAMS otherwise.
func (p Parameters) startFrame() ([]byte, error) {
	if echo, ok := p.workoutType().(protocol.Echo); ok {
		return protocol.EncodeEchoControl(echo.Level, p.WarmupReps, p.Reps, p.IsJustLift, int(echo.EccentricLoad))
	}
	return protocol.EncodeProgramParams(protocol.ProgramParams{
		Type:             p.workoutType(),
		Reps:             p.Reps,
		WarmupReps:       p.WarmupReps,
		WeightPerCableKg: p.WeightPerCableKg,
		ProgressionKg:    p.ProgressionKg,
		IsJustLift:       p.IsJustLift,
	})
}
