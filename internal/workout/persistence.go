package workout

import (
	"context"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

// Session is the record of one finished set.
type Session struct {
	ID               string    `json:"id"`
	ExerciseID       string    `json:"exerciseId,omitempty"`
	ExerciseName     string    `json:"exerciseName,omitempty"`
	Mode             string    `json:"mode"`
	WeightPerCableKg float64   `json:"weightPerCableKg"`
	ProgressionKg    float64   `json:"progressionKg"`
	TargetReps       int       `json:"targetReps"`
	WarmupTarget     int       `json:"warmupTarget"`
	WarmupReps       int       `json:"warmupReps"`
	WorkingReps      int       `json:"workingReps"`
	IsJustLift       bool      `json:"isJustLift"`
	StopAtTop        bool      `json:"stopAtTop"`
	RoutineID        string    `json:"routineId,omitempty"`
	RoutineName      string    `json:"routineName,omitempty"`
	SetNumber        int       `json:"setNumber,omitempty"`
	StoppedByUser    bool      `json:"stoppedByUser"`
	StartedAt        time.Time `json:"startedAt"`
	EndedAt          time.Time `json:"endedAt"`
}

// Persistence stores finished sets. Failures are logged by the controller
// and never block the next workout.
type Persistence interface {
	SaveSession(ctx context.Context, session Session) error
	SaveMetrics(ctx context.Context, sessionID string, metrics []protocol.MonitorMetric) error
	// UpdatePersonalRecordIfNeeded reports whether a new record was set.
	UpdatePersonalRecordIfNeeded(ctx context.Context, exerciseID string, weightPerCableKg float64, reps int, mode string) (bool, error)
}

// NopPersistence discards everything.
type NopPersistence struct{}

func (NopPersistence) SaveSession(context.Context, Session) error { return nil }

func (NopPersistence) SaveMetrics(context.Context, string, []protocol.MonitorMetric) error {
	return nil
}

func (NopPersistence) UpdatePersonalRecordIfNeeded(context.Context, string, float64, int, string) (bool, error) {
	return false, nil
}
