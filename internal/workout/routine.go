package workout

import (
	"errors"
	"fmt"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

// RoutineSet is one planned set.
type RoutineSet struct {
	Reps             int     `json:"reps"`
	WeightPerCableKg float64 `json:"weightPerCableKg"`
}

// RoutineExercise is an exercise with its sets, done in order.
type RoutineExercise struct {
	ExerciseID    string
	Name          string
	Type          protocol.WorkoutType
	Sets          []RoutineSet
	RestSeconds   int // 0 uses the controller default
	ProgressionKg float64
	StopAtTop     bool
	WarmupReps    int
}

// Routine is an ordered list of exercises. The controller walks it with an
// exercise and a set cursor.
type Routine struct {
	ID        string
	Name      string
	Exercises []RoutineExercise
}

// Validate checks that every set encodes to a valid start command, so that
// progression never fails half way through a routine.
func (r Routine) Validate() error {
	if len(r.Exercises) == 0 {
		return fmt.Errorf("routine %q has no exercises: %w", r.Name, ErrInvalidRoutine)
	}
	for i, ex := range r.Exercises {
		name := ex.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
		}
		if len(ex.Sets) == 0 {
			return &RoutineError{Exercise: name, Err: errors.New("no sets")}
		}
		if ex.RestSeconds < 0 {
			return &RoutineError{Exercise: name, Err: fmt.Errorf("negative rest %ds", ex.RestSeconds)}
		}
		for j := range ex.Sets {
			if ex.Sets[j].Reps <= 0 {
				return &RoutineError{Exercise: name, Set: j + 1, Err: fmt.Errorf("reps must be positive, got %d", ex.Sets[j].Reps)}
			}
			if _, err := r.paramsFor(i, j).startFrame(); err != nil {
				return &RoutineError{Exercise: name, Set: j + 1, Err: err}
			}
		}
	}
	return nil
}

// paramsFor builds the Parameters of one set. Indices must be in range.
func (r Routine) paramsFor(exerciseIdx, setIdx int) Parameters {
	ex := r.Exercises[exerciseIdx]
	set := ex.Sets[setIdx]
	return Parameters{
		Type:             ex.Type,
		Reps:             set.Reps,
		WeightPerCableKg: set.WeightPerCableKg,
		ProgressionKg:    ex.ProgressionKg,
		StopAtTop:        ex.StopAtTop,
		WarmupReps:       ex.WarmupReps,
		ExerciseID:       ex.ExerciseID,
		ExerciseName:     ex.Name,
	}
}

// next returns the cursor after (exerciseIdx, setIdx), or ok=false when the
// routine is exhausted.
func (r Routine) next(exerciseIdx, setIdx int) (int, int, bool) {
	if exerciseIdx < 0 || exerciseIdx >= len(r.Exercises) {
		return 0, 0, false
	}
	if setIdx+1 < len(r.Exercises[exerciseIdx].Sets) {
		return exerciseIdx, setIdx + 1, true
	}
	if exerciseIdx+1 < len(r.Exercises) {
		return exerciseIdx + 1, 0, true
	}
	return 0, 0, false
}

// TotalSets counts every set in the routine.
func (r Routine) TotalSets() int {
	n := 0
	for _, ex := range r.Exercises {
		n += len(ex.Sets)
	}
	return n
}
