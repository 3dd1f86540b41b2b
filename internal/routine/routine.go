// Package routine reads workout routines from YAML files.
//
//	id: push-day
//	name: Push Day
//	exercises:
//	  - id: bench
//	    name: Bench Press
//	    mode: old_school        # any program mode, or "echo"
//	    rest_seconds: 90
//	    warmup_reps: 3
//	    sets:
//	      - {reps: 10, weight_kg: 20}
//	      - {reps: 8, weight_kg: 22.5}
//	  - name: Overhead Press
//	    mode: echo
//	    echo_level: harder
//	    eccentric_load: 100
//	    set_count: 3            # shorthand for identical sets
//	    reps: 8
//	    weight_kg: 0
package routine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

type fileRoutine struct {
	ID        string         `yaml:"id"`
	Name      string         `yaml:"name"`
	Exercises []fileExercise `yaml:"exercises"`
}

type fileExercise struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Mode          string    `yaml:"mode"`
	EchoLevel     string    `yaml:"echo_level"`
	EccentricLoad *int      `yaml:"eccentric_load"`
	RestSeconds   int       `yaml:"rest_seconds"`
	ProgressionKg float64   `yaml:"progression_kg"`
	StopAtTop     bool      `yaml:"stop_at_top"`
	WarmupReps    int       `yaml:"warmup_reps"`
	Sets          []fileSet `yaml:"sets"`
	SetCount      int       `yaml:"set_count"`
	Reps          int       `yaml:"reps"`
	WeightKg      float64   `yaml:"weight_kg"`
}

type fileSet struct {
	Reps     int     `yaml:"reps"`
	WeightKg float64 `yaml:"weight_kg"`
}

// Load reads and validates the routine at path.
func Load(path string) (workout.Routine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return workout.Routine{}, fmt.Errorf("reading routine file: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return workout.Routine{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a routine document. Unknown keys are rejected so typos do
// not silently fall back to defaults.
func Parse(data []byte) (workout.Routine, error) {
	var fr fileRoutine
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fr); err != nil {
		return workout.Routine{}, fmt.Errorf("parsing routine: %w", err)
	}

	r := workout.Routine{ID: fr.ID, Name: fr.Name}
	if r.ID == "" {
		r.ID = slug(fr.Name)
	}
	for i, fe := range fr.Exercises {
		ex, err := fe.toExercise()
		if err != nil {
			name := fe.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i+1)
			}
			return workout.Routine{}, &workout.RoutineError{Exercise: name, Err: err}
		}
		r.Exercises = append(r.Exercises, ex)
	}
	if err := r.Validate(); err != nil {
		return workout.Routine{}, err
	}
	return r, nil
}

func (fe fileExercise) toExercise() (workout.RoutineExercise, error) {
	workoutType, err := fe.workoutType()
	if err != nil {
		return workout.RoutineExercise{}, err
	}
	ex := workout.RoutineExercise{
		ExerciseID:    fe.ID,
		Name:          fe.Name,
		Type:          workoutType,
		RestSeconds:   fe.RestSeconds,
		ProgressionKg: fe.ProgressionKg,
		StopAtTop:     fe.StopAtTop,
		WarmupReps:    fe.WarmupReps,
	}
	if ex.ExerciseID == "" {
		ex.ExerciseID = slug(fe.Name)
	}

	switch {
	case len(fe.Sets) > 0 && fe.SetCount > 0:
		return workout.RoutineExercise{}, errors.New("use either sets or set_count, not both")
	case fe.SetCount > 0:
		for i := 0; i < fe.SetCount; i++ {
			ex.Sets = append(ex.Sets, workout.RoutineSet{Reps: fe.Reps, WeightPerCableKg: fe.WeightKg})
		}
	default:
		for _, s := range fe.Sets {
			ex.Sets = append(ex.Sets, workout.RoutineSet{Reps: s.Reps, WeightPerCableKg: s.WeightKg})
		}
	}
	return ex, nil
}

func (fe fileExercise) workoutType() (protocol.WorkoutType, error) {
	if strings.EqualFold(strings.TrimSpace(fe.Mode), "echo") {
		level := protocol.EchoHard
		if fe.EchoLevel != "" {
			var err error
			if level, err = protocol.ParseEchoLevel(fe.EchoLevel); err != nil {
				return nil, err
			}
		}
		load := protocol.EccentricLoad100
		if fe.EccentricLoad != nil {
			load = protocol.EccentricLoad(*fe.EccentricLoad)
		}
		return protocol.Echo{Level: level, EccentricLoad: load}, nil
	}
	if fe.EchoLevel != "" || fe.EccentricLoad != nil {
		return nil, errors.New("echo_level and eccentric_load need mode: echo")
	}
	if fe.Mode == "" {
		return protocol.Program{Mode: protocol.OldSchool}, nil
	}
	mode, err := protocol.ParseProgramMode(fe.Mode)
	if err != nil {
		return nil, err
	}
	return protocol.Program{Mode: mode}, nil
}

// slug lowercases s and joins its words with dashes.
func slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}
