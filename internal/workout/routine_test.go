package workout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

func TestRoutine_Next(t *testing.T) {
	r := pushDay()
	type cursor struct{ ex, set int }
	var visited []cursor
	ex, set, ok := 0, 0, true
	for ok {
		visited = append(visited, cursor{ex, set})
		ex, set, ok = r.next(ex, set)
	}
	assert.Equal(t, []cursor{{0, 0}, {0, 1}, {1, 0}}, visited)
	assert.Equal(t, 3, r.TotalSets())

	_, _, ok = r.next(5, 0)
	assert.False(t, ok)
}

func TestRoutine_ParamsFor(t *testing.T) {
	r := pushDay()
	r.Exercises[0].ProgressionKg = 0.5
	r.Exercises[0].WarmupReps = 3
	p := r.paramsFor(0, 1)
	assert.Equal(t, 2, p.Reps)
	assert.Equal(t, 22.5, p.WeightPerCableKg)
	assert.Equal(t, 0.5, p.ProgressionKg)
	assert.Equal(t, 3, p.WarmupReps)
	assert.Equal(t, "bench", p.ExerciseID)
	assert.False(t, p.IsJustLift)
}

func TestRoutine_Validate(t *testing.T) {
	require.NoError(t, pushDay().Validate())

	tests := []struct {
		name   string
		mutate func(*Routine)
		want   string
	}{
		{"no exercises", func(r *Routine) { r.Exercises = nil }, "no exercises"},
		{"no sets", func(r *Routine) { r.Exercises[1].Sets = nil }, `exercise "Overhead Press": no sets`},
		{"zero reps", func(r *Routine) { r.Exercises[0].Sets[1].Reps = 0 }, `exercise "Bench Press" set 2`},
		{"negative rest", func(r *Routine) { r.Exercises[0].RestSeconds = -1 }, "negative rest"},
		{"too heavy", func(r *Routine) { r.Exercises[1].Sets[0].WeightPerCableKg = 101 }, "weight_per_cable_kg"},
		{"unnamed", func(r *Routine) { r.Exercises[1].Name = ""; r.Exercises[1].Sets = nil }, `exercise "#2"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pushDay()
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRoutine)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParameters_StartFrame(t *testing.T) {
	frame, err := Parameters{Reps: 5, WeightPerCableKg: 30}.startFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdProgramParams, frame[0])

	echo := Parameters{Type: protocol.Echo{Level: protocol.EchoEpic, EccentricLoad: protocol.EccentricLoad150}, IsJustLift: true}
	frame, err = echo.startFrame()
	require.NoError(t, err)
	assert.Equal(t, protocol.CmdEchoControl, frame[0])
	assert.Equal(t, "Just Lift", echo.ModeName())

	assert.Equal(t, "Old School", Parameters{}.ModeName())
}

func TestState(t *testing.T) {
	for _, s := range []State{InitializingState(), CountdownState(3), ActiveState(), RestingState(60, "Row", true, 1, 3)} {
		assert.True(t, s.IsActive(), s.String())
		assert.False(t, s.canStart(), s.String())
	}
	for _, s := range []State{IdleState(), CompletedState(), ErrorState("boom")} {
		assert.False(t, s.IsActive(), s.String())
		assert.True(t, s.canStart(), s.String())
	}
	assert.Equal(t, "Countdown(3)", CountdownState(3).String())
	assert.Equal(t, `Resting(60s, next "Row" set 1/3)`, RestingState(60, "Row", true, 1, 3).String())
	assert.Equal(t, "Error(boom)", ErrorState("boom").String())
}
