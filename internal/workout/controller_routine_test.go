package workout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

func pushDay() Routine {
	return Routine{
		ID:   "push-day",
		Name: "Push Day",
		Exercises: []RoutineExercise{
			{
				ExerciseID:  "bench",
				Name:        "Bench Press",
				Type:        protocol.Program{Mode: protocol.OldSchool},
				Sets:        []RoutineSet{{Reps: 2, WeightPerCableKg: 20}, {Reps: 2, WeightPerCableKg: 22.5}},
				RestSeconds: 10,
			},
			{
				ExerciseID: "ohp",
				Name:       "Overhead Press",
				Type:       protocol.Program{Mode: protocol.Pump},
				Sets:       []RoutineSet{{Reps: 1, WeightPerCableKg: 10}},
			},
		},
	}
}

func lastWeight(t *testing.T, h *harness) float64 {
	t.Helper()
	writes := h.mock.Writes()
	for i := len(writes) - 1; i >= 0; i-- {
		if w, ok := protocol.ProgramWeightPerCable(writes[i].Data); ok {
			return w
		}
	}
	t.Fatal("no PROGRAM_PARAMS written")
	return 0
}

func TestController_StartRoutineWithoutRoutine(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.c.StartRoutine(StartOptions{}), ErrNoRoutine)
}

func TestController_LoadRoutineValidates(t *testing.T) {
	h := newHarness(t, nil)
	bad := pushDay()
	bad.Exercises[1].Sets[0].WeightPerCableKg = 500
	err := h.c.LoadRoutine(bad)
	assert.ErrorIs(t, err, ErrInvalidRoutine)
	assert.ErrorIs(t, err, protocol.ErrInvalidConfiguration)
	assert.Empty(t, h.c.Snapshot().RoutineName)
}

func TestController_LoadRoutineRejectedMidWorkout(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.StartWorkout(oldSchool(5), StartOptions{SkipCountdown: true}))
	assert.ErrorIs(t, h.c.LoadRoutine(pushDay()), ErrWorkoutInProgress)
}

func TestController_RoutineAutoplayRunsToCompletion(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.LoadRoutine(pushDay()))
	require.NoError(t, h.c.StartRoutine(StartOptions{SkipCountdown: true}))
	assert.Equal(t, "Push Day", h.c.Snapshot().RoutineName)

	h.doReps(2)
	h.waitKind(t, Resting)
	rest := h.c.Snapshot().State
	assert.Equal(t, "Bench Press", rest.NextExerciseName)
	assert.Equal(t, 2, rest.CurrentSet)
	assert.Equal(t, 2, rest.TotalSets)
	assert.False(t, rest.IsLastExercise)

	require.Eventually(t, func() bool {
		s := h.c.Snapshot()
		return s.State.Kind == Active && s.SetIndex == 1
	}, waitFor, pollIn)
	assert.InDelta(t, 22.5, lastWeight(t, h), 1e-6)

	h.doReps(2)
	require.Eventually(t, func() bool {
		s := h.c.Snapshot()
		return s.State.Kind == Resting && s.State.IsLastExercise
	}, waitFor, pollIn)
	assert.Equal(t, "Overhead Press", h.c.Snapshot().State.NextExerciseName)

	require.Eventually(t, func() bool {
		s := h.c.Snapshot()
		return s.State.Kind == Active && s.ExerciseIndex == 1
	}, waitFor, pollIn)
	h.doReps(1)
	h.waitKind(t, Completed)

	require.Eventually(t, func() bool { return len(h.store.Sessions()) == 3 }, waitFor, pollIn)
	sessions := h.store.Sessions()
	assert.Equal(t, []int{1, 2, 1}, []int{sessions[0].SetNumber, sessions[1].SetNumber, sessions[2].SetNumber})
	assert.Equal(t, "push-day", sessions[2].RoutineID)
	assert.Equal(t, "Pump", sessions[2].Mode)
}

func TestController_RestWaitsWithoutAutoplay(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Autoplay = false })
	require.NoError(t, h.c.LoadRoutine(pushDay()))
	require.NoError(t, h.c.StartRoutine(StartOptions{SkipCountdown: true}))
	h.doReps(2)

	require.Eventually(t, func() bool {
		s := h.c.Snapshot().State
		return s.Kind == Resting && s.SecondsRemaining == 0
	}, waitFor, pollIn)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, Resting, h.c.Snapshot().State.Kind, "held at zero")

	require.NoError(t, h.c.StartNextSetOrExercise())
	assert.Equal(t, Active, h.c.Snapshot().State.Kind)
	assert.Equal(t, 1, h.c.Snapshot().SetIndex)
}

func TestController_EnablingAutoplayAdvancesAFinishedRest(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.Autoplay = false })
	require.NoError(t, h.c.LoadRoutine(pushDay()))
	require.NoError(t, h.c.StartRoutine(StartOptions{SkipCountdown: true}))
	h.doReps(2)
	require.Eventually(t, func() bool {
		s := h.c.Snapshot().State
		return s.Kind == Resting && s.SecondsRemaining == 0
	}, waitFor, pollIn)

	require.NoError(t, h.c.SetAutoplay(true))
	assert.Equal(t, Active, h.c.Snapshot().State.Kind)
	assert.True(t, h.c.Snapshot().Autoplay)
}

func TestController_AdvanceHappensOnce(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.Autoplay = false
		cfg.DefaultRestSeconds = 1000
	})
	r := pushDay()
	r.Exercises[0].RestSeconds = 0
	require.NoError(t, h.c.LoadRoutine(r))
	require.NoError(t, h.c.StartRoutine(StartOptions{SkipCountdown: true}))
	h.doReps(2)
	h.waitKind(t, Resting)
	assert.Equal(t, 1000, h.c.Snapshot().State.SecondsRemaining)

	require.NoError(t, h.c.SkipRest())
	require.NoError(t, h.c.StartNextSetOrExercise(), "second call is a no-op")
	snap := h.c.Snapshot()
	assert.Equal(t, Active, snap.State.Kind)
	assert.Equal(t, 0, snap.ExerciseIndex)
	assert.Equal(t, 1, snap.SetIndex)
}

func TestController_SkipRestOutsideRestIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.SkipRest())
	require.NoError(t, h.c.StartNextSetOrExercise())
	assert.Equal(t, Idle, h.c.Snapshot().State.Kind)
	assert.Empty(t, h.mock.Writes())
}

func TestController_SkipRestWhileActiveKeepsTheCursor(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.DefaultRestSeconds = 1000 })
	r := pushDay()
	r.Exercises[0].RestSeconds = 0
	require.NoError(t, h.c.LoadRoutine(r))
	require.NoError(t, h.c.StartRoutine(StartOptions{SkipCountdown: true}))
	h.doReps(2)
	h.waitKind(t, Resting)
	require.NoError(t, h.c.SkipRest())
	require.Equal(t, Active, h.c.Snapshot().State.Kind)

	// one rep into the second set
	h.mock.InjectRep(200, 200)
	h.rep(201)
	writes := len(h.mock.Writes())

	require.NoError(t, h.c.SkipRest())
	require.NoError(t, h.c.StartNextSetOrExercise())
	snap := h.c.Snapshot()
	assert.Equal(t, Active, snap.State.Kind)
	assert.Equal(t, 0, snap.ExerciseIndex)
	assert.Equal(t, 1, snap.SetIndex)
	assert.Equal(t, 1, snap.Reps.WorkingReps)
	assert.Len(t, h.mock.Writes(), writes)
}

func TestController_StopDuringRestNeverAdvances(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.DefaultRestSeconds = 40 })
	r := pushDay()
	r.Exercises[0].RestSeconds = 0
	require.NoError(t, h.c.LoadRoutine(r))
	require.NoError(t, h.c.StartRoutine(StartOptions{SkipCountdown: true}))
	h.doReps(2)
	h.waitKind(t, Resting)

	require.NoError(t, h.c.StopWorkout())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Completed, h.c.Snapshot().State.Kind)
	assert.Equal(t, "Push Day", h.c.Snapshot().RoutineName, "stop keeps the routine loaded")
	assert.Len(t, h.store.Sessions(), 1, "rest has no set to persist")
}

func TestController_CancelRoutine(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.LoadRoutine(pushDay()))
	require.NoError(t, h.c.StartRoutine(StartOptions{SkipCountdown: true}))
	h.doReps(1)

	require.NoError(t, h.c.CancelRoutine())
	snap := h.c.Snapshot()
	assert.Equal(t, Completed, snap.State.Kind)
	assert.Empty(t, snap.RoutineName)
	assert.ErrorIs(t, h.c.StartRoutine(StartOptions{}), ErrNoRoutine)

	sessions := h.store.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].StoppedByUser)
	assert.Equal(t, "push-day", sessions[0].RoutineID)
}

func TestController_ManualStartAfterRoutineIsNotPartOfIt(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.LoadRoutine(pushDay()))
	require.NoError(t, h.c.StartWorkout(oldSchool(1), StartOptions{SkipCountdown: true}))
	h.doReps(1)
	h.waitKind(t, Completed)
	require.Eventually(t, func() bool { return len(h.store.Sessions()) == 1 }, waitFor, pollIn)
	assert.Empty(t, h.store.Sessions()[0].RoutineID)
}
