package workout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

func justLift() Parameters {
	return Parameters{WeightPerCableKg: 15, ExerciseID: "curl", ExerciseName: "Curl"}
}

func (h *harness) position(pos int) {
	h.mock.InjectMonitor(protocol.MonitorMetric{PositionA: pos, PositionB: pos})
}

// grab pulls both handles up fast enough to classify as Grabbed.
func (h *harness) grab() {
	h.position(0)
	h.position(300)
}

func TestController_JustLiftAutoStartAndStop(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.EnableJustLift(justLift()))
	assert.True(t, h.c.Snapshot().JustLiftArmed)

	h.grab()
	assert.Equal(t, "Grabbed", h.c.Snapshot().HandleState)
	h.waitKind(t, Active)
	snap := h.c.Snapshot()
	assert.True(t, snap.IsJustLift)
	assert.Equal(t, "Just Lift", snap.Mode)

	require.Eventually(t, func() bool { return len(h.mock.Writes()) == 1 }, waitFor, pollIn)
	frame := h.mock.Writes()[0].Data
	assert.True(t, protocol.StartsProgram(frame))
	assert.Equal(t, byte(0xFF), frame[4], "no rep target")

	// Just Lift never stops on reps alone
	h.doReps(12)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Active, h.c.Snapshot().State.Kind)
	assert.Equal(t, 12, h.c.Snapshot().Reps.WorkingReps)

	// handles put down and held there
	h.position(1)
	h.waitKind(t, Idle)
	assert.True(t, h.c.Snapshot().JustLiftArmed, "re-armed for the next set")
	assert.Equal(t, []byte{protocol.CmdProgramParams, protocol.CmdInit}, h.mock.WrittenCommandIDs())

	require.Eventually(t, func() bool { return len(h.store.Sessions()) == 1 }, waitFor, pollIn)
	session := h.store.Sessions()[0]
	assert.True(t, session.IsJustLift)
	assert.Equal(t, 12, session.WorkingReps)
	assert.False(t, session.StoppedByUser)
}

func TestController_AutoStartCancelledByRelease(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.AutoStartHold = 40 * time.Millisecond })
	require.NoError(t, h.c.EnableJustLift(justLift()))

	h.grab()
	h.position(1)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, Idle, h.c.Snapshot().State.Kind)
	assert.Empty(t, h.mock.Writes())
}

func TestController_NoAutoStartWhenDisarmed(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.EnableJustLift(justLift()))
	h.c.DisableJustLift()
	h.grab()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, Idle, h.c.Snapshot().State.Kind)
	assert.False(t, h.c.Snapshot().JustLiftArmed)
}

func TestController_AutoStopNeedsARep(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.EnableJustLift(justLift()))
	h.grab()
	h.waitKind(t, Active)

	h.position(1)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, Active, h.c.Snapshot().State.Kind)
}

func TestController_AutoStopCancelledByMovement(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.AutoStopHold = 60 * time.Millisecond })
	require.NoError(t, h.c.EnableJustLift(justLift()))
	h.grab()
	h.waitKind(t, Active)
	h.doReps(1)

	h.position(1)
	time.Sleep(20 * time.Millisecond)
	h.position(0)
	h.position(300)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, Active, h.c.Snapshot().State.Kind)
}

func TestController_AutoStopUsesCalibratedRange(t *testing.T) {
	h := newHarness(t, nil)
	params := justLift()
	params.WarmupReps = 2
	require.NoError(t, h.c.EnableJustLift(params))
	h.grab()
	h.waitKind(t, Active)

	// warmup reps topping out at 1000 calibrate the range
	h.mock.InjectRep(100, 100)
	for n := uint16(101); n <= 102; n++ {
		h.position(1000)
		h.mock.InjectRep(n, n-1)
		h.position(300)
		h.mock.InjectRep(n, n)
	}
	require.Equal(t, 2, h.c.Snapshot().Reps.WarmupReps)

	// 40 is inside the bottom 5% of 1000, the handles are not Released yet
	h.position(40)
	assert.NotEqual(t, "Released", h.c.Snapshot().HandleState)
	h.waitKind(t, Idle)
}

func TestController_EnableJustLiftRejectedMidWorkout(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.StartWorkout(oldSchool(5), StartOptions{SkipCountdown: true}))
	assert.ErrorIs(t, h.c.EnableJustLift(justLift()), ErrWorkoutInProgress)
}

func TestController_StopDisarmsJustLift(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.c.EnableJustLift(justLift()))
	require.NoError(t, h.c.StopWorkout())
	assert.False(t, h.c.Snapshot().JustLiftArmed)
}
