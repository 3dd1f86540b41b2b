package workout

import (
	"context"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

// setCompletion is everything needed to persist one set after the lock is
// released.
type setCompletion struct {
	session Session
	metrics []protocol.MonitorMetric
}

// pendingStart is a start command to send once the lock is released.
type pendingStart struct {
	frame     []byte
	sessionID string
	send      bool
}

// beginSetCompletionLocked claims the completion of the running set. It
// returns nil when another path already claimed it.
func (c *Controller) beginSetCompletionLocked() *setCompletion {
	if c.completing {
		return nil
	}
	c.completing = true
	c.timers.cancel(timerAutoStop)
	return c.buildCompletionLocked(false)
}

func (c *Controller) buildCompletionLocked(stoppedByUser bool) *setCompletion {
	count := c.counter.Count()
	p := c.params
	session := Session{
		ID:               c.sessionID,
		ExerciseID:       p.ExerciseID,
		ExerciseName:     p.ExerciseName,
		Mode:             p.ModeName(),
		WeightPerCableKg: p.WeightPerCableKg,
		ProgressionKg:    p.ProgressionKg,
		TargetReps:       p.Reps,
		WarmupTarget:     p.WarmupReps,
		WarmupReps:       count.WarmupReps,
		WorkingReps:      count.WorkingReps,
		IsJustLift:       p.IsJustLift,
		StopAtTop:        p.StopAtTop,
		StoppedByUser:    stoppedByUser,
		StartedAt:        c.sessionStart,
		EndedAt:          c.now(),
	}
	if c.inRoutine && c.routine != nil {
		session.RoutineID = c.routine.ID
		session.RoutineName = c.routine.Name
		session.SetNumber = c.setIdx + 1
	}
	c.setsCompleted++
	return &setCompletion{session: session, metrics: c.metrics.snapshot()}
}

// finishSetCompletion releases the load, persists the set and then decides
// what follows it: a rest, re-arming Just Lift, or Completed. A user stop
// that raced in while persisting wins.
func (c *Controller) finishSetCompletion(sc *setCompletion) {
	if err := c.transport.WriteCommand(protocol.EncodeInit()); err != nil {
		c.logger.Printf("WorkoutController: Stop command failed (continuing): %v", err)
	}
	c.persist(sc)

	c.mu.Lock()
	if c.sessionID != sc.session.ID {
		c.mu.Unlock()
		return
	}
	c.completing = false
	if c.closed || c.state.Kind != Active {
		c.mu.Unlock()
		return
	}

	switch {
	case c.inRoutine && c.routine != nil:
		if nextExercise, nextSet, ok := c.routine.next(c.exerciseIdx, c.setIdx); ok {
			c.enterRestLocked(nextExercise, nextSet)
		} else {
			c.logger.Printf("WorkoutController: Routine %q complete", c.routine.Name)
			c.inRoutine = false
			c.setStateLocked(CompletedState())
		}
	case c.params.IsJustLift:
		if c.params.UseAutoStart {
			armed := c.params
			c.justLiftArmed = &armed
		}
		c.detector.Reset()
		c.setStateLocked(IdleState())
	default:
		c.setStateLocked(CompletedState())
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
}

// persist stores the set. Errors are logged, a failing store never blocks
// the workout.
func (c *Controller) persist(sc *setCompletion) {
	timeout := c.cfg.PersistTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s := sc.session
	if err := c.persistence.SaveSession(ctx, s); err != nil {
		c.logger.Printf("WorkoutController: Failed to save session %s: %v", s.ID, err)
		return
	}
	if len(sc.metrics) > 0 {
		if err := c.persistence.SaveMetrics(ctx, s.ID, sc.metrics); err != nil {
			c.logger.Printf("WorkoutController: Failed to save %d metrics of session %s: %v", len(sc.metrics), s.ID, err)
		}
	}
	if s.ExerciseID == "" || s.WorkingReps == 0 {
		return
	}
	isRecord, err := c.persistence.UpdatePersonalRecordIfNeeded(ctx, s.ExerciseID, s.WeightPerCableKg, s.WorkingReps, s.Mode)
	if err != nil {
		c.logger.Printf("WorkoutController: Failed to update personal record of %s: %v", s.ExerciseID, err)
		return
	}
	if isRecord {
		c.logger.Printf("WorkoutController: New personal record on %s: %.1f kg x %d (%s)", s.ExerciseID, s.WeightPerCableKg, s.WorkingReps, s.Mode)
	}
}

// enterRestLocked rests before the set at (nextExercise, nextSet). The rest
// length belongs to the exercise just finished.
func (c *Controller) enterRestLocked(nextExercise, nextSet int) {
	rest := c.routine.Exercises[c.exerciseIdx].RestSeconds
	if rest <= 0 {
		rest = c.cfg.DefaultRestSeconds
	}
	if rest < 0 {
		rest = 0
	}
	next := c.routine.Exercises[nextExercise]
	c.setStateLocked(RestingState(rest, next.Name, nextExercise == len(c.routine.Exercises)-1, nextSet+1, len(next.Sets)))
	c.everyLocked(timerRest, c.onRestTick)
}

func (c *Controller) onRestTick(gen uint64) bool {
	c.mu.Lock()
	if !c.timers.current(timerRest, gen) || c.state.Kind != Resting {
		c.mu.Unlock()
		return false
	}
	st := c.state
	st.SecondsRemaining = max(st.SecondsRemaining-1, 0)
	c.setStateLocked(st)
	if st.SecondsRemaining > 0 {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.statusEvent.Notify(snap)
		return true
	}

	c.timers.finish(timerRest, gen)
	if !c.autoplay {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.logger.Println("WorkoutController: Rest over, waiting for the next set to be started")
		c.statusEvent.Notify(snap)
		return false
	}
	next, err := c.advanceLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
	if err != nil {
		c.logger.Printf("WorkoutController: Could not start the next set: %v", err)
		return false
	}
	if next.send {
		_ = c.sendStartFrame(next.frame, next.sessionID)
	}
	return false
}

// advanceLocked moves the routine cursor to the next set and starts it
// without a countdown. An exhausted routine completes.
func (c *Controller) advanceLocked() (pendingStart, error) {
	if c.routine == nil {
		c.setStateLocked(CompletedState())
		return pendingStart{}, ErrNoRoutine
	}
	nextExercise, nextSet, ok := c.routine.next(c.exerciseIdx, c.setIdx)
	if !ok {
		c.inRoutine = false
		c.setStateLocked(CompletedState())
		return pendingStart{}, nil
	}
	params := c.routine.paramsFor(nextExercise, nextSet)
	frame, err := params.startFrame()
	if err != nil {
		c.setStateLocked(ErrorState(err.Error()))
		return pendingStart{}, err
	}
	c.exerciseIdx, c.setIdx = nextExercise, nextSet
	c.inRoutine = true
	c.logger.Printf("WorkoutController: Starting %q set %d/%d", params.ExerciseName, nextSet+1, len(c.routine.Exercises[nextExercise].Sets))
	c.startSetLocked(params, frame, true)
	return pendingStart{frame: frame, sessionID: c.sessionID, send: true}, nil
}
