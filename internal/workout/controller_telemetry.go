package workout

import (
	"github.com/lowaak/vitruvian-trainer/internal/go_func_utils"
	"github.com/lowaak/vitruvian-trainer/internal/handle"
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
	"github.com/lowaak/vitruvian-trainer/internal/reps"
	"github.com/lowaak/vitruvian-trainer/internal/transport"
)

// onCounterEvent runs inside counter.Process, so c.mu is held. Events are
// queued and delivered once the lock is released.
func (c *Controller) onCounterEvent(e reps.Event) {
	c.pendingEvents = append(c.pendingEvents, RepEvent{SessionID: c.sessionID, At: c.now(), Event: e})
}

func (c *Controller) takeEventsLocked() []RepEvent {
	events := c.pendingEvents
	c.pendingEvents = nil
	return events
}

func (c *Controller) onRepFrame(frame []byte) {
	n, err := protocol.DecodeRepFrame(frame)
	if err != nil {
		c.logger.Printf("WorkoutController: Dropping rep notification: %v", err)
		return
	}

	c.mu.Lock()
	if c.closed || c.state.Kind != Active || c.completing {
		c.mu.Unlock()
		return
	}
	if err := c.counter.Process(n.TopCounter, n.CompleteCounter, c.lastPositions); err != nil {
		c.logger.Printf("WorkoutController: Reps in the gap are not counted: %v", err)
	}
	events := c.takeEventsLocked()
	var completion *setCompletion
	if c.counter.ShouldStopWorkout() {
		completion = c.beginSetCompletionLocked()
		if completion != nil {
			c.wg.Add(1)
		}
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	for _, e := range events {
		c.repEvent.Notify(e)
	}
	if len(events) > 0 || completion != nil {
		c.statusEvent.Notify(snap)
	}
	if completion != nil {
		// keep the notification goroutine free while the set is persisted
		go_func_utils.SafeGoRecover(c.logger, "set completion", func() {
			defer c.wg.Done()
			c.finishSetCompletion(completion)
		})
	}
}

func (c *Controller) onMonitorFrame(frame []byte) {
	m, err := protocol.DecodeMonitorFrame(frame)
	if err != nil {
		c.logger.Printf("WorkoutController: Dropping monitor frame: %v", err)
		return
	}
	if m.HasSpike() {
		return
	}
	m.Timestamp = c.now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.latest = &m
	c.lastPositions = &reps.Positions{A: m.PositionA, B: m.PositionB}

	previous := c.detector.State()
	current := c.detector.Update(float64(max(m.PositionA, m.PositionB)), m.Timestamp)

	if c.state.Kind == Active && !c.completing {
		c.metrics.append(m)
		if c.params.IsJustLift {
			c.checkAutoStopLocked(m, current)
		}
	}
	if c.state.Kind == Idle && c.justLiftArmed != nil {
		c.checkAutoStartLocked(previous, current)
	}
	changed := current != previous
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if changed {
		c.statusEvent.Notify(snap)
	}
}

// checkAutoStartLocked arms the auto-start hold on a fresh grab and cancels
// it when the handles are put down.
func (c *Controller) checkAutoStartLocked(previous, current handle.State) {
	switch {
	case current == handle.Grabbed && previous != handle.Grabbed:
		if !c.timers.running(timerAutoStart) {
			c.logger.Printf("WorkoutController: Handles grabbed, Just Lift starts in %s", c.cfg.AutoStartHold)
			c.afterLocked(timerAutoStart, c.cfg.AutoStartHold, c.onAutoStart)
		}
	case current == handle.Released:
		if c.timers.running(timerAutoStart) {
			c.logger.Println("WorkoutController: Handles released, auto-start cancelled")
			c.timers.cancel(timerAutoStart)
		}
	}
}

func (c *Controller) onAutoStart(gen uint64) {
	c.mu.Lock()
	if !c.timers.current(timerAutoStart, gen) || c.closed || c.state.Kind != Idle || c.justLiftArmed == nil {
		c.mu.Unlock()
		return
	}
	c.timers.finish(timerAutoStart, gen)
	params := *c.justLiftArmed
	frame, err := params.startFrame()
	if err != nil {
		c.justLiftArmed = nil
		c.mu.Unlock()
		c.logger.Printf("WorkoutController: Just Lift disarmed, parameters no longer encode: %v", err)
		return
	}
	c.inRoutine = false
	c.startSetLocked(params, frame, true)
	sessionID := c.sessionID
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Printf("WorkoutController: Just Lift auto-started session %s", sessionID)
	c.statusEvent.Notify(snap)
	_ = c.sendStartFrame(frame, sessionID)
}

// checkAutoStopLocked holds the auto-stop timer while the handles rest. With
// a calibrated range of motion "resting" means both cables in the danger
// zone, otherwise the handles must be Released.
func (c *Controller) checkAutoStopLocked(m protocol.MonitorMetric, current handle.State) {
	count := c.counter.Count()
	if count.WarmupReps+count.WorkingReps < 1 {
		c.timers.cancel(timerAutoStop)
		return
	}
	var resting bool
	if c.counter.HasMeaningfulRange() {
		resting = c.counter.IsInDangerZone(m.PositionA, m.PositionB)
	} else {
		resting = current == handle.Released
	}
	if !resting {
		c.timers.cancel(timerAutoStop)
		return
	}
	if c.timers.running(timerAutoStop) {
		return
	}
	sessionID := c.sessionID
	c.afterLocked(timerAutoStop, c.cfg.AutoStopHold, func(gen uint64) {
		c.onAutoStop(gen, sessionID)
	})
}

func (c *Controller) onAutoStop(gen uint64, sessionID string) {
	c.mu.Lock()
	if !c.timers.current(timerAutoStop, gen) || c.closed || c.sessionID != sessionID ||
		c.state.Kind != Active || c.completing {
		c.mu.Unlock()
		return
	}
	c.timers.finish(timerAutoStop, gen)
	c.counter.CompleteExternally()
	events := c.takeEventsLocked()
	completion := c.beginSetCompletionLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Printf("WorkoutController: Handles at rest for %s, ending Just Lift set", c.cfg.AutoStopHold)
	for _, e := range events {
		c.repEvent.Notify(e)
	}
	c.statusEvent.Notify(snap)
	if completion != nil {
		c.finishSetCompletion(completion)
	}
}

func (c *Controller) onConnectionState(state transport.ConnectionState) {
	c.mu.Lock()
	if !state.IsLost() || !c.state.IsActive() || c.connectionLost {
		c.mu.Unlock()
		return
	}
	c.connectionLost = true
	current := c.state
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Printf("WorkoutController: Connection %s during %s", state, current)
	c.statusEvent.Notify(snap)
}
