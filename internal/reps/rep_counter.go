// Package reps turns the trainer's hardware rep counters into warmup and
// working reps.
//
// A Counter is not safe for concurrent use. It must be driven from the same
// goroutine (or under the same lock) as its owner.
package reps

import (
	"errors"
	"fmt"
	"math"
)

// ErrCounterJump is wrapped by the error Process returns when it drops a
// counter delta larger than MaxCounterJump.
var ErrCounterJump = errors.New("rep counter jump")

// CounterJumpError reports the deltas that were dropped by a rebaseline.
type CounterJumpError struct {
	TopDelta      int
	CompleteDelta int
}

func (e *CounterJumpError) Error() string {
	return fmt.Sprintf("rep counters jumped by %d tops and %d completes, rebaselined", e.TopDelta, e.CompleteDelta)
}

func (e *CounterJumpError) Unwrap() error { return ErrCounterJump }

// EventKind classifies a rep event.
type EventKind int

const (
	// WarmupCompleted fires for every warmup rep.
	WarmupCompleted EventKind = iota
	// WarmupComplete fires once, when the last warmup rep is done.
	WarmupComplete
	// WorkingCompleted fires for every working rep.
	WorkingCompleted
	// WorkoutComplete fires once, when the set is done.
	WorkoutComplete
)

func (k EventKind) String() string {
	switch k {
	case WarmupCompleted:
		return "warmup_completed"
	case WarmupComplete:
		return "warmup_complete"
	case WorkingCompleted:
		return "working_completed"
	case WorkoutComplete:
		return "workout_complete"
	default:
		return "unknown"
	}
}

// Event is delivered to the listener after every classified rep.
type Event struct {
	Kind  EventKind
	Count RepCount
}

// RepCount is a snapshot of the reps done in the current set. TotalReps
// always equals WorkingReps, warmup reps do not count toward the set.
type RepCount struct {
	WarmupReps       int  `json:"warmupReps"`
	WorkingReps      int  `json:"workingReps"`
	TotalReps        int  `json:"totalReps"`
	IsWarmupComplete bool `json:"isWarmupComplete"`
}

// Positions carries the latest known cable positions alongside a rep notification.
type Positions struct {
	A int
	B int
}

// Config holds the auto-stop calibration tunables.
type Config struct {
	// MinMeaningfulRange is the smallest calibrated top position that counts
	// as a real range of motion.
	MinMeaningfulRange float64
	// DangerZoneFraction sizes the rest band as a fraction of the calibrated top.
	DangerZoneFraction float64
	// MaxCounterJump is the largest counter delta accepted as real reps. Larger
	// jumps are treated as a counter reset and only rebaseline.
	MaxCounterJump int
}

// DefaultConfig returns the tunables used on real devices.
func DefaultConfig() Config {
	return Config{
		MinMeaningfulRange: 50,
		DangerZoneFraction: 0.05,
		MaxCounterJump:     10,
	}
}

// Counter tracks the device's top and complete counters for one set.
type Counter struct {
	cfg Config

	hasBaseline         bool
	lastTopCounter      uint16
	lastCompleteCounter uint16

	warmupTarget  int
	workingTarget int
	isJustLift    bool
	stopAtTop     bool

	count             RepCount
	stopAtTopReached  bool
	workoutCompleteOK bool

	topSampleSum   float64
	topSampleCount int

	listener func(Event)
}

// NewCounter returns a Counter with no targets. Call Configure before Process.
func NewCounter(cfg Config) *Counter {
	if cfg.MaxCounterJump <= 0 {
		cfg.MaxCounterJump = DefaultConfig().MaxCounterJump
	}
	return &Counter{cfg: cfg}
}

// SetListener installs the single event callback. It is called synchronously
// from Process.
func (c *Counter) SetListener(listener func(Event)) {
	c.listener = listener
}

// Configure resets all state for a new set.
func (c *Counter) Configure(warmupTarget, workingTarget int, isJustLift, stopAtTop bool) {
	if warmupTarget < 0 {
		warmupTarget = 0
	}
	if workingTarget < 0 {
		workingTarget = 0
	}
	c.hasBaseline = false
	c.lastTopCounter = 0
	c.lastCompleteCounter = 0
	c.warmupTarget = warmupTarget
	c.workingTarget = workingTarget
	c.isJustLift = isJustLift
	c.stopAtTop = stopAtTop
	c.count = RepCount{IsWarmupComplete: warmupTarget == 0}
	c.stopAtTopReached = false
	c.workoutCompleteOK = false
	c.topSampleSum = 0
	c.topSampleCount = 0
}

// counterDelta is current-last modulo 2^16.
func counterDelta(last, current uint16) int {
	if current >= last {
		return int(current - last)
	}
	return 65536 - int(last) + int(current)
}

// Process consumes one rep notification. pos is the latest known cable
// position and may be nil. A *CounterJumpError is returned when the deltas
// were too large to be real reps; the counters are rebaselined and no rep is
// counted.
func (c *Counter) Process(topCounter, completeCounter uint16, pos *Positions) error {
	if !c.hasBaseline {
		c.hasBaseline = true
		c.lastTopCounter = topCounter
		c.lastCompleteCounter = completeCounter
		return nil
	}

	topDelta := counterDelta(c.lastTopCounter, topCounter)
	completeDelta := counterDelta(c.lastCompleteCounter, completeCounter)
	c.lastTopCounter = topCounter
	c.lastCompleteCounter = completeCounter
	if topDelta > c.cfg.MaxCounterJump || completeDelta > c.cfg.MaxCounterJump {
		return &CounterJumpError{TopDelta: topDelta, CompleteDelta: completeDelta}
	}

	// The top is judged before this notification's completes are counted:
	// a top that arrives with the bottom of the previous rep belongs to the
	// rep that follows it.
	if topDelta > 0 {
		if !c.count.IsWarmupComplete && pos != nil {
			c.topSampleSum += math.Max(float64(pos.A), float64(pos.B))
			c.topSampleCount++
		}
		if c.stopAtTop && !c.isJustLift && c.count.IsWarmupComplete &&
			c.workingTarget > 0 && c.count.WorkingReps == c.workingTarget-1 && !c.stopAtTopReached {
			c.stopAtTopReached = true
			c.emitWorkoutComplete()
		}
	}

	for i := 0; i < completeDelta; i++ {
		c.countRep()
	}
	return nil
}

func (c *Counter) countRep() {
	if c.count.WarmupReps+c.count.WorkingReps+1 <= c.warmupTarget {
		c.count.WarmupReps++
		c.emit(WarmupCompleted)
		if c.count.WarmupReps == c.warmupTarget {
			c.count.IsWarmupComplete = true
			c.emit(WarmupComplete)
		}
		return
	}
	c.count.IsWarmupComplete = true
	c.count.WorkingReps++
	c.count.TotalReps = c.count.WorkingReps
	c.emit(WorkingCompleted)
	if !c.isJustLift && c.workingTarget > 0 && c.count.WorkingReps >= c.workingTarget {
		c.emitWorkoutComplete()
	}
}

// CompleteExternally marks the set done when the machine itself reports it,
// as it does at the end of a Just Lift set.
func (c *Counter) CompleteExternally() {
	c.emitWorkoutComplete()
}

func (c *Counter) emitWorkoutComplete() {
	if c.workoutCompleteOK {
		return
	}
	c.workoutCompleteOK = true
	c.emit(WorkoutComplete)
}

func (c *Counter) emit(kind EventKind) {
	if c.listener != nil {
		c.listener(Event{Kind: kind, Count: c.count})
	}
}

// Count returns a snapshot of the current reps.
func (c *Counter) Count() RepCount {
	return c.count
}

// ShouldStopWorkout reports whether the rep target has been reached. It is
// always false for Just Lift.
func (c *Counter) ShouldStopWorkout() bool {
	if c.isJustLift {
		return false
	}
	if c.stopAtTopReached {
		return true
	}
	return c.workingTarget > 0 && c.count.WorkingReps >= c.workingTarget
}

// CalibratedTopPosition is the mean cable position at the top of warmup reps.
func (c *Counter) CalibratedTopPosition() (float64, bool) {
	if c.topSampleCount == 0 {
		return 0, false
	}
	return c.topSampleSum / float64(c.topSampleCount), true
}

// HasMeaningfulRange reports whether warmup calibrated a usable range of motion.
func (c *Counter) HasMeaningfulRange() bool {
	top, ok := c.CalibratedTopPosition()
	return ok && top >= c.cfg.MinMeaningfulRange
}

// IsInDangerZone reports whether both cables are back in the rest band, the
// bottom DangerZoneFraction of the calibrated range.
func (c *Counter) IsInDangerZone(posA, posB int) bool {
	if !c.HasMeaningfulRange() {
		return false
	}
	top, _ := c.CalibratedTopPosition()
	band := top * c.cfg.DangerZoneFraction
	return float64(posA) <= band && float64(posB) <= band
}
