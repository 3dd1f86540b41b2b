// Package workout drives a trainer through a set: countdown, the active set,
// rest and routine progression, plus auto-start and auto-stop for Just Lift.
//
// The Controller is the single owner of the rep counter and the handle
// detector. Every transport callback and timer goes through the controller
// mutex, so the state guards hold under racing timers and user calls.
// Transport writes and persistence happen after the mutex is released.
package workout

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lowaak/vitruvian-trainer/internal/events"
	"github.com/lowaak/vitruvian-trainer/internal/go_func_utils"
	"github.com/lowaak/vitruvian-trainer/internal/handle"
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
	"github.com/lowaak/vitruvian-trainer/internal/reps"
	"github.com/lowaak/vitruvian-trainer/internal/transport"
)

// StartOptions tunes StartWorkout and StartRoutine.
type StartOptions struct {
	SkipCountdown bool
}

// RepEvent is a rep counter event tagged with its session.
type RepEvent struct {
	SessionID string
	At        time.Time
	reps.Event
}

// Snapshot is a consistent copy of the controller's observable state.
type Snapshot struct {
	State            State                   `json:"state"`
	SessionID        string                  `json:"sessionId,omitempty"`
	Reps             reps.RepCount           `json:"reps"`
	ExerciseName     string                  `json:"exerciseName,omitempty"`
	Mode             string                  `json:"mode,omitempty"`
	WeightPerCableKg float64                 `json:"weightPerCableKg,omitempty"`
	TargetReps       int                     `json:"targetReps,omitempty"`
	IsJustLift       bool                    `json:"isJustLift"`
	RoutineName      string                  `json:"routineName,omitempty"`
	ExerciseIndex    int                     `json:"exerciseIndex"`
	SetIndex         int                     `json:"setIndex"`
	SetsCompleted    int                     `json:"setsCompleted"`
	HandleState      string                  `json:"handleState"`
	ConnectionLost   bool                    `json:"connectionLost"`
	Autoplay         bool                    `json:"autoplay"`
	JustLiftArmed    bool                    `json:"justLiftArmed"`
	LatestMetric     *protocol.MonitorMetric `json:"latestMetric,omitempty"`
	MetricCount      int                     `json:"metricCount"`
}

type Controller struct {
	cfg         Config
	transport   transport.Transport
	persistence Persistence
	logger      *log.Logger
	now         func() time.Time

	mu       sync.Mutex
	state    State
	params   Parameters
	counter  *reps.Counter
	detector *handle.Detector
	metrics  *metricBuffer

	sessionID     string
	sessionStart  time.Time
	latest        *protocol.MonitorMetric
	lastPositions *reps.Positions
	pendingEvents []RepEvent
	completing    bool
	setsCompleted int

	routine     *Routine
	inRoutine   bool
	exerciseIdx int
	setIdx      int

	autoplay       bool
	justLiftArmed  *Parameters
	connectionLost bool

	timers       timerSet
	attached     bool
	closed       bool
	unsubscribes []func()

	statusEvent *events.ChannelEvent[Snapshot]
	repEvent    *events.CallbackEvent[RepEvent]

	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// NewController creates an Idle controller. persistence may be nil.
func NewController(tr transport.Transport, persistence Persistence, cfg Config, logger *log.Logger) *Controller {
	if logger == nil {
		panic("WorkoutController: logger cannot be nil")
	}
	if tr == nil {
		panic("WorkoutController: transport cannot be nil")
	}
	if persistence == nil {
		persistence = NopPersistence{}
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:         cfg,
		transport:   tr,
		persistence: persistence,
		logger:      logger,
		now:         time.Now,
		state:       IdleState(),
		counter:     reps.NewCounter(cfg.Reps),
		detector:    handle.NewDetector(cfg.Handle),
		metrics:     newMetricBuffer(cfg.MaxMetricSamples),
		autoplay:    cfg.Autoplay,
		statusEvent: events.NewChannelEvent[Snapshot](true),
		repEvent:    events.NewCallbackEvent[RepEvent](false),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.counter.SetListener(c.onCounterEvent)
	return c
}

// Attach subscribes to the transport's telemetry and connection state.
func (c *Controller) Attach() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	if c.attached {
		c.mu.Unlock()
		return nil
	}
	c.attached = true
	c.mu.Unlock()

	unsubscribeReps, err := c.transport.SubscribeRepNotifications(c.onRepFrame)
	if err != nil {
		c.setAttached(false)
		return &TransportError{Op: "subscribe reps", Err: err}
	}
	unsubscribeMonitor, err := c.transport.SubscribeMonitor(c.onMonitorFrame)
	if err != nil {
		unsubscribeReps()
		c.setAttached(false)
		return &TransportError{Op: "subscribe monitor", Err: err}
	}
	unlistenState := c.transport.ListenToConnectionState(c.onConnectionState)

	c.mu.Lock()
	c.unsubscribes = append(c.unsubscribes, unsubscribeReps, unsubscribeMonitor, unlistenState)
	c.mu.Unlock()
	c.logger.Printf("WorkoutController: Attached to transport")
	return nil
}

func (c *Controller) setAttached(attached bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached = attached
}

// StartWorkout starts one set. Parameters that do not encode fail with a
// protocol.ConfigurationError before any I/O. A failed start write moves the
// controller to Error and returns a *TransportError.
func (c *Controller) StartWorkout(params Parameters, opts StartOptions) error {
	frame, err := params.startFrame()
	if err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.state.canStart() {
		state := c.state
		c.mu.Unlock()
		c.logger.Printf("WorkoutController: StartWorkout rejected in state %s", state)
		return ErrWorkoutInProgress
	}
	c.inRoutine = false
	send := c.startSetLocked(params, frame, opts.SkipCountdown)
	sessionID := c.sessionID
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
	if send {
		return c.sendStartFrame(frame, sessionID)
	}
	return nil
}

// StopWorkout ends the workout from any in-flight state. The partial set is
// persisted and nothing auto-advances afterwards. Telemetry stays subscribed
// until Shutdown so the handles can still arm Just Lift auto-start.
func (c *Controller) StopWorkout() error {
	return c.stop(false)
}

// CancelRoutine is StopWorkout that also unloads the routine.
func (c *Controller) CancelRoutine() error {
	return c.stop(true)
}

func (c *Controller) stop(clearRoutine bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.timers.cancelAll()
	wasArmed := c.justLiftArmed != nil
	c.justLiftArmed = nil

	inFlight := c.state.IsActive()
	if !inFlight && !clearRoutine && !wasArmed {
		state := c.state
		c.mu.Unlock()
		c.logger.Printf("WorkoutController: StopWorkout ignored in state %s", state)
		return nil
	}

	var completion *setCompletion
	if c.state.Kind == Active && !c.completing {
		completion = c.buildCompletionLocked(true)
	}
	if clearRoutine {
		c.routine = nil
		c.inRoutine = false
		c.exerciseIdx, c.setIdx = 0, 0
	}
	if inFlight {
		c.setStateLocked(CompletedState())
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
	if inFlight {
		if err := c.transport.WriteCommand(protocol.EncodeInit()); err != nil {
			c.logger.Printf("WorkoutController: Stop command failed (continuing): %v", err)
		}
	}
	if completion != nil {
		c.persist(completion)
	}
	return nil
}

// LoadRoutine validates and loads r. The cursor starts at the first set.
func (c *Controller) LoadRoutine(r Routine) error {
	if err := r.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.IsActive() {
		c.mu.Unlock()
		return ErrWorkoutInProgress
	}
	c.routine = &r
	c.inRoutine = false
	c.exerciseIdx, c.setIdx = 0, 0
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Printf("WorkoutController: Loaded routine %q (%d exercises, %d sets)", r.Name, len(r.Exercises), r.TotalSets())
	c.statusEvent.Notify(snap)
	return nil
}

// StartRoutine starts the first set of the loaded routine.
func (c *Controller) StartRoutine(opts StartOptions) error {
	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.routine == nil {
		c.mu.Unlock()
		return ErrNoRoutine
	}
	if !c.state.canStart() {
		c.mu.Unlock()
		return ErrWorkoutInProgress
	}
	params := c.routine.paramsFor(0, 0)
	frame, err := params.startFrame()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.exerciseIdx, c.setIdx = 0, 0
	c.inRoutine = true
	send := c.startSetLocked(params, frame, opts.SkipCountdown)
	sessionID := c.sessionID
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
	if send {
		return c.sendStartFrame(frame, sessionID)
	}
	return nil
}

// SkipRest ends the rest early. Outside Resting it is a logged no-op.
func (c *Controller) SkipRest() error {
	return c.advanceFromRest("SkipRest")
}

// StartNextSetOrExercise advances the routine. Only valid while Resting, so
// a rest timer firing together with a user tap advances once.
func (c *Controller) StartNextSetOrExercise() error {
	return c.advanceFromRest("StartNextSetOrExercise")
}

func (c *Controller) advanceFromRest(origin string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShutdown
	}
	if c.state.Kind != Resting {
		state := c.state
		c.mu.Unlock()
		c.logger.Printf("WorkoutController: %s ignored in state %s", origin, state)
		return nil
	}
	c.timers.cancel(timerRest)
	next, err := c.advanceLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
	if err != nil {
		return err
	}
	if next.send {
		return c.sendStartFrame(next.frame, next.sessionID)
	}
	return nil
}

// EnableJustLift arms auto-start: grabbing the handles while Idle starts a
// Just Lift set with params.
func (c *Controller) EnableJustLift(params Parameters) error {
	params.IsJustLift = true
	params.UseAutoStart = true
	if _, err := params.startFrame(); err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.state.IsActive() {
		c.mu.Unlock()
		return ErrWorkoutInProgress
	}
	c.justLiftArmed = &params
	c.inRoutine = false
	if c.state.Kind != Idle {
		c.setStateLocked(IdleState())
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Printf("WorkoutController: Just Lift armed (%.1f kg per cable)", params.WeightPerCableKg)
	c.statusEvent.Notify(snap)
	return nil
}

// DisableJustLift disarms auto-start.
func (c *Controller) DisableJustLift() {
	c.mu.Lock()
	c.justLiftArmed = nil
	c.timers.cancel(timerAutoStart)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.statusEvent.Notify(snap)
}

// SetAutoplay toggles advancing automatically when a rest ends. Enabling it
// while a finished rest is waiting advances right away.
func (c *Controller) SetAutoplay(enabled bool) error {
	c.mu.Lock()
	c.autoplay = enabled
	waiting := enabled && c.state.Kind == Resting && c.state.SecondsRemaining == 0 && !c.timers.running(timerRest)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
	if waiting {
		return c.advanceFromRest("SetAutoplay")
	}
	return nil
}

// DismissConnectionAlert clears the connection-lost flag.
func (c *Controller) DismissConnectionAlert() {
	c.mu.Lock()
	c.connectionLost = false
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.statusEvent.Notify(snap)
}

// SetColorScheme sets the LED colours. Invalid input fails before any I/O.
func (c *Controller) SetColorScheme(brightness float32, colors []protocol.RGB) error {
	frame, err := protocol.EncodeColorScheme(brightness, colors)
	if err != nil {
		return err
	}
	c.mu.Lock()
	err = c.usableLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if err := c.transport.WriteCommand(frame); err != nil {
		return &TransportError{Op: "color scheme", Err: err}
	}
	return nil
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// ListenToStatus registers ch for snapshots. The latest snapshot is sent
// right away. Returns the deregistration function.
func (c *Controller) ListenToStatus(ch chan<- Snapshot) func() {
	return c.statusEvent.Listen(ch)
}

// ListenToRepEvents registers callback for rep events. It runs on the
// transport goroutine and must not block.
func (c *Controller) ListenToRepEvents(callback func(RepEvent)) func() {
	return c.repEvent.Listen(callback)
}

// Shutdown cancels every timer, detaches from the transport and waits for
// timer goroutines to exit. Late timer fires become no-ops.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.logger.Println("WorkoutController: Shutting down")
		c.mu.Lock()
		c.closed = true
		c.timers.cancelAll()
		unsubscribes := c.unsubscribes
		c.unsubscribes = nil
		c.mu.Unlock()

		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
		c.cancel()
		c.wg.Wait()
		c.logger.Println("WorkoutController: Shutdown complete")
	})
}

// --- internals, all *Locked methods need c.mu ---

func (c *Controller) usableLocked() error {
	if c.closed {
		return ErrShutdown
	}
	if !c.attached {
		return ErrNotAttached
	}
	return nil
}

func (c *Controller) setStateLocked(s State) {
	if c.state != s && (c.state.Kind != s.Kind || s.Kind != Countdown && s.Kind != Resting) {
		c.logger.Printf("WorkoutController: %s -> %s", c.state, s)
	}
	c.state = s
	if !s.IsActive() {
		c.connectionLost = false
	}
}

// startSetLocked resets the per-set state and enters Countdown, or Active
// when the countdown is skipped. It returns true when the caller must send
// frame right away.
func (c *Controller) startSetLocked(params Parameters, frame []byte, skipCountdown bool) bool {
	c.timers.cancelAll()
	c.setStateLocked(InitializingState())

	c.params = params
	c.counter.Configure(params.WarmupReps, params.Reps, params.IsJustLift, params.StopAtTop)
	c.pendingEvents = nil
	c.metrics.reset()
	c.sessionID = uuid.NewString()
	c.sessionStart = c.now()
	c.completing = false

	if skipCountdown || params.IsJustLift || c.cfg.CountdownSeconds <= 0 {
		c.setStateLocked(ActiveState())
		return true
	}
	c.setStateLocked(CountdownState(c.cfg.CountdownSeconds))
	c.everyLocked(timerCountdown, func(gen uint64) bool {
		return c.onCountdownTick(gen, frame)
	})
	return false
}

func (c *Controller) onCountdownTick(gen uint64, frame []byte) bool {
	c.mu.Lock()
	if !c.timers.current(timerCountdown, gen) || c.state.Kind != Countdown {
		c.mu.Unlock()
		return false
	}
	if remaining := c.state.SecondsRemaining - 1; remaining > 0 {
		c.setStateLocked(CountdownState(remaining))
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.statusEvent.Notify(snap)
		return true
	}
	c.timers.finish(timerCountdown, gen)
	c.setStateLocked(ActiveState())
	sessionID := c.sessionID
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
	// no caller to report to, sendStartFrame already moved to Error
	_ = c.sendStartFrame(frame, sessionID)
	return false
}

// sendStartFrame writes the start command of sessionID. The state is already
// Active so the UI responds before the write completes.
func (c *Controller) sendStartFrame(frame []byte, sessionID string) error {
	err := c.transport.WriteCommand(frame)
	if err == nil {
		return nil
	}
	terr := &TransportError{Op: "start", Err: err}
	c.logger.Printf("WorkoutController: %v", terr)

	c.mu.Lock()
	if c.sessionID != sessionID || c.state.Kind != Active {
		c.mu.Unlock()
		return terr
	}
	c.timers.cancel(timerAutoStop)
	c.setStateLocked(ErrorState(terr.Error()))
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.statusEvent.Notify(snap)
	return terr
}

// afterLocked runs fire once after d unless the timer is cancelled first.
func (c *Controller) afterLocked(kind timerKind, d time.Duration, fire func(gen uint64)) {
	if c.closed {
		return
	}
	gen, stop := c.timers.start(kind)
	c.wg.Add(1)
	go_func_utils.SafeGoRecover(c.logger, kind.String()+" timer", func() {
		defer c.wg.Done()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-stop:
		case <-c.ctx.Done():
		case <-timer.C:
			fire(gen)
		}
	})
}

// everyLocked calls fire every Tick until it returns false or the timer is
// cancelled.
func (c *Controller) everyLocked(kind timerKind, fire func(gen uint64) bool) {
	if c.closed {
		return
	}
	gen, stop := c.timers.start(kind)
	c.wg.Add(1)
	go_func_utils.SafeGoRecover(c.logger, kind.String()+" timer", func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if !fire(gen) {
					return
				}
			}
		}
	})
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          c.state,
		SessionID:      c.sessionID,
		Reps:           c.counter.Count(),
		ExerciseIndex:  c.exerciseIdx,
		SetIndex:       c.setIdx,
		SetsCompleted:  c.setsCompleted,
		HandleState:    c.detector.State().String(),
		ConnectionLost: c.connectionLost,
		Autoplay:       c.autoplay,
		JustLiftArmed:  c.justLiftArmed != nil,
		MetricCount:    c.metrics.len(),
	}
	if c.sessionID != "" {
		snap.ExerciseName = c.params.ExerciseName
		snap.Mode = c.params.ModeName()
		snap.WeightPerCableKg = c.params.WeightPerCableKg
		snap.TargetReps = c.params.Reps
		snap.IsJustLift = c.params.IsJustLift
	}
	if c.routine != nil {
		snap.RoutineName = c.routine.Name
	}
	if c.latest != nil {
		m := *c.latest
		snap.LatestMetric = &m
	}
	return snap
}
