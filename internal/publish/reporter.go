package publish

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/go_func_utils"
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
	"github.com/lowaak/vitruvian-trainer/internal/storage"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

const (
	reporterQueueSize = 256
	publishTimeout    = 5 * time.Second
)

// Source is the part of the workout controller the Reporter listens to.
type Source interface {
	ListenToStatus(ch chan<- workout.Snapshot) func()
	ListenToRepEvents(callback func(workout.RepEvent)) func()
}

// Reporter turns controller updates into messages and hands them to every
// publisher from a single goroutine. A full queue drops messages rather than
// stall the controller.
type Reporter struct {
	publishers []Publisher
	logger     *log.Logger
	now        func() time.Time

	queue    chan Message
	statusCh chan workout.Snapshot

	mu           sync.Mutex
	unsubscribes []func()
	dropped      int

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewReporter(publishers []Publisher, logger *log.Logger) *Reporter {
	if logger == nil {
		panic("Reporter: logger cannot be nil")
	}
	return &Reporter{
		publishers: publishers,
		logger:     logger,
		now:        time.Now,
		queue:      make(chan Message, reporterQueueSize),
		statusCh:   make(chan workout.Snapshot, 32),
	}
}

// Start subscribes to source and starts publishing.
func (r *Reporter) Start(ctx context.Context, source Source) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		unlistenStatus := source.ListenToStatus(r.statusCh)
		unlistenReps := source.ListenToRepEvents(r.onRepEvent)
		r.mu.Lock()
		r.unsubscribes = append(r.unsubscribes, unlistenStatus, unlistenReps)
		r.mu.Unlock()

		r.wg.Add(1)
		go_func_utils.SafeGo(r.logger, func() {
			defer r.wg.Done()
			r.run(ctx)
		})
		r.logger.Printf("Reporter: Publishing to %d publishers", len(r.publishers))
	})
}

func (r *Reporter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case snap := <-r.statusCh:
			msg, err := statusMessage(r.now(), snap)
			if err != nil {
				r.logger.Printf("Reporter: %v", err)
				continue
			}
			r.publish(msg)
		case msg := <-r.queue:
			r.publish(msg)
		}
	}
}

// drain publishes what is already queued so a finished set is not lost on
// shutdown.
func (r *Reporter) drain() {
	for {
		select {
		case msg := <-r.queue:
			r.publish(msg)
		default:
			return
		}
	}
}

func (r *Reporter) publish(msg Message) {
	for _, p := range r.publishers {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := p.Publish(ctx, msg); err != nil {
			r.logger.Printf("Reporter: %s failed to publish %s: %v", p.Name(), msg.Topic, err)
		}
		cancel()
	}
}

func (r *Reporter) enqueue(msg Message) {
	select {
	case r.queue <- msg:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		r.logger.Printf("Reporter: Queue full, dropped %s message (%d total)", msg.Topic, dropped)
	}
}

func (r *Reporter) onRepEvent(e workout.RepEvent) {
	msg, err := repMessage(e)
	if err != nil {
		r.logger.Printf("Reporter: %v", err)
		return
	}
	r.enqueue(msg)
}

// Dropped returns how many messages were dropped on a full queue.
func (r *Reporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Stop unsubscribes, publishes what is queued and closes every publisher.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		unsubscribes := r.unsubscribes
		r.unsubscribes = nil
		r.mu.Unlock()
		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		for _, p := range r.publishers {
			if err := p.Close(); err != nil {
				r.logger.Printf("Reporter: Closing %s: %v", p.Name(), err)
			}
		}
	})
}

// WrapPersistence reports every stored set and every new personal record
// after inner has accepted it.
func (r *Reporter) WrapPersistence(inner workout.Persistence) workout.Persistence {
	return &reportingPersistence{inner: inner, reporter: r}
}

type reportingPersistence struct {
	inner    workout.Persistence
	reporter *Reporter
}

func (p *reportingPersistence) SaveSession(ctx context.Context, session workout.Session) error {
	if err := p.inner.SaveSession(ctx, session); err != nil {
		return err
	}
	msg, err := sessionMessage(session)
	if err != nil {
		p.reporter.logger.Printf("Reporter: %v", err)
		return nil
	}
	p.reporter.enqueue(msg)
	return nil
}

func (p *reportingPersistence) SaveMetrics(ctx context.Context, sessionID string, metrics []protocol.MonitorMetric) error {
	return p.inner.SaveMetrics(ctx, sessionID, metrics)
}

func (p *reportingPersistence) UpdatePersonalRecordIfNeeded(ctx context.Context, exerciseID string, weightPerCableKg float64, reps int, mode string) (bool, error) {
	isRecord, err := p.inner.UpdatePersonalRecordIfNeeded(ctx, exerciseID, weightPerCableKg, reps, mode)
	if err != nil || !isRecord {
		return isRecord, err
	}
	msg, err := recordMessage(storage.PersonalRecord{
		ExerciseID:       exerciseID,
		Mode:             mode,
		WeightPerCableKg: weightPerCableKg,
		Reps:             reps,
		AchievedAt:       p.reporter.now(),
	})
	if err != nil {
		p.reporter.logger.Printf("Reporter: %v", err)
		return true, nil
	}
	p.reporter.enqueue(msg)
	return true, nil
}
