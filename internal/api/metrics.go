package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lowaak/vitruvian-trainer/internal/go_func_utils"
	"github.com/lowaak/vitruvian-trainer/internal/reps"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

var stateKinds = []workout.StateKind{
	workout.Idle, workout.Initializing, workout.Countdown, workout.Active,
	workout.Resting, workout.Completed, workout.Error,
}

// Metrics exposes controller activity in the Prometheus text format.
type Metrics struct {
	registry *prometheus.Registry
	logger   *log.Logger

	repEvents      *prometheus.CounterVec
	setsCompleted  prometheus.Counter
	workoutState   *prometheus.GaugeVec
	connectionLost prometheus.Gauge
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec

	statusCh     chan workout.Snapshot
	unsubscribes []func()
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	startOnce    sync.Once
	stopOnce     sync.Once
}

func NewMetrics(logger *log.Logger) *Metrics {
	if logger == nil {
		panic("Metrics: logger cannot be nil")
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		repEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitruvian_rep_events_total",
			Help: "Rep events by kind.",
		}, []string{"kind"}),
		setsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitruvian_sets_completed_total",
			Help: "Sets that reached completion, by target or by the user.",
		}),
		workoutState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vitruvian_workout_state",
			Help: "1 for the current workout state, 0 for the others.",
		}, []string{"state"}),
		connectionLost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitruvian_connection_lost",
			Help: "1 while the link to the trainer was lost during a set.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitruvian_http_requests_total",
			Help: "API requests by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vitruvian_http_request_duration_seconds",
			Help:    "API request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		statusCh: make(chan workout.Snapshot, 32),
	}
	m.registry.MustRegister(
		m.repEvents,
		m.setsCompleted,
		m.workoutState,
		m.connectionLost,
		m.httpRequests,
		m.httpDuration,
	)
	m.setState(workout.Idle)
	return m
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Start follows the controller until Stop.
func (m *Metrics) Start(ctx context.Context, source Source) {
	m.startOnce.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		m.unsubscribes = append(m.unsubscribes,
			source.ListenToStatus(m.statusCh),
			source.ListenToRepEvents(m.observeRepEvent),
		)
		m.wg.Add(1)
		go_func_utils.SafeGo(m.logger, func() {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case snap := <-m.statusCh:
					m.observeSnapshot(snap)
				}
			}
		})
	})
}

func (m *Metrics) Stop() {
	m.stopOnce.Do(func() {
		for _, unsubscribe := range m.unsubscribes {
			unsubscribe()
		}
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
	})
}

func (m *Metrics) observeRepEvent(e workout.RepEvent) {
	m.repEvents.WithLabelValues(e.Kind.String()).Inc()
	if e.Kind == reps.WorkoutComplete {
		m.setsCompleted.Inc()
	}
}

func (m *Metrics) observeSnapshot(snap workout.Snapshot) {
	m.setState(snap.State.Kind)
	if snap.ConnectionLost {
		m.connectionLost.Set(1)
	} else {
		m.connectionLost.Set(0)
	}
}

func (m *Metrics) setState(current workout.StateKind) {
	for _, kind := range stateKinds {
		v := 0.0
		if kind == current {
			v = 1
		}
		m.workoutState.WithLabelValues(kind.String()).Set(v)
	}
}

func (m *Metrics) observeRequest(route string, status int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
