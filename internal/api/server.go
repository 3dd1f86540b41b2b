// Package api serves the trainer status and a few remote controls over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"

	"github.com/lowaak/vitruvian-trainer/internal/go_func_utils"
	"github.com/lowaak/vitruvian-trainer/internal/storage"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

// Source is what Metrics follows.
type Source interface {
	ListenToStatus(ch chan<- workout.Snapshot) func()
	ListenToRepEvents(callback func(workout.RepEvent)) func()
}

// Controller is the part of the workout controller the API drives.
type Controller interface {
	Snapshot() workout.Snapshot
	StopWorkout() error
	SkipRest() error
	StartRoutine(opts workout.StartOptions) error
	CancelRoutine() error
	SetAutoplay(enabled bool) error
	DismissConnectionAlert()
}

// History is the read side of the store. It is optional.
type History interface {
	ListSessions(ctx context.Context, limit int) ([]workout.Session, error)
	PersonalRecords(ctx context.Context) ([]storage.PersonalRecord, error)
}

type Server struct {
	controller Controller
	history    History
	metrics    *Metrics
	logger     *log.Logger
	router     chi.Router

	mu     sync.Mutex
	server *http.Server
	wg     sync.WaitGroup
}

// NewServer wires the routes. history and metrics may be nil.
func NewServer(controller Controller, history History, metrics *Metrics, logger *log.Logger) *Server {
	if logger == nil {
		panic("API Server: logger cannot be nil")
	}
	if controller == nil {
		panic("API Server: controller cannot be nil")
	}
	s := &Server{
		controller: controller,
		history:    history,
		metrics:    metrics,
		logger:     logger,
		router:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(requestLogging(s.logger, s.metrics))

	s.router.Get("/api/status", s.handleStatus)
	s.router.Post("/api/workout/stop", s.handleStopWorkout)
	s.router.Post("/api/rest/skip", s.handleSkipRest)
	s.router.Post("/api/routine/start", s.handleStartRoutine)
	s.router.Post("/api/routine/cancel", s.handleCancelRoutine)
	s.router.Post("/api/autoplay", s.handleAutoplay)
	s.router.Post("/api/alert/dismiss", s.handleDismissAlert)

	if s.history != nil {
		s.router.Get("/api/sessions", s.handleSessions)
		s.router.Get("/api/records", s.handleRecords)
	}
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// Start listens on addr in the background.
func (s *Server) Start(addr string) {
	s.mu.Lock()
	s.server = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	server := s.server
	s.mu.Unlock()

	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()
		s.logger.Printf("API Server: Listening on %s", addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("API Server: Server error: %v", err)
		}
	})
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// requestLogging logs each request and records it under its route pattern.
// The route is read after the router ran, the logging handler sees the same
// request and therefore the filled route context.
func requestLogging(logger *log.Logger, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return handlers.CustomLoggingHandler(logger.Writer(), next, func(_ io.Writer, p handlers.LogFormatterParams) {
			route := p.URL.Path
			if rctx := chi.RouteContext(p.Request.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(p.TimeStamp)
			if metrics != nil {
				metrics.observeRequest(route, p.StatusCode, elapsed)
			}
			if route != "/metrics" {
				logger.Printf("API Server: %s %s %d %dB %s", p.Request.Method, p.URL.Path, p.StatusCode, p.Size, elapsed)
			}
		})
	}
}
