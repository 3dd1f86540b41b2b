package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lowaak/vitruvian-trainer/internal/go_func_utils"
	"github.com/lowaak/vitruvian-trainer/internal/protocol"
)

// SimulatedDeviceConfig configures a SimulatedDevice.
type SimulatedDeviceConfig struct {
	Address string
	Name    string
	// ListenAddr is the control server address, e.g. ":8090".
	ListenAddr      string
	MonitorInterval time.Duration
}

// SimulatedDeviceState is served by GET /api/state.
type SimulatedDeviceState struct {
	Address         string  `json:"address"`
	Name            string  `json:"name"`
	Connection      string  `json:"connection"`
	ProgramRunning  bool    `json:"programRunning"`
	LastCommand     string  `json:"lastCommand"`
	WeightPerCable  float64 `json:"weightPerCableKg"`
	TopCounter      uint16  `json:"topCounter"`
	CompleteCounter uint16  `json:"completeCounter"`
	PositionA       int     `json:"positionA"`
	PositionB       int     `json:"positionB"`
}

// SimulatedDevice is a trainer without hardware. It drives a MockTransport
// from an HTTP control surface, streams monitor frames while connected and
// tracks the program written to it.
type SimulatedDevice struct {
	logger    *log.Logger
	cfg       SimulatedDeviceConfig
	transport *MockTransport

	mu              sync.Mutex
	ticks           uint32
	topCounter      uint16
	completeCounter uint16
	positionA       int
	positionB       int
	weightPerCable  float64
	programRunning  bool
	lastCommand     string

	router         chi.Router
	server         *http.Server
	doneChan       chan struct{}
	wg             sync.WaitGroup
	unlistenWrites func()
}

func NewSimulatedDevice(logger *log.Logger, cfg SimulatedDeviceConfig) *SimulatedDevice {
	if logger == nil {
		panic("SimulatedDevice: logger cannot be nil")
	}
	if cfg.Name == "" {
		cfg.Name = NamePrefix + "_SIM"
	}
	if cfg.Address == "" {
		cfg.Address = "00:00:00:00:00:01"
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 100 * time.Millisecond
	}

	s := &SimulatedDevice{
		logger:    logger,
		cfg:       cfg,
		transport: NewMockTransport(logger, Device{Address: cfg.Address, Name: cfg.Name, RSSI: -40}),
		doneChan:  make(chan struct{}),
	}
	s.unlistenWrites = s.transport.ListenToWrites(s.onWrite)
	s.routes()
	return s
}

// Transport is the link the controller should be given.
func (s *SimulatedDevice) Transport() *MockTransport {
	return s.transport
}

// Handler exposes the control router, mainly for tests.
func (s *SimulatedDevice) Handler() http.Handler {
	return s.router
}

func (s *SimulatedDevice) routes() {
	r := chi.NewRouter()
	r.Get("/api/state", s.handleGetState)
	r.Get("/api/writes", s.handleGetWrites)
	r.Post("/api/rep", s.handleRep)
	r.Post("/api/position", s.handlePosition)
	r.Post("/api/connection", s.handleConnection)
	s.router = r
}

// Start begins streaming monitor frames and, if ListenAddr is set, serves
// the control API.
func (s *SimulatedDevice) Start() error {
	s.logger.Printf("SimulatedDevice: Starting %s (%s)", s.cfg.Name, s.cfg.Address)

	if s.cfg.ListenAddr != "" {
		s.server = &http.Server{Addr: s.cfg.ListenAddr, Handler: s.router}
		s.wg.Add(1)
		go_func_utils.SafeGo(s.logger, func() {
			defer s.wg.Done()
			s.logger.Printf("SimulatedDevice: Control server on %s", s.cfg.ListenAddr)
			if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				s.logger.Printf("SimulatedDevice: Control server error: %v", err)
			}
		})
	}

	s.wg.Add(1)
	go_func_utils.SafeGo(s.logger, func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.MonitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.doneChan:
				return
			case <-ticker.C:
				if s.transport.State() == Connected {
					s.transport.InjectMonitor(s.sample())
				}
			}
		}
	})
	return nil
}

func (s *SimulatedDevice) Shutdown() {
	s.logger.Printf("SimulatedDevice: Shutting down")
	close(s.doneChan)
	s.unlistenWrites()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Printf("SimulatedDevice: Error shutting down control server: %v", err)
		}
	}
	s.wg.Wait()
	s.logger.Printf("SimulatedDevice: Shutdown complete")
}

func (s *SimulatedDevice) sample() protocol.MonitorMetric {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
	load := 0.0
	if s.programRunning && (s.positionA > 0 || s.positionB > 0) {
		load = s.weightPerCable
	}
	return protocol.MonitorMetric{
		Ticks:     s.ticks,
		PositionA: s.positionA,
		PositionB: s.positionB,
		LoadA:     load,
		LoadB:     load,
	}
}

func (s *SimulatedDevice) onWrite(cmd WrittenCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCommand = cmd.Description
	switch {
	case protocol.StartsProgram(cmd.Data):
		s.programRunning = true
		if weight, ok := protocol.ProgramWeightPerCable(cmd.Data); ok {
			s.weightPerCable = weight
		}
	case protocol.ReleasesLoad(cmd.Data):
		s.programRunning = false
	}
}

// Top advances the top counter, as the cable reaching full contraction does.
func (s *SimulatedDevice) Top() {
	s.mu.Lock()
	s.topCounter++
	top, complete := s.topCounter, s.completeCounter
	s.mu.Unlock()
	s.transport.InjectRep(top, complete)
}

// Bottom advances the complete counter at the end of a rep.
func (s *SimulatedDevice) Bottom() {
	s.mu.Lock()
	s.completeCounter++
	top, complete := s.topCounter, s.completeCounter
	s.mu.Unlock()
	s.transport.InjectRep(top, complete)
}

// SetPosition moves both cables.
func (s *SimulatedDevice) SetPosition(a, b int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positionA = a
	s.positionB = b
}

func (s *SimulatedDevice) State() SimulatedDeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SimulatedDeviceState{
		Address:         s.cfg.Address,
		Name:            s.cfg.Name,
		Connection:      s.transport.State().String(),
		ProgramRunning:  s.programRunning,
		LastCommand:     s.lastCommand,
		WeightPerCable:  s.weightPerCable,
		TopCounter:      s.topCounter,
		CompleteCounter: s.completeCounter,
		PositionA:       s.positionA,
		PositionB:       s.positionB,
	}
}

// --- HTTP handlers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *SimulatedDevice) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.State())
}

func (s *SimulatedDevice) handleGetWrites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.transport.Writes())
}

func (s *SimulatedDevice) handleRep(w http.ResponseWriter, r *http.Request) {
	count := 1
	if c := r.URL.Query().Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil || n < 1 || n > 100 {
			http.Error(w, "count must be 1..100", http.StatusBadRequest)
			return
		}
		count = n
	}
	phase := r.URL.Query().Get("phase")
	for i := 0; i < count; i++ {
		switch phase {
		case "top":
			s.Top()
		case "bottom":
			s.Bottom()
		case "", "full":
			s.Top()
			s.Bottom()
		default:
			http.Error(w, fmt.Sprintf("unknown phase %q", phase), http.StatusBadRequest)
			return
		}
	}
	writeJSON(w, s.State())
}

func (s *SimulatedDevice) handlePosition(w http.ResponseWriter, r *http.Request) {
	a, errA := strconv.Atoi(r.URL.Query().Get("a"))
	b, errB := strconv.Atoi(r.URL.Query().Get("b"))
	if errA != nil || errB != nil {
		http.Error(w, "a and b must be integers", http.StatusBadRequest)
		return
	}
	s.SetPosition(a, b)
	writeJSON(w, s.State())
}

func (s *SimulatedDevice) handleConnection(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("state") {
	case "connected":
		s.transport.SetConnectionState(Connected)
	case "disconnected":
		s.transport.SetConnectionState(Disconnected)
	case "error":
		s.transport.SetConnectionState(Error)
	default:
		http.Error(w, "state must be connected, disconnected or error", http.StatusBadRequest)
		return
	}
	writeJSON(w, s.State())
}
