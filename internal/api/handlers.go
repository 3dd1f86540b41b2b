package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

const defaultSessionLimit = 50

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleStopWorkout(w http.ResponseWriter, r *http.Request) {
	s.respond(w, "stop workout", s.controller.StopWorkout())
}

func (s *Server) handleSkipRest(w http.ResponseWriter, r *http.Request) {
	s.respond(w, "skip rest", s.controller.SkipRest())
}

type startRoutineRequest struct {
	SkipCountdown bool `json:"skipCountdown"`
}

func (s *Server) handleStartRoutine(w http.ResponseWriter, r *http.Request) {
	var req startRoutineRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
	}
	s.respond(w, "start routine", s.controller.StartRoutine(workout.StartOptions{SkipCountdown: req.SkipCountdown}))
}

func (s *Server) handleCancelRoutine(w http.ResponseWriter, r *http.Request) {
	s.respond(w, "cancel routine", s.controller.CancelRoutine())
}

type autoplayRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleAutoplay(w http.ResponseWriter, r *http.Request) {
	var req autoplayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	s.respond(w, "set autoplay", s.controller.SetAutoplay(req.Enabled))
}

func (s *Server) handleDismissAlert(w http.ResponseWriter, r *http.Request) {
	s.controller.DismissConnectionAlert()
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	sessions, err := s.history.ListSessions(r.Context(), limit)
	if err != nil {
		s.logger.Printf("API Server: Error listing sessions: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = []workout.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.history.PersonalRecords(r.Context())
	if err != nil {
		s.logger.Printf("API Server: Error listing records: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// respond writes the new status on success, or maps a controller error to
// an HTTP status.
func (s *Server) respond(w http.ResponseWriter, action string, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, s.controller.Snapshot())
		return
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("API Server: Failed to %s: %v", action, err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var transportErr *workout.TransportError
	switch {
	case errors.Is(err, workout.ErrNoRoutine), errors.Is(err, workout.ErrWorkoutInProgress):
		return http.StatusConflict
	case errors.Is(err, workout.ErrNotAttached), errors.Is(err, workout.ErrShutdown):
		return http.StatusServiceUnavailable
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
