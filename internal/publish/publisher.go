// Package publish mirrors the workout to external systems: live status and
// rep events to MQTT and Redis, finished sets to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/storage"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

// Topics, relative to each publisher's prefix.
const (
	TopicStatus  = "status"
	TopicRep     = "rep"
	TopicSession = "session"
	TopicRecord  = "record"
)

// Message is one update ready to publish. Payload is JSON, Fields is a flat
// view of it for key/value stores.
type Message struct {
	Topic   string
	Key     string
	Payload []byte
	Fields  map[string]string
}

// Publisher delivers messages to one backend. Implementations decide which
// topics they carry.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type statusPayload struct {
	At time.Time `json:"at"`
	workout.Snapshot
}

type repPayload struct {
	At          time.Time `json:"at"`
	SessionID   string    `json:"sessionId"`
	Kind        string    `json:"kind"`
	WarmupReps  int       `json:"warmupReps"`
	WorkingReps int       `json:"workingReps"`
}

func statusMessage(at time.Time, snap workout.Snapshot) (Message, error) {
	payload, err := json.Marshal(statusPayload{At: at, Snapshot: snap})
	if err != nil {
		return Message{}, fmt.Errorf("encoding status: %w", err)
	}
	return Message{
		Topic:   TopicStatus,
		Key:     snap.SessionID,
		Payload: payload,
		Fields: map[string]string{
			"state":           snap.State.Kind.String(),
			"session_id":      snap.SessionID,
			"warmup_reps":     strconv.Itoa(snap.Reps.WarmupReps),
			"working_reps":    strconv.Itoa(snap.Reps.WorkingReps),
			"handle":          snap.HandleState,
			"connection_lost": strconv.FormatBool(snap.ConnectionLost),
			"updated_at":      at.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

func repMessage(e workout.RepEvent) (Message, error) {
	p := repPayload{
		At:          e.At,
		SessionID:   e.SessionID,
		Kind:        e.Kind.String(),
		WarmupReps:  e.Count.WarmupReps,
		WorkingReps: e.Count.WorkingReps,
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Message{}, fmt.Errorf("encoding rep event: %w", err)
	}
	return Message{
		Topic:   TopicRep,
		Key:     e.SessionID,
		Payload: payload,
		Fields: map[string]string{
			"kind":         p.Kind,
			"session_id":   p.SessionID,
			"warmup_reps":  strconv.Itoa(p.WarmupReps),
			"working_reps": strconv.Itoa(p.WorkingReps),
		},
	}, nil
}

func sessionMessage(s workout.Session) (Message, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return Message{}, fmt.Errorf("encoding session: %w", err)
	}
	return Message{
		Topic:   TopicSession,
		Key:     s.ID,
		Payload: payload,
		Fields: map[string]string{
			"id":                  s.ID,
			"exercise":            s.ExerciseName,
			"mode":                s.Mode,
			"weight_per_cable_kg": strconv.FormatFloat(s.WeightPerCableKg, 'f', -1, 64),
			"working_reps":        strconv.Itoa(s.WorkingReps),
			"ended_at":            s.EndedAt.UTC().Format(time.RFC3339Nano),
		},
	}, nil
}

func recordMessage(r storage.PersonalRecord) (Message, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return Message{}, fmt.Errorf("encoding personal record: %w", err)
	}
	return Message{
		Topic:   TopicRecord,
		Key:     r.ExerciseID,
		Payload: payload,
		Fields: map[string]string{
			"exercise_id":         r.ExerciseID,
			"mode":                r.Mode,
			"weight_per_cable_kg": strconv.FormatFloat(r.WeightPerCableKg, 'f', -1, 64),
			"reps":                strconv.Itoa(r.Reps),
		},
	}, nil
}
