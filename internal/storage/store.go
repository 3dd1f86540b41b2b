// Package storage persists finished sets, their telemetry and personal
// records. SQLite is the default backend, PostgreSQL is used when a DSN is
// configured. Both create their schema with embedded migrations.
package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

//go:embed migrations
var migrationFiles embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var ErrUnknownDriver = errors.New("storage: unknown driver")

// Config selects and locates the backend.
type Config struct {
	Driver string // "sqlite" or "postgres"
	Path   string // sqlite database file
	DSN    string // postgres connection string
}

// PersonalRecord is the best set for an exercise in one mode.
type PersonalRecord struct {
	ExerciseID       string    `json:"exerciseId"`
	Mode             string    `json:"mode"`
	WeightPerCableKg float64   `json:"weightPerCableKg"`
	Reps             int       `json:"reps"`
	AchievedAt       time.Time `json:"achievedAt"`
}

// Store is the workout persistence plus the read side used by tools.
type Store interface {
	workout.Persistence
	ListSessions(ctx context.Context, limit int) ([]workout.Session, error)
	Metrics(ctx context.Context, sessionID string) ([]protocol.MonitorMetric, error)
	PersonalRecords(ctx context.Context) ([]PersonalRecord, error)
	Close() error
}

// Open runs the migrations of the configured backend and opens it.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (Store, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return OpenSQLite(ctx, cfg.Path, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("%q: %w", cfg.Driver, ErrUnknownDriver)
	}
}

// weightEpsilon absorbs float noise from kg/lb conversions.
const weightEpsilon = 0.001

// beats reports whether weight x reps is a new record over the current one.
// A heavier weight always wins, the same weight needs more reps.
func beats(weight float64, reps int, current PersonalRecord) bool {
	switch {
	case weight > current.WeightPerCableKg+weightEpsilon:
		return true
	case math.Abs(weight-current.WeightPerCableKg) <= weightEpsilon:
		return reps > current.Reps
	default:
		return false
	}
}
