package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

// SQLiteStore keeps everything in a single database file. Timestamps are
// stored as unix milliseconds.
type SQLiteStore struct {
	db     *sql.DB
	logger *log.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite creates the parent directory, migrates and opens path.
func OpenSQLite(ctx context.Context, path string, logger *log.Logger) (*SQLiteStore, error) {
	if logger == nil {
		panic("SQLiteStore: logger cannot be nil")
	}
	if path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database dir: %w", err)
	}
	if err := runMigrations(DriverSQLite, "sqlite://"+path); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// one writer, sqlite serialises them anyway
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite database: %w", err)
	}
	logger.Printf("SQLiteStore: Opened %s", path)
	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// SaveSession inserts the session. Saving the same id again updates the
// outcome columns and keeps its metrics.
func (s *SQLiteStore) SaveSession(ctx context.Context, session workout.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workout_sessions (id, exercise_id, exercise_name, mode, weight_per_cable_kg,
		 progression_kg, target_reps, warmup_target, warmup_reps, working_reps, is_just_lift, stop_at_top,
		 routine_id, routine_name, set_number, stopped_by_user, started_at_ms, ended_at_ms)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT (id) DO UPDATE SET
		 warmup_reps = excluded.warmup_reps, working_reps = excluded.working_reps,
		 stopped_by_user = excluded.stopped_by_user, ended_at_ms = excluded.ended_at_ms`,
		session.ID, session.ExerciseID, session.ExerciseName, session.Mode, session.WeightPerCableKg,
		session.ProgressionKg, session.TargetReps, session.WarmupTarget, session.WarmupReps, session.WorkingReps,
		session.IsJustLift, session.StopAtTop, session.RoutineID, session.RoutineName, session.SetNumber,
		session.StoppedByUser, toMillis(session.StartedAt), toMillis(session.EndedAt))
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", session.ID, err)
	}
	return nil
}

// SaveMetrics replaces the telemetry of a session in one transaction.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, sessionID string, metrics []protocol.MonitorMetric) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM monitor_metrics WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clearing metrics: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO monitor_metrics (session_id, seq, recorded_at_ms, ticks, position_a, position_b, load_a, load_b)
		 VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("preparing metric insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range metrics {
		if _, err := stmt.ExecContext(ctx, sessionID, i, toMillis(m.Timestamp), m.Ticks,
			m.PositionA, m.PositionB, m.LoadA, m.LoadB); err != nil {
			return fmt.Errorf("inserting metric %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing metrics: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdatePersonalRecordIfNeeded(ctx context.Context, exerciseID string, weightPerCableKg float64, reps int, mode string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current PersonalRecord
	err = tx.QueryRowContext(ctx,
		`SELECT weight_per_cable_kg, reps FROM personal_records WHERE exercise_id = ? AND mode = ?`,
		exerciseID, mode).Scan(&current.WeightPerCableKg, &current.Reps)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("reading personal record: %w", err)
	default:
		if !beats(weightPerCableKg, reps, current) {
			return false, nil
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO personal_records (exercise_id, mode, weight_per_cable_kg, reps, achieved_at_ms)
		 VALUES (?,?,?,?,?)`,
		exerciseID, mode, weightPerCableKg, reps, s.now().UnixMilli())
	if err != nil {
		return false, fmt.Errorf("writing personal record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing personal record: %w", err)
	}
	return true, nil
}

// ListSessions returns the newest sessions first. limit <= 0 means all.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]workout.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exercise_id, exercise_name, mode, weight_per_cable_kg, progression_kg, target_reps,
		 warmup_target, warmup_reps, working_reps, is_just_lift, stop_at_top, routine_id, routine_name,
		 set_number, stopped_by_user, started_at_ms, ended_at_ms
		 FROM workout_sessions ORDER BY started_at_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []workout.Session
	for rows.Next() {
		var ws workout.Session
		var started, ended int64
		if err := rows.Scan(&ws.ID, &ws.ExerciseID, &ws.ExerciseName, &ws.Mode, &ws.WeightPerCableKg,
			&ws.ProgressionKg, &ws.TargetReps, &ws.WarmupTarget, &ws.WarmupReps, &ws.WorkingReps,
			&ws.IsJustLift, &ws.StopAtTop, &ws.RoutineID, &ws.RoutineName, &ws.SetNumber,
			&ws.StoppedByUser, &started, &ended); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		ws.StartedAt = fromMillis(started)
		ws.EndedAt = fromMillis(ended)
		sessions = append(sessions, ws)
	}
	return sessions, rows.Err()
}

// Metrics returns the telemetry of a session in recording order.
func (s *SQLiteStore) Metrics(ctx context.Context, sessionID string) ([]protocol.MonitorMetric, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recorded_at_ms, ticks, position_a, position_b, load_a, load_b
		 FROM monitor_metrics WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}
	defer rows.Close()

	var metrics []protocol.MonitorMetric
	for rows.Next() {
		var m protocol.MonitorMetric
		var at int64
		if err := rows.Scan(&at, &m.Ticks, &m.PositionA, &m.PositionB, &m.LoadA, &m.LoadB); err != nil {
			return nil, fmt.Errorf("scanning metric: %w", err)
		}
		m.Timestamp = fromMillis(at)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (s *SQLiteStore) PersonalRecords(ctx context.Context) ([]PersonalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT exercise_id, mode, weight_per_cable_kg, reps, achieved_at_ms
		 FROM personal_records ORDER BY exercise_id, mode`)
	if err != nil {
		return nil, fmt.Errorf("querying personal records: %w", err)
	}
	defer rows.Close()

	var records []PersonalRecord
	for rows.Next() {
		var pr PersonalRecord
		var at int64
		if err := rows.Scan(&pr.ExerciseID, &pr.Mode, &pr.WeightPerCableKg, &pr.Reps, &at); err != nil {
			return nil, fmt.Errorf("scanning personal record: %w", err)
		}
		pr.AchievedAt = fromMillis(at)
		records = append(records, pr)
	}
	return records, rows.Err()
}
