package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lowaak/vitruvian-trainer/internal/protocol"
	"github.com/lowaak/vitruvian-trainer/internal/workout"
)

// PostgresStore shares one database between several trainers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
	now    func() time.Time
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres migrates the database at dsn and connects a pool to it.
func OpenPostgres(ctx context.Context, dsn string, logger *log.Logger) (*PostgresStore, error) {
	if logger == nil {
		panic("PostgresStore: logger cannot be nil")
	}
	if dsn == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	if err := runMigrations(DriverPostgres, dsn); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	logger.Println("PostgresStore: Connected")
	return &PostgresStore{pool: pool, logger: logger, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// sessionUUID parses a session id for the uuid columns.
func sessionUUID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("session id %q: %w", id, err)
	}
	return u, nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, session workout.Session) error {
	id, err := sessionUUID(session.ID)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO workout_sessions (id, exercise_id, exercise_name, mode, weight_per_cable_kg,
		 progression_kg, target_reps, warmup_target, warmup_reps, working_reps, is_just_lift, stop_at_top,
		 routine_id, routine_name, set_number, stopped_by_user, started_at, ended_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		 ON CONFLICT (id) DO UPDATE SET
		 warmup_reps = EXCLUDED.warmup_reps, working_reps = EXCLUDED.working_reps,
		 stopped_by_user = EXCLUDED.stopped_by_user, ended_at = EXCLUDED.ended_at`,
		id, session.ExerciseID, session.ExerciseName, session.Mode, session.WeightPerCableKg,
		session.ProgressionKg, session.TargetReps, session.WarmupTarget, session.WarmupReps, session.WorkingReps,
		session.IsJustLift, session.StopAtTop, session.RoutineID, session.RoutineName, session.SetNumber,
		session.StoppedByUser, session.StartedAt, session.EndedAt)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", session.ID, err)
	}
	return nil
}

// SaveMetrics replaces the telemetry of a session using COPY.
func (s *PostgresStore) SaveMetrics(ctx context.Context, sessionID string, metrics []protocol.MonitorMetric) error {
	id, err := sessionUUID(sessionID)
	if err != nil {
		return err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM monitor_metrics WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("clearing metrics: %w", err)
	}
	rows := make([][]any, 0, len(metrics))
	for i, m := range metrics {
		rows = append(rows, []any{id, i, m.Timestamp, int64(m.Ticks), m.PositionA, m.PositionB, m.LoadA, m.LoadB})
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"monitor_metrics"},
		[]string{"session_id", "seq", "recorded_at", "ticks", "position_a", "position_b", "load_a", "load_b"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copying %d metrics: %w", len(metrics), err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdatePersonalRecordIfNeeded(ctx context.Context, exerciseID string, weightPerCableKg float64, reps int, mode string) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current PersonalRecord
	err = tx.QueryRow(ctx,
		`SELECT weight_per_cable_kg, reps FROM personal_records
		 WHERE exercise_id = $1 AND mode = $2 FOR UPDATE`,
		exerciseID, mode).Scan(&current.WeightPerCableKg, &current.Reps)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("reading personal record: %w", err)
	default:
		if !beats(weightPerCableKg, reps, current) {
			return false, nil
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO personal_records (exercise_id, mode, weight_per_cable_kg, reps, achieved_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (exercise_id, mode) DO UPDATE SET
		 weight_per_cable_kg = EXCLUDED.weight_per_cable_kg, reps = EXCLUDED.reps, achieved_at = EXCLUDED.achieved_at`,
		exerciseID, mode, weightPerCableKg, reps, s.now())
	if err != nil {
		return false, fmt.Errorf("writing personal record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing personal record: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]workout.Session, error) {
	query := `SELECT id::text, exercise_id, exercise_name, mode, weight_per_cable_kg, progression_kg, target_reps,
		 warmup_target, warmup_reps, working_reps, is_just_lift, stop_at_top, routine_id, routine_name,
		 set_number, stopped_by_user, started_at, ended_at
		 FROM workout_sessions ORDER BY started_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []workout.Session
	for rows.Next() {
		var ws workout.Session
		if err := rows.Scan(&ws.ID, &ws.ExerciseID, &ws.ExerciseName, &ws.Mode, &ws.WeightPerCableKg,
			&ws.ProgressionKg, &ws.TargetReps, &ws.WarmupTarget, &ws.WarmupReps, &ws.WorkingReps,
			&ws.IsJustLift, &ws.StopAtTop, &ws.RoutineID, &ws.RoutineName, &ws.SetNumber,
			&ws.StoppedByUser, &ws.StartedAt, &ws.EndedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, ws)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) Metrics(ctx context.Context, sessionID string) ([]protocol.MonitorMetric, error) {
	id, err := sessionUUID(sessionID)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT recorded_at, ticks, position_a, position_b, load_a, load_b
		 FROM monitor_metrics WHERE session_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("querying metrics: %w", err)
	}
	defer rows.Close()

	var metrics []protocol.MonitorMetric
	for rows.Next() {
		var m protocol.MonitorMetric
		var ticks int64
		if err := rows.Scan(&m.Timestamp, &ticks, &m.PositionA, &m.PositionB, &m.LoadA, &m.LoadB); err != nil {
			return nil, fmt.Errorf("scanning metric: %w", err)
		}
		m.Ticks = uint32(ticks)
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (s *PostgresStore) PersonalRecords(ctx context.Context) ([]PersonalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT exercise_id, mode, weight_per_cable_kg, reps, achieved_at
		 FROM personal_records ORDER BY exercise_id, mode`)
	if err != nil {
		return nil, fmt.Errorf("querying personal records: %w", err)
	}
	defer rows.Close()

	var records []PersonalRecord
	for rows.Next() {
		var pr PersonalRecord
		if err := rows.Scan(&pr.ExerciseID, &pr.Mode, &pr.WeightPerCableKg, &pr.Reps, &pr.AchievedAt); err != nil {
			return nil, fmt.Errorf("scanning personal record: %w", err)
		}
		records = append(records, pr)
	}
	return records, rows.Err()
}
