package run

import (
	"context"
	"errors"
	"time"

	"backend-runtracker/internal/db"

	"github.com/jackc/pgx/v5"
)

type PostgresStore struct {
	db db.Querier
}

func NewPostgresStore(q db.Querier) *PostgresStore {
	return &PostgresStore{db: q}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) Create(ctx context.Context, session Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO run_sessions (id, user_id, started_at, distance_km, duration_ms, average_pace, calories, is_active, sample_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, session.ID, session.UserID, session.StartTime, session.Distance, session.Duration.Milliseconds(),
		session.AveragePace, session.Calories, session.Active, session.SampleCount)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, started_at, ended_at, distance_km, duration_ms, average_pace, calories, is_active, sample_count
		FROM run_sessions WHERE id=$1
	`, id)
	session, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if session.SampleCount == 0 {
		return session, nil
	}

	row = s.db.QueryRow(ctx, `
		SELECT latitude, longitude, recorded_at, accuracy_m, altitude_m, speed_mps
		FROM run_positions
		WHERE session_id=$1
		ORDER BY seq DESC
		LIMIT 1
	`, id)
	last, err := scanSample(row)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Session{}, err
	}
	if err == nil {
		session.LastSample = &last
	}
	return session, nil
}

func (s *PostgresStore) Append(ctx context.Context, session Session, sample GeoSample) error {
	return db.InTx(ctx, s.db, func(tx pgx.Tx) error {
		// Row lock first: a concurrent writer blocks here and then sees the
		// new sample_count.
		tag, err := tx.Exec(ctx, `
			UPDATE run_sessions
			SET distance_km=$2, duration_ms=$3, average_pace=$4, calories=$5, sample_count=$6
			WHERE id=$1 AND is_active AND sample_count=$7
		`, session.ID, session.Distance, session.Duration.Milliseconds(), session.AveragePace,
			session.Calories, session.SampleCount, session.SampleCount-1)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrConflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO run_positions (session_id, seq, latitude, longitude, location, recorded_at, accuracy_m, altitude_m, speed_mps)
			VALUES ($1, $2, $3, $4,
				CASE WHEN $5 THEN ST_SetSRID(ST_MakePoint($4, $3), 4326)::geography END,
				$6, $7, $8, $9)
		`, session.ID, session.SampleCount, sample.Latitude, sample.Longitude, geographic(sample),
			sample.Time(), sample.Accuracy, sample.Altitude, sample.Speed)
		return err
	})
}

func (s *PostgresStore) Finish(ctx context.Context, session Session) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE run_sessions
		SET is_active=FALSE, ended_at=$2, duration_ms=$3
		WHERE id=$1 AND is_active AND sample_count=$4
	`, session.ID, session.EndTime, session.Duration.Milliseconds(), session.SampleCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) History(ctx context.Context, userID string, limit int) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, started_at, ended_at, distance_km, duration_ms, average_pace, calories, is_active, sample_count
		FROM run_sessions
		WHERE user_id=$1 AND NOT is_active
		ORDER BY COALESCE(ended_at, started_at) DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) Positions(ctx context.Context, id string) ([]GeoSample, error) {
	rows, err := s.db.Query(ctx, `
		SELECT latitude, longitude, recorded_at, accuracy_m, altitude_m, speed_mps
		FROM run_positions WHERE session_id=$1
		ORDER BY seq
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var track []GeoSample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		track = append(track, sample)
	}
	return track, rows.Err()
}

func scanSession(row rowScanner) (Session, error) {
	var session Session
	var durationMs int64
	if err := row.Scan(&session.ID, &session.UserID, &session.StartTime, &session.EndTime, &session.Distance,
		&durationMs, &session.AveragePace, &session.Calories, &session.Active, &session.SampleCount); err != nil {
		return Session{}, err
	}
	session.StartTime = session.StartTime.UTC()
	if session.EndTime != nil {
		end := session.EndTime.UTC()
		session.EndTime = &end
	}
	session.Duration = time.Duration(durationMs) * time.Millisecond
	return session, nil
}

func scanSample(row rowScanner) (GeoSample, error) {
	var sample GeoSample
	var recordedAt time.Time
	if err := row.Scan(&sample.Latitude, &sample.Longitude, &recordedAt, &sample.Accuracy, &sample.Altitude, &sample.Speed); err != nil {
		return GeoSample{}, err
	}
	sample.Timestamp = recordedAt.UnixMilli()
	return sample, nil
}

// geographic reports whether a sample fits the geography type. Samples
// outside it keep their raw coordinates with a NULL location.
func geographic(sample GeoSample) bool {
	return sample.Latitude >= -90 && sample.Latitude <= 90 &&
		sample.Longitude >= -180 && sample.Longitude <= 180
}
