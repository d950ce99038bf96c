package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/xtxerr/somnia/internal/errors"
	"github.com/xtxerr/somnia/internal/model"
)

// PutSession upserts one sleep session by its provider-assigned ID. The
// external sync process replays sessions freely; identical content is a
// no-op in effect and updated content overwrites the row.
func (s *Store) PutSession(ctx context.Context, sess *model.SleepSession) error {
	const query = `
		INSERT INTO sessions (
			session_id, start_min, end_min,
			deep_min, rem_min, light_min, awake_min,
			efficiency, score, updated_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			start_min  = excluded.start_min,
			end_min    = excluded.end_min,
			deep_min   = excluded.deep_min,
			rem_min    = excluded.rem_min,
			light_min  = excluded.light_min,
			awake_min  = excluded.awake_min,
			efficiency = excluded.efficiency,
			score      = excluded.score,
			updated_ms = excluded.updated_ms
	`

	_, err := s.db.ExecContext(ctx, query,
		sess.SessionID, sess.StartMin, sess.EndMin,
		sess.DeepMin, sess.RemMin, sess.LightMin, sess.AwakeMin,
		sess.Efficiency, sess.Score,
		time.Now().UnixMilli(),
	)
	if err != nil {
		s.stats.Errors.Add(1)
		return errors.Wrapf(errors.ErrStoreUnavailable, "put session %s: %v", sess.SessionID, err)
	}
	return nil
}

// GetSession returns one session by ID, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*model.SleepSession, error) {
	const query = `
		SELECT session_id, start_min, end_min,
		       deep_min, rem_min, light_min, awake_min,
		       efficiency, score
		FROM sessions
		WHERE session_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, sessionID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "get session: %v", err)
	}
	return sess, nil
}

// SessionsOverlapping returns every session intersecting [fromMin, toMin),
// ordered by start time. A session straddling either boundary is included.
func (s *Store) SessionsOverlapping(ctx context.Context, fromMin, toMin int64) ([]model.SleepSession, error) {
	if toMin <= fromMin {
		return nil, errors.ErrInvalidWindow
	}

	const query = `
		SELECT session_id, start_min, end_min,
		       deep_min, rem_min, light_min, awake_min,
		       efficiency, score
		FROM sessions
		WHERE start_min < ? AND end_min > ?
		ORDER BY start_min
	`

	rows, err := s.db.QueryContext(ctx, query, toMin, fromMin)
	if err != nil {
		s.stats.Errors.Add(1)
		return nil, errors.Wrapf(errors.ErrStoreUnavailable, "query sessions: %v", err)
	}
	defer rows.Close()

	var out []model.SleepSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			s.stats.Errors.Add(1)
			return nil, errors.Wrapf(errors.ErrStoreUnavailable, "scan session: %v", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func scanSession(row scanner) (*model.SleepSession, error) {
	var sess model.SleepSession
	err := row.Scan(
		&sess.SessionID, &sess.StartMin, &sess.EndMin,
		&sess.DeepMin, &sess.RemMin, &sess.LightMin, &sess.AwakeMin,
		&sess.Efficiency, &sess.Score,
	)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
