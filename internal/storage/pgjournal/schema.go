package pgjournal

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS tracking_sessions (
  session_id TEXT PRIMARY KEY,
  booking_id TEXT NOT NULL,
  kind TEXT NOT NULL DEFAULT '',
  generation INT NOT NULL,
  status TEXT NOT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_sessions_booking_id ON tracking_sessions(booking_id)`,
		`
CREATE TABLE IF NOT EXISTS booking_transitions (
  id BIGSERIAL PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES tracking_sessions(session_id) ON DELETE CASCADE,
  booking_id TEXT NOT NULL,
  generation INT NOT NULL,
  seq INT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  source TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  agent JSONB NULL,
  event_time TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (session_id, seq)
)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_transitions_booking_id ON booking_transitions(booking_id, seq)`,
		`
CREATE TABLE IF NOT EXISTS session_ends (
  id BIGSERIAL PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES tracking_sessions(session_id) ON DELETE CASCADE,
  booking_id TEXT NOT NULL,
  generation INT NOT NULL,
  reason TEXT NOT NULL,
  status TEXT NOT NULL,
  message TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  ended_at TIMESTAMPTZ NOT NULL,
  UNIQUE (session_id, generation)
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
