package pgjournal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type TransitionRecord struct {
	SessionID  string `json:"sessionId"`
	Generation int    `json:"generation"`
	models.Transition
}

type EndRecord struct {
	SessionID  string `json:"sessionId"`
	Generation int    `json:"generation"`
	models.SessionEnd
}

// HandleUpdate journals transitions and session ends. Location updates are
// not journaled.
func (s *Storage) HandleUpdate(ctx context.Context, v tracker.View, u models.Update) error {
	switch {
	case u.Kind == models.UpdateTransition && u.Transition != nil:
		return s.apply(ctx, v, u.Generation, func(tx pgx.Tx) error {
			return insertTransition(ctx, tx, v.SessionID, u.Generation, u.Transition)
		})
	case u.Kind == models.UpdateEnded && u.End != nil:
		return s.apply(ctx, v, u.Generation, func(tx pgx.Tx) error {
			return insertEnd(ctx, tx, v.SessionID, u.Generation, u.End)
		})
	}
	return nil
}

func (s *Storage) apply(ctx context.Context, v tracker.View, gen int, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
INSERT INTO tracking_sessions (session_id, booking_id, kind, generation, status, started_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (session_id) DO UPDATE SET
  generation = EXCLUDED.generation,
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at
`, v.SessionID, v.Booking.ID, string(v.Booking.Kind), gen, v.Booking.Status.String(), now)
	if err != nil {
		return errors.Wrap(err, "upsert session")
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func insertTransition(ctx context.Context, tx pgx.Tx, sessionID string, gen int, t *models.Transition) error {
	var agent []byte
	if t.Agent != nil {
		b, err := json.Marshal(t.Agent)
		if err != nil {
			return errors.Wrap(err, "marshal agent")
		}
		agent = b
	}
	_, err := tx.Exec(ctx, `
INSERT INTO booking_transitions (
  session_id, booking_id, generation, seq, from_status, to_status, source, message, agent, event_time
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (session_id, seq) DO NOTHING
`, sessionID, t.BookingID, gen, t.Seq, t.From.String(), t.To.String(), string(t.Source), t.Message, agent, t.At.UTC())
	if err != nil {
		return errors.Wrap(err, "insert transition")
	}
	return nil
}

func insertEnd(ctx context.Context, tx pgx.Tx, sessionID string, gen int, e *models.SessionEnd) error {
	_, err := tx.Exec(ctx, `
INSERT INTO session_ends (session_id, booking_id, generation, reason, status, message, error, ended_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (session_id, generation) DO NOTHING
`, sessionID, e.BookingID, gen, string(e.Reason), e.Status.String(), e.Message, e.Err, e.At.UTC())
	if err != nil {
		return errors.Wrap(err, "insert session end")
	}
	return nil
}

// ListTransitions returns the journaled transitions of a booking across all of
// its sessions, oldest first.
func (s *Storage) ListTransitions(ctx context.Context, bookingID string, limit, offset int) ([]TransitionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT session_id, generation, seq, booking_id, from_status, to_status, source, message, agent, event_time
FROM booking_transitions
WHERE booking_id = $1
ORDER BY id
LIMIT $2 OFFSET $3
`, bookingID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select transitions")
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var (
			r        TransitionRecord
			from, to string
			source   string
			agent    []byte
		)
		if err := rows.Scan(
			&r.SessionID, &r.Generation, &r.Seq, &r.BookingID,
			&from, &to, &source, &r.Message, &agent, &r.At,
		); err != nil {
			return nil, errors.Wrap(err, "scan transition")
		}
		r.From = models.Status(from)
		r.To = models.Status(to)
		r.Source = models.EventSource(source)
		if len(agent) > 0 {
			var a models.Agent
			if json.Unmarshal(agent, &a) == nil {
				r.Agent = &a
			}
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListEnds(ctx context.Context, bookingID string) ([]EndRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT session_id, generation, booking_id, reason, status, message, error, ended_at
FROM session_ends
WHERE booking_id = $1
ORDER BY id
`, bookingID)
	if err != nil {
		return nil, errors.Wrap(err, "select session ends")
	}
	defer rows.Close()

	var out []EndRecord
	for rows.Next() {
		var (
			r              EndRecord
			reason, status string
		)
		if err := rows.Scan(&r.SessionID, &r.Generation, &r.BookingID, &reason, &status, &r.Message, &r.Err, &r.At); err != nil {
			return nil, errors.Wrap(err, "scan session end")
		}
		r.Reason = models.EndReason(reason)
		r.Status = models.Status(status)
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
