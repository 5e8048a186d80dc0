package messages

import (
	"encoding/json"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/pkg/errors"
)

var ErrNoEvent = errors.New("envelope has no event name")

// Envelope is a socket event mirrored onto a broker: the event name as the
// socket server emits it and its raw payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Agent struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Vehicle string `json:"vehicle,omitempty"`
}

type BookingTransition struct {
	SessionID  string    `json:"session_id"`
	BookingID  string    `json:"booking_id"`
	Kind       string    `json:"kind,omitempty"`
	Generation int       `json:"generation"`
	Seq        int       `json:"seq"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Source     string    `json:"source"`
	At         time.Time `json:"at"`

	Message *string `json:"message,omitempty"`
	OTP     *string `json:"otp,omitempty"`
	Agent   *Agent  `json:"agent,omitempty"`
}

type AgentLocation struct {
	SessionID string    `json:"session_id"`
	BookingID string    `json:"booking_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	At        time.Time `json:"at"`
}

type SessionEnded struct {
	SessionID  string    `json:"session_id"`
	BookingID  string    `json:"booking_id"`
	Generation int       `json:"generation"`
	Reason     string    `json:"reason"`
	Status     string    `json:"status"`
	Retryable  bool      `json:"retryable"`
	At         time.Time `json:"at"`

	Message *string `json:"message,omitempty"`
	Error   *string `json:"error,omitempty"`
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, errors.Wrap(err, "decode envelope")
	}
	if env.Event == "" {
		return Envelope{}, ErrNoEvent
	}
	return env, nil
}

func NewBookingTransition(sessionID string, kind models.BookingKind, gen int, t *models.Transition) BookingTransition {
	m := BookingTransition{
		SessionID:  sessionID,
		BookingID:  t.BookingID,
		Kind:       string(kind),
		Generation: gen,
		Seq:        t.Seq,
		From:       t.From.String(),
		To:         t.To.String(),
		Source:     string(t.Source),
		At:         t.At,
		OTP:        t.OTP,
	}
	if t.Message != "" {
		msg := t.Message
		m.Message = &msg
	}
	if t.Agent != nil {
		m.Agent = &Agent{ID: t.Agent.ID, Name: t.Agent.Name, Phone: t.Agent.Phone, Vehicle: t.Agent.Vehicle}
	}
	return m
}

func NewAgentLocation(sessionID string, l *models.AgentLocation) AgentLocation {
	return AgentLocation{
		SessionID: sessionID,
		BookingID: l.BookingID,
		Lat:       l.Point.Lat,
		Lng:       l.Point.Lng,
		At:        l.At,
	}
}

func NewSessionEnded(sessionID string, gen int, e *models.SessionEnd) SessionEnded {
	m := SessionEnded{
		SessionID:  sessionID,
		BookingID:  e.BookingID,
		Generation: gen,
		Reason:     string(e.Reason),
		Status:     e.Status.String(),
		Retryable:  e.Reason.Retryable(),
		At:         e.At,
	}
	if e.Message != "" {
		msg := e.Message
		m.Message = &msg
	}
	if e.Err != "" {
		s := e.Err
		m.Error = &s
	}
	return m
}
