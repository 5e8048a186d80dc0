package models

import (
	"encoding/json"
	"time"
)

type BookingKind string

const (
	BookingKindRide   BookingKind = "ride"
	BookingKindParcel BookingKind = "parcel"
)

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Place struct {
	Address string `json:"address,omitempty"`
	Point   Point  `json:"point"`
}

// Agent is the driver or parcel rider assigned to a booking.
type Agent struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Vehicle string `json:"vehicle,omitempty"`
}

// Fare holds the numeric fare components as sent by the backend
// (base_fare, distance_fare, total_fare, ...).
type Fare map[string]float64

type Booking struct {
	ID        string      `json:"id"`
	Kind      BookingKind `json:"kind"`
	Status    Status      `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UserID    string      `json:"userId,omitempty"`

	Agent   *Agent  `json:"agent,omitempty"`
	OTP     *string `json:"otp,omitempty"`
	Fare    Fare    `json:"fare,omitempty"`
	Message string  `json:"message,omitempty"`

	Pickup  Place `json:"pickup"`
	Dropoff Place `json:"dropoff"`

	// DeviceToken is used only to address push notifications.
	DeviceToken string `json:"-"`
}

// Clone returns a copy that shares no mutable state with b.
func (b Booking) Clone() Booking {
	out := b
	if b.Agent != nil {
		a := *b.Agent
		out.Agent = &a
	}
	if b.OTP != nil {
		o := *b.OTP
		out.OTP = &o
	}
	if b.Fare != nil {
		out.Fare = make(Fare, len(b.Fare))
		for k, v := range b.Fare {
			out.Fare[k] = v
		}
	}
	return out
}

type EventSource string

const (
	SourcePoll  EventSource = "poll"
	SourcePush  EventSource = "push"
	SourceLocal EventSource = "local"
)

// StatusEvent is a raw observation from the poller or the listener.
// Status is empty for payload-only events (location updates).
type StatusEvent struct {
	Source    EventSource
	BookingID string
	Status    Status
	At        time.Time

	Agent    *Agent
	Location *Point
	OTP      *string
	Fare     Fare
	Message  string
	Details  json.RawMessage
}

type AgentLocation struct {
	BookingID string    `json:"bookingId"`
	Point     Point     `json:"point"`
	At        time.Time `json:"at"`
}

type Transition struct {
	Seq       int         `json:"seq"`
	BookingID string      `json:"bookingId"`
	From      Status      `json:"from"`
	To        Status      `json:"to"`
	At        time.Time   `json:"at"`
	Source    EventSource `json:"source"`
	Message   string      `json:"message,omitempty"`
	Agent     *Agent      `json:"agent,omitempty"`
	OTP       *string     `json:"otp,omitempty"`
}

type EndReason string

const (
	EndCompleted       EndReason = "completed"
	EndDelivered       EndReason = "delivered"
	EndCancelled       EndReason = "cancelled"
	EndServerError     EndReason = "server_error"
	EndNotFoundTimeout EndReason = "not_found_timeout"
	EndAuthFailed      EndReason = "auth_failed"
	EndStopped         EndReason = "stopped"
)

// Retryable reports whether a user-initiated retry may restart tracking.
func (r EndReason) Retryable() bool {
	switch r {
	case EndNotFoundTimeout, EndServerError, EndAuthFailed:
		return true
	default:
		return false
	}
}

// EndReasonFor maps a terminal status onto its end reason.
func EndReasonFor(s Status) EndReason {
	switch s {
	case StatusCompleted:
		return EndCompleted
	case StatusDelivered:
		return EndDelivered
	case StatusCancelled:
		return EndCancelled
	case StatusFailed:
		return EndServerError
	case StatusNotFoundTimeout:
		return EndNotFoundTimeout
	default:
		return EndStopped
	}
}

type SessionEnd struct {
	BookingID string    `json:"bookingId"`
	Reason    EndReason `json:"reason"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Err       string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type UpdateKind string

const (
	UpdateTransition UpdateKind = "transition"
	UpdateLocation   UpdateKind = "location"
	UpdateEnded      UpdateKind = "ended"
)

// Update is what subscribers of a tracking session receive.
type Update struct {
	Kind       UpdateKind     `json:"kind"`
	Generation int            `json:"generation"`
	Transition *Transition    `json:"transition,omitempty"`
	Location   *AgentLocation `json:"location,omitempty"`
	End        *SessionEnd    `json:"end,omitempty"`
}

// Notification is a user-facing message emitted on notable transitions.
type Notification struct {
	BookingID   string `json:"bookingId"`
	DeviceToken string `json:"-"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	Level       string `json:"level"` // success | info | error
	Status      Status `json:"status"`
}
