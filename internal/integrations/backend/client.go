package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/pkg/errors"
)

// ErrUnauthorized is returned when the backend rejects the bearer token (HTTP 401).
var ErrUnauthorized = errors.New("backend: unauthorized")

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend http %d", e.StatusCode)
	}
	return fmt.Sprintf("backend http %d: %s", e.StatusCode, e.Message)
}

// StatusResult is one answer of the status endpoint, already mapped onto
// domain types. Status is the raw string, parsing it is left to the caller.
type StatusResult struct {
	Status   string
	Message  string
	At       *time.Time
	Agent    *models.Agent
	OTP      *string
	Fare     models.Fare
	Location *models.Point
	Details  json.RawMessage
}

type CreateRideRequest struct {
	VehicleType   string       `json:"vehicleType" validate:"required"`
	Pickup        models.Place `json:"pickup" validate:"required"`
	Dropoff       models.Place `json:"dropoff" validate:"required"`
	Fare          models.Fare  `json:"fare,omitempty"`
	Currency      string       `json:"currency,omitempty"`
	PaymentMethod string       `json:"paymentMethod,omitempty"`
	DeviceToken   string       `json:"fcmToken,omitempty"`
}

type BookParcelRequest struct {
	VehicleType   string       `json:"vehicleType" validate:"required"`
	Pickup        models.Place `json:"pickup" validate:"required"`
	Dropoff       models.Place `json:"dropoff" validate:"required"`
	WeightKg      float64      `json:"weightKg,omitempty" validate:"gte=0"`
	Description   string       `json:"description,omitempty"`
	ReceiverName  string       `json:"receiverName,omitempty"`
	ReceiverPhone string       `json:"receiverPhone,omitempty"`
	Fare          models.Fare  `json:"fare,omitempty"`
	PaymentMethod string       `json:"paymentMethod,omitempty"`
	DeviceToken   string       `json:"fcmToken,omitempty"`
}

type Created struct {
	ID      string
	OTP     *string
	Status  string
	Message string
}

type StatusClient interface {
	GetStatus(ctx context.Context, kind models.BookingKind, id string) (StatusResult, error)
}

type Client interface {
	StatusClient
	CreateRide(ctx context.Context, req CreateRideRequest) (Created, error)
	BookParcel(ctx context.Context, req BookParcelRequest) (Created, error)
	Cancel(ctx context.Context, kind models.BookingKind, id string) error
}

// TokenSource supplies the bearer token for backend calls. Token storage is
// not this module's concern.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// IsFatal reports whether err must end a tracking session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
