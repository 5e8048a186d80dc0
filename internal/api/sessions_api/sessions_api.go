package sessions_api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/integrations/directions"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/bookings"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/BearBump/RideTrack/internal/storage/pgjournal"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Service is the application layer behind the HTTP API.
type Service interface {
	CreateAndTrack(ctx context.Context, in bookings.CreateInput) (tracker.View, error)
	Track(ctx context.Context, in bookings.TrackInput) (tracker.View, error)
	Get(ctx context.Context, userID, bookingID string) (tracker.View, error)
	Stop(ctx context.Context, userID, bookingID string) error
	Retry(ctx context.Context, userID, bookingID string) (tracker.View, error)
	Cancel(ctx context.Context, userID, bookingID string) error
	History(ctx context.Context, userID, bookingID string, limit, offset int) ([]pgjournal.TransitionRecord, error)
	ETA(ctx context.Context, userID, bookingID string) (directions.Estimate, error)
	Subscribe(ctx context.Context, userID, bookingID string) (tracker.View, <-chan models.Update, func(), error)
}

type SessionsAPI struct {
	svc      Service
	validate *requestValidator
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

type Option func(*SessionsAPI)

func WithLogger(lg zerolog.Logger) Option { return func(a *SessionsAPI) { a.log = lg } }

func New(svc Service, opts ...Option) *SessionsAPI {
	a := &SessionsAPI{
		svc:      svc,
		validate: newValidator(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// UI живёт на другом origin, токен проверяется в Auth.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: zerolog.Nop(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Routes returns the /v1 router guarded by Auth.
func (a *SessionsAPI) Routes(jwtSecret string) chi.Router {
	r := chi.NewRouter()
	r.Use(Auth(jwtSecret))

	r.Post("/bookings", a.createBooking)
	r.Post("/sessions", a.trackBooking)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Get("/", a.getSession)
		r.Delete("/", a.stopSession)
		r.Post("/retry", a.retrySession)
		r.Post("/cancel", a.cancelBooking)
		r.Get("/eta", a.eta)
		r.Get("/history", a.history)
		r.Get("/stream", a.stream)
	})
	return r
}

type placeRequest struct {
	Address string  `json:"address"`
	Lat     float64 `json:"lat" validate:"latitude"`
	Lng     float64 `json:"lng" validate:"longitude"`
}

func (p placeRequest) place() models.Place {
	return models.Place{Address: p.Address, Point: models.Point{Lat: p.Lat, Lng: p.Lng}}
}

type createBookingRequest struct {
	Kind          string             `json:"kind" validate:"required,oneof=ride parcel"`
	VehicleType   string             `json:"vehicleType" validate:"required"`
	Pickup        placeRequest       `json:"pickup"`
	Dropoff       placeRequest       `json:"dropoff"`
	Fare          map[string]float64 `json:"fare,omitempty"`
	Currency      string             `json:"currency,omitempty"`
	PaymentMethod string             `json:"paymentMethod,omitempty"`
	DeviceToken   string             `json:"fcmToken,omitempty"`
	WeightKg      float64            `json:"weightKg,omitempty" validate:"gte=0"`
	Description   string             `json:"description,omitempty"`
	ReceiverName  string             `json:"receiverName,omitempty"`
	ReceiverPhone string             `json:"receiverPhone,omitempty"`
}

type trackRequest struct {
	BookingID   string       `json:"bookingId" validate:"required"`
	Kind        string       `json:"kind,omitempty" validate:"omitempty,oneof=ride parcel"`
	Status      string       `json:"status,omitempty"`
	Pickup      placeRequest `json:"pickup"`
	Dropoff     placeRequest `json:"dropoff"`
	DeviceToken string       `json:"fcmToken,omitempty"`
}

type historyResponse struct {
	BookingID   string                       `json:"bookingId"`
	Transitions []pgjournal.TransitionRecord `json:"transitions"`
}

func (a *SessionsAPI) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if !a.decode(w, r, &req) {
		return
	}
	v, err := a.svc.CreateAndTrack(r.Context(), bookings.CreateInput{
		Kind:          models.BookingKind(req.Kind),
		UserID:        UserID(r.Context()),
		VehicleType:   req.VehicleType,
		Pickup:        req.Pickup.place(),
		Dropoff:       req.Dropoff.place(),
		Fare:          req.Fare,
		Currency:      req.Currency,
		PaymentMethod: req.PaymentMethod,
		DeviceToken:   req.DeviceToken,
		WeightKg:      req.WeightKg,
		Description:   req.Description,
		ReceiverName:  req.ReceiverName,
		ReceiverPhone: req.ReceiverPhone,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (a *SessionsAPI) trackBooking(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if !a.decode(w, r, &req) {
		return
	}
	v, err := a.svc.Track(r.Context(), bookings.TrackInput{
		BookingID:   req.BookingID,
		Kind:        models.BookingKind(req.Kind),
		UserID:      UserID(r.Context()),
		Status:      req.Status,
		Pickup:      req.Pickup.place(),
		Dropoff:     req.Dropoff.place(),
		DeviceToken: req.DeviceToken,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *SessionsAPI) getSession(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Get(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *SessionsAPI) stopSession(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Stop(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *SessionsAPI) retrySession(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.Retry(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *SessionsAPI) cancelBooking(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Cancel(r.Context(), UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"cancelRequested": true})
}

func (a *SessionsAPI) eta(w http.ResponseWriter, r *http.Request) {
	est, err := a.svc.ETA(r.Context(), UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (a *SessionsAPI) history(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	id := chi.URLParam(r, "id")
	recs, err := a.svc.History(r.Context(), UserID(r.Context()), id, limit, offset)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []pgjournal.TransitionRecord{}
	}
	writeJSON(w, http.StatusOK, historyResponse{BookingID: id, Transitions: recs})
}

func (a *SessionsAPI) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := a.validate.Validate(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (a *SessionsAPI) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, code, err.Error())
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, bookings.ErrNotFound), errors.Is(err, directions.ErrNoRoute):
		return http.StatusNotFound
	case errors.Is(err, bookings.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tracker.ErrNotRetryable), errors.Is(err, tracker.ErrStillRunning),
		errors.Is(err, tracker.ErrStopped), errors.Is(err, bookings.ErrNoLocation),
		errors.Is(err, directions.ErrNoDestination), errors.Is(err, bookings.ErrFinished):
		return http.StatusConflict
	case errors.Is(err, bookings.ErrUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, models.ErrUnknownStatus), errors.Is(err, bookings.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrUnauthorized):
		return http.StatusBadGateway
	}
	var he *backend.HTTPError
	if errors.As(err, &he) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
