package bookings

import (
	"context"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/integrations/directions"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/BearBump/RideTrack/internal/storage/pgjournal"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrForbidden   = errors.New("bookings: booking belongs to another user")
	ErrNoLocation  = errors.New("bookings: agent location is not known yet")
	ErrUnavailable = errors.New("bookings: feature is not configured")
	ErrNotFound    = errors.New("bookings: booking not found")
	ErrInvalid     = errors.New("bookings: invalid input")
	ErrFinished    = errors.New("bookings: booking is already finished")
)

// Tracker hosts the tracking sessions.
type Tracker interface {
	Track(b models.Booking) (*tracker.Session, error)
	Get(bookingID string) (*tracker.Session, error)
	Stop(bookingID string) error
	Retry(ctx context.Context, bookingID string) error
}

// SnapshotStore serves the last known view of bookings that are no longer
// hosted by this process.
type SnapshotStore interface {
	Load(ctx context.Context, bookingID string) (tracker.View, bool, error)
}

type Journal interface {
	ListTransitions(ctx context.Context, bookingID string, limit, offset int) ([]pgjournal.TransitionRecord, error)
}

type Estimator interface {
	ETA(ctx context.Context, b models.Booking, from models.Point) (directions.Estimate, error)
}

type Service struct {
	tracker   Tracker
	backend   backend.Client
	snapshots SnapshotStore
	journal   Journal
	eta       Estimator
	log       zerolog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithSnapshots(s SnapshotStore) Option { return func(svc *Service) { svc.snapshots = s } }

func WithJournal(j Journal) Option { return func(svc *Service) { svc.journal = j } }

func WithEstimator(e Estimator) Option { return func(svc *Service) { svc.eta = e } }

func WithLogger(lg zerolog.Logger) Option { return func(svc *Service) { svc.log = lg } }

func New(t Tracker, be backend.Client, opts ...Option) *Service {
	s := &Service{
		tracker: t,
		backend: be,
		log:     zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type CreateInput struct {
	Kind          models.BookingKind
	UserID        string
	VehicleType   string
	Pickup        models.Place
	Dropoff       models.Place
	Fare          models.Fare
	Currency      string
	PaymentMethod string
	DeviceToken   string

	// parcel only
	WeightKg      float64
	Description   string
	ReceiverName  string
	ReceiverPhone string
}

// CreateAndTrack books a ride or a parcel delivery on the backend and starts
// tracking it right away.
func (s *Service) CreateAndTrack(ctx context.Context, in CreateInput) (tracker.View, error) {
	if in.VehicleType == "" {
		return tracker.View{}, errors.Wrap(ErrInvalid, "vehicleType is required")
	}

	var (
		created backend.Created
		err     error
	)
	switch in.Kind {
	case models.BookingKindRide:
		created, err = s.backend.CreateRide(ctx, backend.CreateRideRequest{
			VehicleType:   in.VehicleType,
			Pickup:        in.Pickup,
			Dropoff:       in.Dropoff,
			Fare:          in.Fare,
			Currency:      in.Currency,
			PaymentMethod: in.PaymentMethod,
			DeviceToken:   in.DeviceToken,
		})
	case models.BookingKindParcel:
		created, err = s.backend.BookParcel(ctx, backend.BookParcelRequest{
			VehicleType:   in.VehicleType,
			Pickup:        in.Pickup,
			Dropoff:       in.Dropoff,
			WeightKg:      in.WeightKg,
			Description:   in.Description,
			ReceiverName:  in.ReceiverName,
			ReceiverPhone: in.ReceiverPhone,
			Fare:          in.Fare,
			PaymentMethod: in.PaymentMethod,
			DeviceToken:   in.DeviceToken,
		})
	default:
		return tracker.View{}, errors.Wrapf(ErrInvalid, "unknown booking kind %q", in.Kind)
	}
	if err != nil {
		return tracker.View{}, errors.Wrap(err, "create booking")
	}
	if created.ID == "" {
		return tracker.View{}, errors.New("backend returned empty booking id")
	}

	status, err := models.ParseStatus(created.Status)
	if err != nil {
		// Бэкенд только что создал заказ, считаем что идёт поиск.
		status = models.StatusSearching
	}
	b := models.Booking{
		ID:          created.ID,
		Kind:        in.Kind,
		Status:      status,
		CreatedAt:   s.now(),
		UserID:      in.UserID,
		OTP:         created.OTP,
		Fare:        in.Fare,
		Message:     created.Message,
		Pickup:      in.Pickup,
		Dropoff:     in.Dropoff,
		DeviceToken: in.DeviceToken,
	}
	sess, err := s.tracker.Track(b)
	if err != nil {
		return tracker.View{}, errors.Wrap(err, "track booking")
	}
	s.log.Info().Str("booking_id", b.ID).Str("kind", string(b.Kind)).Msg("booking created")
	return sess.View(), nil
}

type TrackInput struct {
	BookingID   string
	Kind        models.BookingKind
	UserID      string
	Status      string
	Pickup      models.Place
	Dropoff     models.Place
	DeviceToken string
}

// Track starts tracking a booking that already exists on the backend. A
// booking that is already tracked for the same user is returned as is.
func (s *Service) Track(ctx context.Context, in TrackInput) (tracker.View, error) {
	if in.BookingID == "" {
		return tracker.View{}, errors.Wrap(ErrInvalid, "bookingId is required")
	}
	if in.Kind == "" {
		in.Kind = models.BookingKindRide
	}
	if in.Kind != models.BookingKindRide && in.Kind != models.BookingKindParcel {
		return tracker.View{}, errors.Wrapf(ErrInvalid, "unknown booking kind %q", in.Kind)
	}
	status := models.StatusPending
	if in.Status != "" {
		st, err := models.ParseStatus(in.Status)
		if err != nil {
			return tracker.View{}, err
		}
		status = st
	}

	sess, err := s.tracker.Track(models.Booking{
		ID:          in.BookingID,
		Kind:        in.Kind,
		Status:      status,
		CreatedAt:   s.now(),
		UserID:      in.UserID,
		Pickup:      in.Pickup,
		Dropoff:     in.Dropoff,
		DeviceToken: in.DeviceToken,
	})
	if errors.Is(err, tracker.ErrAlreadyTracked) {
		v := sess.View()
		if !owns(v, in.UserID) {
			return tracker.View{}, ErrForbidden
		}
		return v, nil
	}
	if err != nil {
		return tracker.View{}, errors.Wrap(err, "track booking")
	}
	return sess.View(), nil
}

// Get returns the live view of a hosted booking, falling back to the last
// stored snapshot.
func (s *Service) Get(ctx context.Context, userID, bookingID string) (tracker.View, error) {
	if sess, err := s.tracker.Get(bookingID); err == nil {
		v := sess.View()
		if !owns(v, userID) {
			return tracker.View{}, ErrForbidden
		}
		return v, nil
	}
	if s.snapshots == nil {
		return tracker.View{}, ErrNotFound
	}
	v, ok, err := s.snapshots.Load(ctx, bookingID)
	if err != nil {
		s.log.Warn().Err(err).Str("booking_id", bookingID).Msg("load snapshot")
		return tracker.View{}, ErrNotFound
	}
	if !ok {
		return tracker.View{}, ErrNotFound
	}
	if !owns(v, userID) {
		return tracker.View{}, ErrForbidden
	}
	return v, nil
}

func (s *Service) session(userID, bookingID string) (*tracker.Session, error) {
	sess, err := s.tracker.Get(bookingID)
	if err != nil {
		if errors.Is(err, tracker.ErrSessionNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !owns(sess.View(), userID) {
		return nil, ErrForbidden
	}
	return sess, nil
}

func (s *Service) Stop(ctx context.Context, userID, bookingID string) error {
	if _, err := s.session(userID, bookingID); err != nil {
		return err
	}
	return s.tracker.Stop(bookingID)
}

func (s *Service) Retry(ctx context.Context, userID, bookingID string) (tracker.View, error) {
	sess, err := s.session(userID, bookingID)
	if err != nil {
		return tracker.View{}, err
	}
	if err := s.tracker.Retry(ctx, bookingID); err != nil {
		return tracker.View{}, err
	}
	return sess.View(), nil
}

// Cancel asks the backend to cancel the booking. The cancelled status then
// arrives through the regular poll/push path.
func (s *Service) Cancel(ctx context.Context, userID, bookingID string) error {
	sess, err := s.session(userID, bookingID)
	if err != nil {
		return err
	}
	v := sess.View()
	if v.Booking.Status.IsTerminal() {
		return errors.Wrapf(ErrFinished, "status %s", v.Booking.Status)
	}
	if err := s.backend.Cancel(ctx, v.Booking.Kind, bookingID); err != nil {
		return errors.Wrap(err, "cancel booking")
	}
	s.log.Info().Str("booking_id", bookingID).Msg("cancel requested")
	return nil
}

func (s *Service) History(ctx context.Context, userID, bookingID string, limit, offset int) ([]pgjournal.TransitionRecord, error) {
	if s.journal == nil {
		return nil, ErrUnavailable
	}
	if _, err := s.Get(ctx, userID, bookingID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.journal.ListTransitions(ctx, bookingID, limit, offset)
}

func (s *Service) ETA(ctx context.Context, userID, bookingID string) (directions.Estimate, error) {
	if s.eta == nil {
		return directions.Estimate{}, ErrUnavailable
	}
	sess, err := s.session(userID, bookingID)
	if err != nil {
		return directions.Estimate{}, err
	}
	v := sess.View()
	if v.Location == nil {
		return directions.Estimate{}, ErrNoLocation
	}
	return s.eta.ETA(ctx, v.Booking, v.Location.Point)
}

// Subscribe returns the current view together with a feed of later updates.
func (s *Service) Subscribe(ctx context.Context, userID, bookingID string) (tracker.View, <-chan models.Update, func(), error) {
	sess, err := s.session(userID, bookingID)
	if err != nil {
		return tracker.View{}, nil, nil, err
	}
	ch, cancel := sess.Subscribe()
	return sess.View(), ch, cancel, nil
}

// owns treats bookings without a user as public.
func owns(v tracker.View, userID string) bool {
	return v.Booking.UserID == "" || v.Booking.UserID == userID
}
