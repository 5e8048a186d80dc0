package listener

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/push"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/rs/zerolog"
)

// Socket event names.
const (
	EventParcelConfirmed    = "your_parcel_is_confirm"
	EventParcelAccepted     = "parcel_accepted"
	EventRideAccepted       = "rideAccepted_by_user"
	EventOrderAccepted      = "order_accepted_by_rider"
	EventParcelStatusUpdate = "parcel_status_update"
	EventDriverLocation     = "driver_location_update"
	EventParcelError        = "parcel_error"
	EventRideCancelled      = "ride_cancelled_message"
	EventRideStarted        = "ride_user_start"
	EventRiderLocation      = "rider_location"
	EventRideCompleted      = "your_ride_is_mark_complete"
)

type kind int

const (
	kindFixed kind = iota
	kindFromPayload
	kindLocation
)

// rule maps an event to a status. Unkeyed events may come without a booking
// id: they are addressed to the connected user and every listener takes them.
type rule struct {
	kind    kind
	status  models.Status
	unkeyed bool
}

var events = map[string]rule{
	EventParcelConfirmed:    {kind: kindFixed, status: models.StatusSearching},
	EventParcelAccepted:     {kind: kindFixed, status: models.StatusDriverAssigned},
	EventRideAccepted:       {kind: kindFixed, status: models.StatusDriverAssigned},
	EventOrderAccepted:      {kind: kindFixed, status: models.StatusDriverAssigned},
	EventParcelStatusUpdate: {kind: kindFromPayload},
	EventDriverLocation:     {kind: kindLocation},
	EventParcelError:        {kind: kindFixed, status: models.StatusFailed},
	EventRideCancelled:      {kind: kindFixed, status: models.StatusCancelled},
	EventRideStarted:        {kind: kindFixed, status: models.StatusInTransit},
	EventRiderLocation:      {kind: kindLocation, unkeyed: true},
	EventRideCompleted:      {kind: kindFixed, status: models.StatusCompleted},
}

// Events returns the names the listener subscribes to.
func Events() []string {
	out := make([]string, 0, len(events))
	for name := range events {
		out = append(out, name)
	}
	return out
}

type Sink func(models.StatusEvent)

// Listener turns push events about one booking into StatusEvents.
type Listener struct {
	conn      push.Conn
	bookingID string
	sink      Sink
	onResync  func()
	log       zerolog.Logger
	now       func() time.Time

	mu           sync.Mutex
	active       bool
	offs         []func()
	offReconnect func()

	received atomicCounter
	ignored  atomicCounter
}

type Option func(*Listener)

// WithResync sets the hook called after the shared connection reconnected.
func WithResync(fn func()) Option {
	return func(l *Listener) { l.onResync = fn }
}

func WithLogger(lg zerolog.Logger) Option {
	return func(l *Listener) { l.log = lg }
}

func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

func New(conn push.Conn, bookingID string, sink Sink, opts ...Option) *Listener {
	l := &Listener{
		conn:      conn,
		bookingID: bookingID,
		sink:      sink,
		log:       zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Start registers the event handlers. Calling it on a started listener is a no-op.
func (l *Listener) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active {
		return
	}
	l.active = true
	l.register()
	l.offReconnect = l.conn.OnReconnect(l.reconnected)
}

// Stop unregisters every handler. The connection itself stays open.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active {
		return
	}
	l.active = false
	l.unregister()
	if l.offReconnect != nil {
		l.offReconnect()
		l.offReconnect = nil
	}
}

func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

type Stats struct {
	Received int64 `json:"received"`
	Ignored  int64 `json:"ignored"`
}

func (l *Listener) Stats() Stats {
	return Stats{Received: l.received.load(), Ignored: l.ignored.load()}
}

func (l *Listener) register() {
	for name, r := range events {
		l.offs = append(l.offs, l.conn.On(name, func(raw json.RawMessage) { l.handle(name, r, raw) }))
	}
}

func (l *Listener) unregister() {
	for _, off := range l.offs {
		off()
	}
	l.offs = nil
}

func (l *Listener) reconnected() {
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return
	}
	l.unregister()
	l.register()
	l.mu.Unlock()

	l.log.Info().Msg("push connection restored, resyncing")
	if l.onResync != nil {
		l.onResync()
	}
}

func (l *Listener) handle(name string, r rule, raw json.RawMessage) {
	p := parsePayload(raw)
	if id := p.bookingID(); id != l.bookingID && !(r.unkeyed && id == "" && p != nil) {
		l.ignored.add()
		return
	}
	l.received.add()

	ev := models.StatusEvent{
		Source:    models.SourcePush,
		BookingID: l.bookingID,
		At:        l.now(),
		Message:   p.message(),
		Agent:     p.agent(),
		OTP:       p.otp(),
		Details:   raw,
	}
	if at, ok := p.timestamp(); ok {
		ev.At = at
	}

	switch r.kind {
	case kindFixed:
		ev.Status = r.status
	case kindFromPayload:
		st, err := models.ParseStatus(p.status())
		if err != nil {
			l.log.Warn().Err(err).Str("event", name).Msg("unknown status in push event")
			return
		}
		ev.Status = st
	case kindLocation:
		ev.Location = p.location()
		ev.Details = nil
		ev.Message = ""
		if ev.Location == nil {
			l.log.Warn().Str("event", name).Msg("location event without coordinates")
			return
		}
	}
	if ev.Location == nil && r.kind != kindLocation {
		ev.Location = p.location()
	}

	l.log.Debug().Str("event", name).Str("status", ev.Status.String()).Msg("push event")
	if l.sink != nil {
		l.sink(ev)
	}
}
