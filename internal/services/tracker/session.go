package tracker

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/integrations/push"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/lifecycle"
	"github.com/BearBump/RideTrack/internal/services/poller"
	"github.com/BearBump/RideTrack/internal/services/supervisor"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var (
	ErrNotRetryable    = errors.New("tracker: session is not retryable")
	ErrSessionNotFound = errors.New("tracker: session not found")
	ErrAlreadyTracked  = errors.New("tracker: booking is already tracked")
	ErrStillRunning    = errors.New("tracker: session is still running")
	ErrStopped         = errors.New("tracker: session is stopped")
	ErrAlreadyStarted  = errors.New("tracker: session already started")
)

type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// Observer receives coordination events that never reach subscribers.
type Observer interface {
	EventReceived(source models.EventSource)
	EventDiscarded(source models.EventSource, reason string)
	PollFailed(err error)
}

type Deps struct {
	Backend     backend.StatusClient
	Conn        push.Conn
	Notifier    Notifier
	RateLimiter poller.RateLimiter
	Observer    Observer
	Logger      zerolog.Logger
	// OnUpdate is called from the session goroutine for every update.
	OnUpdate func(sessionID string, u models.Update)
}

type Settings struct {
	PollInterval       time.Duration
	AssignmentTimeout  time.Duration
	Retry              supervisor.RetryConfig
	RateLimitPerMinute int64
	SubscriberBuffer   int
	NotifyTimeout      time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		PollInterval:      poller.DefaultInterval,
		AssignmentTimeout: supervisor.DefaultAssignmentTimeout,
		Retry:             supervisor.DefaultRetryConfig(),
		SubscriberBuffer:  64,
		NotifyTimeout:     10 * time.Second,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.PollInterval <= 0 {
		s.PollInterval = def.PollInterval
	}
	if s.AssignmentTimeout <= 0 {
		s.AssignmentTimeout = def.AssignmentTimeout
	}
	if s.SubscriberBuffer <= 0 {
		s.SubscriberBuffer = def.SubscriberBuffer
	}
	if s.NotifyTimeout <= 0 {
		s.NotifyTimeout = def.NotifyTimeout
	}
	return s
}

// View is a consistent read-only snapshot of a session.
type View struct {
	SessionID  string                `json:"sessionId"`
	Booking    models.Booking        `json:"booking"`
	Location   *models.AgentLocation `json:"location,omitempty"`
	Tracking   bool                  `json:"trackingLocation"`
	Details    json.RawMessage       `json:"details,omitempty"`
	Generation int                   `json:"generation"`
	Running    bool                  `json:"running"`
	End        *models.SessionEnd    `json:"end,omitempty"`
	UpdatedAt  time.Time             `json:"updatedAt"`
}

// Session coordinates the tracking of one booking: a poller and a push
// listener feed one channel, and a single goroutine owns the state machine.
type Session struct {
	id        string
	bookingID string
	kind      models.BookingKind
	deps      Deps
	settings  Settings
	log       zerolog.Logger
	sup       *supervisor.Supervisor
	expired   <-chan int
	machine   *lifecycle.Machine

	view atomic.Pointer[View]

	mu      sync.Mutex
	parent  context.Context
	cur     *cycle
	gen     int
	stopped bool

	subsMu  sync.Mutex
	subs    map[int]chan models.Update
	nextSub int
	closed  bool

	notifyWG sync.WaitGroup
}

func NewSession(b models.Booking, deps Deps, settings Settings) *Session {
	settings = settings.withDefaults()
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	s := &Session{
		id:        uuid.NewString(),
		bookingID: b.ID,
		kind:      b.Kind,
		deps:      deps,
		settings:  settings,
		sup:       supervisor.New(settings.AssignmentTimeout),
		machine:   lifecycle.New(b),
		subs:      make(map[int]chan models.Update),
	}
	s.expired = s.sup.Expired()
	s.log = deps.Logger.With().Str("booking_id", b.ID).Str("session_id", s.id).Logger()
	s.publishView(0, false, false)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) BookingID() string { return s.bookingID }

func (s *Session) View() View { return *s.view.Load() }

func (s *Session) Status() models.Status { return s.view.Load().Booking.Status }

func (s *Session) Booking() models.Booking { return s.view.Load().Booking.Clone() }

func (s *Session) Location() *models.AgentLocation {
	l := s.view.Load().Location
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// End returns the reason the current cycle ended, or nil while it runs.
func (s *Session) End() *models.SessionEnd {
	e := s.view.Load().End
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// Done is closed when the current cycle ends. After Retry a new channel is returned.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.cur.done
}

// PollerStats returns the counters of the current cycle's poller.
func (s *Session) PollerStats() poller.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return poller.Stats{}
	}
	return s.cur.poller.Stats()
}

// Start begins the first tracking cycle. ctx bounds the whole session,
// including cycles started later by Retry.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.cur != nil {
		return ErrAlreadyStarted
	}
	s.parent = ctx
	s.publishView(s.gen+1, true, false)
	s.startCycle()
	return nil
}

// Retry restarts tracking after a retryable end: a fresh poll/listen cycle
// and a new assignment window.
func (s *Session) Retry(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.cur == nil {
		return ErrNotRetryable
	}
	select {
	case <-s.cur.done:
	default:
		return ErrStillRunning
	}
	<-s.cur.exited
	end := s.view.Load().End
	if end == nil || !end.Reason.Retryable() {
		return ErrNotRetryable
	}
	if s.parent.Err() != nil {
		return errors.Wrap(s.parent.Err(), "session context")
	}

	step := s.machine.Reset()
	gen := s.gen + 1
	s.log.Info().Str("previous_end", string(end.Reason)).Int("generation", gen).Msg("retrying booking tracking")
	s.publishView(gen, true, false)
	s.broadcast(models.Update{Kind: models.UpdateTransition, Generation: gen, Transition: step.Transition})
	s.startCycle()
	return nil
}

// Stop tears the session down for good. It is safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	c := s.cur
	s.mu.Unlock()

	if c != nil {
		c.requestStop()
		<-c.exited
	}
	s.notifyWG.Wait()
	s.closeSubscribers()
}

// Subscribe returns a channel of updates. Slow subscribers lose updates
// rather than stall the session.
func (s *Session) Subscribe() (<-chan models.Update, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	ch := make(chan models.Update, s.settings.SubscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// startCycle must be called with s.mu held.
func (s *Session) startCycle() {
	s.gen++
	c := newCycle(s, s.gen)
	s.cur = c
	c.start(s.parent)
}

func (s *Session) broadcast(u models.Update) {
	if s.deps.OnUpdate != nil {
		s.deps.OnUpdate(s.id, u)
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.log.Warn().Int("subscriber", id).Str("kind", string(u.Kind)).Msg("subscriber is slow, update dropped")
		}
	}
}

func (s *Session) closeSubscribers() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *Session) notify(n *models.Notification) {
	if n == nil || s.deps.Notifier == nil {
		return
	}
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.settings.NotifyTimeout)
		defer cancel()
		if err := s.deps.Notifier.Notify(ctx, *n); err != nil {
			s.log.Error().Err(err).Str("status", n.Status.String()).Msg("send notification")
		}
	}()
}

// publishView stores a fresh snapshot. Only the goroutine owning the machine
// may call it.
func (s *Session) publishView(gen int, running, tracking bool) {
	s.view.Store(&View{
		SessionID:  s.id,
		Booking:    s.machine.Booking(),
		Location:   s.machine.Location(),
		Tracking:   tracking,
		Details:    s.machine.Details(),
		Generation: gen,
		Running:    running,
		UpdatedAt:  time.Now().UTC(),
	})
}

func (s *Session) setEnd(end *models.SessionEnd) {
	v := *s.view.Load()
	v.End = end
	v.Running = false
	v.Tracking = false
	v.UpdatedAt = time.Now().UTC()
	s.view.Store(&v)
}

type nopObserver struct{}

func (nopObserver) EventReceived(models.EventSource)          {}
func (nopObserver) EventDiscarded(models.EventSource, string) {}
func (nopObserver) PollFailed(error)                          {}
