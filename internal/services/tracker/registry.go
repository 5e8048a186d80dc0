package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Sink consumes every update of every hosted session, in order per session.
type Sink interface {
	HandleUpdate(ctx context.Context, v View, u models.Update) error
}

type SinkFunc func(ctx context.Context, v View, u models.Update) error

func (f SinkFunc) HandleUpdate(ctx context.Context, v View, u models.Update) error { return f(ctx, v, u) }

type queued struct {
	view   View
	update models.Update
}

// Registry hosts the sessions of a daemon, one per booking.
type Registry struct {
	deps     Deps
	settings Settings
	sinks    []Sink
	log      zerolog.Logger

	grace       time.Duration
	sinkTimeout time.Duration
	onActive    func(n int)

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan queued

	mu        sync.RWMutex
	byBooking map[string]*Session
	byID      map[string]*Session
}

type RegistryOption func(*Registry)

// WithPruneAfter sets how long an ended session stays visible.
func WithPruneAfter(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

func WithActiveGauge(fn func(n int)) RegistryOption {
	return func(r *Registry) { r.onActive = fn }
}

func WithQueueSize(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.queue = make(chan queued, n)
		}
	}
}

func NewRegistry(deps Deps, settings Settings, sinks []Sink, opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		deps:        deps,
		settings:    settings,
		sinks:       sinks,
		log:         deps.Logger,
		grace:       10 * time.Minute,
		sinkTimeout: 5 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan queued, 1024),
		byBooking:   make(map[string]*Session),
		byID:        make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run forwards updates to the sinks and prunes ended sessions until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.grace / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case q := <-r.queue:
			r.dispatch(q)
		case <-t.C:
			r.prune(time.Now().UTC())
		}
	}
}

func (r *Registry) drain() {
	for {
		select {
		case q := <-r.queue:
			r.dispatch(q)
		default:
			return
		}
	}
}

func (r *Registry) dispatch(q queued) {
	for _, s := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
		err := s.HandleUpdate(ctx, q.view, q.update)
		cancel()
		if err != nil {
			r.log.Error().Err(err).
				Str("booking_id", q.view.Booking.ID).
				Str("kind", string(q.update.Kind)).
				Msg("update sink failed")
		}
	}
}

func (r *Registry) enqueue(s *Session, u models.Update) {
	select {
	case r.queue <- queued{view: s.View(), update: u}:
	case <-r.ctx.Done():
	}
	if u.Kind == models.UpdateEnded {
		r.reportActive()
	}
}

// Track starts a session for b. A booking whose previous session has ended
// gets a fresh one.
func (r *Registry) Track(b models.Booking) (*Session, error) {
	if b.ID == "" {
		return nil, errors.New("tracker: booking id is required")
	}
	r.mu.Lock()
	if old, ok := r.byBooking[b.ID]; ok {
		if old.View().Running {
			r.mu.Unlock()
			return old, ErrAlreadyTracked
		}
		delete(r.byID, old.ID())
		delete(r.byBooking, b.ID)
		defer old.Stop()
	}

	deps := r.deps
	var sess *Session
	deps.OnUpdate = func(_ string, u models.Update) { r.enqueue(sess, u) }
	sess = NewSession(b, deps, r.settings)
	r.byBooking[b.ID] = sess
	r.byID[sess.ID()] = sess
	r.mu.Unlock()

	if err := sess.Start(r.ctx); err != nil {
		r.remove(sess)
		return nil, errors.Wrap(err, "start session")
	}
	r.reportActive()
	return sess, nil
}

func (r *Registry) Get(bookingID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byBooking[bookingID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (r *Registry) GetBySessionID(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Stop ends tracking of a booking and forgets its session.
func (r *Registry) Stop(bookingID string) error {
	s, err := r.Get(bookingID)
	if err != nil {
		return err
	}
	s.Stop()
	r.remove(s)
	r.reportActive()
	return nil
}

func (r *Registry) Retry(ctx context.Context, bookingID string) error {
	s, err := r.Get(bookingID)
	if err != nil {
		return err
	}
	if err := s.Retry(ctx); err != nil {
		return err
	}
	r.reportActive()
	return nil
}

// List returns the views of all hosted sessions ordered by booking ID.
func (r *Registry) List() []View {
	r.mu.RLock()
	out := make([]View, 0, len(r.byBooking))
	for _, s := range r.byBooking {
		out = append(out, s.View())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Booking.ID < out[j].Booking.ID })
	return out
}

func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.byBooking {
		if s.View().Running {
			n++
		}
	}
	return n
}

// PollTotals sums the poller counters of the hosted sessions' current cycles.
type PollTotals struct {
	Polls          int64 `json:"polls"`
	Errors         int64 `json:"errors"`
	SkippedByLimit int64 `json:"skippedByLimit"`
}

func (r *Registry) PollTotals() PollTotals {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.byBooking))
	for _, s := range r.byBooking {
		all = append(all, s)
	}
	r.mu.RUnlock()

	var t PollTotals
	for _, s := range all {
		st := s.PollerStats()
		t.Polls += st.TotalPolls
		t.Errors += st.TotalErrors
		t.SkippedByLimit += st.SkippedByLimit
	}
	return t
}

// Close stops every session and the update dispatcher context.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.byBooking))
	for _, s := range r.byBooking {
		all = append(all, s)
	}
	r.byBooking = make(map[string]*Session)
	r.byID = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop()
		}()
	}
	wg.Wait()
	r.cancel()
	r.reportActive()
}

func (r *Registry) prune(now time.Time) {
	var stale []*Session
	r.mu.Lock()
	for id, s := range r.byBooking {
		v := s.View()
		if v.Running || v.End == nil || now.Sub(v.End.At) < r.grace {
			continue
		}
		stale = append(stale, s)
		delete(r.byBooking, id)
		delete(r.byID, s.ID())
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Stop()
		r.log.Debug().Str("booking_id", s.BookingID()).Msg("ended session pruned")
	}
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byBooking[s.BookingID()]; ok && cur == s {
		delete(r.byBooking, s.BookingID())
	}
	delete(r.byID, s.ID())
}

func (r *Registry) reportActive() {
	if r.onActive != nil {
		r.onActive(r.Active())
	}
}
