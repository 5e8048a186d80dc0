package tracker

import (
	"context"
	"sync"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/lifecycle"
	"github.com/BearBump/RideTrack/internal/services/listener"
	"github.com/BearBump/RideTrack/internal/services/poller"
	"github.com/BearBump/RideTrack/internal/services/reconciler"
	"github.com/BearBump/RideTrack/internal/services/supervisor"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ReasonOverflow labels push events dropped because the session queue was full.
const ReasonOverflow = "queue_full"

// cycle is one poll/listen round of a session, from Start (or Retry) to its
// SessionEnd.
type cycle struct {
	s   *Session
	gen int
	log zerolog.Logger

	poller   *poller.Poller
	listener *listener.Listener

	events  chan models.StatusEvent
	fatal   chan error
	stop    chan struct{}
	closing chan struct{}
	done    chan struct{}
	exited  chan struct{}

	stopOnce   sync.Once
	pollCancel context.CancelFunc
	pollExited chan struct{}

	// owned by the loop goroutine
	tornDown bool
	tracking bool
}

func newCycle(s *Session, gen int) *cycle {
	c := &cycle{
		s:          s,
		gen:        gen,
		log:        s.log.With().Int("generation", gen).Logger(),
		events:     make(chan models.StatusEvent, 16),
		fatal:      make(chan error, 1),
		stop:       make(chan struct{}),
		closing:    make(chan struct{}),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
		pollExited: make(chan struct{}),
	}

	st := s.settings
	c.poller = poller.New(s.deps.Backend, s.bookingID, s.kind, c.enqueue,
		poller.WithInterval(st.PollInterval),
		poller.WithRetryPolicy(supervisor.NewRetryPolicy(st.Retry, st.PollInterval, nil)),
		poller.WithRateLimiter(s.deps.RateLimiter, st.RateLimitPerMinute),
		poller.WithFatalHandler(c.fail),
		poller.WithErrorHandler(s.deps.Observer.PollFailed),
		poller.WithLogger(c.log),
	)
	if s.deps.Conn != nil {
		c.listener = listener.New(s.deps.Conn, s.bookingID, c.offer,
			listener.WithResync(c.poller.Trigger),
			listener.WithLogger(c.log),
		)
	}
	return c
}

func (c *cycle) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.pollCancel = cancel

	go func() {
		defer close(c.pollExited)
		if err := c.poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Debug().Err(err).Msg("poller stopped")
		}
	}()
	if c.listener != nil {
		c.listener.Start()
	}
	if c.s.machine.Status().IsAwaitingAgent() {
		c.s.sup.Start(c.gen)
	}
	c.log.Info().Str("status", c.s.machine.Status().String()).Msg("booking tracking started")

	go c.loop(parent)
}

// enqueue is the sink of the poller, which runs on its own goroutine.
func (c *cycle) enqueue(ev models.StatusEvent) {
	select {
	case c.events <- ev:
	case <-c.closing:
	}
}

// offer is the sink of the listener. Push handlers run on the shared
// connection's read goroutine, so a full queue drops the event and asks the
// poller to catch up instead of blocking every other booking.
func (c *cycle) offer(ev models.StatusEvent) {
	select {
	case c.events <- ev:
	case <-c.closing:
	default:
		c.s.deps.Observer.EventDiscarded(ev.Source, ReasonOverflow)
		c.log.Warn().Str("status", ev.Status.String()).Msg("event queue full, push event dropped")
		c.poller.Trigger()
	}
}

func (c *cycle) fail(err error) {
	select {
	case c.fatal <- err:
	default:
	}
}

func (c *cycle) requestStop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *cycle) loop(parent context.Context) {
	defer close(c.exited)
	m := c.s.machine
	obs := c.s.deps.Observer

	if c.handle(m.Begin()) {
		return
	}
	for {
		select {
		case ev := <-c.events:
			obs.EventReceived(ev.Source)
			st := m.Apply(ev)
			if st.Outcome.Kind == reconciler.Discarded {
				obs.EventDiscarded(ev.Source, st.Outcome.Reason)
				c.log.Debug().
					Str("source", string(ev.Source)).
					Str("status", ev.Status.String()).
					Str("reason", st.Outcome.Reason).
					Msg("event discarded")
			}
			if c.handle(st) {
				return
			}
		case gen := <-c.s.expired:
			if gen != c.gen {
				c.log.Debug().Int("timer_generation", gen).Msg("stale assignment timer ignored")
				continue
			}
			if c.handle(m.Expire()) {
				return
			}
		case err := <-c.fatal:
			c.handle(m.Abort(models.EndAuthFailed, err))
			return
		case <-c.stop:
			c.abort()
			return
		case <-parent.Done():
			c.abort()
			return
		}
	}
}

func (c *cycle) abort() {
	if !c.handle(c.s.machine.Abort(models.EndStopped, nil)) {
		c.teardown()
	}
}

// handle carries out the effects of one step. It reports whether the cycle ended.
func (c *cycle) handle(st lifecycle.Step) bool {
	s := c.s
	if st.Effects.Has(lifecycle.CancelAssignmentTimeout) {
		s.sup.Cancel()
	}
	if st.Effects.Has(lifecycle.TrackLocation) {
		c.tracking = true
		c.log.Info().Msg("agent assigned, tracking location")
	}
	if st.Effects.Has(lifecycle.Teardown) {
		c.teardown()
	}

	ended := st.Effects.Has(lifecycle.End)
	if st.Transition != nil || st.Location != nil || ended ||
		st.Effects.Has(lifecycle.TrackLocation) || st.Outcome.Kind == reconciler.Merged {
		s.publishView(c.gen, !ended, c.tracking && !ended)
	}
	if st.Transition != nil {
		c.log.Info().
			Str("from", st.Transition.From.String()).
			Str("status", st.Transition.To.String()).
			Str("source", string(st.Transition.Source)).
			Int("seq", st.Transition.Seq).
			Msg("booking status changed")
		s.broadcast(models.Update{Kind: models.UpdateTransition, Generation: c.gen, Transition: st.Transition})
	}
	if st.Location != nil {
		s.broadcast(models.Update{Kind: models.UpdateLocation, Generation: c.gen, Location: st.Location})
	}
	if st.Effects.Has(lifecycle.Notify) {
		s.notify(st.Notification)
	}
	if !ended {
		return false
	}

	s.setEnd(st.End)
	c.log.Info().Str("reason", string(st.End.Reason)).Str("status", st.End.Status.String()).Msg("booking tracking ended")
	s.broadcast(models.Update{Kind: models.UpdateEnded, Generation: c.gen, End: st.End})
	close(c.done)
	return true
}

// teardown stops the poller, cancels the assignment timer and unregisters the
// listener, in that order. Repeated calls do nothing.
func (c *cycle) teardown() {
	if c.tornDown {
		return
	}
	c.tornDown = true
	close(c.closing)

	c.pollCancel()
	<-c.pollExited
	c.s.sup.Cancel()
	if c.listener != nil {
		c.listener.Stop()
	}
}
