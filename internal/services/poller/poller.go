package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/supervisor"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const DefaultInterval = 10 * time.Second

// ErrAuth is returned by Run when the backend rejected the credentials.
var ErrAuth = errors.New("poller: authentication failed")

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Sink receives every successfully parsed poll result.
type Sink func(models.StatusEvent)

type Poller struct {
	client    backend.StatusClient
	bookingID string
	kind      models.BookingKind
	sink      Sink

	interval time.Duration
	retry    *supervisor.RetryPolicy

	rl                 RateLimiter
	rateLimitPerMinute int64

	onFatal func(error)
	onError func(error)
	log     zerolog.Logger
	now     func() time.Time

	triggerCh chan struct{}
	fatalOnce sync.Once

	startedAtUnixNano   int64
	lastPollUnixNano    atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalPolls          atomic.Int64
	totalErrors         atomic.Int64
	skippedByLimit      atomic.Int64
	consecutiveFailures atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithRetryPolicy(r *supervisor.RetryPolicy) Option {
	return func(p *Poller) { p.retry = r }
}

func WithRateLimiter(rl RateLimiter, perMinute int64) Option {
	return func(p *Poller) {
		p.rl = rl
		p.rateLimitPerMinute = perMinute
	}
}

// WithFatalHandler is called once when polling stops because of an auth failure.
func WithFatalHandler(fn func(error)) Option {
	return func(p *Poller) { p.onFatal = fn }
}

// WithErrorHandler is called for every transient failure.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Poller) { p.onError = fn }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Poller) { p.log = l }
}

func New(client backend.StatusClient, bookingID string, kind models.BookingKind, sink Sink, opts ...Option) *Poller {
	p := &Poller{
		client:            client,
		bookingID:         bookingID,
		kind:              kind,
		sink:              sink,
		interval:          DefaultInterval,
		log:               zerolog.Nop(),
		now:               func() time.Time { return time.Now().UTC() },
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.retry == nil {
		p.retry = supervisor.NewRetryPolicy(supervisor.DefaultRetryConfig(), p.interval, nil)
	}
	return p
}

func (p *Poller) Interval() time.Duration { return p.interval }

// requestTimeout keeps a request from running into the next tick.
func (p *Poller) requestTimeout() time.Duration {
	d := p.interval - time.Second
	if d < time.Second {
		d = time.Second
	}
	return d
}

// Trigger forces an immediate poll (best-effort, non-blocking).
func (p *Poller) Trigger() {
	p.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt           time.Time  `json:"startedAt"`
	LastPollAt          *time.Time `json:"lastPollAt,omitempty"`
	LastTriggerAt       *time.Time `json:"lastTriggerAt,omitempty"`
	TotalPolls          int64      `json:"totalPolls"`
	TotalErrors         int64      `json:"totalErrors"`
	SkippedByLimit      int64      `json:"skippedByLimit"`
	ConsecutiveFailures int64      `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
}

func (p *Poller) Stats() Stats {
	st := Stats{
		StartedAt:           time.Unix(0, p.startedAtUnixNano).UTC(),
		TotalPolls:          p.totalPolls.Load(),
		TotalErrors:         p.totalErrors.Load(),
		SkippedByLimit:      p.skippedByLimit.Load(),
		ConsecutiveFailures: p.consecutiveFailures.Load(),
	}
	if n := p.lastPollUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastPollAt = &t
	}
	if n := p.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	p.lastErrorMu.Lock()
	st.LastError = p.lastError
	p.lastErrorMu.Unlock()
	return st
}

// Run polls right away and then after every interval until ctx is done or
// the backend rejects the credentials. Polls are strictly sequential.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-p.triggerCh:
			t.Stop()
		}

		err := p.pollOnce(ctx)
		if errors.Is(err, ErrAuth) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		t.Reset(p.retry.Delay(int(p.consecutiveFailures.Load())))
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	now := p.now()
	p.lastPollUnixNano.Store(now.UnixNano())

	if p.rl != nil && p.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:backend:status:%s", now.Format("200601021504"))
		allowed, n, err := p.rl.Allow(ctx, minuteKey, p.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			// лимитер недоступен: не блокируем опрос
			p.log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !allowed {
			p.skippedByLimit.Add(1)
			p.log.Warn().Int64("count", n).Msg("status poll skipped by rate limit")
			return nil
		}
	}

	p.totalPolls.Add(1)
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout())
	res, err := p.client.GetStatus(reqCtx, p.kind, p.bookingID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if backend.IsFatal(err) {
			p.recordError(err)
			p.fatalOnce.Do(func() {
				p.log.Error().Err(err).Msg("status poll unauthorized, stopping")
				if p.onFatal != nil {
					p.onFatal(err)
				}
			})
			return errors.Wrap(ErrAuth, err.Error())
		}
		p.transient(errors.Wrap(err, "get status"))
		return nil
	}

	ev := models.StatusEvent{
		Source:    models.SourcePoll,
		BookingID: p.bookingID,
		At:        now,
		Agent:     res.Agent,
		Location:  res.Location,
		OTP:       res.OTP,
		Fare:      res.Fare,
		Message:   res.Message,
		Details:   res.Details,
	}
	if res.At != nil && !res.At.IsZero() {
		ev.At = res.At.UTC()
	}
	if res.Status != "" {
		st, err := models.ParseStatus(res.Status)
		if err != nil {
			p.transient(err)
			return nil
		}
		ev.Status = st
	}

	p.consecutiveFailures.Store(0)
	if p.sink != nil {
		p.sink(ev)
	}
	return nil
}

// transient records a failure that leaves the booking status untouched.
func (p *Poller) transient(err error) {
	p.recordError(err)
	n := p.consecutiveFailures.Add(1)
	p.log.Warn().Err(err).Int64("consecutive_failures", n).Msg("status poll failed")
	if p.onError != nil {
		p.onError(err)
	}
}

func (p *Poller) recordError(err error) {
	p.totalErrors.Add(1)
	p.lastErrorMu.Lock()
	p.lastError = err.Error()
	p.lastErrorMu.Unlock()
}
