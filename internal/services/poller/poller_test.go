package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/supervisor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu       sync.Mutex
	results  []backend.StatusResult
	errs     []error
	calls    int
	inFlight atomic.Int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (c *fakeClient) GetStatus(ctx context.Context, kind models.BookingKind, id string) (backend.StatusResult, error) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	defer c.inFlight.Add(-1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	if err != nil {
		return backend.StatusResult{}, err
	}
	if len(c.results) == 0 {
		return backend.StatusResult{Status: "searching"}, nil
	}
	if i >= len(c.results) {
		i = len(c.results) - 1
	}
	return c.results[i], nil
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeRL struct {
	allowed bool
	count   int64
	err     error
	keys    []string
}

func (r *fakeRL) Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error) {
	r.keys = append(r.keys, key)
	return r.allowed, r.count, r.err
}

type collector struct {
	mu  sync.Mutex
	evs []models.StatusEvent
}

func (c *collector) sink(ev models.StatusEvent) {
	c.mu.Lock()
	c.evs = append(c.evs, ev)
	c.mu.Unlock()
}

func (c *collector) all() []models.StatusEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.StatusEvent(nil), c.evs...)
}

func TestPoller_pollOnce_EmitsParsedEvent(t *testing.T) {
	otp := "1111"
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := &fakeClient{results: []backend.StatusResult{{
		Status: "accepted", Message: "on the way", OTP: &otp, At: &at,
		Agent: &models.Agent{ID: "d1"},
	}}}
	col := &collector{}
	p := New(fc, "b1", models.BookingKindRide, col.sink)

	require.NoError(t, p.pollOnce(context.Background()))
	evs := col.all()
	require.Len(t, evs, 1)
	require.Equal(t, models.SourcePoll, evs[0].Source)
	require.Equal(t, "b1", evs[0].BookingID)
	require.Equal(t, models.StatusDriverAssigned, evs[0].Status)
	require.Equal(t, at, evs[0].At)
	require.Equal(t, "d1", evs[0].Agent.ID)
	require.EqualValues(t, 1, p.Stats().TotalPolls)
}

func TestPoller_pollOnce_TransientErrorIsNoUpdate(t *testing.T) {
	var reported []error
	fc := &fakeClient{errs: []error{&backend.HTTPError{StatusCode: 500}, &backend.HTTPError{StatusCode: 404}}}
	col := &collector{}
	p := New(fc, "b1", models.BookingKindRide, col.sink, WithErrorHandler(func(err error) { reported = append(reported, err) }))

	require.NoError(t, p.pollOnce(context.Background()))
	require.NoError(t, p.pollOnce(context.Background()))
	require.Empty(t, col.all())
	require.Len(t, reported, 2)

	st := p.Stats()
	require.EqualValues(t, 2, st.TotalErrors)
	require.EqualValues(t, 2, st.ConsecutiveFailures)
	require.Contains(t, st.LastError, "404")

	require.NoError(t, p.pollOnce(context.Background()))
	require.Len(t, col.all(), 1)
	require.EqualValues(t, 0, p.Stats().ConsecutiveFailures)
}

func TestPoller_pollOnce_UnknownStatusIsTransient(t *testing.T) {
	fc := &fakeClient{results: []backend.StatusResult{{Status: "teleporting"}}}
	col := &collector{}
	p := New(fc, "b1", models.BookingKindRide, col.sink)

	require.NoError(t, p.pollOnce(context.Background()))
	require.Empty(t, col.all())
	require.EqualValues(t, 1, p.Stats().TotalErrors)
}

func TestPoller_pollOnce_RateLimited(t *testing.T) {
	fc := &fakeClient{}
	rl := &fakeRL{allowed: false, count: 121}
	p := New(fc, "b1", models.BookingKindRide, nil, WithRateLimiter(rl, 120))

	require.NoError(t, p.pollOnce(context.Background()))
	require.Equal(t, 0, fc.Calls())
	require.EqualValues(t, 1, p.Stats().SkippedByLimit)
	require.Len(t, rl.keys, 1)
	require.Contains(t, rl.keys[0], "rl:backend:status:")
}

func TestPoller_pollOnce_RateLimiterErrorDoesNotBlock(t *testing.T) {
	fc := &fakeClient{}
	rl := &fakeRL{err: errors.New("redis down")}
	p := New(fc, "b1", models.BookingKindRide, nil, WithRateLimiter(rl, 120))

	require.NoError(t, p.pollOnce(context.Background()))
	require.Equal(t, 1, fc.Calls())
}

func TestPoller_Run_UnauthorizedIsFatalOnce(t *testing.T) {
	fc := &fakeClient{errs: []error{backend.ErrUnauthorized, backend.ErrUnauthorized}}
	var fatal atomic.Int32
	p := New(fc, "b1", models.BookingKindRide, nil,
		WithInterval(5*time.Millisecond),
		WithFatalHandler(func(error) { fatal.Add(1) }),
	)

	err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrAuth)
	require.EqualValues(t, 1, fatal.Load())
	require.Equal(t, 1, fc.Calls())
}

func TestPoller_Run_StopsOnContextCancel(t *testing.T) {
	fc := &fakeClient{}
	p := New(fc, "b1", models.BookingKindRide, nil, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.GreaterOrEqual(t, fc.Calls(), 2)
}

func TestPoller_Run_NeverOverlaps(t *testing.T) {
	fc := &fakeClient{delay: 15 * time.Millisecond}
	p := New(fc, "b1", models.BookingKindRide, nil, WithInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			p.Trigger()
			time.Sleep(time.Millisecond)
		}
	}()
	_ = p.Run(ctx)
	require.False(t, fc.overlap.Load())
	require.GreaterOrEqual(t, fc.Calls(), 2)
}

func TestPoller_Run_BacksOffAfterFailures(t *testing.T) {
	fc := &fakeClient{errs: []error{errors.New("net"), errors.New("net"), errors.New("net")}}
	retry := supervisor.NewRetryPolicy(supervisor.RetryConfig{
		Backoff1: time.Hour, Backoff2: time.Hour, Backoff3: time.Hour, Backoff4: time.Hour,
	}, 5*time.Millisecond, nil)
	p := New(fc, "b1", models.BookingKindRide, nil, WithInterval(5*time.Millisecond), WithRetryPolicy(retry))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = p.Run(ctx)
	require.Equal(t, 1, fc.Calls())
}

func TestPoller_Trigger_PollsImmediately(t *testing.T) {
	fc := &fakeClient{}
	p := New(fc, "b1", models.BookingKindRide, nil, WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return fc.Calls() == 1 }, time.Second, time.Millisecond)
	p.Trigger()
	require.Eventually(t, func() bool { return fc.Calls() == 2 }, time.Second, time.Millisecond)
	require.NotNil(t, p.Stats().LastTriggerAt)
	cancel()
	<-done
}

func TestPoller_requestTimeout(t *testing.T) {
	require.Equal(t, 9*time.Second, New(nil, "b", models.BookingKindRide, nil).requestTimeout())
	require.Equal(t, time.Second, New(nil, "b", models.BookingKindRide, nil, WithInterval(500*time.Millisecond)).requestTimeout())
}
