package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := Connect(context.Background(), Config{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), Config{Addr: "127.0.0.1:1", Timeout: 200 * time.Millisecond})
	require.Error(t, err)
}

func TestRedisCache_GetSet(t *testing.T) {
	_, rc := newClient(t)
	c := New(rc)

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr, rc := newClient(t)
	rl := NewRateLimiter(rc)

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)

	mr.FastForward(time.Minute + time.Second)
	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestSnapshots_StoreAndLoad(t *testing.T) {
	mr, rc := newClient(t)
	s := NewSnapshots(New(rc), time.Minute)
	ctx := context.Background()

	v := tracker.View{
		SessionID: "s1",
		Booking:   models.Booking{ID: "r1", Kind: models.BookingKindRide, Status: models.StatusDriverAssigned},
		Running:   true,
		Tracking:  true,
	}
	require.NoError(t, s.HandleUpdate(ctx, v, models.Update{Kind: models.UpdateTransition}))
	require.True(t, mr.Exists("booking:r1:current"))
	require.Equal(t, time.Minute, mr.TTL("booking:r1:current"))

	got, ok, err := s.Load(ctx, "r1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, models.StatusDriverAssigned, got.Booking.Status)
	require.Equal(t, "s1", got.SessionID)

	mr.FastForward(2 * time.Minute)
	_, ok, err = s.Load(ctx, "r1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSnapshots_DefaultTTL(t *testing.T) {
	_, rc := newClient(t)
	s := NewSnapshots(New(rc), 0)
	require.Equal(t, DefaultSnapshotTTL, s.ttl)
}
