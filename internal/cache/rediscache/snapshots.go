package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/pkg/errors"
)

const DefaultSnapshotTTL = 10 * time.Minute

// Snapshots keeps the latest view of every tracked booking under
// booking:{id}:current. Only the daemon's HTTP layer reads it back, after the
// registry has pruned the session.
type Snapshots struct {
	cache *RedisCache
	ttl   time.Duration
}

func NewSnapshots(cache *RedisCache, ttl time.Duration) *Snapshots {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &Snapshots{cache: cache, ttl: ttl}
}

func snapshotKey(bookingID string) string {
	return fmt.Sprintf("booking:%s:current", bookingID)
}

func (s *Snapshots) HandleUpdate(ctx context.Context, v tracker.View, u models.Update) error {
	if v.Booking.ID == "" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	return s.cache.Set(ctx, snapshotKey(v.Booking.ID), b, s.ttl)
}

func (s *Snapshots) Load(ctx context.Context, bookingID string) (tracker.View, bool, error) {
	b, ok, err := s.cache.Get(ctx, snapshotKey(bookingID))
	if err != nil || !ok {
		return tracker.View{}, false, err
	}
	var v tracker.View
	if err := json.Unmarshal(b, &v); err != nil {
		return tracker.View{}, false, errors.Wrap(err, "decode snapshot")
	}
	return v, true, nil
}
