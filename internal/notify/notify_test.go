package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []models.Notification
	err error
}

func (r *recorder) Notify(_ context.Context, n models.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	require.NoError(t, n.Notify(context.Background(), models.Notification{
		BookingID: "r1", Title: "Driver Assigned!", Body: "Your ride is on the way.",
		Level: "success", Status: models.StatusDriverAssigned,
	}))
	require.Contains(t, buf.String(), `"booking_id":"r1"`)
	require.Contains(t, buf.String(), `"message":"Your ride is on the way."`)
	require.Contains(t, buf.String(), `"level":"info"`)
}

func TestFanout_DeliversToAll(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recorder{err: boom}, &recorder{}

	err := Fanout{a, b}.Notify(context.Background(), models.Notification{BookingID: "p1"})
	require.ErrorIs(t, err, boom)
	require.Len(t, a.got, 1)
	require.Len(t, b.got, 1)
}
