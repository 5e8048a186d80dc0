package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_ObserverAndSink(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	m.EventReceived(models.SourcePoll)
	m.EventReceived(models.SourcePush)
	m.EventReceived(models.SourcePush)
	m.EventDiscarded(models.SourcePoll, "stale")
	m.PollFailed(errors.New("502"))

	require.NoError(t, m.HandleUpdate(ctx, tracker.View{}, models.Update{
		Kind:       models.UpdateTransition,
		Transition: &models.Transition{To: models.StatusDriverAssigned, Source: models.SourcePush},
	}))
	require.NoError(t, m.HandleUpdate(ctx, tracker.View{}, models.Update{Kind: models.UpdateLocation}))
	require.NoError(t, m.HandleUpdate(ctx, tracker.View{}, models.Update{
		Kind: models.UpdateEnded,
		End:  &models.SessionEnd{Reason: models.EndNotFoundTimeout},
	}))
	m.SetActive(3)

	require.Equal(t, 2.0, testutil.ToFloat64(m.EventsReceived.WithLabelValues("push")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.EventsDiscarded.WithLabelValues("poll", "stale")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PollErrors))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Transitions.WithLabelValues("driver_assigned", "push")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.LocationUpdates))
	require.Equal(t, 1.0, testutil.ToFloat64(m.SessionEnds.WithLabelValues("not_found_timeout")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.ActiveSessions))
}

func TestMetrics_Instrument(t *testing.T) {
	m := New(prometheus.NewRegistry())
	boom := errors.New("down")
	s := m.Instrument("journal", tracker.SinkFunc(func(context.Context, tracker.View, models.Update) error { return boom }))

	require.ErrorIs(t, s.HandleUpdate(context.Background(), tracker.View{}, models.Update{}), boom)
	require.Equal(t, 1.0, testutil.ToFloat64(m.SinkErrors.WithLabelValues("journal")))
}
