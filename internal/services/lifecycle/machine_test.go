package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newMachine(kind models.BookingKind) *Machine {
	return New(models.Booking{ID: "b1", Kind: kind, DeviceToken: "tok"}, WithClock(func() time.Time { return t0 }))
}

func ev(src models.EventSource, st models.Status, sec int) models.StatusEvent {
	return models.StatusEvent{Source: src, BookingID: "b1", Status: st, At: t0.Add(time.Duration(sec) * time.Second)}
}

func TestMachine_ScenarioStalePollDiscarded(t *testing.T) {
	m := newMachine(models.BookingKindRide)
	var seen []models.Status
	seen = append(seen, m.Status())

	for _, e := range []models.StatusEvent{
		ev(models.SourcePoll, models.StatusSearching, 0),
		ev(models.SourcePush, models.StatusDriverAssigned, 5),
		ev(models.SourcePoll, models.StatusSearching, 8),
	} {
		st := m.Apply(e)
		if st.Transition != nil {
			seen = append(seen, st.Transition.To)
		}
	}
	require.Equal(t, []models.Status{models.StatusPending, models.StatusSearching, models.StatusDriverAssigned}, seen)
}

func TestMachine_AssignmentEffects(t *testing.T) {
	m := newMachine(models.BookingKindRide)
	st := m.Apply(ev(models.SourcePoll, models.StatusSearching, 0))
	require.NotNil(t, st.Transition)
	require.Equal(t, 1, st.Transition.Seq)
	require.Zero(t, st.Effects)

	st = m.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 1))
	require.Equal(t, 2, st.Transition.Seq)
	require.True(t, st.Effects.Has(CancelAssignmentTimeout))
	require.True(t, st.Effects.Has(TrackLocation))
	require.True(t, st.Effects.Has(Notify))
	require.False(t, st.Effects.Has(Teardown))
	require.Equal(t, "Driver Assigned!", st.Notification.Title)
	require.Equal(t, "tok", st.Notification.DeviceToken)

	st = m.Apply(ev(models.SourcePush, models.StatusArrivedPickup, 2))
	require.NotNil(t, st.Transition)
	require.Zero(t, st.Effects)
}

func TestMachine_TerminalEffects(t *testing.T) {
	m := newMachine(models.BookingKindParcel)
	m.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 1))

	st := m.Apply(ev(models.SourcePoll, models.StatusDelivered, 9))
	require.True(t, st.Effects.Has(Teardown))
	require.True(t, st.Effects.Has(End))
	require.True(t, st.Effects.Has(Notify))
	require.False(t, st.Effects.Has(CancelAssignmentTimeout))
	require.Equal(t, models.EndDelivered, st.End.Reason)
	require.Equal(t, "Parcel Delivered!", st.Notification.Title)
	require.True(t, m.Ended())

	st = m.Apply(ev(models.SourcePush, models.StatusCancelled, 10))
	require.True(t, st.Empty())
	require.Equal(t, models.StatusDelivered, m.Status())
}

func TestMachine_ParcelErrorIsDistinctFromCancel(t *testing.T) {
	m := newMachine(models.BookingKindParcel)
	m.Apply(ev(models.SourcePoll, models.StatusSearching, 0))

	e := ev(models.SourcePush, models.StatusFailed, 3)
	e.Message = "Payment could not be verified"
	st := m.Apply(e)
	require.Equal(t, models.StatusFailed, st.Transition.To)
	require.Equal(t, models.EndServerError, st.End.Reason)
	require.Equal(t, "Payment could not be verified", st.End.Message)
	require.Equal(t, "Payment could not be verified", st.Notification.Body)
	require.True(t, st.Effects.Has(CancelAssignmentTimeout))
}

func TestMachine_ExpireOnlyOnce(t *testing.T) {
	m := newMachine(models.BookingKindRide)
	m.Apply(ev(models.SourcePoll, models.StatusSearching, 0))

	st := m.Expire()
	require.NotNil(t, st.Transition)
	require.Equal(t, models.StatusNotFoundTimeout, st.Transition.To)
	require.Equal(t, models.SourceLocal, st.Transition.Source)
	require.Equal(t, models.EndNotFoundTimeout, st.End.Reason)
	require.Equal(t, "No Drivers Found", st.Notification.Title)

	st = m.Expire()
	require.True(t, st.Empty())
}

func TestMachine_ExpireAfterAssignmentIsNoop(t *testing.T) {
	m := newMachine(models.BookingKindRide)
	m.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 1))
	st := m.Expire()
	require.True(t, st.Empty())
	require.Equal(t, models.StatusDriverAssigned, m.Status())
}

func TestMachine_AbortAuth(t *testing.T) {
	m := newMachine(models.BookingKindRide)
	st := m.Abort(models.EndAuthFailed, errors.New("401"))
	require.True(t, st.Effects.Has(Teardown))
	require.True(t, st.Effects.Has(Notify))
	require.Equal(t, "Authentication Error", st.Notification.Title)
	require.Equal(t, "401", st.End.Err)
	require.Nil(t, st.Transition)

	require.True(t, m.Abort(models.EndStopped, nil).Empty())
	require.True(t, m.Apply(ev(models.SourcePoll, models.StatusSearching, 1)).Empty())
}

func TestMachine_ResetStartsNewCycle(t *testing.T) {
	m := newMachine(models.BookingKindRide)
	m.Apply(ev(models.SourcePoll, models.StatusSearching, 0))
	m.Expire()

	st := m.Reset()
	require.Equal(t, models.StatusNotFoundTimeout, st.Transition.From)
	require.Equal(t, models.StatusPending, st.Transition.To)
	require.Equal(t, 3, st.Transition.Seq)
	require.False(t, m.Ended())

	st = m.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 30))
	require.Equal(t, 4, st.Transition.Seq)
	require.True(t, st.Effects.Has(TrackLocation))
}

func TestMachine_LocationStep(t *testing.T) {
	m := newMachine(models.BookingKindRide)
	m.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 1))

	e := ev(models.SourcePush, "", 2)
	e.Location = &models.Point{Lat: 12.9, Lng: 77.6}
	st := m.Apply(e)
	require.Nil(t, st.Transition)
	require.NotNil(t, st.Location)
	require.Equal(t, "b1", st.Location.BookingID)
	require.Equal(t, 77.6, m.Location().Point.Lng)
}

func TestMachine_BeginOnTerminalBookingEnds(t *testing.T) {
	m := New(models.Booking{ID: "b1", Status: models.StatusCancelled, Message: "cancelled by user"}, WithClock(func() time.Time { return t0 }))

	st := m.Begin()
	require.True(t, st.Effects.Has(Teardown))
	require.True(t, st.Effects.Has(End))
	require.False(t, st.Effects.Has(Notify))
	require.Nil(t, st.Transition)
	require.Equal(t, models.EndCancelled, st.End.Reason)
	require.Equal(t, models.StatusCancelled, st.End.Status)
	require.Equal(t, "cancelled by user", st.End.Message)
	require.True(t, m.Ended())

	require.Zero(t, m.Begin().Effects)
	require.Nil(t, m.Apply(ev(models.SourcePoll, models.StatusCompleted, 1)).Transition)
}

func TestMachine_BeginAssignedTracksLocation(t *testing.T) {
	m := New(models.Booking{ID: "b1", Status: models.StatusInTransit})
	st := m.Begin()
	require.Equal(t, TrackLocation, st.Effects)
	require.Nil(t, st.End)

	require.Zero(t, newMachine(models.BookingKindRide).Begin().Effects)
}

func TestMachine_DetailsIsACopy(t *testing.T) {
	m := newMachine(models.BookingKindParcel)
	require.Nil(t, m.Details())

	e := ev(models.SourcePush, models.StatusSearching, 1)
	e.Details = []byte(`{"parcel":"b1","eta":4}`)
	m.Apply(e)

	d := m.Details()
	require.JSONEq(t, `{"parcel":"b1","eta":4}`, string(d))
	d[0] = 'x'
	require.JSONEq(t, `{"parcel":"b1","eta":4}`, string(m.Details()))
}
