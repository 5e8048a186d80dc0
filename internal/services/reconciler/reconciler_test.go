package reconciler

import (
	"math/rand"
	"testing"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func newRec() *Reconciler {
	return New(models.Booking{ID: "b1", Kind: models.BookingKindRide, CreatedAt: t0})
}

func ev(src models.EventSource, st models.Status, sec int) models.StatusEvent {
	return models.StatusEvent{Source: src, BookingID: "b1", Status: st, At: t0.Add(time.Duration(sec) * time.Second)}
}

func TestNew_DefaultsToPending(t *testing.T) {
	r := newRec()
	require.Equal(t, models.StatusPending, r.Status())
	require.Nil(t, r.Location())
}

func TestApply_ForwardAdopts(t *testing.T) {
	r := newRec()
	out := r.Apply(ev(models.SourcePoll, models.StatusSearching, 0))
	require.Equal(t, Adopted, out.Kind)
	require.Equal(t, models.StatusPending, out.From)
	require.Equal(t, models.StatusSearching, out.To)

	out = r.Apply(ev(models.SourcePush, models.StatusInTransit, 1))
	require.Equal(t, Adopted, out.Kind)
	require.Equal(t, models.StatusInTransit, r.Status())
}

func TestApply_StaleIsDiscarded(t *testing.T) {
	r := newRec()
	r.Apply(ev(models.SourcePoll, models.StatusSearching, 0))
	r.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 5))

	out := r.Apply(ev(models.SourcePoll, models.StatusSearching, 8))
	require.Equal(t, Discarded, out.Kind)
	require.Equal(t, ReasonStale, out.Reason)
	require.Equal(t, models.StatusDriverAssigned, r.Status())
}

func TestApply_DuplicateNeverTransitions(t *testing.T) {
	r := newRec()
	transitions := 0
	for i := 0; i < 10; i++ {
		src := models.SourcePoll
		if i%2 == 0 {
			src = models.SourcePush
		}
		if r.Apply(ev(src, models.StatusDriverAssigned, i)).Transitioned() {
			transitions++
		}
	}
	require.Equal(t, 1, transitions)
}

func TestApply_CancelledFromAnyNonTerminal(t *testing.T) {
	for _, st := range []models.Status{
		models.StatusPending, models.StatusSearching, models.StatusDriverAssigned,
		models.StatusArrivedPickup, models.StatusInTransit, models.StatusArrivedDropoff,
	} {
		r := New(models.Booking{ID: "b1", Status: st})
		out := r.Apply(ev(models.SourcePoll, models.StatusCancelled, 1))
		require.Equal(t, Adopted, out.Kind, st)
		require.Equal(t, models.StatusCancelled, r.Status())
	}
}

func TestApply_LateCancelAfterCompletedIgnored(t *testing.T) {
	r := newRec()
	r.Apply(ev(models.SourcePush, models.StatusCompleted, 1))

	out := r.Apply(ev(models.SourcePush, models.StatusCancelled, 2))
	require.Equal(t, Discarded, out.Kind)
	require.Equal(t, ReasonTerminal, out.Reason)
	require.Equal(t, models.StatusCompleted, r.Status())
}

func TestApply_NotFoundTimeoutFromWireIgnored(t *testing.T) {
	r := newRec()
	out := r.Apply(ev(models.SourcePoll, models.StatusNotFoundTimeout, 1))
	require.Equal(t, Discarded, out.Kind)
	require.Equal(t, ReasonLocalOnly, out.Reason)
	require.Equal(t, models.StatusPending, r.Status())
}

func TestApply_FailedKeepsServerMessage(t *testing.T) {
	r := newRec()
	r.Apply(ev(models.SourcePoll, models.StatusSearching, 0))

	e := ev(models.SourcePush, models.StatusFailed, 3)
	e.Message = "No riders available near pickup"
	out := r.Apply(e)
	require.Equal(t, Adopted, out.Kind)
	require.Equal(t, models.StatusFailed, r.Status())
	require.NotEqual(t, models.StatusCancelled, r.Status())
	require.Equal(t, "No riders available near pickup", r.Booking().Message)
}

func TestApply_ForeignBookingIgnored(t *testing.T) {
	r := newRec()
	e := ev(models.SourcePush, models.StatusDriverAssigned, 1)
	e.BookingID = "other"
	out := r.Apply(e)
	require.Equal(t, ReasonForeign, out.Reason)
	require.Equal(t, models.StatusPending, r.Status())
}

func TestApply_MergePayloadOnEqualStatus(t *testing.T) {
	r := newRec()
	r.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 1))

	otp := "4821"
	e := ev(models.SourcePoll, models.StatusDriverAssigned, 2)
	e.Agent = &models.Agent{ID: "d1", Name: "Ravi"}
	e.OTP = &otp
	out := r.Apply(e)
	require.Equal(t, Merged, out.Kind)
	require.Equal(t, "d1", r.Booking().Agent.ID)
	require.Equal(t, "4821", *r.Booking().OTP)

	// older payload does not overwrite
	old := ev(models.SourcePoll, models.StatusDriverAssigned, 1)
	old.Agent = &models.Agent{ID: "d0"}
	out = r.Apply(old)
	require.Equal(t, Discarded, out.Kind)
	require.Equal(t, "d1", r.Booking().Agent.ID)
}

func TestApply_LocationOnlyAfterAssignment(t *testing.T) {
	r := newRec()
	loc := ev(models.SourcePush, "", 1)
	loc.Location = &models.Point{Lat: 28.6, Lng: 77.2}

	out := r.Apply(loc)
	require.Equal(t, Discarded, out.Kind)
	require.Equal(t, ReasonEarlyLocation, out.Reason)
	require.Nil(t, r.Location())

	r.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 2))
	loc.At = t0.Add(3 * time.Second)
	out = r.Apply(loc)
	require.Equal(t, Merged, out.Kind)
	require.True(t, out.Location)
	require.Equal(t, 28.6, r.Location().Point.Lat)
	require.Equal(t, models.StatusDriverAssigned, r.Status())

	older := loc
	older.At = t0.Add(2 * time.Second)
	older.Location = &models.Point{Lat: 1, Lng: 1}
	out = r.Apply(older)
	require.False(t, out.Location)
	require.Equal(t, 28.6, r.Location().Point.Lat)
}

func TestExpire(t *testing.T) {
	r := newRec()
	r.Apply(ev(models.SourcePoll, models.StatusSearching, 0))
	out := r.Expire(t0.Add(120 * time.Second))
	require.Equal(t, Adopted, out.Kind)
	require.Equal(t, models.StatusNotFoundTimeout, r.Status())

	out = r.Expire(t0.Add(121 * time.Second))
	require.Equal(t, Discarded, out.Kind)

	r2 := newRec()
	r2.Apply(ev(models.SourcePush, models.StatusDriverAssigned, 1))
	out = r2.Expire(t0.Add(120 * time.Second))
	require.Equal(t, ReasonAssigned, out.Reason)
	require.Equal(t, models.StatusDriverAssigned, r2.Status())
}

func TestApply_RandomInterleavingsAreMonotonic(t *testing.T) {
	statuses := []models.Status{
		models.StatusPending, models.StatusSearching, models.StatusDriverAssigned,
		models.StatusArrivedPickup, models.StatusInTransit, models.StatusArrivedDropoff,
		models.StatusCompleted, models.StatusDelivered, models.StatusCancelled,
		models.StatusFailed, models.StatusNotFoundTimeout, "",
	}
	rnd := rand.New(rand.NewSource(42))

	for run := 0; run < 500; run++ {
		r := newRec()
		prev := r.Status()
		terminalAt := models.Status("")
		n := 1 + rnd.Intn(30)
		for i := 0; i < n; i++ {
			src := models.SourcePoll
			if rnd.Intn(2) == 0 {
				src = models.SourcePush
			}
			e := ev(src, statuses[rnd.Intn(len(statuses))], rnd.Intn(60))
			if rnd.Intn(4) == 0 {
				e.Location = &models.Point{Lat: rnd.Float64(), Lng: rnd.Float64()}
			}
			out := r.Apply(e)
			cur := r.Status()

			if terminalAt != "" {
				require.Equal(t, terminalAt, cur, "terminal state changed")
				require.Equal(t, Discarded, out.Kind)
				continue
			}
			if cur != prev {
				require.Equal(t, Adopted, out.Kind)
				if cur != models.StatusCancelled && cur != models.StatusFailed {
					require.Greater(t, cur.Rank(), prev.Rank(), "%s -> %s", prev, cur)
				}
			} else {
				require.NotEqual(t, Adopted, out.Kind)
			}
			require.NotEqual(t, models.StatusNotFoundTimeout, cur)
			if cur.IsTerminal() {
				terminalAt = cur
			}
			if r.Location() != nil && !cur.IsTerminal() {
				require.GreaterOrEqual(t, cur.Rank(), models.StatusDriverAssigned.Rank())
			}
			prev = cur
		}
	}
}
