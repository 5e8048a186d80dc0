package reconciler

import (
	"bytes"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
)

type Kind int

const (
	Discarded Kind = iota
	Adopted
	Merged
)

func (k Kind) String() string {
	switch k {
	case Adopted:
		return "adopted"
	case Merged:
		return "merged"
	default:
		return "discarded"
	}
}

// Discard reasons, also used as metric labels.
const (
	ReasonTerminal      = "terminal"
	ReasonStale         = "stale"
	ReasonDuplicate     = "duplicate"
	ReasonForeign       = "foreign_booking"
	ReasonLocalOnly     = "local_only_status"
	ReasonEarlyLocation = "location_before_assignment"
	ReasonAssigned      = "already_assigned"
)

type Outcome struct {
	Kind   Kind
	From   models.Status
	To     models.Status
	Reason string
	// Location is set when the event replaced the agent location.
	Location bool
}

func (o Outcome) Transitioned() bool { return o.Kind == Adopted }

// Reconciler merges poll and push observations of one booking into a single
// authoritative snapshot. It is not safe for concurrent use: exactly one
// goroutine owns it.
type Reconciler struct {
	booking   models.Booking
	location  *models.AgentLocation
	payloadAt time.Time
	details   []byte
}

func New(b models.Booking) *Reconciler {
	b = b.Clone()
	if b.Status == "" {
		b.Status = models.StatusPending
	}
	return &Reconciler{booking: b}
}

func (r *Reconciler) Status() models.Status { return r.booking.Status }

func (r *Reconciler) Booking() models.Booking { return r.booking.Clone() }

func (r *Reconciler) Location() *models.AgentLocation {
	if r.location == nil {
		return nil
	}
	l := *r.location
	return &l
}

// Details returns the most recent raw details payload.
func (r *Reconciler) Details() []byte { return r.details }

// Apply folds ev into the snapshot.
func (r *Reconciler) Apply(ev models.StatusEvent) Outcome {
	cur := r.booking.Status
	out := Outcome{From: cur, To: cur}

	if ev.BookingID != "" && ev.BookingID != r.booking.ID {
		out.Reason = ReasonForeign
		return out
	}
	if cur.IsTerminal() {
		out.Reason = ReasonTerminal
		return out
	}

	switch {
	case ev.Status == "":
		return r.merge(ev, out)
	case ev.Status == models.StatusNotFoundTimeout:
		// only the supervisor may decide this
		out.Reason = ReasonLocalOnly
		return out
	case ev.Status == models.StatusCancelled || ev.Status == models.StatusFailed:
		return r.adopt(ev, out)
	case ev.Status.Rank() > cur.Rank():
		return r.adopt(ev, out)
	case ev.Status == cur || ev.Status.Rank() == cur.Rank():
		return r.merge(ev, out)
	default:
		out.Reason = ReasonStale
		return out
	}
}

// Expire records that no agent was assigned in time. It only applies while
// the booking is still pending or searching.
func (r *Reconciler) Expire(at time.Time) Outcome {
	cur := r.booking.Status
	out := Outcome{From: cur, To: cur}
	if cur.IsTerminal() {
		out.Reason = ReasonTerminal
		return out
	}
	if !cur.IsAwaitingAgent() {
		out.Reason = ReasonAssigned
		return out
	}
	r.booking.Status = models.StatusNotFoundTimeout
	r.booking.Message = ""
	r.payloadAt = at
	out.Kind = Adopted
	out.To = models.StatusNotFoundTimeout
	return out
}

func (r *Reconciler) adopt(ev models.StatusEvent, out Outcome) Outcome {
	r.booking.Status = ev.Status
	r.booking.Message = ev.Message
	r.takePayload(ev)
	out.Kind = Adopted
	out.To = ev.Status
	out.Location = r.takeLocation(ev)
	return out
}

func (r *Reconciler) merge(ev models.StatusEvent, out Outcome) Outcome {
	changed := false
	if newer(ev.At, r.payloadAt) {
		changed = r.takePayload(ev)
		if ev.Message != "" && ev.Message != r.booking.Message {
			r.booking.Message = ev.Message
			changed = true
		}
	}

	if ev.Location != nil {
		if r.booking.Status.Rank() < models.StatusDriverAssigned.Rank() {
			if !changed {
				out.Reason = ReasonEarlyLocation
				return out
			}
		} else {
			out.Location = r.takeLocation(ev)
		}
	}

	if !changed && !out.Location {
		out.Reason = ReasonDuplicate
		return out
	}
	out.Kind = Merged
	return out
}

// takePayload copies the non-empty payload fields of ev and reports whether
// anything changed.
func (r *Reconciler) takePayload(ev models.StatusEvent) bool {
	changed := false
	if ev.Agent != nil && (r.booking.Agent == nil || *r.booking.Agent != *ev.Agent) {
		a := *ev.Agent
		r.booking.Agent = &a
		changed = true
	}
	if ev.OTP != nil && (r.booking.OTP == nil || *r.booking.OTP != *ev.OTP) {
		o := *ev.OTP
		r.booking.OTP = &o
		changed = true
	}
	if len(ev.Fare) > 0 && !sameFare(r.booking.Fare, ev.Fare) {
		r.booking.Fare = make(models.Fare, len(ev.Fare))
		for k, v := range ev.Fare {
			r.booking.Fare[k] = v
		}
		changed = true
	}
	if len(ev.Details) > 0 && !bytes.Equal(r.details, ev.Details) {
		r.details = append(r.details[:0], ev.Details...)
		changed = true
	}
	if !ev.At.IsZero() && ev.At.After(r.payloadAt) {
		r.payloadAt = ev.At
	}
	return changed
}

func (r *Reconciler) takeLocation(ev models.StatusEvent) bool {
	if ev.Location == nil || r.booking.Status.Rank() < models.StatusDriverAssigned.Rank() {
		return false
	}
	if r.location != nil {
		if !newer(ev.At, r.location.At) || r.location.Point == *ev.Location {
			return false
		}
	}
	r.location = &models.AgentLocation{
		BookingID: r.booking.ID,
		Point:     *ev.Location,
		At:        ev.At,
	}
	return true
}

func newer(at, than time.Time) bool {
	return at.IsZero() || !at.Before(than)
}

func sameFare(a, b models.Fare) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
