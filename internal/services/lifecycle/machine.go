package lifecycle

import (
	"encoding/json"
	"time"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/reconciler"
)

// Effect is a side effect the owner of the machine must carry out after a step.
type Effect uint8

const (
	CancelAssignmentTimeout Effect = 1 << iota
	TrackLocation
	Teardown
	Notify
	End
)

func (e Effect) Has(x Effect) bool { return e&x != 0 }

type Step struct {
	Outcome      reconciler.Outcome
	Transition   *models.Transition
	Location     *models.AgentLocation
	Effects      Effect
	Notification *models.Notification
	End          *models.SessionEnd
}

// Empty reports whether the step carries nothing for subscribers.
func (s Step) Empty() bool {
	return s.Transition == nil && s.Location == nil && s.End == nil
}

type Machine struct {
	initial  models.Booking
	rec      *reconciler.Reconciler
	seq      int
	assigned bool
	ended    bool
	now      func() time.Time
}

type Option func(*Machine)

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

func New(b models.Booking, opts ...Option) *Machine {
	m := &Machine{
		initial: b.Clone(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	m.rec = reconciler.New(b)
	m.assigned = m.rec.Status().Rank() >= models.StatusDriverAssigned.Rank()
	return m
}

func (m *Machine) Status() models.Status { return m.rec.Status() }
func (m *Machine) Booking() models.Booking { return m.rec.Booking() }
func (m *Machine) Location() *models.AgentLocation { return m.rec.Location() }
func (m *Machine) Ended() bool { return m.ended }
func (m *Machine) Seq() int { return m.seq }

// Details returns a copy of the latest raw payload retained for the booking.
func (m *Machine) Details() json.RawMessage {
	d := m.rec.Details()
	if len(d) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), d...)
}

// Begin is called when a cycle starts. A booking that is already terminal
// ends the cycle right away; one that already has an agent starts tracking
// its location.
func (m *Machine) Begin() Step {
	b := m.rec.Booking()
	st := Step{Outcome: reconciler.Outcome{From: b.Status, To: b.Status}}
	switch {
	case m.ended:
	case b.Status.IsTerminal():
		m.ended = true
		st.Effects = Teardown | End
		st.End = &models.SessionEnd{
			BookingID: b.ID,
			Reason:    models.EndReasonFor(b.Status),
			Status:    b.Status,
			Message:   b.Message,
			At:        m.now(),
		}
	case m.assigned:
		st.Effects = TrackLocation
	}
	return st
}

// Apply feeds a poll or push observation through the reconciler.
func (m *Machine) Apply(ev models.StatusEvent) Step {
	if m.ended {
		return Step{Outcome: reconciler.Outcome{
			From: m.Status(), To: m.Status(), Reason: reconciler.ReasonTerminal,
		}}
	}
	if ev.At.IsZero() {
		ev.At = m.now()
	}
	out := m.rec.Apply(ev)
	return m.step(out, ev.Source, ev.At)
}

// Expire is called when the assignment timer fires for the current cycle.
func (m *Machine) Expire() Step {
	if m.ended {
		return Step{Outcome: reconciler.Outcome{
			From: m.Status(), To: m.Status(), Reason: reconciler.ReasonTerminal,
		}}
	}
	at := m.now()
	out := m.rec.Expire(at)
	return m.step(out, models.SourceLocal, at)
}

// Abort ends the cycle without a status change (auth failure, user stop).
// It returns an empty step if the cycle has already ended.
func (m *Machine) Abort(reason models.EndReason, cause error) Step {
	if m.ended {
		return Step{}
	}
	m.ended = true
	b := m.rec.Booking()
	end := &models.SessionEnd{
		BookingID: b.ID,
		Reason:    reason,
		Status:    b.Status,
		At:        m.now(),
	}
	if cause != nil {
		end.Err = cause.Error()
	}
	st := Step{
		Outcome: reconciler.Outcome{From: b.Status, To: b.Status},
		Effects: Teardown | End,
		End:     end,
	}
	if n := abortNotification(b, reason); n != nil {
		st.Effects |= Notify
		st.Notification = n
		end.Message = n.Body
	}
	return st
}

// Reset starts a new cycle from pending. The transition sequence keeps counting.
func (m *Machine) Reset() Step {
	from := m.rec.Status()
	b := m.initial.Clone()
	b.Status = models.StatusPending
	m.rec = reconciler.New(b)
	m.assigned = false
	m.ended = false
	m.seq++
	return Step{
		Outcome: reconciler.Outcome{Kind: reconciler.Adopted, From: from, To: models.StatusPending},
		Transition: &models.Transition{
			Seq:       m.seq,
			BookingID: b.ID,
			From:      from,
			To:        models.StatusPending,
			At:        m.now(),
			Source:    models.SourceLocal,
		},
	}
}

func (m *Machine) step(out reconciler.Outcome, src models.EventSource, at time.Time) Step {
	st := Step{Outcome: out}
	if out.Location {
		st.Location = m.rec.Location()
	}
	if out.Kind != reconciler.Adopted {
		return st
	}

	b := m.rec.Booking()
	m.seq++
	st.Transition = &models.Transition{
		Seq:       m.seq,
		BookingID: b.ID,
		From:      out.From,
		To:        out.To,
		At:        at,
		Source:    src,
		Message:   b.Message,
		Agent:     b.Agent,
		OTP:       b.OTP,
	}

	to := out.To
	if out.From.IsAwaitingAgent() && !to.IsAwaitingAgent() {
		st.Effects |= CancelAssignmentTimeout
	}

	if to.IsTerminal() {
		m.ended = true
		st.Effects |= Teardown | Notify | End
		st.Notification = notification(b)
		st.End = &models.SessionEnd{
			BookingID: b.ID,
			Reason:    models.EndReasonFor(to),
			Status:    to,
			Message:   st.Notification.Body,
			At:        at,
		}
		return st
	}

	if !m.assigned && to.Rank() >= models.StatusDriverAssigned.Rank() {
		m.assigned = true
		st.Effects |= TrackLocation | Notify
		st.Notification = notification(b)
	}
	return st
}
