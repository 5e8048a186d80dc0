// Package metrics holds the Prometheus collectors of the tracker daemon. A
// Metrics value is both the sessions' Observer and a registry Sink.
package metrics

import (
	"context"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ridetrack"

type Metrics struct {
	// EventsReceived counts raw status events by source (poll, push).
	EventsReceived *prometheus.CounterVec
	// EventsDiscarded counts events the reconciler dropped, by source and reason.
	EventsDiscarded *prometheus.CounterVec
	PollErrors      prometheus.Counter
	// Transitions counts adopted statuses by target status and source.
	Transitions     *prometheus.CounterVec
	LocationUpdates prometheus.Counter
	SessionEnds     *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	SinkErrors      *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of booking status events received.",
		}, []string{"source"}),
		EventsDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_discarded_total",
			Help:      "Total number of booking status events discarded by reconciliation.",
		}, []string{"source", "reason"}),
		PollErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_errors_total",
			Help:      "Total number of failed status polls.",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Total number of booking status transitions.",
		}, []string{"status", "source"}),
		LocationUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_updates_total",
			Help:      "Total number of agent location updates published.",
		}),
		SessionEnds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_ends_total",
			Help:      "Total number of ended tracking cycles, by reason.",
		}, []string{"reason"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Current number of running tracking sessions.",
		}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Total number of failed update deliveries, by sink.",
		}, []string{"sink"}),
	}
}

func (m *Metrics) EventReceived(source models.EventSource) {
	m.EventsReceived.WithLabelValues(string(source)).Inc()
}

func (m *Metrics) EventDiscarded(source models.EventSource, reason string) {
	m.EventsDiscarded.WithLabelValues(string(source), reason).Inc()
}

func (m *Metrics) PollFailed(error) {
	m.PollErrors.Inc()
}

func (m *Metrics) HandleUpdate(_ context.Context, _ tracker.View, u models.Update) error {
	switch u.Kind {
	case models.UpdateTransition:
		if u.Transition != nil {
			m.Transitions.WithLabelValues(u.Transition.To.String(), string(u.Transition.Source)).Inc()
		}
	case models.UpdateLocation:
		m.LocationUpdates.Inc()
	case models.UpdateEnded:
		if u.End != nil {
			m.SessionEnds.WithLabelValues(string(u.End.Reason)).Inc()
		}
	}
	return nil
}

func (m *Metrics) SetActive(n int) {
	m.ActiveSessions.Set(float64(n))
}

// Instrument counts the errors of a sink under name.
func (m *Metrics) Instrument(name string, s tracker.Sink) tracker.Sink {
	return tracker.SinkFunc(func(ctx context.Context, v tracker.View, u models.Update) error {
		err := s.HandleUpdate(ctx, v, u)
		if err != nil {
			m.SinkErrors.WithLabelValues(name).Inc()
		}
		return err
	})
}

var (
	_ tracker.Observer = (*Metrics)(nil)
	_ tracker.Sink     = (*Metrics)(nil)
)
