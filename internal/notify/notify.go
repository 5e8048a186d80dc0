package notify

import (
	"context"

	"github.com/BearBump/RideTrack/internal/models"
	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the log instead of a device.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(lg zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: lg}
}

func (n *LogNotifier) Notify(_ context.Context, msg models.Notification) error {
	ev := n.log.Info()
	if msg.Level == "error" {
		ev = n.log.Warn()
	}
	ev.Str("booking_id", msg.BookingID).
		Str("status", msg.Status.String()).
		Str("notify_level", msg.Level).
		Str("title", msg.Title).
		Msg(msg.Body)
	return nil
}

type Notifier interface {
	Notify(ctx context.Context, msg models.Notification) error
}

// Fanout delivers to every notifier and returns the first error.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, msg models.Notification) error {
	var first error
	for _, n := range f {
		if err := n.Notify(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
