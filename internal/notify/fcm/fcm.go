package fcm

import (
	"context"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

type Sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Notifier pushes booking notifications to the user's device through Firebase
// Cloud Messaging. Bookings without a device token are skipped.
type Notifier struct {
	sender Sender
	log    zerolog.Logger
}

// New uses credentialsFile when set, otherwise application default credentials.
func New(ctx context.Context, projectID, credentialsFile string, lg zerolog.Logger) (*Notifier, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "firebase new app")
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firebase messaging")
	}
	return NewWithSender(client, lg), nil
}

func NewWithSender(s Sender, lg zerolog.Logger) *Notifier {
	return &Notifier{sender: s, log: lg}
}

func (n *Notifier) Notify(ctx context.Context, msg models.Notification) error {
	if msg.DeviceToken == "" {
		n.log.Debug().Str("booking_id", msg.BookingID).Msg("no device token, push skipped")
		return nil
	}

	id, err := n.sender.Send(ctx, &messaging.Message{
		Token: msg.DeviceToken,
		Data: map[string]string{
			"type":       "booking_status",
			"booking_id": msg.BookingID,
			"status":     msg.Status.String(),
			"level":      msg.Level,
		},
		Notification: &messaging.Notification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	})
	if err != nil {
		return errors.Wrapf(err, "send fcm for booking %s", msg.BookingID)
	}
	n.log.Debug().Str("booking_id", msg.BookingID).Str("message_id", id).Msg("fcm sent")
	return nil
}
