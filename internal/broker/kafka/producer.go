package kafka

import (
	"context"
	"encoding/json"

	"github.com/BearBump/RideTrack/internal/broker/messages"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Topics names the destinations of published updates. An empty topic disables
// that kind of message.
type Topics struct {
	Transitions string
	Locations   string
	Ends        string
}

type Producer struct {
	w      messageWriter
	topics Topics
}

func NewProducer(brokers []string, topics Topics) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.Hash{},
		},
		topics: topics,
	}
}

func newProducerWithWriter(w messageWriter, topics Topics) *Producer {
	return &Producer{w: w, topics: topics}
}

func (p *Producer) Close() error {
	if c, ok := p.w.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// HandleUpdate publishes a session update keyed by booking ID, so all updates
// of one booking land in one partition in order.
func (p *Producer) HandleUpdate(ctx context.Context, v tracker.View, u models.Update) error {
	var (
		topic string
		msg   any
	)
	switch {
	case u.Kind == models.UpdateTransition && u.Transition != nil:
		topic = p.topics.Transitions
		msg = messages.NewBookingTransition(v.SessionID, v.Booking.Kind, u.Generation, u.Transition)
	case u.Kind == models.UpdateLocation && u.Location != nil:
		topic = p.topics.Locations
		msg = messages.NewAgentLocation(v.SessionID, u.Location)
	case u.Kind == models.UpdateEnded && u.End != nil:
		topic = p.topics.Ends
		msg = messages.NewSessionEnded(v.SessionID, u.Generation, u.End)
	}
	if topic == "" {
		return nil
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal update")
	}
	return p.Publish(ctx, topic, []byte(v.Booking.ID), value)
}
