package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/RideTrack/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Dispatcher receives socket events mirrored onto the topic.
type Dispatcher interface {
	Dispatch(event string, payload json.RawMessage) int
}

type Consumer struct {
	r messageReader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{
		r: kafka.NewReader(cfg),
	}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			// Важно: commit делаем только при успехе, иначе потеряем сообщение.
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// DispatchTo returns a Consume handler that feeds booking events into d.
// Malformed envelopes are logged and committed, they would never decode on redelivery.
func DispatchTo(d Dispatcher, log zerolog.Logger) func(key, value []byte) error {
	return func(key, value []byte) error {
		env, err := messages.DecodeEnvelope(value)
		if err != nil {
			log.Warn().Err(err).Bytes("key", key).Msg("skip malformed booking event")
			return nil
		}
		n := d.Dispatch(env.Event, env.Data)
		log.Debug().Str("event", env.Event).Int("handlers", n).Msg("booking event dispatched")
		return nil
	}
}
