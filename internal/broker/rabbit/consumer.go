package rabbit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/RideTrack/internal/broker/messages"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

var errChannelClosed = errors.New("delivery channel closed")

type Dispatcher interface {
	Dispatch(event string, payload json.RawMessage) int
}

type Config struct {
	URL         string
	Exchange    string
	Queue       string
	RoutingKeys []string
	Prefetch    int
}

// Consumer mirrors booking events published on a topic exchange into a
// Dispatcher. The connection is re-established with capped backoff.
type Consumer struct {
	cfg         Config
	log         zerolog.Logger
	onReconnect func()

	minBackoff time.Duration
	maxBackoff time.Duration
}

type Option func(*Consumer)

func WithLogger(lg zerolog.Logger) Option {
	return func(c *Consumer) { c.log = lg }
}

// WithReconnectHook is called after every successful reconnect, events
// published while disconnected may have been lost.
func WithReconnectHook(fn func()) Option {
	return func(c *Consumer) { c.onReconnect = fn }
}

func WithBackoff(min, max time.Duration) Option {
	return func(c *Consumer) {
		if min > 0 && max >= min {
			c.minBackoff, c.maxBackoff = min, max
		}
	}
}

func NewConsumer(cfg Config, opts ...Option) *Consumer {
	if cfg.Exchange == "" {
		cfg.Exchange = "ride_topic"
	}
	if cfg.Queue == "" {
		cfg.Queue = "ride_tracker_events"
	}
	if len(cfg.RoutingKeys) == 0 {
		cfg.RoutingKeys = []string{"ride.status.*", "parcel.#", "driver.location.*"}
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 32
	}
	c := &Consumer{
		cfg:        cfg,
		log:        zerolog.Nop(),
		minBackoff: 5 * time.Second,
		maxBackoff: 60 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context, d Dispatcher) error {
	backoff := c.minBackoff
	connected := false
	for {
		err := c.session(ctx, d, func() {
			if connected && c.onReconnect != nil {
				c.onReconnect()
			}
			connected = true
			backoff = c.minBackoff
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("rabbitmq consumer disconnected")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *Consumer) session(ctx context.Context, d Dispatcher, connected func()) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return errors.Wrap(err, "dial rabbitmq")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "open channel")
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declare exchange")
	}
	q, err := ch.QueueDeclare(c.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "declare queue")
	}
	for _, key := range c.cfg.RoutingKeys {
		if err := ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return errors.Wrapf(err, "bind queue to %s", key)
		}
	}
	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return errors.Wrap(err, "set qos")
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "start consuming")
	}

	c.log.Info().Str("queue", q.Name).Str("exchange", c.cfg.Exchange).Msg("rabbitmq consumer started")
	connected()
	return c.consume(ctx, msgs, d)
}

func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery, d Dispatcher) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errChannelClosed
			}
			c.handle(msg, d)
		}
	}
}

func (c *Consumer) handle(msg amqp.Delivery, d Dispatcher) {
	env, err := messages.DecodeEnvelope(msg.Body)
	if err != nil {
		c.log.Warn().Err(err).Str("routing_key", msg.RoutingKey).Msg("reject malformed booking event")
		// повторная доставка не поможет
		_ = msg.Reject(false)
		return
	}
	n := d.Dispatch(env.Event, env.Data)
	c.log.Debug().Str("event", env.Event).Int("handlers", n).Msg("booking event dispatched")
	_ = msg.Ack(false)
}
