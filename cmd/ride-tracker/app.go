package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/BearBump/RideTrack/config"
	"github.com/BearBump/RideTrack/internal/api/sessions_api"
	"github.com/BearBump/RideTrack/internal/broker/kafka"
	"github.com/BearBump/RideTrack/internal/broker/rabbit"
	"github.com/BearBump/RideTrack/internal/cache/rediscache"
	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/integrations/backend/fake"
	"github.com/BearBump/RideTrack/internal/integrations/backend/restv1"
	"github.com/BearBump/RideTrack/internal/integrations/directions"
	"github.com/BearBump/RideTrack/internal/integrations/push"
	"github.com/BearBump/RideTrack/internal/integrations/socketio"
	"github.com/BearBump/RideTrack/internal/metrics"
	"github.com/BearBump/RideTrack/internal/notify"
	"github.com/BearBump/RideTrack/internal/notify/fcm"
	"github.com/BearBump/RideTrack/internal/services/bookings"
	"github.com/BearBump/RideTrack/internal/services/poller"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/BearBump/RideTrack/internal/storage/pgjournal"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type daemonFactories struct {
	newBackend func(cfg *config.Config) backend.Client
	// newSocket returns nil when no socket server is configured.
	newSocket    func(cfg *config.Config, lg zerolog.Logger) *socketio.Client
	newRedis     func(ctx context.Context, cfg *config.Config) (*redis.Client, error)
	newJournal   func(ctx context.Context, cfg *config.Config) (*pgjournal.Storage, error)
	newProducer  func(cfg *config.Config) *kafka.Producer
	newNotifier  func(ctx context.Context, cfg *config.Config, lg zerolog.Logger) (tracker.Notifier, error)
	newEstimator func(cfg *config.Config) (bookings.Estimator, error)

	onListen func(addr string)
}

func defaultDaemonFactories() daemonFactories {
	return daemonFactories{
		newBackend: func(cfg *config.Config) backend.Client {
			// fake - локальный сценарный бэкенд для демо и разработки UI.
			if cfg.Backend.Mode == "fake" {
				return fake.New()
			}
			return restv1.New(cfg.Backend.BaseURL, backend.StaticToken(cfg.Backend.Token),
				restv1.WithPaths(cfg.Backend.Paths),
				restv1.WithHTTPClient(&http.Client{Timeout: cfg.Backend.Timeout()}),
			)
		},
		newSocket: func(cfg *config.Config, lg zerolog.Logger) *socketio.Client {
			if cfg.Socket.URL == "" {
				return nil
			}
			return socketio.New(socketio.Config{
				URL:       cfg.Socket.URL,
				Path:      cfg.Socket.Path,
				Namespace: cfg.Socket.Namespace,
				UserType:  cfg.Socket.UserType,
				UserID:    cfg.Socket.UserID,
			}, socketio.WithLogger(lg.With().Str("component", "socketio").Logger()))
		},
		newRedis: func(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
			if !cfg.Redis.Enabled() {
				return nil, nil
			}
			return rediscache.Connect(ctx, rediscache.Config{
				Addr:     cfg.Redis.Addr(),
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		},
		newJournal: func(ctx context.Context, cfg *config.Config) (*pgjournal.Storage, error) {
			if !cfg.Database.Enabled() {
				return nil, nil
			}
			return pgjournal.New(ctx, cfg.Database.DSN())
		},
		newProducer: func(cfg *config.Config) *kafka.Producer {
			k := cfg.Kafka
			if !k.Enabled() || (k.TransitionsTopic == "" && k.LocationsTopic == "" && k.EndsTopic == "") {
				return nil
			}
			return kafka.NewProducer(k.Brokers, kafka.Topics{
				Transitions: k.TransitionsTopic,
				Locations:   k.LocationsTopic,
				Ends:        k.EndsTopic,
			})
		},
		newNotifier: func(ctx context.Context, cfg *config.Config, lg zerolog.Logger) (tracker.Notifier, error) {
			logN := notify.NewLogNotifier(lg.With().Str("component", "notify").Logger())
			if cfg.Firebase.ProjectID == "" {
				return logN, nil
			}
			fcmN, err := fcm.New(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, lg)
			if err != nil {
				return nil, err
			}
			return notify.Fanout{logN, fcmN}, nil
		},
		newEstimator: func(cfg *config.Config) (bookings.Estimator, error) {
			if cfg.Maps.APIKey == "" {
				return nil, nil
			}
			return directions.New(cfg.Maps.APIKey)
		},
	}
}

// RunRideTracker hosts tracking sessions and serves the HTTP API until ctx is
// done, then stops every session and closes the transports.
func RunRideTracker(ctx context.Context, cfg *config.Config, f daemonFactories, lg zerolog.Logger) error {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	be := f.newBackend(cfg)

	socket := f.newSocket(cfg, lg)
	hub := push.NewHub()
	if socket != nil {
		hub = socket.Hub
	}

	var (
		ready       []readyCheck
		sinks       []tracker.Sink
		rateLimiter poller.RateLimiter
		svcOpts     = []bookings.Option{bookings.WithLogger(lg.With().Str("component", "bookings").Logger())}
	)

	rdb, err := f.newRedis(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	if rdb != nil {
		defer rdb.Close()
		rateLimiter = rediscache.NewRateLimiter(rdb)
		snaps := rediscache.NewSnapshots(rediscache.New(rdb), cfg.Tracker.SnapshotTTL())
		sinks = append(sinks, m.Instrument("redis", snaps))
		svcOpts = append(svcOpts, bookings.WithSnapshots(snaps))
		ready = append(ready, readyCheck{name: "redis", check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
	}

	journal, err := f.newJournal(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	if journal != nil {
		defer journal.Close()
		sinks = append(sinks, m.Instrument("postgres", journal))
		svcOpts = append(svcOpts, bookings.WithJournal(journal))
		ready = append(ready, readyCheck{name: "postgres", check: journal.Ping})
	}

	if producer := f.newProducer(cfg); producer != nil {
		defer func() {
			if err := producer.Close(); err != nil {
				lg.Warn().Err(err).Msg("close kafka producer")
			}
		}()
		sinks = append(sinks, m.Instrument("kafka", producer))
	}
	sinks = append(sinks, m)

	notifier, err := f.newNotifier(ctx, cfg, lg)
	if err != nil {
		return errors.Wrap(err, "init notifier")
	}
	estimator, err := f.newEstimator(cfg)
	if err != nil {
		return errors.Wrap(err, "init directions")
	}
	if estimator != nil {
		svcOpts = append(svcOpts, bookings.WithEstimator(estimator))
	}

	registry := tracker.NewRegistry(tracker.Deps{
		Backend:     be,
		Conn:        hub,
		Notifier:    notifier,
		RateLimiter: rateLimiter,
		Observer:    m,
		Logger:      lg.With().Str("component", "tracker").Logger(),
	}, cfg.Tracker.Settings(), sinks,
		tracker.WithPruneAfter(cfg.Tracker.PruneAfter()),
		tracker.WithActiveGauge(m.SetActive),
	)

	// Транспорты останавливаются и при падении HTTP-сервера.
	runCtx, stopTransports := context.WithCancel(ctx)
	defer stopTransports()

	var wg sync.WaitGroup
	// Реестр живёт дольше входящих транспортов: после Close он ещё сливает
	// финальные обновления в синки.
	regCtx, regCancel := context.WithCancel(context.Background())
	defer regCancel()
	regDone := make(chan struct{})
	go func() {
		defer close(regDone)
		_ = registry.Run(regCtx)
	}()

	if socket != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := socket.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error().Err(err).Msg("socket client stopped")
			}
		}()
		ready = append(ready, readyCheck{name: "socket", check: func(context.Context) error {
			if !socket.Connected() {
				return errors.New("not connected")
			}
			return nil
		}})
	}

	if cfg.Kafka.Enabled() && cfg.Kafka.EventsTopic != "" {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.ConsumerGroup)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer consumer.Close()
			runKafkaConsumer(runCtx, consumer, hub, lg.With().Str("component", "kafka").Logger())
		}()
	}

	if cfg.RabbitMQ.URL != "" {
		rl := lg.With().Str("component", "rabbitmq").Logger()
		consumer := rabbit.NewConsumer(rabbit.Config{
			URL:         cfg.RabbitMQ.URL,
			Exchange:    cfg.RabbitMQ.Exchange,
			Queue:       cfg.RabbitMQ.Queue,
			RoutingKeys: cfg.RabbitMQ.RoutingKeys,
		}, rabbit.WithLogger(rl), rabbit.WithReconnectHook(hub.Reconnected))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(runCtx, hub); err != nil && !errors.Is(err, context.Canceled) {
				rl.Error().Err(err).Msg("rabbitmq consumer stopped")
			}
		}()
	}

	svc := bookings.New(registry, be, svcOpts...)
	api := sessions_api.New(svc, sessions_api.WithLogger(lg.With().Str("component", "api").Logger()))

	lg.Info().
		Str("addr", cfg.HTTP.Addr).
		Str("backend", cfg.Backend.Mode).
		Int("sinks", len(sinks)).
		Msg("ride tracker started")

	httpErr := runDaemonHTTPServer(ctx, daemonHTTPOpts{
		httpAddr:    cfg.HTTP.Addr,
		swaggerPath: cfg.HTTP.SwaggerFile,
		onListen:    f.onListen,
		api:         api.Routes(cfg.HTTP.JWTSecret),
		metrics:     promReg,
		ready:       ready,
		registry:    registry,
		cfg:         cfg,
	})

	lg.Info().Int("active", registry.Active()).Msg("shutting down")
	stopTransports()
	wg.Wait()
	registry.Close()
	regCancel()
	<-regDone

	if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
		return httpErr
	}
	return ctx.Err()
}

func runKafkaConsumer(ctx context.Context, c *kafka.Consumer, hub *push.Hub, lg zerolog.Logger) {
	handler := kafka.DispatchTo(hub, lg)
	for {
		err := c.Consume(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		lg.Warn().Err(err).Msg("kafka consumer failed, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}
