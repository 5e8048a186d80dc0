package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BearBump/RideTrack/config"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type readyCheck struct {
	name  string
	check func(ctx context.Context) error
}

type daemonHTTPOpts struct {
	httpAddr    string
	swaggerPath string
	onListen    func(httpAddr string)

	api      http.Handler
	metrics  prometheus.Gatherer
	ready    []readyCheck
	registry *tracker.Registry
	cfg      *config.Config
}

func runDaemonHTTPServer(ctx context.Context, opts daemonHTTPOpts) error {
	if opts.httpAddr == "" {
		opts.httpAddr = ":8080"
	}
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for _, rc := range opts.ready {
			if err := rc.check(ctx); err != nil {
				failed[rc.name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "not ready", "failed": failed})
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	if opts.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.metrics, promhttp.HandlerOpts{}))
	}

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.registry == nil {
			_, _ = w.Write([]byte(`{"error":"registry not wired"}`))
			return
		}
		views := opts.registry.List()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sessions": len(views),
			"active":   opts.registry.Active(),
			"polling":  opts.registry.PollTotals(),
		})
	})

	r.Get("/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.cfg == nil {
			_, _ = w.Write([]byte(`{"error":"config not wired"}`))
			return
		}
		// Avoid dumping secrets; show only operational settings.
		c := opts.cfg
		st := c.Tracker.Settings()
		out := map[string]any{
			"backendMode":              c.Backend.Mode,
			"backendBaseUrl":           c.Backend.BaseURL,
			"pollIntervalSeconds":      st.PollInterval.Seconds(),
			"assignmentTimeoutSeconds": st.AssignmentTimeout.Seconds(),
			"rateLimitPerMinute":       st.RateLimitPerMinute,
			"subscriberBuffer":         st.SubscriberBuffer,
			"pruneAfterSeconds":        c.Tracker.PruneAfter().Seconds(),
			"snapshotTtlSeconds":       c.Tracker.SnapshotTTL().Seconds(),
			"socketEnabled":            c.Socket.URL != "",
			"redisEnabled":             c.Redis.Enabled(),
			"postgresEnabled":          c.Database.Enabled(),
			"kafkaEnabled":             c.Kafka.Enabled(),
			"rabbitmqEnabled":          c.RabbitMQ.URL != "",
			"fcmEnabled":               c.Firebase.ProjectID != "",
			"directionsEnabled":        c.Maps.APIKey != "",
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	if opts.api != nil {
		r.Mount("/v1", opts.api)
	}

	if opts.swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, opts.swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(opts.swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = lis.Close()
	}()

	return srv.Serve(lis)
}
