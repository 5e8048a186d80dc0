package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
http:
  addr: ":9090"
  jwt_secret: "0123456789abcdef0123"
backend:
  base_url: "https://api.example.com"
  token: "svc"
  paths:
    ride_status: "/api/v2/rides/%s/status"
socket:
  url: "https://socket.example.com"
  user_id: "tracker-1"
tracker:
  poll_interval_seconds: 8
  assignment_timeout_seconds: 90
  backoff_1_seconds: 12
database:
  host: "localhost"
  port: 5432
  username: "u"
  password: "p"
  name: "db"
kafka:
  brokers: ["localhost:9092"]
  events_topic: "booking.events"
  transitions_topic: "booking.transitions"
redis:
  host: "localhost"
  port: 6379
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sample))
	require.NoError(t, err)
	require.Equal(t, "u", cfg.Database.Username)
	require.Equal(t, "booking.transitions", cfg.Kafka.TransitionsTopic)
	require.Equal(t, 6379, cfg.Redis.Port)
	require.Equal(t, ":9090", cfg.HTTP.Addr)
	require.Equal(t, "/api/v2/rides/%s/status", cfg.Backend.Paths.RideStatus)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadWith_EnvOverrides(t *testing.T) {
	env := envconfig.MapLookuper(map[string]string{
		"RIDETRACK_HTTP_ADDR":                     ":7070",
		"RIDETRACK_TRACKER_POLL_INTERVAL_SECONDS": "15",
		"RIDETRACK_KAFKA_BROKERS":                 "k1:9092,k2:9092",
		"RIDETRACK_REDIS_PASSWORD":                "secret",
	})

	cfg, err := LoadWith(context.Background(), writeConfig(t, sample), env)
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.HTTP.Addr)
	require.Equal(t, 15, cfg.Tracker.PollIntervalSeconds)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "secret", cfg.Redis.Password)
	// не переопределённое остаётся из файла
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "rest", cfg.Backend.Mode)
	require.Equal(t, "disable", cfg.Database.SSLMode)
}

func TestLoadWith_EnvOnly(t *testing.T) {
	env := envconfig.MapLookuper(map[string]string{
		"RIDETRACK_JWT_SECRET":   "0123456789abcdef",
		"RIDETRACK_BACKEND_MODE": "fake",
	})
	cfg, err := LoadWith(context.Background(), "", env)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTP.Addr)
	require.Equal(t, "fake", cfg.Backend.Mode)
	require.False(t, cfg.Database.Enabled())
	require.False(t, cfg.Redis.Enabled())
	require.False(t, cfg.Kafka.Enabled())
}

func TestLoadWith_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "no jwt secret", env: map[string]string{}},
		{name: "short jwt secret", env: map[string]string{"RIDETRACK_JWT_SECRET": "short"}},
		{name: "bad backend mode", env: map[string]string{
			"RIDETRACK_JWT_SECRET": "0123456789abcdef", "RIDETRACK_BACKEND_MODE": "grpc",
		}},
		{name: "bad backend url", env: map[string]string{
			"RIDETRACK_JWT_SECRET": "0123456789abcdef", "RIDETRACK_BACKEND_BASE_URL": "not a url",
		}},
		{name: "negative interval", env: map[string]string{
			"RIDETRACK_JWT_SECRET": "0123456789abcdef", "RIDETRACK_TRACKER_POLL_INTERVAL_SECONDS": "-1",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWith(context.Background(), "", envconfig.MapLookuper(tt.env))
			require.Error(t, err)
		})
	}
}

func TestTrackerSettings(t *testing.T) {
	st := TrackerConfig{PollIntervalSeconds: 8, AssignmentTimeoutSeconds: 90, Backoff1Seconds: 12}.Settings()
	require.Equal(t, 8*time.Second, st.PollInterval)
	require.Equal(t, 90*time.Second, st.AssignmentTimeout)
	require.Equal(t, 12*time.Second, st.Retry.Backoff1)
	require.Equal(t, 15*time.Second, st.Retry.Backoff2)
	require.Equal(t, 64, st.SubscriberBuffer)

	def := TrackerConfig{}.Settings()
	require.Equal(t, 10*time.Second, def.PollInterval)
	require.Equal(t, 120*time.Second, def.AssignmentTimeout)
	require.Equal(t, 10*time.Minute, TrackerConfig{}.PruneAfter())
}

func TestDSNAndAddr(t *testing.T) {
	db := DatabaseConfig{Host: "db", Username: "u", Password: "p", DBName: "rides", SSLMode: "disable"}
	require.Equal(t, "postgres://u:p@db:5432/rides?sslmode=disable", db.DSN())
	require.Equal(t, "cache:6379", RedisConfig{Host: "cache"}.Addr())
	require.Equal(t, 20*time.Second, BackendConfig{}.Timeout())
}
