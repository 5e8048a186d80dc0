package config

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/backend/restv1"
	"github.com/BearBump/RideTrack/internal/services/supervisor"
	"github.com/BearBump/RideTrack/internal/services/tracker"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-envconfig"
	"go.yaml.in/yaml/v4"
)

// EnvPrefix prefixes every environment override, e.g. RIDETRACK_BACKEND_BASE_URL.
const EnvPrefix = "RIDETRACK_"

type Config struct {
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Backend  BackendConfig  `yaml:"backend"`
	Socket   SocketConfig   `yaml:"socket"`
	Tracker  TrackerConfig  `yaml:"tracker"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	RabbitMQ RabbitConfig   `yaml:"rabbitmq"`
	Firebase FirebaseConfig `yaml:"firebase"`
	Maps     MapsConfig     `yaml:"maps"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL, overwrite" validate:"omitempty,oneof=trace debug info warn warning error"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY, overwrite"`
}

type HTTPConfig struct {
	Addr        string `yaml:"addr" env:"HTTP_ADDR, overwrite" validate:"required"`
	JWTSecret   string `yaml:"jwt_secret" env:"JWT_SECRET, overwrite" validate:"required,min=16"`
	SwaggerFile string `yaml:"swagger_file" env:"HTTP_SWAGGER_FILE, overwrite"`
}

type BackendConfig struct {
	// Mode is "rest" for the real API or "fake" for the scripted demo backend.
	Mode           string       `yaml:"mode" env:"BACKEND_MODE, overwrite" validate:"omitempty,oneof=rest fake"`
	BaseURL        string       `yaml:"base_url" env:"BACKEND_BASE_URL, overwrite" validate:"omitempty,url"`
	Token          string       `yaml:"token" env:"BACKEND_TOKEN, overwrite"`
	TimeoutSeconds int          `yaml:"timeout_seconds" env:"BACKEND_TIMEOUT_SECONDS, overwrite" validate:"gte=0"`
	Paths          restv1.Paths `yaml:"paths"`
}

type SocketConfig struct {
	URL       string `yaml:"url" env:"SOCKET_URL, overwrite" validate:"omitempty,url"`
	Path      string `yaml:"path" env:"SOCKET_PATH, overwrite"`
	Namespace string `yaml:"namespace" env:"SOCKET_NAMESPACE, overwrite"`
	UserType  string `yaml:"user_type" env:"SOCKET_USER_TYPE, overwrite"`
	UserID    string `yaml:"user_id" env:"SOCKET_USER_ID, overwrite"`
}

type TrackerConfig struct {
	PollIntervalSeconds      int   `yaml:"poll_interval_seconds" env:"TRACKER_POLL_INTERVAL_SECONDS, overwrite" validate:"gte=0"`
	AssignmentTimeoutSeconds int   `yaml:"assignment_timeout_seconds" env:"TRACKER_ASSIGNMENT_TIMEOUT_SECONDS, overwrite" validate:"gte=0"`
	RateLimitPerMinute       int64 `yaml:"rate_limit_per_minute" env:"TRACKER_RATE_LIMIT_PER_MINUTE, overwrite" validate:"gte=0"`
	SubscriberBuffer         int   `yaml:"subscriber_buffer" env:"TRACKER_SUBSCRIBER_BUFFER, overwrite" validate:"gte=0"`
	NotifyTimeoutSeconds     int   `yaml:"notify_timeout_seconds" env:"TRACKER_NOTIFY_TIMEOUT_SECONDS, overwrite" validate:"gte=0"`
	PruneAfterSeconds        int   `yaml:"prune_after_seconds" env:"TRACKER_PRUNE_AFTER_SECONDS, overwrite" validate:"gte=0"`
	SnapshotTTLSeconds       int   `yaml:"snapshot_ttl_seconds" env:"TRACKER_SNAPSHOT_TTL_SECONDS, overwrite" validate:"gte=0"`

	// Backoff ladder for consecutive failed polls. Defaults: 10/15/30/60 seconds.
	Backoff1Seconds      int `yaml:"backoff_1_seconds" env:"TRACKER_BACKOFF_1_SECONDS, overwrite" validate:"gte=0"`
	Backoff2Seconds      int `yaml:"backoff_2_seconds" env:"TRACKER_BACKOFF_2_SECONDS, overwrite" validate:"gte=0"`
	Backoff3Seconds      int `yaml:"backoff_3_seconds" env:"TRACKER_BACKOFF_3_SECONDS, overwrite" validate:"gte=0"`
	Backoff4Seconds      int `yaml:"backoff_4_seconds" env:"TRACKER_BACKOFF_4_SECONDS, overwrite" validate:"gte=0"`
	BackoffJitterSeconds int `yaml:"backoff_jitter_seconds" env:"TRACKER_BACKOFF_JITTER_SECONDS, overwrite" validate:"gte=0"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" env:"DATABASE_HOST, overwrite"`
	Port     int    `yaml:"port" env:"DATABASE_PORT, overwrite"`
	Username string `yaml:"username" env:"DATABASE_USERNAME, overwrite"`
	Password string `yaml:"password" env:"DATABASE_PASSWORD, overwrite"`
	DBName   string `yaml:"name" env:"DATABASE_NAME, overwrite"`
	SSLMode  string `yaml:"ssl_mode" env:"DATABASE_SSL_MODE, overwrite"`
}

type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST, overwrite"`
	Port     int    `yaml:"port" env:"REDIS_PORT, overwrite"`
	Password string `yaml:"password" env:"REDIS_PASSWORD, overwrite"`
	DB       int    `yaml:"db" env:"REDIS_DB, overwrite" validate:"gte=0"`
}

type KafkaConfig struct {
	Brokers          []string `yaml:"brokers" env:"KAFKA_BROKERS, overwrite"`
	EventsTopic      string   `yaml:"events_topic" env:"KAFKA_EVENTS_TOPIC, overwrite"`
	ConsumerGroup    string   `yaml:"consumer_group" env:"KAFKA_CONSUMER_GROUP, overwrite"`
	TransitionsTopic string   `yaml:"transitions_topic" env:"KAFKA_TRANSITIONS_TOPIC, overwrite"`
	LocationsTopic   string   `yaml:"locations_topic" env:"KAFKA_LOCATIONS_TOPIC, overwrite"`
	EndsTopic        string   `yaml:"ends_topic" env:"KAFKA_ENDS_TOPIC, overwrite"`
}

type RabbitConfig struct {
	URL         string   `yaml:"url" env:"RABBITMQ_URL, overwrite"`
	Exchange    string   `yaml:"exchange" env:"RABBITMQ_EXCHANGE, overwrite"`
	Queue       string   `yaml:"queue" env:"RABBITMQ_QUEUE, overwrite"`
	RoutingKeys []string `yaml:"routing_keys" env:"RABBITMQ_ROUTING_KEYS, overwrite"`
}

type FirebaseConfig struct {
	ProjectID       string `yaml:"project_id" env:"FIREBASE_PROJECT_ID, overwrite"`
	CredentialsFile string `yaml:"credentials_file" env:"FIREBASE_CREDENTIALS_FILE, overwrite"`
}

type MapsConfig struct {
	APIKey string `yaml:"api_key" env:"MAPS_API_KEY, overwrite"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal YAML")
	}

	return &config, nil
}

// Load reads the YAML file (when filename is set), applies RIDETRACK_*
// environment overrides and validates the result.
func Load(ctx context.Context, filename string) (*Config, error) {
	return LoadWith(ctx, filename, envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, filename string, l envconfig.Lookuper) (*Config, error) {
	cfg := &Config{}
	if filename != "" {
		var err error
		if cfg, err = LoadConfig(filename); err != nil {
			return nil, err
		}
	}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: envconfig.PrefixLookuper(EnvPrefix, l),
	}); err != nil {
		return nil, errors.Wrap(err, "apply env overrides")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Backend.Mode == "" {
		c.Backend.Mode = "rest"
	}
	if c.Socket.UserType == "" {
		c.Socket.UserType = "user"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Kafka.ConsumerGroup == "" {
		c.Kafka.ConsumerGroup = "ride-tracker"
	}
}

func (c DatabaseConfig) Enabled() bool { return c.Host != "" }

func (c DatabaseConfig) DSN() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		c.Username, c.Password, net.JoinHostPort(c.Host, strconv.Itoa(port)), c.DBName, c.SSLMode)
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 6379
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

func (c BackendConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return seconds(c.TimeoutSeconds)
}

// Settings converts the tracker section into session settings. Zero values
// fall back to the tracker defaults.
func (c TrackerConfig) Settings() tracker.Settings {
	def := tracker.DefaultSettings()
	st := tracker.Settings{
		PollInterval:       orDefault(c.PollIntervalSeconds, def.PollInterval),
		AssignmentTimeout:  orDefault(c.AssignmentTimeoutSeconds, def.AssignmentTimeout),
		RateLimitPerMinute: c.RateLimitPerMinute,
		SubscriberBuffer:   def.SubscriberBuffer,
		NotifyTimeout:      orDefault(c.NotifyTimeoutSeconds, def.NotifyTimeout),
		Retry: supervisor.RetryConfig{
			Backoff1: orDefault(c.Backoff1Seconds, def.Retry.Backoff1),
			Backoff2: orDefault(c.Backoff2Seconds, def.Retry.Backoff2),
			Backoff3: orDefault(c.Backoff3Seconds, def.Retry.Backoff3),
			Backoff4: orDefault(c.Backoff4Seconds, def.Retry.Backoff4),
			Jitter:   seconds(c.BackoffJitterSeconds),
		},
	}
	if c.SubscriberBuffer > 0 {
		st.SubscriberBuffer = c.SubscriberBuffer
	}
	return st
}

func (c TrackerConfig) PruneAfter() time.Duration {
	return orDefault(c.PruneAfterSeconds, 10*time.Minute)
}

func (c TrackerConfig) SnapshotTTL() time.Duration {
	return orDefault(c.SnapshotTTLSeconds, 10*time.Minute)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func orDefault(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return seconds(n)
}
