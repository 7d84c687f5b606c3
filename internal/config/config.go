package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

type DB struct {
	URL             string        `env:"DATABASE_URL,required,notEmpty"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"16"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"8"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"15m"`
}

type HTTP struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// Audit tunes the capture pipeline. The same settings apply to the broker
// forwarders' queues.
type Audit struct {
	Workers             int           `env:"AUDIT_WORKERS" envDefault:"4"`
	QueueSize           int           `env:"AUDIT_QUEUE_SIZE" envDefault:"1024"`
	DropIfFull          bool          `env:"AUDIT_DROP_IF_FULL" envDefault:"true"`
	MaxAttempts         int           `env:"AUDIT_MAX_ATTEMPTS" envDefault:"5"`
	InitialBackoff      time.Duration `env:"AUDIT_INITIAL_BACKOFF" envDefault:"200ms"`
	MaxBackoff          time.Duration `env:"AUDIT_MAX_BACKOFF" envDefault:"10s"`
	AttemptTimeout      time.Duration `env:"AUDIT_ATTEMPT_TIMEOUT" envDefault:"5s"`
	SuppressNoopUpdates bool          `env:"AUDIT_SUPPRESS_NOOP_UPDATES" envDefault:"false"`
}

type Kafka struct {
	BootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	Topic            string `env:"KAFKA_CHANGES_TOPIC" envDefault:"task-service.changes"`
}

type NATS struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"tasks.changes"`
}

type Redis struct {
	URL    string `env:"REDIS_URL"`
	Stream string `env:"REDIS_CHANGES_STREAM" envDefault:"task-service:changes"`
	MaxLen int64  `env:"REDIS_STREAM_MAXLEN" envDefault:"100000"`
}

// Auth configures how the acting user is identified. Without a secret the
// X-User-ID header set by the gateway is trusted.
type Auth struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
}

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Timezone string `env:"APP_TIMEZONE" envDefault:"UTC"`

	DB    DB
	HTTP  HTTP
	Audit Audit
	Kafka Kafka
	NATS  NATS
	Redis Redis
	Auth  Auth
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}
	if c.Audit.Workers < 1 {
		return fmt.Errorf("AUDIT_WORKERS must be at least 1, got %d", c.Audit.Workers)
	}
	if c.Audit.QueueSize < c.Audit.Workers {
		return fmt.Errorf("AUDIT_QUEUE_SIZE must be at least AUDIT_WORKERS (%d), got %d", c.Audit.Workers, c.Audit.QueueSize)
	}
	if c.Redis.MaxLen < 0 {
		return fmt.Errorf("REDIS_STREAM_MAXLEN must not be negative, got %d", c.Redis.MaxLen)
	}
	if c.Audit.MaxAttempts < 1 {
		return fmt.Errorf("AUDIT_MAX_ATTEMPTS must be at least 1, got %d", c.Audit.MaxAttempts)
	}
	return nil
}

// Location returns the time zone used to render timestamps.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
