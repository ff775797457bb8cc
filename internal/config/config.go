package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Notification NotificationConfig
	WhatsApp     WhatsAppConfig
	Realtime     RealtimeConfig
	Resolution   ResolutionConfig
	Queue        QueueConfig
	Idempotency  IdempotencyConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN switches the
// service to in-memory stores.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level       string
	Development bool
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	BootstrapAdminEmail   string
	BootstrapAdminPass    string
}

// NotificationConfig holds outbound notification hooks.
type NotificationConfig struct {
	WebhookURL string
}

// WhatsAppConfig controls the WhatsApp transport.
type WhatsAppConfig struct {
	Enabled   bool
	ChannelID string
	StoreDSN  string
	MediaDir  string
	LogLevel  string
}

// RealtimeConfig tunes socket connections.
type RealtimeConfig struct {
	SendBuffer        int
	PingPeriodSeconds int
}

// ResolutionConfig tunes ticket resolution and the keyed lock.
type ResolutionConfig struct {
	ReopenWindowMinutes      int
	LockRetentionSeconds     int
	LockSweepIntervalSeconds int
}

// QueueConfig configures the asynq background queue.
type QueueConfig struct {
	Enabled     bool
	Concurrency int
	Queues      map[string]int
}

// IdempotencyConfig controls inbound de-duplication.
type IdempotencyConfig struct {
	TTLSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "helpdesk-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnv("APP_ENV", "development") == "development",
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			BootstrapAdminEmail:   os.Getenv("AUTH_BOOTSTRAP_ADMIN_EMAIL"),
			BootstrapAdminPass:    os.Getenv("AUTH_BOOTSTRAP_ADMIN_PASSWORD"),
		},
		Notification: NotificationConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		WhatsApp: WhatsAppConfig{
			Enabled:   getEnvAsBool("WHATSAPP_ENABLED", false),
			ChannelID: getEnv("WHATSAPP_CHANNEL_ID", "1"),
			StoreDSN:  getEnv("WHATSAPP_STORE_DSN", os.Getenv("POSTGRES_DSN")),
			MediaDir:  getEnv("WHATSAPP_MEDIA_DIR", "public"),
			LogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "INFO"),
		},
		Realtime: RealtimeConfig{
			SendBuffer:        getEnvAsInt("REALTIME_SEND_BUFFER", 128),
			PingPeriodSeconds: getEnvAsInt("REALTIME_PING_PERIOD_SECONDS", 30),
		},
		Resolution: ResolutionConfig{
			ReopenWindowMinutes:      getEnvAsInt("TICKET_REOPEN_WINDOW_MINUTES", 120),
			LockRetentionSeconds:     getEnvAsInt("TICKET_LOCK_RETENTION_SECONDS", 5),
			LockSweepIntervalSeconds: getEnvAsInt("TICKET_LOCK_SWEEP_INTERVAL_SECONDS", 10),
		},
		Queue: QueueConfig{
			Enabled:     getEnvAsBool("QUEUE_ENABLED", false),
			Concurrency: getEnvAsInt("ASYNQ_CONCURRENCY", 10),
			Queues:      parseQueueWeights(getEnv("ASYNQ_QUEUES", "default=1")),
		},
		Idempotency: IdempotencyConfig{
			TTLSeconds: getEnvAsInt("IDEMPOTENCY_TTL_SECONDS", 600),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// ReopenWindow is how long a closed individual ticket stays eligible for reopening.
func (r ResolutionConfig) ReopenWindow() time.Duration {
	return time.Duration(r.ReopenWindowMinutes) * time.Minute
}

// LockRetention is how long an idle keyed lock entry survives.
func (r ResolutionConfig) LockRetention() time.Duration {
	return time.Duration(r.LockRetentionSeconds) * time.Second
}

// LockSweepInterval is how often idle lock entries are swept.
func (r ResolutionConfig) LockSweepInterval() time.Duration {
	return time.Duration(r.LockSweepIntervalSeconds) * time.Second
}

// PingPeriod is the keepalive interval on server sockets.
func (r RealtimeConfig) PingPeriod() time.Duration {
	return time.Duration(r.PingPeriodSeconds) * time.Second
}

// TTL is how long an inbound message id stays claimed.
func (i IdempotencyConfig) TTL() time.Duration {
	return time.Duration(i.TTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

// parseQueueWeights parses strings like "critical=6,default=3,low=1".
func parseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}
