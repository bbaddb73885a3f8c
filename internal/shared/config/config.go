package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the process configuration read from the environment. A .env file in
// the working directory is loaded first when present.
type Config struct {
	HTTPAddr    string   `envconfig:"HTTP_ADDR" default:":8081"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`

	// postgres or memory
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	DB            DB     `envconfig:"DB"`

	JWTSecret     string        `envconfig:"JWT_SECRET" required:"true"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	WSTokenTTL    time.Duration `envconfig:"WS_TOKEN_TTL" default:"60s"`
	WSSendBuffer  int           `envconfig:"WS_SEND_BUFFER" default:"256"`
	ResumeMaxRows int           `envconfig:"WS_RESUME_MAX_EVENTS" default:"500"`

	// empty disables the Redis backed ws-token guard
	RedisURL string `envconfig:"REDIS_URL"`

	// empty disables the outbox relay
	RabbitMQURL      string        `envconfig:"RABBITMQ_URL"`
	RabbitExchange   string        `envconfig:"RABBITMQ_EXCHANGE" default:"auction.events"`
	OutboxInterval   time.Duration `envconfig:"OUTBOX_INTERVAL" default:"500ms"`
	OutboxBatchSize  int           `envconfig:"OUTBOX_BATCH_SIZE" default:"50"`
	LockTimeout      time.Duration `envconfig:"DB_LOCK_TIMEOUT" default:"3s"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"1s"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	SoftCloseTrigger int           `envconfig:"SOFT_CLOSE_TRIGGER_SEC" default:"180"`
	SoftCloseExtend  int           `envconfig:"SOFT_CLOSE_EXTEND_SEC" default:"180"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// DB holds the discrete connection settings used when DATABASE_URL is empty,
// read from DB_HOST, DB_PORT and so on.
type DB struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Port     string `envconfig:"PORT" default:"5432"`
	User     string `envconfig:"USER" default:"postgres"`
	Password string `envconfig:"PASSWORD"`
	Name     string `envconfig:"NAME" default:"auctions"`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
}

// Load reads .env (if any) and the environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}
	if c.StorageDriver != "postgres" && c.StorageDriver != "memory" {
		return c, fmt.Errorf("load config: unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	return c, nil
}

// PostgresDSN returns DATABASE_URL or builds one from the DB_* settings.
func (c Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode,
	)
}
