package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const defaultJWTSecret = "change-me-jwt-secret"

type Config struct {
	AppEnv   string `env:"APP_ENV" env-default:"dev"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`

	HTTP     HTTP
	Database Database
	Auth     Auth
	Feed     Feed
	Unread   Unread
	Notify   Notify
	Payment  Payment
}

type HTTP struct {
	Port            string        `env:"PORT" env-default:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" env-default:"15s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	CORSOrigins     []string      `env:"CORS_ORIGINS" env-separator:","`
}

type Database struct {
	URL             string        `env:"DATABASE_URL" env-default:"marketplace.db"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`
	LogSQL          bool          `env:"DB_LOG_SQL" env-default:"false"`
}

type Auth struct {
	JWTSecret string        `env:"JWT_SECRET" env-default:"change-me-jwt-secret"`
	JWTTTL    time.Duration `env:"JWT_TTL" env-default:"24h"`
}

// Feed selects the change feed. An empty RedisURL keeps it in process.
type Feed struct {
	RedisURL string `env:"REDIS_URL"`
}

type Unread struct {
	TTL      time.Duration `env:"UNREAD_CACHE_TTL" env-default:"1s"`
	Debounce time.Duration `env:"UNREAD_DEBOUNCE" env-default:"250ms"`
	MaxWait  time.Duration `env:"UNREAD_MAX_WAIT" env-default:"2s"`
}

type Notify struct {
	AMQPURL         string        `env:"AMQP_URL"`
	AMQPExchange    string        `env:"AMQP_EXCHANGE" env-default:"notifications"`
	RetentionDays   int           `env:"NOTIFICATION_RETENTION_DAYS" env-default:"90"`
	CleanupInterval time.Duration `env:"NOTIFICATION_CLEANUP_INTERVAL" env-default:"24h"`
}

type Payment struct {
	Currency            string `env:"PAYMENT_CURRENCY" env-default:"RUB"`
	RobokassaLogin      string `env:"ROBOKASSA_MERCHANT_LOGIN"`
	RobokassaPassword1  string `env:"ROBOKASSA_PASSWORD1"`
	RobokassaPassword2  string `env:"ROBOKASSA_PASSWORD2"`
	RobokassaBaseURL    string `env:"ROBOKASSA_BASE_URL"`
	RobokassaResultURL  string `env:"ROBOKASSA_RESULT_URL"`
	RobokassaSuccessURL string `env:"ROBOKASSA_SUCCESS_URL"`
	RobokassaIsTest     bool   `env:"ROBOKASSA_IS_TEST" env-default:"true"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}
	cfg.AppEnv = strings.ToLower(strings.TrimSpace(cfg.AppEnv))

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProd reports whether the service runs in a production-like environment.
func (c *Config) IsProd() bool {
	return isProdLike(c.AppEnv)
}

func validateConfig(cfg *Config) error {
	if cfg.Auth.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be > 0")
	}
	if cfg.Unread.TTL <= 0 {
		return fmt.Errorf("UNREAD_CACHE_TTL must be > 0")
	}
	if cfg.Unread.Debounce <= 0 {
		return fmt.Errorf("UNREAD_DEBOUNCE must be > 0")
	}
	if cfg.Unread.MaxWait < cfg.Unread.Debounce {
		return fmt.Errorf("UNREAD_MAX_WAIT must not be shorter than UNREAD_DEBOUNCE")
	}
	if cfg.Notify.RetentionDays <= 0 {
		return fmt.Errorf("NOTIFICATION_RETENTION_DAYS must be > 0")
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL must not be empty")
	}

	if isProdLike(cfg.AppEnv) {
		if isEmptyOrDefault(cfg.Auth.JWTSecret, defaultJWTSecret) {
			return fmt.Errorf("in prod/release JWT_SECRET must be set and not default")
		}
		if !strings.HasPrefix(cfg.Database.URL, "postgres") {
			return fmt.Errorf("in prod/release DATABASE_URL must point to PostgreSQL")
		}
		if cfg.Payment.RobokassaIsTest {
			return fmt.Errorf("in prod/release ROBOKASSA_IS_TEST must be false")
		}
	}
	return nil
}

func isProdLike(env string) bool {
	env = strings.ToLower(strings.TrimSpace(env))
	return env == "prod" || env == "production" || env == "release"
}

func isEmptyOrDefault(v, def string) bool {
	trimmed := strings.TrimSpace(v)
	return trimmed == "" || trimmed == def
}
