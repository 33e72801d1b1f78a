package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Webhook      WebhookConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ToolConfig is the subset loaded by operator commands that only talk to the
// database and therefore do not need Stripe credentials.
type ToolConfig struct {
	App     AppConfig
	DB      DBConfig
	Webhook WebhookConfig
}

func LoadTool() (*ToolConfig, error) {
	var cfg ToolConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"JEWELCRAFT_APP_ENV" required:"true"`
	Port         string `envconfig:"JEWELCRAFT_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"JEWELCRAFT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"JEWELCRAFT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"JEWELCRAFT_DB_DSN"`

	LegacyHost     string `envconfig:"JEWELCRAFT_DB_HOST"`
	LegacyPort     int    `envconfig:"JEWELCRAFT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"JEWELCRAFT_DB_USER"`
	LegacyPassword string `envconfig:"JEWELCRAFT_DB_PASSWORD"`
	LegacyName     string `envconfig:"JEWELCRAFT_DB_NAME"`
	LegacySSLMode  string `envconfig:"JEWELCRAFT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"JEWELCRAFT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"JEWELCRAFT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"JEWELCRAFT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"JEWELCRAFT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig is optional; leaving both URL and Address empty disables the
// webhook idempotency cache.
type RedisConfig struct {
	URL          string        `envconfig:"JEWELCRAFT_REDIS_URL"`
	Address      string        `envconfig:"JEWELCRAFT_REDIS_ADDR"`
	Password     string        `envconfig:"JEWELCRAFT_REDIS_PASSWORD"`
	DB           int           `envconfig:"JEWELCRAFT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"JEWELCRAFT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"JEWELCRAFT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"JEWELCRAFT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"JEWELCRAFT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"JEWELCRAFT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"JEWELCRAFT_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	Secret    string        `envconfig:"JEWELCRAFT_STRIPE_WEBHOOK_SECRET" required:"true"`
	Env       string        `envconfig:"JEWELCRAFT_STRIPE_ENV" default:"test"`
	Tolerance time.Duration `envconfig:"JEWELCRAFT_STRIPE_WEBHOOK_TOLERANCE" default:"300s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type WebhookConfig struct {
	MaxBodyBytes   int64         `envconfig:"JEWELCRAFT_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	IdempotencyTTL time.Duration `envconfig:"JEWELCRAFT_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	ReplayBatch    int           `envconfig:"JEWELCRAFT_WEBHOOK_REPLAY_BATCH" default:"100"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
