package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "LENDMARKET_DB_DSN"
	EnvDBHost = "LENDMARKET_DB_HOST"
	EnvDBUser = "LENDMARKET_DB_USER"
	EnvDBName = "LENDMARKET_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	PubSub       PubSubConfig
	Matching     MatchingConfig
	Valuation    ValuationConfig
	Outbox       OutboxConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
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

type AppConfig struct {
	Env          string `envconfig:"LENDMARKET_APP_ENV" required:"true"`
	Port         string `envconfig:"LENDMARKET_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LENDMARKET_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LENDMARKET_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LENDMARKET_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LENDMARKET_DB_DSN"`
	Driver string `envconfig:"LENDMARKET_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"LENDMARKET_DB_HOST"`
	LegacyPort     int    `envconfig:"LENDMARKET_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LENDMARKET_DB_USER"`
	LegacyPassword string `envconfig:"LENDMARKET_DB_PASSWORD"`
	LegacyName     string `envconfig:"LENDMARKET_DB_NAME"`
	LegacySSLMode  string `envconfig:"LENDMARKET_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LENDMARKET_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LENDMARKET_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LENDMARKET_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LENDMARKET_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LENDMARKET_REDIS_URL"`
	Address      string        `envconfig:"LENDMARKET_REDIS_ADDR"`
	Password     string        `envconfig:"LENDMARKET_REDIS_PASSWORD"`
	DB           int           `envconfig:"LENDMARKET_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LENDMARKET_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"LENDMARKET_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"LENDMARKET_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LENDMARKET_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LENDMARKET_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LENDMARKET_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LENDMARKET_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LENDMARKET_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	MarketplaceTopic        string `envconfig:"LENDMARKET_PUBSUB_MARKETPLACE_TOPIC" default:"lm-marketplace-events"`
	MarketplaceSubscription string `envconfig:"LENDMARKET_PUBSUB_MARKETPLACE_SUBSCRIPTION" default:"lm-marketplace-worker"`
	SettlementSubscription  string `envconfig:"LENDMARKET_PUBSUB_SETTLEMENT_SUBSCRIPTION" default:"lm-settlement-worker"`
}

type MatchingConfig struct {
	Strategy      string        `envconfig:"LENDMARKET_MATCHING_STRATEGY" default:"lowest_rate"`
	BatchSize     int           `envconfig:"LENDMARKET_MATCHING_BATCH_SIZE" default:"50"`
	SweepInterval time.Duration `envconfig:"LENDMARKET_MATCHING_SWEEP_INTERVAL" default:"1m"`
}

type ValuationConfig struct {
	MonitorInterval time.Duration `envconfig:"LENDMARKET_VALUATION_MONITOR_INTERVAL" default:"1h"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LENDMARKET_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LENDMARKET_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LENDMARKET_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LENDMARKET_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LENDMARKET_AUTO_MIGRATE" default:"false"`
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
