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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Ledger       LedgerConfig
	Sweep        SweepConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"VENUELEDGER_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"VENUELEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"VENUELEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"VENUELEDGER_SERVICE_KIND" default:"ledger"`
	// MetricsAddr is where workers expose /metrics; empty disables it.
	MetricsAddr string `envconfig:"VENUELEDGER_METRICS_ADDR" default:":9102"`
}

type DBConfig struct {
	DSN string `envconfig:"VENUELEDGER_DB_DSN"`

	LegacyHost     string `envconfig:"VENUELEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"VENUELEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"VENUELEDGER_DB_USER"`
	LegacyPassword string `envconfig:"VENUELEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"VENUELEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"VENUELEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"VENUELEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"VENUELEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"VENUELEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"VENUELEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig is optional; when neither URL nor Address is set the engine
// falls back to in-process venue locks only.
type RedisConfig struct {
	URL          string        `envconfig:"VENUELEDGER_REDIS_URL"`
	Address      string        `envconfig:"VENUELEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"VENUELEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"VENUELEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"VENUELEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"VENUELEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"VENUELEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"VENUELEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"VENUELEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	LedgerEnabled             bool `envconfig:"VENUELEDGER_FEATURE_LEDGER" default:"true"`
	CashVarianceAlertsEnabled bool `envconfig:"VENUELEDGER_FEATURE_CASH_VARIANCE_ALERTS" default:"true"`
	IdempotencyEnabled        bool `envconfig:"VENUELEDGER_FEATURE_IDEMPOTENCY" default:"true"`
	AutoMigrate               bool `envconfig:"VENUELEDGER_AUTO_MIGRATE" default:"false"`
}

type LedgerConfig struct {
	DefaultCurrency      string        `envconfig:"VENUELEDGER_DEFAULT_CURRENCY" default:"USD"`
	IdempotencyTTL       time.Duration `envconfig:"VENUELEDGER_IDEMPOTENCY_TTL" default:"24h"`
	LockTTL              time.Duration `envconfig:"VENUELEDGER_LOCK_TTL" default:"30s"`
	LockWait             time.Duration `envconfig:"VENUELEDGER_LOCK_WAIT" default:"10s"`
	MaxAppendRetries     int           `envconfig:"VENUELEDGER_MAX_APPEND_RETRIES" default:"3"`
	VarianceLowCents     int64         `envconfig:"VENUELEDGER_VARIANCE_LOW_CENTS" default:"500"`
	VarianceMediumCents  int64         `envconfig:"VENUELEDGER_VARIANCE_MEDIUM_CENTS" default:"2000"`
	VarianceHighCents    int64         `envconfig:"VENUELEDGER_VARIANCE_HIGH_CENTS" default:"5000"`
	VarianceCriticalCent int64         `envconfig:"VENUELEDGER_VARIANCE_CRITICAL_CENTS" default:"10000"`
}

type SweepConfig struct {
	Interval  time.Duration `envconfig:"VENUELEDGER_SWEEP_INTERVAL" default:"1h"`
	LockTTL   time.Duration `envconfig:"VENUELEDGER_SWEEP_LOCK_TTL" default:"2h"`
	BatchSize int           `envconfig:"VENUELEDGER_SWEEP_BATCH_SIZE" default:"500"`
	// Concurrency bounds how many venue chains are verified at once.
	Concurrency int `envconfig:"VENUELEDGER_SWEEP_CONCURRENCY" default:"4"`
	// IdempotencyGrace keeps expired idempotency records around this long
	// before the purge job deletes them.
	IdempotencyGrace time.Duration `envconfig:"VENUELEDGER_IDEMPOTENCY_PURGE_GRACE" default:"24h"`
	PurgeBatchSize   int           `envconfig:"VENUELEDGER_IDEMPOTENCY_PURGE_BATCH" default:"1000"`
}

func (l LedgerConfig) validate() error {
	if len(strings.TrimSpace(l.DefaultCurrency)) != 3 {
		return fmt.Errorf("%s must be a 3 letter currency code", EnvDefaultCurrency)
	}
	if l.IdempotencyTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvIdempotencyTTL)
	}
	if !(l.VarianceLowCents <= l.VarianceMediumCents &&
		l.VarianceMediumCents <= l.VarianceHighCents &&
		l.VarianceHighCents <= l.VarianceCriticalCent) {
		return fmt.Errorf("variance thresholds must be non-decreasing (low <= medium <= high <= critical)")
	}
	if l.VarianceLowCents <= 0 {
		return fmt.Errorf("%s must be positive", EnvVarianceLowCents)
	}
	return nil
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
