package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrMissingStoreTarget is returned when no store connection target is configured.
var ErrMissingStoreTarget = errors.New("missing store connection target")

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Rates     RatesConfig     `mapstructure:"rates"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Recovery  RecoveryConfig  `mapstructure:"recovery"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the release store. Driver is one of mongo,
// postgres or sqlite.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	URI        string `mapstructure:"uri"`
	Name       string `mapstructure:"name"`
	Collection string `mapstructure:"collection"`
	DSN        string `mapstructure:"dsn"`
	Path       string `mapstructure:"path"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type FeedConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryWait    time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait time.Duration `mapstructure:"retry_max_wait"`
}

type RatesConfig struct {
	GeneralURL     string        `mapstructure:"general_url"`
	SpecialUnitURL string        `mapstructure:"special_unit_url"`
	BaseCurrency   string        `mapstructure:"base_currency"`
	SpecialUnit    string        `mapstructure:"special_unit"`
	FallbackFile   string        `mapstructure:"fallback_file"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type IngestConfig struct {
	BatchSize       int           `mapstructure:"batch_size"`
	Concurrency     int           `mapstructure:"concurrency"`
	GroupDelay      time.Duration `mapstructure:"group_delay"`
	BatchDelay      time.Duration `mapstructure:"batch_delay"`
	UpsertBatchSize int           `mapstructure:"upsert_batch_size"`
	LookbackMonths  int           `mapstructure:"lookback_months"`
}

type SchedulerConfig struct {
	Cron       string        `mapstructure:"cron"`
	Timezone   string        `mapstructure:"timezone"`
	ErrorReset time.Duration `mapstructure:"error_reset"`
	RunOnStart bool          `mapstructure:"run_on_start"`
}

// Location resolves the scheduler timezone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := s.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown scheduler timezone %q: %w", tz, err)
	}
	return loc, nil
}

type RecoveryConfig struct {
	RestartCommand []string      `mapstructure:"restart_command"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig configures the optional raw-document archive on
// S3-compatible storage.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

// Load merges configPath, an optional .env file and the environment. Callers run Validate.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("database.uri", "MONGODB_URI")
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("archive.access_key", "ARCHIVE_ACCESS_KEY")
	v.BindEnv("archive.secret_key", "ARCHIVE_SECRET_KEY")
	v.BindEnv("scheduler.timezone", "SCHEDULER_TZ")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "mongo")
	v.SetDefault("database.name", "gastos")
	v.SetDefault("database.collection", "releases")
	v.SetDefault("database.path", "./data/releases.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.timeout", 10*time.Second)

	v.SetDefault("feed.base_url", "https://www.comprasestatales.gub.uy")
	v.SetDefault("feed.user_agent", "gastos-gub-uy/1.0")
	v.SetDefault("feed.timeout", 30*time.Second)
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_wait", time.Second)
	v.SetDefault("feed.retry_max_wait", 10*time.Second)

	v.SetDefault("rates.general_url", "https://open.er-api.com/v6/latest/UYU")
	v.SetDefault("rates.special_unit_url", "https://api.cotizaciones.uy/ui/latest")
	v.SetDefault("rates.base_currency", "UYU")
	v.SetDefault("rates.special_unit", "UI")
	v.SetDefault("rates.timeout", 15*time.Second)

	v.SetDefault("ingest.batch_size", 200)
	v.SetDefault("ingest.concurrency", 20)
	v.SetDefault("ingest.group_delay", 500*time.Millisecond)
	v.SetDefault("ingest.batch_delay", 2*time.Second)
	v.SetDefault("ingest.upsert_batch_size", 100)
	v.SetDefault("ingest.lookback_months", 2)

	v.SetDefault("scheduler.cron", "0 3 * * *")
	v.SetDefault("scheduler.timezone", "America/Montevideo")
	v.SetDefault("scheduler.error_reset", time.Minute)
	v.SetDefault("scheduler.run_on_start", false)

	v.SetDefault("recovery.restart_command", []string{})
	v.SetDefault("recovery.settle_delay", 10*time.Second)
	v.SetDefault("recovery.timeout", time.Minute)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.bucket", "gastos-releases")
	v.SetDefault("archive.prefix", "releases")
}

// Validate checks settings whose absence must stop the process before any run.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mongo":
		if c.Database.URI == "" {
			return fmt.Errorf("database.uri: %w", ErrMissingStoreTarget)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn: %w", ErrMissingStoreTarget)
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path: %w", ErrMissingStoreTarget)
		}
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}

	if c.Ingest.BatchSize <= 0 || c.Ingest.Concurrency <= 0 {
		return fmt.Errorf("ingest: batch_size and concurrency must be positive")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket is required when archive is enabled")
	}
	return nil
}
