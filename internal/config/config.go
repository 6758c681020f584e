package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	defaultListen        = ":8080"
	defaultMongoURI      = "mongodb://localhost:27017"
	defaultMongoDatabase = "emogo"
	defaultMongoTimeout  = 10 * time.Second
	defaultConcurrency   = 4
	defaultFetchTimeout  = 30 * time.Second
	defaultMaxRedirects  = 5
	defaultUserAgent     = "emogo-export/1.0"
	defaultMaxBodyBytes  = 10 << 20
	defaultPageCacheTTL  = 30 * time.Second
	defaultEnvFileName   = ".env"
)

type MongoConfig struct {
	URI      string        `yaml:"uri" env:"MONGO_URI"`
	Database string        `yaml:"database" env:"MONGO_DB"`
	Timeout  time.Duration `yaml:"timeout" env:"MONGO_TIMEOUT"`
}

type ExportConfig struct {
	Concurrency         int           `yaml:"concurrency" env:"EXPORT_CONCURRENCY"`
	FetchTimeout        time.Duration `yaml:"fetch_timeout" env:"EXPORT_FETCH_TIMEOUT"`
	MaxRedirects        int           `yaml:"max_redirects" env:"EXPORT_MAX_REDIRECTS"`
	EmptyBundleNotFound bool          `yaml:"empty_bundle_not_found" env:"EXPORT_EMPTY_BUNDLE_NOT_FOUND"`
	SpoolDir            string        `yaml:"spool_dir" env:"EXPORT_SPOOL_DIR"`
	UserAgent           string        `yaml:"user_agent" env:"EXPORT_USER_AGENT"`
}

type HandlerConfig struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"HANDLER_MAX_BODY_BYTES"`
}

type PageConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"PAGE_CACHE_TTL"`
}

type Config struct {
	Listen        string        `yaml:"listen" env:"LISTEN"`
	LogLevel      string        `yaml:"log_level" env:"LOG_LEVEL"`
	RedisURL      string        `yaml:"redis_url" env:"REDIS_URL"`
	NATSURL       string        `yaml:"nats_url" env:"NATS_URL"`
	Mongo         MongoConfig   `yaml:"mongo"`
	ExportConfig  ExportConfig  `yaml:"export"`
	HandlerConfig HandlerConfig `yaml:"handler"`
	PageConfig    PageConfig    `yaml:"page"`
}

func (c *Config) SetDefaults() {
	c.Listen = defaultListen
	c.LogLevel = LogLevelInfo
	c.Mongo = MongoConfig{
		URI:      defaultMongoURI,
		Database: defaultMongoDatabase,
		Timeout:  defaultMongoTimeout,
	}
	c.ExportConfig = ExportConfig{
		Concurrency:  defaultConcurrency,
		FetchTimeout: defaultFetchTimeout,
		MaxRedirects: defaultMaxRedirects,
		SpoolDir:     os.TempDir(),
		UserAgent:    defaultUserAgent,
	}
	c.HandlerConfig = HandlerConfig{
		MaxBodyBytes: defaultMaxBodyBytes,
	}
	c.PageConfig = PageConfig{
		CacheTTL: defaultPageCacheTTL,
	}
}

func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		errs = append(errs, fmt.Errorf("unknown log level: %q", c.LogLevel))
	}

	if c.Listen == "" {
		errs = append(errs, fmt.Errorf("listen address must be set"))
	}

	if c.Mongo.URI == "" || c.Mongo.Database == "" {
		errs = append(errs, fmt.Errorf("mongo uri and database must be set"))
	}

	if c.ExportConfig.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("export concurrency must be positive, got %d", c.ExportConfig.Concurrency))
	}

	if c.ExportConfig.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("export fetch timeout must be positive"))
	}

	if c.ExportConfig.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("export max redirects must not be negative"))
	}

	if c.HandlerConfig.MaxBodyBytes < 1 {
		errs = append(errs, fmt.Errorf("handler max body bytes must be positive"))
	}

	return errors.Join(errs...)
}

// Load reads the yaml file (if it exists), then the optional .env file, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.SetDefaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if err := godotenv.Load(defaultEnvFileName); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("cannot load %s: %w", defaultEnvFileName, err)
	}

	if err := cleanenv.UpdateEnv(cfg); err != nil {
		return nil, fmt.Errorf("cannot read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}
