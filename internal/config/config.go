package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix = "TTB"

	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"

	AnalyzerProviderOpenAI = "openai"
	AnalyzerProviderStub   = "stub"
)

// AppConfig captures runtime configuration for the validator service.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string
	Database    DatabaseConfig
	Auth        AuthConfig
	Analyzer    AnalyzerConfig
	Retry       RetryConfig
	Storage     StorageConfig
	Sweeper     SweeperConfig
	Events      EventsConfig
	Triggers    TriggersConfig
}

type DatabaseConfig struct {
	Driver string
	Path   string
	DSN    string
}

type AuthConfig struct {
	SigningSecret string
	Issuer        string
	TokenTTL      time.Duration
}

type AnalyzerConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// Endpoint is the chat-completions URL under BaseURL.
func (c AnalyzerConfig) Endpoint() string {
	return strings.TrimRight(c.BaseURL, "/") + "/chat/completions"
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

type StorageConfig struct {
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	BaseURL         string
	PresignTTL      time.Duration
}

// Enabled reports whether images are resolved through S3.
func (c StorageConfig) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

type SweeperConfig struct {
	Schedule   string
	StuckAfter time.Duration
}

type EventsConfig struct {
	AMQPURL    string
	Exchange   string
	RoutingKey string
}

// Enabled reports whether run outcomes are published to a broker.
func (c EventsConfig) Enabled() bool {
	return strings.TrimSpace(c.AMQPURL) != ""
}

type TriggersConfig struct {
	Concurrency    int
	QueueSize      int
	EnqueueTimeout time.Duration
}

// LoadDotEnv loads environment files into the process environment. Missing
// files are ignored; with no paths it reads .env from the working directory.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", "0.0.0.0:8080")
	configViper.SetDefault("log.level", "info")
	configViper.SetDefault("database.driver", DatabaseDriverSQLite)
	configViper.SetDefault("database.path", "ttb.db")
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("auth.signing_secret", "")
	configViper.SetDefault("auth.issuer", "ttb-auth")
	configViper.SetDefault("auth.token_ttl_minutes", 60)
	configViper.SetDefault("analyzer.provider", AnalyzerProviderOpenAI)
	configViper.SetDefault("analyzer.api_key", "")
	configViper.SetDefault("analyzer.base_url", "https://api.openai.com/v1")
	configViper.SetDefault("analyzer.model", "gpt-4o-mini")
	configViper.SetDefault("analyzer.timeout_seconds", 60)
	configViper.SetDefault("retry.max_attempts", 3)
	configViper.SetDefault("retry.base_delay_ms", 1000)
	configViper.SetDefault("storage.bucket", "")
	configViper.SetDefault("storage.region", "")
	configViper.SetDefault("storage.access_key_id", "")
	configViper.SetDefault("storage.secret_access_key", "")
	configViper.SetDefault("storage.base_url", "")
	configViper.SetDefault("storage.presign_ttl_minutes", 60)
	configViper.SetDefault("sweeper.schedule", "@every 5m")
	configViper.SetDefault("sweeper.stuck_after_minutes", 15)
	configViper.SetDefault("events.amqp_url", "")
	configViper.SetDefault("events.exchange", "ttb.validation")
	configViper.SetDefault("events.routing_key", "submission.validated")
	configViper.SetDefault("triggers.concurrency", 4)
	configViper.SetDefault("triggers.queue_size", 256)
	configViper.SetDefault("triggers.enqueue_timeout_seconds", 5)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress: configViper.GetString("http.address"),
		LogLevel:    configViper.GetString("log.level"),
		Database: DatabaseConfig{
			Driver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
			Path:   configViper.GetString("database.path"),
			DSN:    configViper.GetString("database.dsn"),
		},
		Auth: AuthConfig{
			SigningSecret: configViper.GetString("auth.signing_secret"),
			Issuer:        configViper.GetString("auth.issuer"),
			TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		},
		Analyzer: AnalyzerConfig{
			Provider: strings.ToLower(strings.TrimSpace(configViper.GetString("analyzer.provider"))),
			APIKey:   configViper.GetString("analyzer.api_key"),
			BaseURL:  configViper.GetString("analyzer.base_url"),
			Model:    configViper.GetString("analyzer.model"),
			Timeout:  time.Duration(configViper.GetInt("analyzer.timeout_seconds")) * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: configViper.GetInt("retry.max_attempts"),
			BaseDelay:   time.Duration(configViper.GetInt("retry.base_delay_ms")) * time.Millisecond,
		},
		Storage: StorageConfig{
			Bucket:          configViper.GetString("storage.bucket"),
			Region:          configViper.GetString("storage.region"),
			AccessKeyID:     configViper.GetString("storage.access_key_id"),
			SecretAccessKey: configViper.GetString("storage.secret_access_key"),
			BaseURL:         configViper.GetString("storage.base_url"),
			PresignTTL:      time.Duration(configViper.GetInt("storage.presign_ttl_minutes")) * time.Minute,
		},
		Sweeper: SweeperConfig{
			Schedule:   configViper.GetString("sweeper.schedule"),
			StuckAfter: time.Duration(configViper.GetInt("sweeper.stuck_after_minutes")) * time.Minute,
		},
		Events: EventsConfig{
			AMQPURL:    configViper.GetString("events.amqp_url"),
			Exchange:   configViper.GetString("events.exchange"),
			RoutingKey: configViper.GetString("events.routing_key"),
		},
		Triggers: TriggersConfig{
			Concurrency:    configViper.GetInt("triggers.concurrency"),
			QueueSize:      configViper.GetInt("triggers.queue_size"),
			EnqueueTimeout: time.Duration(configViper.GetInt("triggers.enqueue_timeout_seconds")) * time.Second,
		},
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.Auth.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.Auth.Issuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	switch c.Database.Driver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be %s or %s", DatabaseDriverSQLite, DatabaseDriverPostgres)
	}
	switch c.Analyzer.Provider {
	case AnalyzerProviderOpenAI:
		if strings.TrimSpace(c.Analyzer.APIKey) == "" {
			return fmt.Errorf("analyzer.api_key is required for the openai provider")
		}
	case AnalyzerProviderStub:
	default:
		return fmt.Errorf("analyzer.provider must be %s or %s", AnalyzerProviderOpenAI, AnalyzerProviderStub)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay_ms must not be negative")
	}
	if c.Storage.Enabled() && strings.TrimSpace(c.Storage.Region) == "" && strings.TrimSpace(c.Storage.BaseURL) == "" {
		return fmt.Errorf("storage.region is required when storage.bucket is set")
	}
	if c.Sweeper.StuckAfter <= 0 {
		return fmt.Errorf("sweeper.stuck_after_minutes must be positive")
	}
	return nil
}
