// Package config provides configuration management for Everkeep.
// Settings come from three layers: built-in defaults, an optional YAML file,
// and environment variables with the EVERKEEP_ prefix. Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Everkeep server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Security      SecurityConfig      `yaml:"security"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	WhatsApp      WhatsAppConfig      `yaml:"whatsapp"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Completion    CompletionConfig    `yaml:"completion"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Mail          MailConfig          `yaml:"mail"`
	Reminder      ReminderConfig      `yaml:"reminder"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"` // Server host (default: 127.0.0.1)
	Port int    `yaml:"port"` // Server port (default: 8080)

	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"` // Sustained request rate (default: 20)
	RateLimitBurst  int     `yaml:"rate_limit_burst"`   // Burst size (default: 40)
}

// StorageConfig selects and configures the database backend.
type StorageConfig struct {
	// Driver is "sqlite" or "postgres" (default: sqlite).
	Driver string `yaml:"driver"`

	// SQLitePath is the database file path for the sqlite driver.
	SQLitePath string `yaml:"sqlite_path"`

	// PostgresDSN is the connection string for the postgres driver. When
	// set it also switches the driver to postgres unless overridden.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// SecurityConfig contains authentication settings for the /api surface.
type SecurityConfig struct {
	// Mode is "development" (no auth) or "production" (default: development).
	Mode string `yaml:"mode"`

	// APIToken is the bearer token required in production mode.
	APIToken string `yaml:"api_token"`
}

// TelegramConfig contains the Telegram bot integration settings. The channel
// is enabled when Token is set.
type TelegramConfig struct {
	Token       string `yaml:"token"`
	SecretToken string `yaml:"secret_token"`
}

// WhatsAppConfig contains the WhatsApp Cloud API integration settings. The
// channel is enabled when AccessToken is set.
type WhatsAppConfig struct {
	AccessToken   string `yaml:"access_token"`
	AppSecret     string `yaml:"app_secret"`
	PhoneNumberID string `yaml:"phone_number_id"`
	VerifyToken   string `yaml:"verify_token"`
}

// EmbeddingConfig configures the embedding collaborator.
type EmbeddingConfig struct {
	URL       string `yaml:"url"`       // (default: http://localhost:11434)
	Model     string `yaml:"model"`     // (default: nomic-embed-text)
	Dimension int    `yaml:"dimension"` // (default: 768)
}

// CompletionConfig configures the completion collaborator.
type CompletionConfig struct {
	URL   string `yaml:"url"`   // (default: http://localhost:11434)
	Model string `yaml:"model"` // (default: phi3:mini)
}

// TranscriptionConfig configures the voice transcription collaborator. The
// feature is enabled when URL is set.
type TranscriptionConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"` // (default: whisper-1)
}

// ExtractionConfig configures the attachment extraction collaborator. The
// feature is enabled when URL is set.
type ExtractionConfig struct {
	URL string `yaml:"url"`
}

// MailConfig configures the mail API used for email reminders.
type MailConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// ReminderConfig configures the reminder scan loop.
type ReminderConfig struct {
	// Interval between due-reminder scans (default: 30s).
	Interval time.Duration `yaml:"interval"`
}

// Load builds the configuration: defaults, then the YAML file at path (or
// EVERKEEP_CONFIG_FILE) when one exists, then EVERKEEP_ environment
// variables.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("EVERKEEP_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.Storage.PostgresDSN != "" && os.Getenv("EVERKEEP_STORAGE_DRIVER") == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.Driver = "postgres"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			RateLimitPerSec: 20,
			RateLimitBurst:  40,
		},
		Storage: StorageConfig{
			Driver:     "sqlite",
			SQLitePath: "./data/everkeep.db",
		},
		Security: SecurityConfig{
			Mode: "development",
		},
		Embedding: EmbeddingConfig{
			URL:       "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		Completion: CompletionConfig{
			URL:   "http://localhost:11434",
			Model: "phi3:mini",
		},
		Transcription: TranscriptionConfig{
			Model: "whisper-1",
		},
		Reminder: ReminderConfig{
			Interval: 30 * time.Second,
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("EVERKEEP_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("EVERKEEP_PORT", cfg.Server.Port)
	cfg.Server.RateLimitPerSec = getEnvFloat("EVERKEEP_RATE_LIMIT_PER_SEC", cfg.Server.RateLimitPerSec)
	cfg.Server.RateLimitBurst = getEnvInt("EVERKEEP_RATE_LIMIT_BURST", cfg.Server.RateLimitBurst)

	cfg.Storage.Driver = getEnv("EVERKEEP_STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.SQLitePath = getEnv("EVERKEEP_SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresDSN = getEnv("EVERKEEP_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Security.Mode = getEnv("EVERKEEP_SECURITY_MODE", cfg.Security.Mode)
	cfg.Security.APIToken = getEnv("EVERKEEP_API_TOKEN", cfg.Security.APIToken)

	cfg.Telegram.Token = getEnv("EVERKEEP_TELEGRAM_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.SecretToken = getEnv("EVERKEEP_TELEGRAM_SECRET_TOKEN", cfg.Telegram.SecretToken)

	cfg.WhatsApp.AccessToken = getEnv("EVERKEEP_WHATSAPP_ACCESS_TOKEN", cfg.WhatsApp.AccessToken)
	cfg.WhatsApp.AppSecret = getEnv("EVERKEEP_WHATSAPP_APP_SECRET", cfg.WhatsApp.AppSecret)
	cfg.WhatsApp.PhoneNumberID = getEnv("EVERKEEP_WHATSAPP_PHONE_NUMBER_ID", cfg.WhatsApp.PhoneNumberID)
	cfg.WhatsApp.VerifyToken = getEnv("EVERKEEP_WHATSAPP_VERIFY_TOKEN", cfg.WhatsApp.VerifyToken)

	cfg.Embedding.URL = getEnv("EVERKEEP_EMBEDDING_URL", cfg.Embedding.URL)
	cfg.Embedding.Model = getEnv("EVERKEEP_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimension = getEnvInt("EVERKEEP_EMBEDDING_DIMENSION", cfg.Embedding.Dimension)

	cfg.Completion.URL = getEnv("EVERKEEP_COMPLETION_URL", cfg.Completion.URL)
	cfg.Completion.Model = getEnv("EVERKEEP_COMPLETION_MODEL", cfg.Completion.Model)

	cfg.Transcription.URL = getEnv("EVERKEEP_TRANSCRIPTION_URL", cfg.Transcription.URL)
	cfg.Transcription.Model = getEnv("EVERKEEP_TRANSCRIPTION_MODEL", cfg.Transcription.Model)

	cfg.Extraction.URL = getEnv("EVERKEEP_EXTRACTION_URL", cfg.Extraction.URL)

	cfg.Mail.URL = getEnv("EVERKEEP_MAIL_URL", cfg.Mail.URL)
	cfg.Mail.APIKey = getEnv("EVERKEEP_MAIL_API_KEY", cfg.Mail.APIKey)

	cfg.Reminder.Interval = getEnvDuration("EVERKEEP_REMINDER_INTERVAL", cfg.Reminder.Interval)
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("config: sqlite driver requires a database path")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("config: postgres driver requires a DSN")
		}
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}

	if c.Security.Mode == "production" && c.Security.APIToken == "" {
		return fmt.Errorf("config: production mode requires an API token")
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparseable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value when unset or unparseable.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("30s", "5m") or
// returns a default value when unset or unparseable.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
