package config

import (
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	SES      SESConfig      `yaml:"ses" json:"ses"`
	Sender   SenderConfig   `yaml:"sender" json:"sender"`
	Batch    BatchConfig    `yaml:"batch" json:"batch"`
	Files    FilesConfig    `yaml:"files" json:"files"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port" json:"port"`
	Host string `yaml:"host" json:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	return c.Host
}

// AuthConfig holds the bearer token expected on /api routes
type AuthConfig struct {
	APIToken string `yaml:"api_token" json:"api_token"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region" json:"region"`
	AccessKey        string `yaml:"access_key" json:"access_key"`
	SecretKey        string `yaml:"secret_key" json:"secret_key"`
	SourceEmail      string `yaml:"source_email" json:"source_email"`
	ConfigurationSet string `yaml:"configuration_set" json:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// Timeout returns the per-call provider timeout
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SourceAddress returns the bare address of SourceEmail, which may be
// written as "Name <addr@example.com>".
func (c SESConfig) SourceAddress() string {
	if addr, err := mail.ParseAddress(c.SourceEmail); err == nil {
		return addr.Address
	}
	return c.SourceEmail
}

// SenderConfig holds the header identity of outgoing messages
type SenderConfig struct {
	SenderName string `yaml:"sender_name" json:"sender_name"`
	ReplyTo    string `yaml:"reply_to" json:"reply_to"`
}

// BatchConfig holds batch sending configuration. It is the dispatcher's
// source of batch size and inter-batch delay.
type BatchConfig struct {
	BatchSize    int      `yaml:"batch_size" json:"batch_size"`
	DelaySeconds *float64 `yaml:"delay_seconds" json:"delay_seconds"`
	Concurrency  int      `yaml:"concurrency" json:"concurrency"`
	MaxSendRate  int      `yaml:"max_send_rate" json:"max_send_rate"` // per second, 0 = unlimited
	DailyLimit   int      `yaml:"daily_limit" json:"daily_limit"`     // 0 = unlimited
}

// Size returns the configured batch size
func (c BatchConfig) Size() int {
	return c.BatchSize
}

// Delay returns the inter-batch delay as a duration
func (c BatchConfig) Delay() time.Duration {
	if c.DelaySeconds == nil {
		return 0
	}
	return time.Duration(*c.DelaySeconds * float64(time.Second))
}

// Validate reports a non-positive batch size or a negative delay.
func (c BatchConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidUpdate)
	}
	if c.DelaySeconds != nil && *c.DelaySeconds < 0 {
		return fmt.Errorf("%w: delay_seconds must not be negative", ErrInvalidUpdate)
	}
	return nil
}

// FilesConfig holds attachment storage settings
type FilesConfig struct {
	Directory string `yaml:"directory" json:"directory"`
	S3Region  string `yaml:"s3_region" json:"s3_region"`
}

// DatabaseConfig holds the history database connection. Empty URL keeps
// history in memory.
type DatabaseConfig struct {
	URL string `yaml:"url" json:"url"`
}

// RedisConfig holds the Redis connection used for the send lock and the
// send-rate limiter
type RedisConfig struct {
	URL string `yaml:"url" json:"url"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level" json:"level"`
	RedactPII *bool  `yaml:"redact_pii" json:"redact_pii"`
}

// ShouldRedact reports whether PII redaction is on (default true)
func (c LogConfig) ShouldRedact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// IsConfigured reports whether the essentials for sending are present
func (c *Config) IsConfigured() bool {
	return c.SES.Region != "" && c.SES.SourceEmail != ""
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8787
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Sender.SenderName == "" {
		cfg.Sender.SenderName = "SES Email Sender"
	}
	// A negative batch size is kept so it surfaces as a configuration error
	// when a job is submitted.
	if cfg.Batch.BatchSize == 0 {
		cfg.Batch.BatchSize = 50
	}
	// An explicit zero delay disables waiting between batches.
	if cfg.Batch.DelaySeconds == nil {
		d := 60.0
		cfg.Batch.DelaySeconds = &d
	}
	if cfg.Batch.Concurrency <= 0 {
		cfg.Batch.Concurrency = 5
	}
	if cfg.Files.Directory == "" {
		cfg.Files.Directory = "files"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
// A missing config file is not an error: defaults plus env are used.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if os.IsNotExist(err) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("API_TOKEN"); v != "" {
		cfg.Auth.APIToken = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("SES_SOURCE_EMAIL"); v != "" {
		cfg.SES.SourceEmail = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Batch.BatchSize = n
		}
	}
	if v := os.Getenv("BATCH_DELAY_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Batch.DelaySeconds = &f
		}
	}

	return cfg, nil
}

// Redacted returns a copy safe to expose over the API
func (c *Config) Redacted() Config {
	out := *c
	out.Auth.APIToken = mask(out.Auth.APIToken)
	out.SES.AccessKey = mask(out.SES.AccessKey)
	out.SES.SecretKey = mask(out.SES.SecretKey)
	if out.Database.URL != "" {
		out.Database.URL = "***"
	}
	if out.Redis.URL != "" {
		out.Redis.URL = "***"
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
