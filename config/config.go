package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL  string `yaml:"database_url"`
	StoreBackend string `yaml:"store_backend"`
	SeedFile     string `yaml:"seed_file"`

	// Server
	ServerPort string `yaml:"server_port"`
	LogLevel   string `yaml:"log_level"`

	// Artifacts
	ArtifactDir        string        `yaml:"artifact_dir"`
	ArtifactPublicBase string        `yaml:"artifact_public_base"`
	AdapterTimeout     time.Duration `yaml:"adapter_timeout"`

	// AWS
	AWSRegion     string `yaml:"aws_region"`
	AuditQueueURL string `yaml:"audit_queue_url"`

	// NATS
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	// Redis
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// Webhooks
	WebhookSecret     string        `yaml:"webhook_secret"`
	WebhookRateLimit  int           `yaml:"webhook_rate_limit"`
	WebhookRateWindow time.Duration `yaml:"webhook_rate_window"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		DatabaseURL:       "postgres://localhost/collab_jobs?sslmode=disable",
		StoreBackend:      BackendPostgres,
		ServerPort:        "8080",
		LogLevel:          "info",
		ArtifactDir:       "./artifacts",
		AWSRegion:         "us-east-1",
		NATSSubject:       "jobs.events",
		WebhookRateLimit:  60,
		WebhookRateWindow: time.Minute,
	}
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE,
// then environment variables. Later layers win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	var errs []error
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.StoreBackend = getEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.SeedFile = getEnv("SEED_FILE", cfg.SeedFile)
	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.ArtifactDir = getEnv("ARTIFACT_DIR", cfg.ArtifactDir)
	cfg.ArtifactPublicBase = getEnv("ARTIFACT_PUBLIC_BASE", cfg.ArtifactPublicBase)
	cfg.AdapterTimeout = getEnvDuration("ADAPTER_TIMEOUT", cfg.AdapterTimeout, &errs)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)
	cfg.AuditQueueURL = getEnv("AUDIT_QUEUE_URL", cfg.AuditQueueURL)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.NATSSubject = getEnv("NATS_SUBJECT", cfg.NATSSubject)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB, &errs)
	cfg.WebhookSecret = getEnv("WEBHOOK_SECRET", cfg.WebhookSecret)
	cfg.WebhookRateLimit = getEnvInt("WEBHOOK_RATE_LIMIT", cfg.WebhookRateLimit, &errs)
	cfg.WebhookRateWindow = getEnvDuration("WEBHOOK_RATE_WINDOW", cfg.WebhookRateWindow, &errs)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.StoreBackend)
	}
	if c.ServerPort == "" {
		return errors.New("SERVER_PORT must be set")
	}
	if c.ArtifactDir == "" {
		return errors.New("ARTIFACT_DIR must be set")
	}
	if c.AdapterTimeout < 0 {
		return errors.New("ADAPTER_TIMEOUT must not be negative")
	}
	if c.WebhookRateLimit < 1 || c.WebhookRateWindow <= 0 {
		return errors.New("webhook rate limit and window must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}
