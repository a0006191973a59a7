package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the application.
type Config struct {
	Port string

	DatabaseDriver string // sqlite, sqlite-nocgo or postgres
	DatabaseURL    string

	MetaAccessToken       string
	MetaPhoneNumberID     string
	MetaBusinessAccountID string
	MetaAppSecret         string
	MetaVerifyToken       string
	MetaAPIVersion        string
	MetaBaseURL           string
	MetaTimeout           time.Duration

	RetryInterval     time.Duration
	RetryMaxAttempts  int
	ProcessingTimeout time.Duration
	RecentMessageTTL  time.Duration

	RabbitMQURL            string
	RabbitMQQueue          string
	RabbitMQQueuePrefix    string
	RabbitMQSpecificEvents []string

	S3Enabled   bool
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
	S3Prefix    string

	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables. It attempts to
// load envFile (or .env when empty) first; variables already set in the
// environment take precedence.
func LoadConfig(envFile string) (*Config, error) {
	var err error
	if envFile != "" {
		err = godotenv.Load(envFile)
	} else {
		err = godotenv.Load()
	}
	if err != nil {
		if envFile != "" {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
		log.Info().Msg("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		Port: getEnv("PORT", "3000"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "whatsapp-broker.db"),

		MetaAccessToken:       os.Getenv("META_ACCESS_TOKEN"),
		MetaPhoneNumberID:     os.Getenv("META_PHONE_NUMBER_ID"),
		MetaBusinessAccountID: os.Getenv("META_BUSINESS_ACCOUNT_ID"),
		MetaAppSecret:         os.Getenv("META_APP_SECRET"),
		MetaVerifyToken:       os.Getenv("META_WEBHOOK_VERIFY_TOKEN"),
		MetaAPIVersion:        getEnv("META_API_VERSION", "v18.0"),
		MetaBaseURL:           getEnv("META_BASE_URL", "https://graph.facebook.com"),

		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
		RabbitMQQueue:       getEnv("RABBITMQ_QUEUE", "whatsapp_events"),
		RabbitMQQueuePrefix: getEnv("RABBITMQ_QUEUE_PREFIX", "broker"),

		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3AccessKey: os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey: os.Getenv("S3_SECRET_KEY"),
		S3Prefix:    getEnv("S3_PREFIX", "webhooks"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	if cfg.MetaTimeout, err = getEnvDuration("META_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryInterval, err = getEnvDuration("WEBHOOK_RETRY_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = getEnvInt("WEBHOOK_RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.ProcessingTimeout, err = getEnvDuration("WEBHOOK_PROCESSING_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RecentMessageTTL, err = getEnvDuration("RECENT_MESSAGE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.S3Enabled, err = getEnvBool("S3_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.S3PathStyle, err = getEnvBool("S3_PATH_STYLE", true); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled, err = getEnvBool("METRICS_ENABLED", true); err != nil {
		return nil, err
	}
	if events := os.Getenv("AMQP_SPECIFIC_EVENTS"); events != "" {
		for _, event := range strings.Split(events, ",") {
			if event = strings.TrimSpace(event); event != "" {
				cfg.RabbitMQSpecificEvents = append(cfg.RabbitMQSpecificEvents, event)
			}
		}
	}

	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"META_ACCESS_TOKEN", c.MetaAccessToken},
		{"META_PHONE_NUMBER_ID", c.MetaPhoneNumberID},
		{"META_WEBHOOK_VERIFY_TOKEN", c.MetaVerifyToken},
		{"DATABASE_URL", c.DatabaseURL},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}
	switch c.DatabaseDriver {
	case "sqlite", "sqlite-nocgo", "postgres":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.RetryMaxAttempts < 0 {
		return fmt.Errorf("WEBHOOK_RETRY_MAX_ATTEMPTS must not be negative")
	}
	if c.S3Enabled && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required when S3_ENABLED is set")
	}
	if c.MetaAppSecret == "" {
		log.Warn().Msg("META_APP_SECRET not set, webhook signatures will not be verified")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
