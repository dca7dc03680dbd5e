package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration, loaded from the environment once
// at startup by the factory.
type Config struct {
	Environment string

	Server   ServerConfig
	Logging  LoggingConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Contact  ContactConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	EnableTLS   bool
	TLSPort     int
	AutoCert    bool
	Domain      string
	CertFile    string
	KeyFile     string
	AutoCertDir string
	Email       string
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers      []string
	ContactTopic string
}

type DatabaseConfig struct {
	Path string
}

// ContactConfig controls the contact submission workflow: the per-identity
// rate limit, its window, the behaviour when the shared store is down, and
// the global throttle in front of the endpoint.
type ContactConfig struct {
	RateLimit       int
	RateLimitWindow time.Duration
	FailMode        string // "open" or "closed"
	Backend         string // "memory" or "redis"
	ThrottleRPS     float64
	ThrottleBurst   int
}

// LoadConfig reads configuration from the environment. A .env file is
// honored when present so local development matches deployment.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvSeconds("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvSeconds("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvSeconds("SERVER_IDLE_TIMEOUT", 60),
			EnableTLS:    getEnvBool("ENABLE_TLS", false),
			TLSPort:      getEnvInt("TLS_PORT", 8443),
			AutoCert:     getEnvBool("AUTO_CERT", false),
			Domain:       getEnv("DOMAIN", "localhost"),
			CertFile:     getEnv("CERT_FILE", ""),
			KeyFile:      getEnv("KEY_FILE", ""),
			AutoCertDir:  getEnv("AUTOCERT_DIR", "./certs"),
			Email:        getEnv("ACME_EMAIL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 20),
		},
		Kafka: KafkaConfig{
			Brokers:      splitCSV(getEnv("KAFKA_BROKERS", "")),
			ContactTopic: getEnv("KAFKA_CONTACT_TOPIC", "contact.submissions"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DATABASE_PATH", "contact.db"),
		},
		Contact: ContactConfig{
			RateLimit:       getEnvInt("CONTACT_RATE_LIMIT", 3),
			RateLimitWindow: getEnvSeconds("CONTACT_RATE_LIMIT_WINDOW", 300),
			FailMode:        getEnv("CONTACT_RATE_LIMIT_FAIL_MODE", "open"),
			Backend:         getEnv("RATE_LIMIT_BACKEND", "memory"),
			ThrottleRPS:     getEnvFloat("CONTACT_THROTTLE_RPS", 10),
			ThrottleBurst:   getEnvInt("CONTACT_THROTTLE_BURST", 20),
		},
	}

	return cfg
}

// Validate rejects configuration the service cannot safely run with.
// A non-positive rate limit or window is a startup error, not something
// to discover on the first submission.
func (c *Config) Validate() error {
	if c.Contact.RateLimit <= 0 {
		return fmt.Errorf("CONTACT_RATE_LIMIT must be positive, got %d", c.Contact.RateLimit)
	}
	if c.Contact.RateLimitWindow <= 0 {
		return fmt.Errorf("CONTACT_RATE_LIMIT_WINDOW must be positive, got %s", c.Contact.RateLimitWindow)
	}
	switch c.Contact.FailMode {
	case "open", "closed":
	default:
		return fmt.Errorf("CONTACT_RATE_LIMIT_FAIL_MODE must be \"open\" or \"closed\", got %q", c.Contact.FailMode)
	}
	switch c.Contact.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be \"memory\" or \"redis\", got %q", c.Contact.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defaultSeconds)) * time.Second
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
