package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

type Config struct {
	// HTTP Server
	Port string

	// Backend selection
	DataBackend string
	DataDir     string

	// Database
	SQLiteDBPath string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Gateway
	GatewayPort        string
	GatewayOrigin      string
	GatewayAppName     string
	GatewayVersion     string
	GatewayBasePath    string
	GatewayCacheDBPath string
	// GatewaySkipWaiting activates a newly installed generation at once
	// instead of waiting for a SKIP_WAITING message.
	GatewaySkipWaiting bool

	// Ledger views
	TimeSeriesMonths int

	LogLevel string
}

var validBackends = []string{"memory", "sqlite", "redis"}

func Load() *Config {
	cfg := &Config{
		Port: getEnv("PORT", "8081"),

		DataBackend: getEnv("DATA_BACKEND", "sqlite"),
		DataDir:     getEnv("DATA_DIR", "./data"),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/sapo.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "sapo:"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "sapo"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "gateway_control"),

		GatewayPort:        getEnv("GATEWAY_PORT", "8082"),
		GatewayOrigin:      getEnv("GATEWAY_ORIGIN", "http://localhost:8081"),
		GatewayAppName:     getEnv("GATEWAY_APP_NAME", "sapo-tracker"),
		GatewayVersion:     getEnv("GATEWAY_VERSION", "1.0"),
		GatewayBasePath:    getEnv("GATEWAY_BASE_PATH", "/sapo-finanze/"),
		GatewayCacheDBPath: getEnv("GATEWAY_CACHE_DB_PATH", ""),
		GatewaySkipWaiting: getEnvBool("GATEWAY_SKIP_WAITING", true),

		TimeSeriesMonths: getEnvInt("TIME_SERIES_MONTHS", 6),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	errors = append(errors, validatePort("port", c.Port)...)

	if !slices.Contains(validBackends, c.DataBackend) {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be one of %v", c.DataBackend, validBackends))
	}

	switch c.DataBackend {
	case "sqlite":
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else if msg := ensureDir(c.SQLiteDBPath); msg != "" {
			errors = append(errors, msg)
		}
	case "redis":
		if c.RedisAddr == "" {
			errors = append(errors, "Redis address cannot be empty when using redis backend")
		}
		if c.RedisDB < 0 {
			errors = append(errors, fmt.Sprintf("invalid redis db %d: must not be negative", c.RedisDB))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	errors = append(errors, c.validateGateway()...)

	if c.TimeSeriesMonths < 1 || c.TimeSeriesMonths > 60 {
		errors = append(errors, fmt.Sprintf("invalid time series months %d: must be between 1 and 60", c.TimeSeriesMonths))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errors = append(errors, err.Error())
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func (c *Config) validateGateway() []string {
	errors := validatePort("gateway port", c.GatewayPort)

	if u, err := url.Parse(c.GatewayOrigin); err != nil || u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid gateway origin '%s': must be an absolute URL", c.GatewayOrigin))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid gateway origin scheme '%s': must be 'http' or 'https'", u.Scheme))
	}
	if c.GatewayAppName == "" {
		errors = append(errors, "gateway app name cannot be empty")
	}
	if c.GatewayVersion == "" {
		errors = append(errors, "gateway version cannot be empty")
	}
	if !strings.HasPrefix(c.GatewayBasePath, "/") || !strings.HasSuffix(c.GatewayBasePath, "/") {
		errors = append(errors, fmt.Sprintf("invalid gateway base path '%s': must start and end with '/'", c.GatewayBasePath))
	}
	if c.GatewayCacheDBPath != "" {
		if msg := ensureDir(c.GatewayCacheDBPath); msg != "" {
			errors = append(errors, msg)
		}
	}
	return errors
}

func validatePort(name, value string) []string {
	port, err := strconv.Atoi(value)
	if err != nil {
		return []string{fmt.Sprintf("invalid %s '%s': must be a number", name, value)}
	}
	if port < 1 || port > 65535 {
		return []string{fmt.Sprintf("invalid %s %d: must be between 1 and 65535", name, port)}
	}
	return nil
}

// ensureDir creates the parent directory of a database file when missing.
func ensureDir(dbPath string) string {
	dir := filepath.Dir(dbPath)
	if dir == "." || dir == "" {
		return ""
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Sprintf("cannot create database directory '%s': %v", dir, err)
		}
	}
	return ""
}

// ParseLogLevel maps LOG_LEVEL values onto slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s': must be debug, info, warn or error", s)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
