// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// HTTP Server
	Port        string
	CORSOrigins []string

	// Database
	SQLiteDBPath string

	// Scheduler
	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	// Default monthly amounts
	TeamContributionAmount     decimal.Decimal
	AdherentContributionAmount decimal.Decimal

	// AMQP (optional: empty URL disables event publishing)
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string

	// Logging
	LogLevel  string
	LogFormat string

	// Malformed environment values, reported by Validate.
	loadErrors []string
}

// Load reads a .env file when present, then the environment.
//
// A malformed boolean, duration or amount keeps its default and is reported
// by Validate.
func Load() *Config {
	_ = godotenv.Load()

	var problems []string
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/club.db"),

		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true, &problems),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", time.Hour, &problems),

		TeamContributionAmount:     getEnvDecimal("TEAM_CONTRIBUTION_AMOUNT", decimal.NewFromInt(2000), &problems),
		AdherentContributionAmount: getEnvDecimal("ADHERENT_CONTRIBUTION_AMOUNT", decimal.NewFromInt(500), &problems),

		AMQPURL:        getEnv("AMQP_URL", ""),
		AMQPExchange:   getEnv("AMQP_EXCHANGE", "club"),
		AMQPRoutingKey: getEnv("AMQP_ROUTING_KEY", "contribution.generation"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
	cfg.loadErrors = problems
	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	errors := append([]string(nil), c.loadErrors...)

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else if c.SQLiteDBPath != ":memory:" {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.SchedulerInterval < time.Second {
		errors = append(errors, fmt.Sprintf("invalid scheduler interval %v: must be at least 1 second", c.SchedulerInterval))
	} else if c.SchedulerInterval > 24*time.Hour {
		// A longer interval could step over day 1 entirely.
		errors = append(errors, fmt.Sprintf("invalid scheduler interval %v: must be at most 24 hours", c.SchedulerInterval))
	}

	if !c.TeamContributionAmount.IsPositive() {
		errors = append(errors, fmt.Sprintf("invalid team contribution amount %s: must be positive", c.TeamContributionAmount))
	}
	if !c.AdherentContributionAmount.IsPositive() {
		errors = append(errors, fmt.Sprintf("invalid adherent contribution amount %s: must be positive", c.AdherentContributionAmount))
	}

	// Validate AMQP configuration if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errors = append(errors, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	if _, err := c.SlogLevel(); err != nil {
		errors = append(errors, err.Error())
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// SlogLevel maps LogLevel to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level '%s': must be debug, info, warn or error", c.LogLevel)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool, problems *[]string) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err != nil {
			*problems = append(*problems, fmt.Sprintf("invalid %s '%s': must be true or false", key, value))
			return defaultValue
		}
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration, problems *[]string) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			*problems = append(*problems, fmt.Sprintf("invalid %s '%s': must be a duration such as 90s or 1h", key, value))
			return defaultValue
		}
		return d
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal, problems *[]string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			*problems = append(*problems, fmt.Sprintf("invalid %s '%s': must be a decimal amount", key, value))
			return defaultValue
		}
		return d
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
