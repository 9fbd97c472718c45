package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hray3182/DoseLine/internal/session"
)

type Config struct {
	DatabaseURI  string
	RedisURL     string
	SessionStore session.StoreType
	SessionTTL   time.Duration

	TelegramToken string
	HTTPAddr      string

	BackendBaseURL   string
	ReminderAPIURL   string
	ReminderAPIToken string
	HTTPTimeout      time.Duration

	Timezone           string
	Locale             string
	ConfirmationOffset time.Duration
	WatchInterval      time.Duration

	LogLevel string
	DevMode  bool
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional in production
	}

	return &Config{
		DatabaseURI:  os.Getenv("DATABASE_URI"),
		RedisURL:     os.Getenv("REDIS_URL"),
		SessionStore: session.StoreType(strings.ToLower(getEnvOrDefault("SESSION_STORE", string(session.StoreTypeMemory)))),
		SessionTTL:   time.Duration(getEnvInt("SESSION_TTL_HOURS", 720)) * time.Hour,

		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		HTTPAddr:      getEnvOrDefault("HTTP_ADDR", ":8080"),

		BackendBaseURL:   os.Getenv("BACKEND_BASE_URL"),
		ReminderAPIURL:   getEnvOrDefault("REMINDER_API_URL", "https://api.amazonalexa.com"),
		ReminderAPIToken: os.Getenv("REMINDER_API_TOKEN"),
		HTTPTimeout:      time.Duration(getEnvInt("HTTP_TIMEOUT_SECONDS", 10)) * time.Second,

		Timezone:           getEnvOrDefault("TIMEZONE", "Europe/Rome"),
		Locale:             getEnvOrDefault("LOCALE", "it-IT"),
		ConfirmationOffset: time.Duration(getEnvInt("CONFIRMATION_OFFSET_MINUTES", 15)) * time.Minute,
		WatchInterval:      time.Duration(getEnvInt("WATCH_INTERVAL_MINUTES", 30)) * time.Minute,

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		DevMode:  getEnvBool("DEV_MODE", false),
	}, nil
}

// Validate checks the settings every command needs. Front-end tokens are
// checked by the commands that start them.
func (c *Config) Validate() error {
	var errs []error
	if c.BackendBaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}
	switch c.SessionStore {
	case session.StoreTypeMemory:
	case session.StoreTypeRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis session store"))
		}
	case session.StoreTypePostgres:
		if c.DatabaseURI == "" {
			errs = append(errs, errors.New("DATABASE_URI is required for the postgres session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SESSION_STORE %q", c.SessionStore))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err))
	}
	if c.ConfirmationOffset <= 0 {
		errs = append(errs, errors.New("CONFIRMATION_OFFSET_MINUTES must be positive"))
	}
	return errors.Join(errs...)
}

// Location loads the configured time zone. Call Validate first.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
