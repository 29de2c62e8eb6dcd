/*
config.go - Runtime configuration

PURPOSE:
  Collects everything the server needs at startup from the environment.
  An optional .env file in the working directory is loaded first; variables
  already set in the environment win over it.

VARIABLES:
  PORT               HTTP port (default: 8080)
  DB_PATH            SQLite database path (default: borrow.db)
                     Use ":memory:" for a throwaway database
  JWT_SECRET         HMAC key for bearer tokens (required to serve)
  FINE_PER_DAY       Late fee per started day, in rupiah (default: 5000)
  DEFAULT_LOAN_DAYS  Loan length when staff give none (default: 7)
  REMINDER_INTERVAL  How often reminders and the inventory audit run
                     (default: 24h, Go duration syntax, 0 disables)
  ALLOWED_ORIGINS    Comma-separated CORS origins
                     (default: http://localhost:5173,http://localhost:8080)
  LOG_LEVEL          debug, info, warn or error (default: info)

SEE ALSO:
  - cmd/server/main.go: Flags override these values
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Port             int
	DBPath           string
	JWTSecret        string
	FinePerDay       int64
	DefaultLoanDays  int
	ReminderInterval time.Duration
	AllowedOrigins   []string
	LogLevel         string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:             8080,
		DBPath:           "borrow.db",
		FinePerDay:       5000,
		DefaultLoanDays:  7,
		ReminderInterval: 24 * time.Hour,
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		LogLevel:         "info",
	}
}

// Load reads .env (if present) and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, starting from Default.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []error

	if v, ok := lookup("PORT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 65535 {
			errs = append(errs, fmt.Errorf("PORT: invalid port %q", v))
		}
		cfg.Port = n
	}
	if v, ok := lookup("DB_PATH"); ok && v != "" {
		cfg.DBPath = v
	}
	if v, ok := lookup("JWT_SECRET"); ok {
		cfg.JWTSecret = v
	}
	if v, ok := lookup("FINE_PER_DAY"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("FINE_PER_DAY: must be a non-negative integer, got %q", v))
		}
		cfg.FinePerDay = n
	}
	if v, ok := lookup("DEFAULT_LOAN_DAYS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Errorf("DEFAULT_LOAN_DAYS: must be a positive integer, got %q", v))
		}
		cfg.DefaultLoanDays = n
	}
	if v, ok := lookup("REMINDER_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("REMINDER_INTERVAL: invalid duration %q", v))
		}
		cfg.ReminderInterval = d
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		if _, err := zapcore.ParseLevel(v); err != nil {
			errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
		}
		cfg.LogLevel = strings.ToLower(v)
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks what serving needs beyond the parse-time checks.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
