package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Error(t, cfg.Validate(), "no secret, cannot serve")
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"PORT":              "3000",
		"DB_PATH":           ":memory:",
		"JWT_SECRET":        "s3cret",
		"FINE_PER_DAY":      "2500",
		"DEFAULT_LOAN_DAYS": "14",
		"REMINDER_INTERVAL": "90m",
		"ALLOWED_ORIGINS":   " https://a.example , ,https://b.example",
		"LOG_LEVEL":         "DEBUG",
	}))
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, int64(2500), cfg.FinePerDay)
	assert.Equal(t, 14, cfg.DefaultLoanDays)
	assert.Equal(t, 90*time.Minute, cfg.ReminderInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.NoError(t, cfg.Validate())
}

func TestFromEnv_ReportsEveryBadValue(t *testing.T) {
	_, err := FromEnv(env(map[string]string{
		"PORT":              "eighty",
		"FINE_PER_DAY":      "-1",
		"DEFAULT_LOAN_DAYS": "0",
		"REMINDER_INTERVAL": "daily",
		"LOG_LEVEL":         "loud",
	}))
	require.Error(t, err)
	for _, name := range []string{"PORT", "FINE_PER_DAY", "DEFAULT_LOAN_DAYS", "REMINDER_INTERVAL", "LOG_LEVEL"} {
		assert.Contains(t, err.Error(), name)
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir())) // no .env here
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, 9090, cfg.Port)
}
