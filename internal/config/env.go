package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/shipwatch/shipwatch/internal/storage"
)

// Load resolves the configuration for the project rooted at projectRoot:
// .env (without overriding variables already set), then
// .shipwatch/config.yaml, then environment overrides, then validation.
func Load(projectRoot string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(projectRoot, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := LoadFile(Path(projectRoot))
	if err != nil {
		return nil, err
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Path returns the config file location for a project root
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, storage.StateDirName, FileName)
}

// ApplyEnv overrides cfg from environment variables
//
// Environment variables:
//   - SHIPWATCH_SHIP_URL (fallback URBIT_SHIP_URL): ship base URL
//   - SHIPWATCH_SHIP_NAME: our ship name
//   - SHIPWATCH_SESSION_COOKIE (fallback URBIT_SESSION_COOKIE): urbauth value
//   - SHIPWATCH_POLL_INTERVAL: poll interval, e.g. "30m"
//   - SHIPWATCH_POLL_CONCURRENCY: channels polled at once
//   - SHIPWATCH_DISCOVERY_ENABLED: run the discovery pass
//   - SHIPWATCH_MIN_MESSAGES: analysis threshold
//   - SHIPWATCH_MODEL: model used for summaries
//   - ANTHROPIC_API_KEY: API key for summaries
//   - SHIPWATCH_LOG_LEVEL, SHIPWATCH_LOG_FORMAT: logger settings
//   - SHIPWATCH_DB_PATH: database path
//
// Returns an error if any environment variable has an invalid value.
func ApplyEnv(cfg *Config) error {
	_ = parseEnvString("URBIT_SHIP_URL", &cfg.Ship.URL)
	_ = parseEnvString("SHIPWATCH_SHIP_URL", &cfg.Ship.URL)
	_ = parseEnvString("SHIPWATCH_SHIP_NAME", &cfg.Ship.Name)
	_ = parseEnvString("URBIT_SESSION_COOKIE", &cfg.Ship.SessionCookie)
	_ = parseEnvString("SHIPWATCH_SESSION_COOKIE", &cfg.Ship.SessionCookie)

	if err := parseEnvDuration("SHIPWATCH_POLL_INTERVAL", &cfg.Poll.Interval); err != nil {
		return err
	}
	if err := parseEnvInt("SHIPWATCH_POLL_CONCURRENCY", &cfg.Poll.Concurrency); err != nil {
		return err
	}
	if err := parseEnvBool("SHIPWATCH_DISCOVERY_ENABLED", &cfg.Discovery.Enabled); err != nil {
		return err
	}
	if err := parseEnvInt("SHIPWATCH_MIN_MESSAGES", &cfg.Analysis.MinMessages); err != nil {
		return err
	}

	_ = parseEnvString("SHIPWATCH_MODEL", &cfg.Analysis.Model)
	_ = parseEnvString("ANTHROPIC_API_KEY", &cfg.Analysis.APIKey)
	_ = parseEnvString("SHIPWATCH_LOG_LEVEL", &cfg.LogLevel)
	_ = parseEnvString("SHIPWATCH_LOG_FORMAT", &cfg.LogFormat)
	_ = parseEnvString("SHIPWATCH_DB_PATH", &cfg.DatabasePath)

	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvString parses a string from an environment variable
func parseEnvString(key string, dest *string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	*dest = value
	return nil
}

// parseEnvDuration parses a duration ("90s", "2h", "1d") from an environment variable
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
