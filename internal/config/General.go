package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode is the run mode: "live" writes the override file, anything else
	// runs the pipeline dry.
	Mode string

	// CycleIntervalMinutes is how often the pipeline runs.
	CycleIntervalMinutes int

	// OverrideFilePath is where the compiled override set is serialized for
	// the external applier.
	OverrideFilePath string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode = os.Getenv("AUTOFEE_MODE")

	CycleIntervalMinutes, err = getEnvAsInt("AUTOFEE_CYCLE_INTERVAL_MINUTES")
	if err != nil {
		return err
	}
	if CycleIntervalMinutes <= 0 {
		return errors.New("AUTOFEE_CYCLE_INTERVAL_MINUTES must be positive")
	}

	OverrideFilePath, err = getEnv("AUTOFEE_OVERRIDE_FILE")
	if err != nil {
		return err
	}
	if strings.HasPrefix(OverrideFilePath, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		OverrideFilePath = filepath.Join(home, OverrideFilePath[2:])
	}

	if err := loadNodeConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Mode", Mode).
		Int("CycleIntervalMinutes", CycleIntervalMinutes).
		Str("OverrideFilePath", OverrideFilePath).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}
