package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/routerlab/autofee/internal/logger"
	"github.com/routerlab/autofee/internal/state"
	"github.com/routerlab/autofee/internal/types"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Wipes one channel's learned state: its ledger rows, EMA, discount and
// stagnation records. The next cycle re-seeds the channel from scratch.
//
// Usage: go run scripts/reset_channel.go <channel_id>
func main() {
	// Initialize logger
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Initialize(logLevel)

	if len(os.Args) != 2 {
		log.Fatal().Msg("Usage: reset_channel <channel_id>")
	}
	chanID, err := strconv.ParseUint(os.Args[1], 10, 64)
	if err != nil {
		log.Fatal().Str("arg", os.Args[1]).Msg("Channel ID must be a numeric short channel id.")
	}

	log.Info().Uint64("channelId", chanID).Msg("Starting channel reset script...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found or error loading .env file. Relying on OS environment variables.")
	}

	// Get database configuration from environment variables
	dbHost := os.Getenv("DB_HOST")
	dbPortStr := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPassword := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	dbSSLMode := os.Getenv("DB_SSLMODE")

	// Set defaults for missing values
	if dbHost == "" {
		dbHost = "localhost"
	}
	if dbUser == "" {
		log.Fatal().Msg("DB_USER environment variable not set.")
	}
	if dbName == "" {
		log.Fatal().Msg("DB_NAME environment variable not set.")
	}
	if dbSSLMode == "" {
		dbSSLMode = "disable"
	}

	dbPort := 5432
	if dbPortStr != "" {
		fmt.Sscanf(dbPortStr, "%d", &dbPort)
	}

	dbCfg := state.DBConfig{
		Host:     dbHost,
		Port:     dbPort,
		User:     dbUser,
		Password: dbPassword,
		DBName:   dbName,
		SSLMode:  dbSSLMode,
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("user", dbCfg.User).
		Str("dbname", dbCfg.DBName).
		Msg("Connecting to database")

	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer state.CloseDB()

	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	if err := state.ResetChannel(types.ChannelID(chanID)); err != nil {
		log.Fatal().Err(err).Uint64("channelId", chanID).Msg("Failed to reset channel state")
	}

	log.Info().Uint64("channelId", chanID).Msg("Channel reset complete!")
}
