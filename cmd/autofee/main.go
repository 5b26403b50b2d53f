package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/routerlab/autofee/internal/config"
	"github.com/routerlab/autofee/internal/engine"
	"github.com/routerlab/autofee/internal/logger"
	"github.com/routerlab/autofee/internal/node"
	"github.com/routerlab/autofee/internal/state"
	"github.com/routerlab/autofee/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// main is the entry point for the autofee policy manager.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Autofee Policy Manager Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Policy Parameters
	policyParams, err := state.LoadActivePolicyParameters(engine.DEFAULT_POLICY_CONFIG_NAME)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load active policy parameters, using defaults and saving.")
		defaultParams := config.DefaultPolicyParameters
		if _, err := state.SavePolicyParameters(defaultParams, engine.DEFAULT_POLICY_CONFIG_NAME, engine.DEFAULT_POLICY_CONFIG_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default policy parameters.")
		}
		policyParams = &defaultParams
	}
	log.Info().Msg("Policy parameters loaded successfully.")

	// --- Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, engine.DEFAULT_POLICY_CONFIG_NAME)
	go func() {
		log.Info().Str("port", webPort).Str("url", "http://localhost:"+webPort).Msg("Starting autofee web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 2. Node Connection (with Safety Switch) ---
	dryRun := config.Mode != "live"
	if dryRun {
		log.Warn().Str("mode", config.Mode).Msg("AUTOFEE_MODE is not 'live'. Running dry: overrides are computed and recorded but never written.")
	} else {
		log.Warn().Msg("Initializing autofee in LIVE mode. The policy override file will be rewritten every cycle.")
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	conn, err := node.Dial(dialCtx)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to lnd")
	}
	defer conn.Close()

	source := node.NewLndSource(conn)
	pubkey, err := source.LocalPubkey(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to query node identity")
	}
	log.Info().Str("pubkey", pubkey).Str("endpoint", config.NodeGRPC).Msg("Connected to lnd")

	// --- 3. Create Engine Instance with Dependency Injection ---
	log.Info().Msg("Creating engine instance with dependency injection...")

	engineConfig := engine.Config{
		Node:          source,
		Store:         engine.DBStore{},
		Params:        *policyParams,
		ConfigName:    engine.DEFAULT_POLICY_CONFIG_NAME,
		ConfigVersion: engine.DEFAULT_POLICY_CONFIG_VERSION,
		OverridePath:  config.OverrideFilePath,
		DryRun:        dryRun,
	}

	eng, err := engine.NewEngine(engineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine instance")
	}

	log.Info().Msg("Engine instance created successfully")

	// --- 4. Start Engine Main Loop ---
	interval := time.Duration(config.CycleIntervalMinutes) * time.Minute
	log.Info().Str("interval", interval.String()).Msg("Starting engine main loop")

	ctx := context.Background()

	eng.RunLoop(ctx, interval)
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
