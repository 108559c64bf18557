package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/local/phenbot/api/config"
	"github.com/local/phenbot/api/db"
	"github.com/local/phenbot/api/handlers"
	"github.com/local/phenbot/api/services"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup logger
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Initialize database
	database, err := db.Init(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	log.Info().Str("db_path", cfg.DBPath).Msg("Database initialized")

	records := db.NewRecords(database)

	// Sessions live in Redis when configured, otherwise in sqlite
	var sessions services.SessionStore = db.NewSQLSessions(database)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("redis_addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
		}
		sessions = db.NewRedisSessions(client)
		log.Info().Str("redis_addr", cfg.RedisAddr).Msg("Using Redis session store")
	}

	if !cfg.AIConfigured() {
		log.Warn().Msg("OPENAI_API_KEY is not set, chat and PDF actions will fail")
	}

	ai := services.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, &http.Client{Timeout: 120 * time.Second})
	study := services.NewStudyService(
		services.NewUploadSink(cfg.UploadDir),
		services.NewPromptComposer(cfg.OpenAIModel),
		ai,
		cfg.CharBudget,
	)
	auth := services.NewAuthService(records, sessions, cfg.JWTSecret, cfg.SessionTTL)

	// Create Gin router
	gin.SetMode(gin.ReleaseMode)
	router := handlers.NewRouter(handlers.New(cfg, study, auth, records), cfg)

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Info().
		Str("port", cfg.Port).
		Str("model", cfg.OpenAIModel).
		Str("upload_dir", cfg.UploadDir).
		Int("char_budget", cfg.CharBudget).
		Msg("Starting PhenBOT API server")

	if err := router.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
