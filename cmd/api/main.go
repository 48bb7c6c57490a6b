package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gemini-chat/internal/config"
	"gemini-chat/internal/db"
	apihttp "gemini-chat/internal/http"
	"gemini-chat/internal/llm"
	"gemini-chat/internal/repository"
	"gemini-chat/internal/service"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	var convRepo repository.ConversationRepository
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("db schema", zap.Error(err))
		}
		convRepo = repository.NewPgConversationRepository(pool)
	} else {
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			logger.Fatal("sqlite open", zap.Error(err))
		}
		defer sqlDB.Close()
		if err := db.InitSQLiteSchema(sqlDB); err != nil {
			logger.Fatal("sqlite schema", zap.Error(err))
		}
		convRepo = repository.NewSqliteConversationRepository(sqlDB)
		logger.Info("using local sqlite store", zap.String("path", cfg.SQLitePath))
	}

	chunkTimeout := time.Duration(cfg.StreamChunkTimeoutSeconds) * time.Second
	var generator llm.Generator
	switch cfg.LLMProvider {
	case "openai":
		generator = llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		generator = llm.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel, chunkTimeout, logger)
	}

	// Exclusion por conversacion: en proceso por defecto, via Redis cuando
	// hay mas de una instancia detras del mismo store.
	var locks service.ConversationLocker = service.NewKeyedLocker()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-process locks", zap.Error(err))
		} else {
			locks = service.NewRedisLocker(redisClient, 2*time.Minute)
		}
		cancel()
	}

	convSvc := service.NewConversationService(
		convRepo,
		generator,
		locks,
		logger,
		time.Duration(cfg.GenerateTimeoutSeconds)*time.Second,
	)
	chatHandler := apihttp.NewChatHandler(logger, convSvc)
	router := apihttp.NewRouter(logger, chatHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server",
		zap.String("port", cfg.HTTPPort),
		zap.String("provider", cfg.LLMProvider),
	)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
