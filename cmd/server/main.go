package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/okchat/okchat/internal/api"
	"github.com/okchat/okchat/internal/auth"
	"github.com/okchat/okchat/internal/config"
	"github.com/okchat/okchat/internal/core"
	"github.com/okchat/okchat/internal/llm"
	"github.com/okchat/okchat/internal/store"
)

func newLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if parsed, err := zap.ParseAtomicLevel(strings.ToLower(level)); err == nil {
		cfg.Level = parsed
	}
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	return logger
}

func newLLMClient(logger *zap.Logger) llm.Client {
	switch config.AppConfig.LLMProvider {
	case "gemini":
		client, err := llm.NewGeminiClient(context.Background(), config.AppConfig.GeminiAPIKey)
		if err != nil {
			logger.Fatal("failed to create gemini client", zap.Error(err))
		}
		return client
	default:
		return llm.NewOpenAIClient(
			config.AppConfig.OpenAIBaseURL,
			config.AppConfig.OpenAIAPIKey,
			config.AppConfig.OpenAIModel,
		)
	}
}

func main() {
	// Load configuration
	config.LoadConfig()

	logger := newLogger(config.AppConfig.LogLevel)
	defer logger.Sync()

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer dbStore.Close()

	// Completion service client
	llmClient := newLLMClient(logger)
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// Sessions and the optional Google identity provider
	sessions := auth.NewSessionManager(config.AppConfig.SessionSecret)

	var identity auth.IdentityProvider
	if config.AppConfig.GoogleClientID != "" && config.AppConfig.GoogleClientSecret != "" {
		identity = auth.NewGoogleProvider(
			config.AppConfig.GoogleClientID,
			config.AppConfig.GoogleClientSecret,
			config.AppConfig.GoogleRedirectURL,
		)
	} else {
		logger.Warn("google oauth not configured, /login/google disabled")
	}

	// Services
	accountService := core.NewAccountService(dbStore, logger)
	chatService := core.NewChatService(dbStore, logger)
	assistantService := core.NewAssistantService(llmClient, config.AppConfig.LLMTimeout, logger)

	// API Handler and Router
	apiHandler := api.NewAPIHandler(accountService, chatService, assistantService, sessions, identity, logger)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // LLM calls can take time
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("starting server", zap.String("addr", serverAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exiting gracefully")
}
