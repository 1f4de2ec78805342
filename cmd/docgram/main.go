package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"docgram/internal/app"
	"docgram/internal/config"
	"docgram/internal/server"
	"docgram/internal/usertoken"
	"docgram/internal/util"
	"docgram/pkg/ai"
	"docgram/pkg/queue"
	"docgram/pkg/storage"
	"docgram/pkg/store"
)

func main() {
	cfg, err := config.Load(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokens, err := newTokenManager(cfg)
	if err != nil {
		fatal("failed to init token manager", err)
	}

	st, err := newStore(cfg)
	if err != nil {
		fatal("failed to init store", err)
	}

	blobs, err := newObjectStore(cfg)
	if err != nil {
		fatal("failed to init object storage", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}

	jobs, err := newQueue(cfg)
	if err != nil {
		fatal("failed to init job queue", err)
	}

	embedder, generator, err := newAIClients(cfg)
	if err != nil {
		fatal("failed to init ai clients", err)
	}

	appCore := app.New(st, blobs, jobs, embedder, generator, tokens, app.Config{
		MaxUploadBytes:   cfg.MaxUploadBytes,
		ChunkSize:        cfg.ChunkSize,
		ChunkOverlap:     cfg.ChunkOverlap,
		TopK:             cfg.TopK,
		HistoryLimit:     cfg.HistoryLimit,
		ContextBudget:    cfg.ContextBudget,
		EmbedConcurrency: cfg.EmbedConcurrency,
		EmbedBatchSize:   cfg.EmbedBatchSize,
		DownloadTTL:      time.Duration(cfg.DownloadTTLMinutes) * time.Minute,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	jobs.Start(ctx, concurrency, appCore.HandleJob)

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		Redis:                      redisClient,
		RegisterRateLimitPerMinute: cfg.RegisterRateLimitPerMinute,
		LoginRateLimitPerMinute:    cfg.LoginRateLimitPerMinute,
		MaxUploadBytes:             cfg.MaxUploadBytes,
		TrustedProxies:             cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		fatal("failed to init http server", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("docgram server listening", "addr", addr, "queue_backend", queueBackend(cfg))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

func configPath() string {
	if path := os.Getenv("DOCGRAM_CONFIG"); path != "" {
		return path
	}
	return config.ConfigPath
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func newTokenManager(cfg config.FileConfig) (*usertoken.Manager, error) {
	ttl, err := parseDuration(cfg.JWTTTL, "jwtTtl")
	if err != nil {
		return nil, err
	}
	leeway, err := parseDuration(cfg.JWTLeeway, "jwtLeeway")
	if err != nil {
		return nil, err
	}
	return usertoken.NewManager(usertoken.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      ttl,
		Leeway:   leeway,
	})
}

func parseDuration(raw, name string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	return dur, nil
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Warn("no databaseURL configured, using in-memory store")
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func newObjectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if cfg.MinioEndpoint == "" {
		slog.Warn("no minioEndpoint configured, using in-memory object store")
		return storage.NewMemoryObjectStore(), nil
	}
	bucket := cfg.MinioBucket
	if bucket == "" {
		bucket = "docgram"
	}
	return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, bucket, cfg.MinioUseSSL)
}

func queueBackend(cfg config.FileConfig) string {
	if cfg.QueueBackend == "" {
		return "memory"
	}
	return cfg.QueueBackend
}

func newQueue(cfg config.FileConfig) (queue.Queue, error) {
	switch queueBackend(cfg) {
	case "redis":
		return queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     defaultString(cfg.QueueStream, "docgram:jobs"),
			Group:      defaultString(cfg.QueueGroup, "docgram"),
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
		})
	case "amqp":
		return queue.NewAMQPJobQueue(queue.AMQPQueueConfig{
			URL:        cfg.AMQPURL,
			Queue:      defaultString(cfg.AMQPQueue, "docgram.jobs"),
			MaxRetries: cfg.QueueMaxRetries,
		})
	case "memory":
		maxRetries := cfg.QueueMaxRetries
		if maxRetries <= 0 {
			maxRetries = 3
		}
		return queue.NewMemoryJobQueue(1024, maxRetries), nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}
}

// newAIClients picks the embedding and generation providers. Gemini
// serves both; Ollama embeds locally and can generate; an
// OpenAI-compatible endpoint generates with Ollama embeddings.
func newAIClients(cfg config.FileConfig) (ai.Embedder, ai.TextGenerator, error) {
	switch cfg.AIProvider {
	case "gemini":
		client, err := ai.NewGeminiClient(cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, err
		}
		embedder := ai.NewGeminiEmbedder(client, defaultString(cfg.GeminiEmbedModel, "text-embedding-004"))
		generator := ai.NewGeminiGenerator(client, defaultString(cfg.GeminiChatModel, "gemini-1.5-flash"))
		return embedder, generator, nil
	case "openai":
		ollama := ai.NewOllamaClient(cfg.OllamaBaseURL)
		embedder := ai.NewOllamaEmbedder(ollama, defaultString(cfg.OllamaEmbedModel, "nomic-embed-text"), cfg.OllamaEmbedDimensions)
		generator := ai.NewOpenAICompatGenerator(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, defaultString(cfg.OpenAIChatModel, "gpt-4o-mini"))
		return embedder, generator, nil
	default: // ollama
		ollama := ai.NewOllamaClient(cfg.OllamaBaseURL)
		embedder := ai.NewOllamaEmbedder(ollama, defaultString(cfg.OllamaEmbedModel, "nomic-embed-text"), cfg.OllamaEmbedDimensions)
		generator := ai.NewOllamaGenerator(ollama, defaultString(cfg.OllamaChatModel, "llama3.1"))
		return embedder, generator, nil
	}
}

func defaultString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
