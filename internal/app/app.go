package app

import (
	"log/slog"
	"time"

	"docgram/internal/usertoken"
	"docgram/pkg/ai"
	"docgram/pkg/queue"
	"docgram/pkg/storage"
	"docgram/pkg/store"
)

// Assistant message bodies written by the conversation orchestrator.
const (
	thinkingPlaceholder = "Thinking..."
	answerFallback      = "Sorry, I'm having trouble processing your question right now."
)

// Config carries the tunables of the application core.
type Config struct {
	MaxUploadBytes   int64
	ChunkSize        int
	ChunkOverlap     int
	TopK             int
	HistoryLimit     int
	ContextBudget    int
	EmbedConcurrency int
	EmbedBatchSize   int
	DownloadTTL      time.Duration
	AICallTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 50 << 20
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = 200
	}
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.HistoryLimit < 0 {
		c.HistoryLimit = 0
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = 4000
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 32
	}
	if c.DownloadTTL <= 0 {
		c.DownloadTTL = 15 * time.Minute
	}
	if c.AICallTimeout <= 0 {
		c.AICallTimeout = 30 * time.Second
	}
	return c
}

// App implements the Docgram use cases on top of injected
// infrastructure. Handlers call it; it never touches HTTP.
type App struct {
	store     store.Store
	blobs     storage.ObjectStore
	jobs      queue.Queue
	embedder  ai.Embedder
	generator ai.TextGenerator
	tokens    *usertoken.Manager
	cfg       Config
	logger    *slog.Logger
}

func New(
	st store.Store,
	blobs storage.ObjectStore,
	jobs queue.Queue,
	embedder ai.Embedder,
	generator ai.TextGenerator,
	tokens *usertoken.Manager,
	cfg Config,
	logger *slog.Logger,
) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store:     st,
		blobs:     blobs,
		jobs:      jobs,
		embedder:  embedder,
		generator: generator,
		tokens:    tokens,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}
