package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML. Every field
// can be overridden by a DOCGRAM_* environment variable.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// Empty databaseURL selects the in-memory store (dev only).
	DatabaseURL string `yaml:"databaseURL"`

	// Empty minioEndpoint selects the in-memory object store.
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	QueueBackend           string `yaml:"queueBackend"` // redis, amqp or memory
	QueueStream            string `yaml:"queueStream"`
	QueueGroup             string `yaml:"queueGroup"`
	QueueConcurrency       int    `yaml:"queueConcurrency"`
	QueueMaxRetries        int    `yaml:"queueMaxRetries"`
	QueueRetryDelaySeconds int    `yaml:"queueRetryDelaySeconds"`
	AMQPURL                string `yaml:"amqpURL"`
	AMQPQueue              string `yaml:"amqpQueue"`

	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
	JWTTTL      string `yaml:"jwtTtl"`
	JWTLeeway   string `yaml:"jwtLeeway"`

	AIProvider            string `yaml:"aiProvider"` // gemini, ollama or openai
	GeminiAPIKey          string `yaml:"geminiApiKey"`
	GeminiEmbedModel      string `yaml:"geminiEmbedModel"`
	GeminiChatModel       string `yaml:"geminiChatModel"`
	OllamaBaseURL         string `yaml:"ollamaBaseURL"`
	OllamaEmbedModel      string `yaml:"ollamaEmbedModel"`
	OllamaChatModel       string `yaml:"ollamaChatModel"`
	OllamaEmbedDimensions int    `yaml:"ollamaEmbedDimensions"`
	OpenAIBaseURL         string `yaml:"openAIBaseURL"`
	OpenAIAPIKey          string `yaml:"openAIApiKey"`
	OpenAIChatModel       string `yaml:"openAIChatModel"`

	MaxUploadBytes     int64 `yaml:"maxUploadBytes"`
	ChunkSize          int   `yaml:"chunkSize"`
	ChunkOverlap       int   `yaml:"chunkOverlap"`
	TopK               int   `yaml:"topK"`
	HistoryLimit       int   `yaml:"historyLimit"`
	ContextBudget      int   `yaml:"contextBudget"`
	EmbedConcurrency   int   `yaml:"embedConcurrency"`
	EmbedBatchSize     int   `yaml:"embedBatchSize"`
	DownloadTTLMinutes int   `yaml:"downloadTtlMinutes"`

	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(name string, target *string) {
		if v := os.Getenv(name); v != "" {
			*target = strings.TrimSpace(v)
		}
	}
	setInt := func(name string, target *int) {
		if v := os.Getenv(name); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*target = n
			}
		}
	}
	setString("DOCGRAM_PORT", &cfg.Port)
	setString("DOCGRAM_LOG_LEVEL", &cfg.LogLevel)
	setString("DOCGRAM_DATABASE_URL", &cfg.DatabaseURL)
	setString("DOCGRAM_MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("DOCGRAM_MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("DOCGRAM_MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("DOCGRAM_MINIO_BUCKET", &cfg.MinioBucket)
	if v := os.Getenv("DOCGRAM_MINIO_USE_SSL"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.MinioUseSSL = b
		}
	}
	setString("DOCGRAM_REDIS_ADDR", &cfg.RedisAddr)
	setString("DOCGRAM_REDIS_PASSWORD", &cfg.RedisPassword)
	setString("DOCGRAM_QUEUE_BACKEND", &cfg.QueueBackend)
	setString("DOCGRAM_QUEUE_STREAM", &cfg.QueueStream)
	setString("DOCGRAM_QUEUE_GROUP", &cfg.QueueGroup)
	setInt("DOCGRAM_QUEUE_CONCURRENCY", &cfg.QueueConcurrency)
	setInt("DOCGRAM_QUEUE_MAX_RETRIES", &cfg.QueueMaxRetries)
	setInt("DOCGRAM_QUEUE_RETRY_DELAY_SECONDS", &cfg.QueueRetryDelaySeconds)
	setString("DOCGRAM_AMQP_URL", &cfg.AMQPURL)
	setString("DOCGRAM_AMQP_QUEUE", &cfg.AMQPQueue)
	setString("DOCGRAM_JWT_SECRET", &cfg.JWTSecret)
	setString("DOCGRAM_JWT_ISSUER", &cfg.JWTIssuer)
	setString("DOCGRAM_JWT_AUDIENCE", &cfg.JWTAudience)
	setString("DOCGRAM_JWT_TTL", &cfg.JWTTTL)
	setString("DOCGRAM_JWT_LEEWAY", &cfg.JWTLeeway)
	setString("DOCGRAM_AI_PROVIDER", &cfg.AIProvider)
	setString("DOCGRAM_GEMINI_API_KEY", &cfg.GeminiAPIKey)
	setString("DOCGRAM_GEMINI_EMBED_MODEL", &cfg.GeminiEmbedModel)
	setString("DOCGRAM_GEMINI_CHAT_MODEL", &cfg.GeminiChatModel)
	setString("DOCGRAM_OLLAMA_BASE_URL", &cfg.OllamaBaseURL)
	setString("DOCGRAM_OLLAMA_EMBED_MODEL", &cfg.OllamaEmbedModel)
	setString("DOCGRAM_OLLAMA_CHAT_MODEL", &cfg.OllamaChatModel)
	setInt("DOCGRAM_OLLAMA_EMBED_DIMENSIONS", &cfg.OllamaEmbedDimensions)
	setString("DOCGRAM_OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	setString("DOCGRAM_OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	setString("DOCGRAM_OPENAI_CHAT_MODEL", &cfg.OpenAIChatModel)
	if v := os.Getenv("DOCGRAM_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	setInt("DOCGRAM_CHUNK_SIZE", &cfg.ChunkSize)
	setInt("DOCGRAM_CHUNK_OVERLAP", &cfg.ChunkOverlap)
	setInt("DOCGRAM_TOP_K", &cfg.TopK)
	setInt("DOCGRAM_HISTORY_LIMIT", &cfg.HistoryLimit)
	setInt("DOCGRAM_CONTEXT_BUDGET", &cfg.ContextBudget)
	setInt("DOCGRAM_EMBED_CONCURRENCY", &cfg.EmbedConcurrency)
	setInt("DOCGRAM_EMBED_BATCH_SIZE", &cfg.EmbedBatchSize)
	setInt("DOCGRAM_DOWNLOAD_TTL_MINUTES", &cfg.DownloadTTLMinutes)
	setInt("DOCGRAM_REGISTER_RATE_LIMIT_PER_MINUTE", &cfg.RegisterRateLimitPerMinute)
	setInt("DOCGRAM_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	if v := os.Getenv("DOCGRAM_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or DOCGRAM_JWT_SECRET)")
	}
	switch cfg.QueueBackend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis queue backend")
		}
	case "amqp":
		if strings.TrimSpace(cfg.AMQPURL) == "" {
			return errors.New("config: amqpURL is required for the amqp queue backend")
		}
	default:
		return fmt.Errorf("config: unknown queueBackend %q (redis, amqp or memory)", cfg.QueueBackend)
	}
	switch cfg.AIProvider {
	case "", "ollama":
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return errors.New("config: geminiApiKey is required for the gemini provider")
		}
	case "openai":
		if strings.TrimSpace(cfg.OpenAIBaseURL) == "" {
			return errors.New("config: openAIBaseURL is required for the openai provider")
		}
	default:
		return fmt.Errorf("config: unknown aiProvider %q (gemini, ollama or openai)", cfg.AIProvider)
	}
	if cfg.ChunkSize < 0 || cfg.ChunkOverlap < 0 {
		return errors.New("config: chunkSize and chunkOverlap must be >= 0")
	}
	if cfg.ChunkSize > 0 && cfg.ChunkOverlap >= cfg.ChunkSize {
		return errors.New("config: chunkOverlap must be smaller than chunkSize")
	}
	if cfg.RegisterRateLimitPerMinute < 0 || cfg.LoginRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
