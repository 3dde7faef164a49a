package main

import (
	"context"
	"flag"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adjara-labs/concierge/internal/auth"
	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/embed"
	"github.com/adjara-labs/concierge/internal/history"
	"github.com/adjara-labs/concierge/internal/llm"
	"github.com/adjara-labs/concierge/internal/logger"
	"github.com/adjara-labs/concierge/internal/pipeline"
	"github.com/adjara-labs/concierge/internal/prompt"
	"github.com/adjara-labs/concierge/internal/rag"
	"github.com/adjara-labs/concierge/internal/telegram"
)

// Config represents the application configuration.
type Config struct {
	TelegramToken  string
	WebhookURL     string
	ListenAddr     string
	AdminUserIDs   string
	AllowedUserIDs string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	ChatModel     string
	EmbedModel    string
	SystemPrompt  string

	IndexBackend string // "milvus" or "memory"
	MilvusHost   string
	MilvusPort   string
	Collection   string
	SnapshotFile string // memory backend only

	TopK            int
	RequestTimeout  time.Duration
	MaxPromptChars  int
	MaxSessionTurns int
	LaneIdleAfter   time.Duration
}

// loadConfig loads configuration from environment variables.
func loadConfig() *Config {
	return &Config{
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		ListenAddr:     getEnvWithDefault("LISTEN_ADDR", ":8080"),
		AdminUserIDs:   os.Getenv("ADMIN_USER_IDS"),
		AllowedUserIDs: os.Getenv("ALLOWED_USER_IDS"),

		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: getEnvWithDefault("OPENAI_BASE_URL", llm.DefaultBaseURL),
		ChatModel:     getEnvWithDefault("CHAT_MODEL", llm.DefaultModel),
		EmbedModel:    getEnvWithDefault("EMBEDDING_MODEL", embed.DefaultModel),
		SystemPrompt:  getEnvWithDefault("SYSTEM_PROMPT", prompt.DefaultSystem),

		IndexBackend: getEnvWithDefault("INDEX_BACKEND", "milvus"),
		MilvusHost:   getEnvWithDefault("MILVUS_HOST", "milvus"),
		MilvusPort:   getEnvWithDefault("MILVUS_PORT", "19530"),
		Collection:   getEnvWithDefault("INDEX_COLLECTION", rag.DefaultCollection),
		SnapshotFile: getEnvWithDefault("INDEX_SNAPSHOT", "index/chunks.json"),

		TopK:            getEnvInt("RETRIEVAL_TOP_K", rag.DefaultTopK),
		RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", pipeline.DefaultTimeout),
		MaxPromptChars:  getEnvInt("MAX_PROMPT_CHARS", prompt.DefaultMaxChars),
		MaxSessionTurns: getEnvInt("MAX_SESSION_TURNS", 0),
		LaneIdleAfter:   getEnvDuration("LANE_IDLE_AFTER", pipeline.DefaultIdleAfter),
	}
}

// getEnvWithDefault gets an environment variable or returns a default value.
func getEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logger.Warn("Invalid integer for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration for %s: %q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}

// newIndex builds the configured index backend.
func newIndex(ctx context.Context, config *Config) (core.Index, error) {
	if config.IndexBackend == "memory" {
		return rag.NewMemoryIndexFromFile(config.SnapshotFile)
	}
	return rag.NewMilvusIndex(ctx, config.MilvusHost+":"+config.MilvusPort, config.Collection)
}

func main() {
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logger.Init(*debug)
	defer logger.Sync()

	logger.Info("Starting concierge bot...")

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, relying on process environment")
	}

	config := loadConfig()

	if config.TelegramToken == "" {
		logger.Error("TELEGRAM_BOT_TOKEN environment variable is required")
		os.Exit(1)
	}
	if config.OpenAIAPIKey == "" {
		logger.Error("OPENAI_API_KEY environment variable is required")
		os.Exit(1)
	}

	if logger.IsDebugEnabled() {
		logger.Debug("Configuration loaded: webhook=%v backend=%s model=%s topK=%d timeout=%s",
			config.WebhookURL != "", config.IndexBackend, config.ChatModel, config.TopK, config.RequestTimeout)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Initializing services...")

	index, err := newIndex(ctx, config)
	if err != nil {
		logger.Error("Failed to initialize index backend %q: %v", config.IndexBackend, err)
		os.Exit(1)
	}

	embedder := embed.NewOpenAIEmbedder(config.OpenAIAPIKey, config.EmbedModel, config.OpenAIBaseURL)
	retriever := rag.NewRetriever(embedder, index)
	assembler := prompt.NewAssembler(config.SystemPrompt, config.MaxPromptChars)
	generator := llm.NewOpenAIService(config.OpenAIAPIKey, config.ChatModel, config.OpenAIBaseURL)

	// Session history lives in process memory only; a restart starts every
	// conversation over.
	store := history.NewStore(config.MaxSessionTurns)

	pipe := pipeline.New(store, retriever, assembler, generator, config.TopK, config.RequestTimeout)
	dispatcher := pipeline.NewDispatcher(pipe, config.LaneIdleAfter)

	policy := auth.NewPolicyService(config.AdminUserIDs, config.AllowedUserIDs)

	tgBot, err := telegram.NewBot(telegram.Config{
		Token:      config.TelegramToken,
		WebhookURL: config.WebhookURL,
		ListenAddr: config.ListenAddr,
	}, dispatcher, store, policy)
	if err != nil {
		logger.Error("Failed to initialize Telegram bot: %v", err)
		os.Exit(1)
	}

	logger.Info("Starting bot...")
	errCh := make(chan error, 1)
	go func() {
		errCh <- tgBot.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down bot...")
	case err := <-errCh:
		if err != nil {
			logger.Error("Bot stopped: %v", err)
		}
	}

	cancel()
	dispatcher.Close()
	if closer, ok := index.(io.Closer); ok {
		closer.Close()
	}

	logger.Info("Bot has been shut down")
}
