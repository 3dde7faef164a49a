// ragcheck queries the knowledge index directly, bypassing Telegram and the
// generation backend. Handy for checking what the ingestion job actually
// stored and what a given question will retrieve.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/embed"
	"github.com/adjara-labs/concierge/internal/logger"
	"github.com/adjara-labs/concierge/internal/rag"
)

func main() {
	k := flag.Int("k", rag.DefaultTopK, "Number of chunks to retrieve")
	backend := flag.String("backend", "", "Index backend: milvus or memory (default from INDEX_BACKEND)")
	flag.Parse()

	logger.Init(false)

	query := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "usage: ragcheck [-k n] [-backend milvus|memory] <query text>")
		os.Exit(2)
	}

	if err := godotenv.Load(); err == nil {
		logger.Debug("Loaded environment from .env")
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "OPENAI_API_KEY environment variable is required")
		os.Exit(1)
	}

	if *backend == "" {
		*backend = envOr("INDEX_BACKEND", "milvus")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		index core.Index
		err   error
	)
	switch *backend {
	case "memory":
		index, err = rag.NewMemoryIndexFromFile(envOr("INDEX_SNAPSHOT", "index/chunks.json"))
	default:
		addr := envOr("MILVUS_HOST", "localhost") + ":" + envOr("MILVUS_PORT", "19530")
		index, err = rag.NewMilvusIndex(ctx, addr, envOr("INDEX_COLLECTION", rag.DefaultCollection))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open index: %v\n", err)
		os.Exit(1)
	}

	embedder := embed.NewOpenAIEmbedder(apiKey, envOr("EMBEDDING_MODEL", embed.DefaultModel), envOr("OPENAI_BASE_URL", embed.DefaultBaseURL))
	retriever := rag.NewRetriever(embedder, index)

	results, err := retriever.Retrieve(ctx, query, *k)
	if err != nil {
		fmt.Fprintf(os.Stderr, "retrieval failed: %v\n", err)
		os.Exit(1)
	}

	if len(results) == 0 {
		color.Yellow("No chunks found for query: %q", query)
		return
	}

	header := color.New(color.FgCyan, color.Bold)
	meta := color.New(color.FgGreen)

	header.Printf("Found %d relevant chunks for query: %q\n\n", len(results), query)
	for i, sc := range results {
		header.Printf("Result #%d (score: %.2f)\n", i+1, sc.Score)
		source := sc.Chunk.Source
		if source == "" {
			source = "unknown"
		}
		meta.Printf("Source: %s\n", source)
		fmt.Println(strings.Repeat("-", 50))
		fmt.Println(sc.Chunk.Text)
		fmt.Println()
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println()
	}
}

func envOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
