package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/logger"
)

// IndexedChunk is a chunk together with its precomputed embedding, as the
// ingestion job exports it.
type IndexedChunk struct {
	Chunk  core.Chunk `json:"chunk"`
	Vector []float32  `json:"vector"`
}

// MemoryIndex implements core.Index over an in-process corpus with exact
// cosine similarity. It backs tests, the ragcheck CLI, and small deployments
// where running Milvus is not worth it.
type MemoryIndex struct {
	chunks []IndexedChunk
}

// NewMemoryIndex builds an index over the given chunks. Chunk order is the
// insertion order used for tie-breaking.
func NewMemoryIndex(chunks []IndexedChunk) *MemoryIndex {
	return &MemoryIndex{chunks: chunks}
}

// NewMemoryIndexFromFile loads a JSON snapshot produced by the ingestion job.
func NewMemoryIndexFromFile(path string) (*MemoryIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index snapshot %s: %w", path, err)
	}

	var chunks []IndexedChunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to parse index snapshot %s: %w", path, err)
	}

	logger.RagInfo("Loaded %d chunks from index snapshot %s", len(chunks), path)
	return NewMemoryIndex(chunks), nil
}

// Nearest returns the k most similar chunks by cosine similarity, best
// first. Ties keep insertion order, so repeated queries are stable.
func (m *MemoryIndex) Nearest(ctx context.Context, vector []float32, k int) (core.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}

	scored := make(core.RetrievalResult, 0, len(m.chunks))
	for _, ic := range m.chunks {
		scored = append(scored, core.ScoredChunk{
			Chunk: ic.Chunk,
			Score: cosineSimilarity(vector, ic.Vector),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Close satisfies the io.Closer shape shared with the Milvus index.
func (m *MemoryIndex) Close() error { return nil }

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
