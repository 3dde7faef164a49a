package rag

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/logger"
)

// DefaultTopK is how many chunks a retrieval returns unless configured
// otherwise.
const DefaultTopK = 3

const defaultMaxRetries = 3

// Retriever implements core.Retriever: embed the query, ask the index for
// the nearest chunks, and normalize the ordering so identical queries
// always return identical results.
type Retriever struct {
	embedder   core.Embedder
	index      core.Index
	maxRetries uint64
}

// NewRetriever wires an embedder and an index into a retriever.
func NewRetriever(embedder core.Embedder, index core.Index) *Retriever {
	return &Retriever{
		embedder:   embedder,
		index:      index,
		maxRetries: defaultMaxRetries,
	}
}

// Retrieve returns the k chunks most relevant to the query. Embedding
// failures surface as EmbeddingUnavailable, index failures as
// RetrievalUnavailable, each after its own bounded retry budget.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) (core.RetrievalResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	// The embedder owns its boundary: it retries and classifies internally.
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var result core.RetrievalResult
	operation := func() error {
		res, err := r.index.Nearest(ctx, vector, k)
		if err != nil {
			logger.RagWarn("Index query failed, will retry: %v", err)
			return err
		}
		result = res
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxRetries), ctx)); err != nil {
		return nil, core.Fail(core.RetrievalUnavailable, err)
	}

	normalizeOrder(result)
	logger.RagDebug("Retrieved %d chunks for query (%d chars)", len(result), len(query))
	return result, nil
}

// normalizeOrder enforces the documented result order: descending score,
// ties broken by index insertion order (create time, then id). The index
// itself may return ties in any order.
func normalizeOrder(result core.RetrievalResult) {
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		if result[i].Chunk.CreateTime != result[j].Chunk.CreateTime {
			return result[i].Chunk.CreateTime < result[j].Chunk.CreateTime
		}
		return result[i].Chunk.ID < result[j].Chunk.ID
	})
}
