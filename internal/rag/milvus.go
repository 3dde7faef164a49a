package rag

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/logger"
)

// Field names in the chunk collection. The collection is created and
// populated by the offline ingestion job; its layout is fixed there.
const (
	FieldID         = "id"
	FieldText       = "text"
	FieldSource     = "source"
	FieldCreateTime = "create_time"
	FieldVector     = "vector"
)

// DefaultCollection is the collection the ingestion job writes chunks to.
const DefaultCollection = "chunks"

// MilvusIndex implements core.Index on top of a Milvus collection.
type MilvusIndex struct {
	client     client.Client
	collection string
}

// NewMilvusIndex connects to Milvus. The collection must already exist and
// be loaded; this process never writes to it.
func NewMilvusIndex(ctx context.Context, addr, collection string) (*MilvusIndex, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	logger.RagInfo("Connecting to Milvus at %s (collection %q)", addr, collection)

	c, err := client.NewClient(ctx, client.Config{
		Address: addr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Milvus: %w", err)
	}

	return &MilvusIndex{
		client:     c,
		collection: collection,
	}, nil
}

// Nearest returns the k chunks most similar to the query vector, best first.
func (m *MilvusIndex) Nearest(ctx context.Context, vector []float32, k int) (core.RetrievalResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	sp, err := entity.NewIndexHNSWSearchParam(100)
	if err != nil {
		return nil, fmt.Errorf("failed to create search parameters: %w", err)
	}

	outputFields := []string{FieldID, FieldText, FieldSource, FieldCreateTime}
	vectors := []entity.Vector{entity.FloatVector(vector)}

	result, err := m.client.Search(
		ctx,
		m.collection,
		[]string{},   // partitions
		"",           // filter expression
		outputFields, // output fields
		vectors,
		FieldVector,
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}

	if len(result) == 0 || result[0].ResultCount == 0 {
		return core.RetrievalResult{}, nil
	}

	searchResult := result[0]
	var out core.RetrievalResult

	ids, ok := searchResult.IDs.(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("unexpected id column type in search result")
	}
	texts, ok := searchResult.Fields.GetColumn(FieldText).(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("missing text column in search result")
	}
	sources, ok := searchResult.Fields.GetColumn(FieldSource).(*entity.ColumnVarChar)
	if !ok {
		// Source is optional in older collections.
		sources = entity.NewColumnVarChar(FieldSource, make([]string, searchResult.ResultCount))
	}
	createTimes, hasCreateTime := searchResult.Fields.GetColumn(FieldCreateTime).(*entity.ColumnInt64)

	for i := 0; i < searchResult.ResultCount; i++ {
		chunk := core.Chunk{
			ID:     ids.Data()[i],
			Text:   texts.Data()[i],
			Source: sources.Data()[i],
		}
		if hasCreateTime && i < len(createTimes.Data()) {
			chunk.CreateTime = createTimes.Data()[i]
		}

		score := float32(0)
		if i < len(searchResult.Scores) {
			score = searchResult.Scores[i]
		}

		out = append(out, core.ScoredChunk{Chunk: chunk, Score: score})
	}

	return out, nil
}

// Close closes the connection to Milvus.
func (m *MilvusIndex) Close() error {
	return m.client.Close()
}
