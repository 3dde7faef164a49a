package core

import "context"

// Embedder converts text into an embedding vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Index answers nearest-neighbor queries over the pre-built chunk index.
// Results come back ordered by descending similarity, at most k entries.
type Index interface {
	Nearest(ctx context.Context, vector []float32, k int) (RetrievalResult, error)
}

// Retriever turns a question into the chunks most relevant to it.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) (RetrievalResult, error)
}

// Generator is the boundary to the text-generation backend.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (Answer, error)
}

// HistoryStore holds per-session conversation history. GetOrCreate is safe
// under concurrent use; Append for a given session must be externally
// serialized, which the session dispatcher's lane discipline provides.
type HistoryStore interface {
	GetOrCreate(sessionID string) []Turn
	Append(sessionID string, turns ...Turn)
	Len(sessionID string) int
	Reset(sessionID string)
}
