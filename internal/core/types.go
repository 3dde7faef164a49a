package core

// Roles a Turn can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged message in a session's conversation history.
// Turns are appended in arrival order and never mutated afterwards.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chunk is a passage of source text from the knowledge index. The index is
// built by an offline ingestion job; from here a chunk is read-only.
type Chunk struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Source     string `json:"source,omitempty"`
	CreateTime int64  `json:"create_time,omitempty"`
}

// ScoredChunk pairs a chunk with its similarity score. Higher is more
// relevant; the score is a bounded relevance measure, not a probability.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float32 `json:"score"`
}

// RetrievalResult is an ordered list of scored chunks, best first.
type RetrievalResult []ScoredChunk

// Sources returns the distinct chunk sources in retrieval order.
func (r RetrievalResult) Sources() []string {
	seen := make(map[string]bool, len(r))
	var sources []string
	for _, sc := range r {
		src := sc.Chunk.Source
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		sources = append(sources, src)
	}
	return sources
}

// GenerationRequest is everything the generation backend needs for one
// answer. It is a pure value with no hidden state.
type GenerationRequest struct {
	System   string `json:"system"`
	Context  string `json:"context"`
	History  []Turn `json:"history"`
	Question string `json:"question"`
}

// Answer is a generated reply together with the sources it was grounded on.
type Answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources,omitempty"`
}
