package prompt

import (
	"strings"

	"github.com/adjara-labs/concierge/internal/core"
)

// DefaultSystem instructs the model to stay grounded in retrieved context.
const DefaultSystem = "Answer the question using only the following context:"

// ChunkDelimiter separates retrieved chunk texts inside the context block.
const ChunkDelimiter = "\n\n"

// DefaultMaxChars approximates the generation backend's input limit. The
// budget covers system instruction, context block, history and question.
const DefaultMaxChars = 16000

// Assembler builds generation requests from retrieved context, prior
// history, and the new question. Assemble is pure: same inputs, same
// request.
type Assembler struct {
	system   string
	maxChars int
}

// NewAssembler creates an assembler. Empty system and non-positive maxChars
// fall back to the defaults.
func NewAssembler(system string, maxChars int) *Assembler {
	if system == "" {
		system = DefaultSystem
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Assembler{system: system, maxChars: maxChars}
}

// Assemble produces a generation request. Retrieved chunk texts are joined
// in descending-score order; history is embedded verbatim; the question
// becomes the final user turn.
//
// When the combined size exceeds the budget, the assembler truncates instead
// of failing: oldest history turns are dropped first, then the
// lowest-scoring chunks.
func (a *Assembler) Assemble(retrieved core.RetrievalResult, history []core.Turn, question string) core.GenerationRequest {
	chunks := make([]string, 0, len(retrieved))
	for _, sc := range retrieved {
		chunks = append(chunks, sc.Chunk.Text)
	}

	hist := make([]core.Turn, len(history))
	copy(hist, history)

	for a.size(chunks, hist, question) > a.maxChars && len(hist) > 0 {
		hist = hist[1:]
	}
	for a.size(chunks, hist, question) > a.maxChars && len(chunks) > 0 {
		// Retrieval order is best-first, so the last chunk scores lowest.
		chunks = chunks[:len(chunks)-1]
	}

	return core.GenerationRequest{
		System:   a.system,
		Context:  strings.Join(chunks, ChunkDelimiter),
		History:  hist,
		Question: question,
	}
}

func (a *Assembler) size(chunks []string, history []core.Turn, question string) int {
	n := len(a.system) + len(question)
	for _, c := range chunks {
		n += len(c) + len(ChunkDelimiter)
	}
	for _, t := range history {
		n += len(t.Role) + len(t.Content)
	}
	return n
}
