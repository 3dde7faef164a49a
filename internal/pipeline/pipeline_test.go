package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/history"
	"github.com/adjara-labs/concierge/internal/prompt"
)

type stubRetriever struct {
	result core.RetrievalResult
	err    error
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string, k int) (core.RetrievalResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// recordingGenerator echoes a canned answer and keeps every request it saw.
type recordingGenerator struct {
	answer   string
	err      error
	block    bool // wait for ctx expiry instead of answering
	requests []core.GenerationRequest
}

func (g *recordingGenerator) Generate(ctx context.Context, req core.GenerationRequest) (core.Answer, error) {
	g.requests = append(g.requests, req)
	if g.block {
		<-ctx.Done()
		return core.Answer{}, ctx.Err()
	}
	if g.err != nil {
		return core.Answer{}, g.err
	}
	return core.Answer{Text: g.answer}, nil
}

func residencyChunks() core.RetrievalResult {
	return core.RetrievalResult{
		{Chunk: core.Chunk{ID: "c1", Text: "You will need a passport, proof of address, and two photos.", Source: "doc1", CreateTime: 1}, Score: 0.91},
		{Chunk: core.Chunk{ID: "c2", Text: "Residency applications are filed at the service hall.", Source: "doc2", CreateTime: 2}, Score: 0.74},
	}
}

func newTestPipeline(store core.HistoryStore, retriever core.Retriever, generator core.Generator) *Pipeline {
	return New(store, retriever, prompt.NewAssembler("", 0), generator, 3, time.Second)
}

func TestHandleRecordsExchangeWithProvenance(t *testing.T) {
	store := history.NewStore(0)
	generator := &recordingGenerator{answer: "Bring a passport, proof of address, and two photos."}
	p := newTestPipeline(store, &stubRetriever{result: residencyChunks()}, generator)

	answer, err := p.Handle(context.Background(), "chat-1", "What documents are needed for residency?")
	require.NoError(t, err)

	assert.Equal(t, "Bring a passport, proof of address, and two photos.", answer.Text)
	assert.Contains(t, answer.Sources, "doc1")

	turns := store.GetOrCreate("chat-1")
	require.Len(t, turns, 2)
	assert.Equal(t, core.Turn{Role: core.RoleUser, Content: "What documents are needed for residency?"}, turns[0])
	assert.Equal(t, core.Turn{Role: core.RoleAssistant, Content: answer.Text}, turns[1])
}

func TestSecondQuestionSeesFirstExchange(t *testing.T) {
	store := history.NewStore(0)
	generator := &recordingGenerator{answer: "answer"}
	p := newTestPipeline(store, &stubRetriever{result: residencyChunks()}, generator)

	_, err := p.Handle(context.Background(), "chat-1", "first question")
	require.NoError(t, err)
	_, err = p.Handle(context.Background(), "chat-1", "second question")
	require.NoError(t, err)

	require.Len(t, generator.requests, 2)
	assert.Empty(t, generator.requests[0].History)

	second := generator.requests[1]
	require.Len(t, second.History, 2)
	assert.Equal(t, core.Turn{Role: core.RoleUser, Content: "first question"}, second.History[0])
	assert.Equal(t, core.Turn{Role: core.RoleAssistant, Content: "answer"}, second.History[1])
	assert.Equal(t, "second question", second.Question)
}

func TestRetrievalFailureLeavesHistoryUntouched(t *testing.T) {
	store := history.NewStore(0)
	retriever := &stubRetriever{err: core.Fail(core.RetrievalUnavailable, errors.New("index down"))}
	p := newTestPipeline(store, retriever, &recordingGenerator{answer: "unused"})

	_, err := p.Handle(context.Background(), "chat-1", "q")
	require.Error(t, err)
	assert.Equal(t, core.RetrievalUnavailable, core.KindOf(err))
	assert.Equal(t, 0, store.Len("chat-1"))
}

func TestGenerationFailureLeavesHistoryUntouched(t *testing.T) {
	store := history.NewStore(0)
	generator := &recordingGenerator{err: core.Fail(core.GenerationUnavailable, errors.New("backend down"))}
	p := newTestPipeline(store, &stubRetriever{result: residencyChunks()}, generator)

	_, err := p.Handle(context.Background(), "chat-1", "q")
	require.Error(t, err)
	assert.Equal(t, core.GenerationUnavailable, core.KindOf(err))
	assert.Equal(t, 0, store.Len("chat-1"), "a failed exchange must not appear in history")
}

func TestUnclassifiedFailureGetsStageKind(t *testing.T) {
	store := history.NewStore(0)
	generator := &recordingGenerator{err: errors.New("plain error")}
	p := newTestPipeline(store, &stubRetriever{result: residencyChunks()}, generator)

	_, err := p.Handle(context.Background(), "chat-1", "q")
	require.Error(t, err)
	assert.Equal(t, core.GenerationUnavailable, core.KindOf(err))
}

func TestGenerationTimeout(t *testing.T) {
	store := history.NewStore(0)
	generator := &recordingGenerator{block: true}
	p := New(store, &stubRetriever{result: residencyChunks()}, prompt.NewAssembler("", 0), generator, 3, 50*time.Millisecond)

	start := time.Now()
	_, err := p.Handle(context.Background(), "chat-1", "q")
	require.Error(t, err)

	assert.Equal(t, core.Timeout, core.KindOf(err))
	assert.Equal(t, 0, store.Len("chat-1"))
	assert.Less(t, time.Since(start), time.Second, "the deadline must bound the execution")
}
