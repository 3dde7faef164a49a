package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/logger"
)

// Execution states, for log lines only.
type state string

const (
	stateReceived   state = "received"
	stateRetrieving state = "retrieving"
	stateAssembling state = "assembling"
	stateGenerating state = "generating"
	stateRecording  state = "recording"
	stateComplete   state = "complete"
	stateFailed     state = "failed"
)

// DefaultTimeout bounds one pipeline execution end to end, retries included.
// A stuck external call must not stall a session's lane forever.
const DefaultTimeout = 90 * time.Second

// Assembler builds a generation request from retrieved context, history and
// the new question.
type Assembler interface {
	Assemble(retrieved core.RetrievalResult, history []core.Turn, question string) core.GenerationRequest
}

// Pipeline orchestrates one retrieval-augmented exchange per Handle call:
// retrieve, assemble, generate, record. All four collaborators are injected
// so tests can substitute doubles.
type Pipeline struct {
	history   core.HistoryStore
	retriever core.Retriever
	assembler Assembler
	generator core.Generator
	topK      int
	timeout   time.Duration
}

// New wires the pipeline. topK <= 0 and timeout <= 0 fall back to defaults.
func New(history core.HistoryStore, retriever core.Retriever, assembler Assembler, generator core.Generator, topK int, timeout time.Duration) *Pipeline {
	if topK <= 0 {
		topK = 3
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pipeline{
		history:   history,
		retriever: retriever,
		assembler: assembler,
		generator: generator,
		topK:      topK,
		timeout:   timeout,
	}
}

// Handle runs one request/response cycle for the session. On success exactly
// one user turn and one assistant turn are appended, in that order. On
// failure history is untouched: a recorded exchange always corresponds to a
// real answer.
//
// Callers must not run two Handle calls for the same session concurrently;
// the dispatcher's lane discipline guarantees that.
func (p *Pipeline) Handle(ctx context.Context, sessionID, question string) (core.Answer, error) {
	execID := uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	logger.PipelineDebug("[%s] session=%s state=%s", execID, sessionID, stateReceived)
	hist := p.history.GetOrCreate(sessionID)

	logger.PipelineDebug("[%s] session=%s state=%s", execID, sessionID, stateRetrieving)
	retrieved, err := p.retriever.Retrieve(ctx, question, p.topK)
	if err != nil {
		return core.Answer{}, p.fail(execID, sessionID, stateRetrieving, err)
	}

	// Assembly is pure in-memory work; it cannot suspend or fail.
	logger.PipelineDebug("[%s] session=%s state=%s chunks=%d history=%d", execID, sessionID, stateAssembling, len(retrieved), len(hist))
	req := p.assembler.Assemble(retrieved, hist, question)

	logger.PipelineDebug("[%s] session=%s state=%s", execID, sessionID, stateGenerating)
	answer, err := p.generator.Generate(ctx, req)
	if err != nil {
		return core.Answer{}, p.fail(execID, sessionID, stateGenerating, err)
	}
	answer.Sources = retrieved.Sources()

	logger.PipelineDebug("[%s] session=%s state=%s", execID, sessionID, stateRecording)
	p.history.Append(sessionID,
		core.Turn{Role: core.RoleUser, Content: question},
		core.Turn{Role: core.RoleAssistant, Content: answer.Text},
	)

	logger.PipelineInfo("[%s] session=%s state=%s sources=%v", execID, sessionID, stateComplete, answer.Sources)
	return answer, nil
}

// fail classifies the error and logs the terminal transition. A deadline
// expiry takes precedence over whatever kind the failing stage reported.
func (p *Pipeline) fail(execID, sessionID string, at state, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = core.Fail(core.Timeout, err)
	case core.KindOf(err) == "":
		kind := core.RetrievalUnavailable
		if at == stateGenerating {
			kind = core.GenerationUnavailable
		}
		err = core.Fail(kind, err)
	}

	logger.PipelineError("[%s] session=%s state=%s -> %s: %v", execID, sessionID, at, stateFailed, err)
	return err
}
