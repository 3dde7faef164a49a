package core

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a pipeline execution failed.
type FailureKind string

const (
	// EmbeddingUnavailable means the embedding service kept failing past the
	// retry budget.
	EmbeddingUnavailable FailureKind = "embedding_unavailable"
	// RetrievalUnavailable means the index query kept failing past the retry
	// budget.
	RetrievalUnavailable FailureKind = "retrieval_unavailable"
	// GenerationUnavailable means the generation backend kept failing, or
	// returned a terminal error.
	GenerationUnavailable FailureKind = "generation_unavailable"
	// Timeout means the execution's overall deadline expired.
	Timeout FailureKind = "timeout"
	// MalformedInboundEvent means the transport delivered a payload the
	// pipeline cannot use. It is acknowledged and dropped at the edge.
	MalformedInboundEvent FailureKind = "malformed_inbound_event"
)

// PipelineError is a classified failure surfaced by the RAG pipeline.
type PipelineError struct {
	Kind FailureKind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Fail wraps err with a failure kind.
func Fail(kind FailureKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err, or "" if it carries none.
func KindOf(err error) FailureKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
