package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adjara-labs/concierge/internal/core"
)

func completionJSON(text string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"finish_reason": "stop", "message": map[string]any{"role": "assistant", "content": text}},
		},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
}

func TestGenerateBuildsMessages(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(completionJSON("the answer"))
	}))
	defer srv.Close()

	svc := NewOpenAIService("test-key", "test-model", srv.URL)

	answer, err := svc.Generate(context.Background(), core.GenerationRequest{
		System:  "Answer from context only:",
		Context: "chunk one\n\nchunk two",
		History: []core.Turn{
			{Role: core.RoleUser, Content: "q1"},
			{Role: core.RoleAssistant, Content: "a1"},
		},
		Question: "q2",
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", answer.Text)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, "Answer from context only:")
	assert.Contains(t, got.Messages[0].Content, "chunk one")
	assert.Equal(t, chatMessage{Role: core.RoleUser, Content: "q1"}, got.Messages[1])
	assert.Equal(t, chatMessage{Role: core.RoleAssistant, Content: "a1"}, got.Messages[2])
	assert.Equal(t, chatMessage{Role: core.RoleUser, Content: "q2"}, got.Messages[3])
}

func TestGenerateRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(completionJSON("eventually"))
	}))
	defer srv.Close()

	svc := NewOpenAIService("test-key", "", srv.URL)

	answer, err := svc.Generate(context.Background(), core.GenerationRequest{Question: "q"})
	require.NoError(t, err)
	assert.Equal(t, "eventually", answer.Text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateFailsFastOnAuthError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "bad key", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	svc := NewOpenAIService("bad-key", "", srv.URL)

	_, err := svc.Generate(context.Background(), core.GenerationRequest{Question: "q"})
	require.Error(t, err)
	assert.Equal(t, core.GenerationUnavailable, core.KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "terminal failures must not be retried")
}

func TestGenerateFailsFastOnMalformedRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	svc := NewOpenAIService("test-key", "", srv.URL)

	_, err := svc.Generate(context.Background(), core.GenerationRequest{Question: "q"})
	require.Error(t, err)
	assert.Equal(t, core.GenerationUnavailable, core.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGenerateSurfacesFailureAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewOpenAIService("test-key", "", srv.URL)

	_, err := svc.Generate(context.Background(), core.GenerationRequest{Question: "q"})
	require.Error(t, err)
	assert.Equal(t, core.GenerationUnavailable, core.KindOf(err))
	assert.Equal(t, int32(1+defaultMaxRetries), calls.Load())
}
