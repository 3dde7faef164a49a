package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/adjara-labs/concierge/internal/core"
	"github.com/adjara-labs/concierge/internal/logger"
)

// Defaults for the OpenAI-compatible embeddings endpoint.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "text-embedding-ada-002"

	defaultMaxRetries = 3
)

// OpenAIEmbedder implements core.Embedder against an OpenAI-compatible
// embeddings endpoint. Transient failures are retried with bounded
// exponential backoff before the call surfaces as EmbeddingUnavailable.
type OpenAIEmbedder struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// apiError is the provider's error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewOpenAIEmbedder creates a new embedder. Empty model or baseURL fall back
// to the defaults above.
func NewOpenAIEmbedder(apiKey, model, baseURL string) *OpenAIEmbedder {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenAIEmbedder{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxRetries: defaultMaxRetries,
	}
}

// EmbedQuery embeds a single query text.
func (e *OpenAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32

	operation := func() error {
		v, err := e.embedOnce(ctx, text)
		if err != nil {
			return err
		}
		vector = v
		return nil
	}

	bo := backoff.WithContext(newBackOff(e.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, core.Fail(core.EmbeddingUnavailable, err)
	}

	logger.RagDebug("Embedded query (%d chars) into %d-dim vector", len(text), len(vector))
	return vector, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, text string) ([]float32, error) {
	reqBody := embeddingRequest{Model: e.model, Input: text}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal embedding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create embedding request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// Network errors and client timeouts are retryable.
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := statusError("embedding", resp.StatusCode, body)
		if !retryableStatus(resp.StatusCode) {
			return nil, backoff.Permanent(err)
		}
		logger.RagWarn("Embedding call failed with status %d, will retry", resp.StatusCode)
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode embedding response: %w", err))
	}
	if len(embResp.Data) == 0 || len(embResp.Data[0].Embedding) == 0 {
		return nil, backoff.Permanent(fmt.Errorf("embedding API returned no vector"))
	}

	return embResp.Data[0].Embedding, nil
}

// statusError builds an error from a non-200 response, preferring the
// provider's error envelope when it parses.
func statusError(call string, status int, body []byte) error {
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%s API error (status %d): %s", call, status, envelope.Error.Message)
	}
	return fmt.Errorf("%s API HTTP error (status %d): %s", call, status, string(body))
}

// retryableStatus reports whether a failed call with this status is worth
// retrying. Auth and malformed-request failures are terminal.
func retryableStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return true
	default:
		return false
	}
}

func newBackOff(maxRetries uint64) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 0 // bounded by the retry count and the context
	return backoff.WithMaxRetries(bo, maxRetries)
}
