package llm

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

// Defaults for the OpenAI-compatible chat completions endpoint.
const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	defaultMaxRetries = 3
)

// OpenAIService implements core.Generator against an OpenAI-compatible chat
// completions API. Transient failures (timeouts, rate limits, 5xx) are
// retried with bounded exponential backoff; terminal failures (auth,
// malformed request) fail fast.
type OpenAIService struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
}

// chatMessage is one message in the provider wire format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is a request to the chat completion API.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// chatResponse is the subset of the provider response we use.
type chatResponse struct {
	Choices []struct {
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// apiError is the provider's error envelope.
type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// NewOpenAIService creates a new generation client. Empty model or baseURL
// fall back to the defaults above.
func NewOpenAIService(apiKey, model, baseURL string) *OpenAIService {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenAIService{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second, // Generous timeout for LLM responses
		},
		maxRetries: defaultMaxRetries,
	}
}

// Generate produces an answer for the assembled request. It never touches
// conversation history; recording is the orchestrator's job.
func (s *OpenAIService) Generate(ctx context.Context, req core.GenerationRequest) (core.Answer, error) {
	messages := buildMessages(req)
	logger.LLMInfo("Sending request to LLM '%s' with %d messages", s.model, len(messages))

	var text string
	operation := func() error {
		t, err := s.completeOnce(ctx, messages)
		if err != nil {
			return err
		}
		text = t
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx)); err != nil {
		return core.Answer{}, core.Fail(core.GenerationUnavailable, err)
	}

	return core.Answer{Text: text}, nil
}

// buildMessages flattens a generation request into provider messages: the
// system instruction with the context block attached, the prior turns
// verbatim, then the question as the final user message.
func buildMessages(req core.GenerationRequest) []chatMessage {
	system := req.System
	if req.Context != "" {
		system += "\n\n" + req.Context
	}

	messages := make([]chatMessage, 0, len(req.History)+2)
	messages = append(messages, chatMessage{Role: "system", Content: system})
	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: core.RoleUser, Content: req.Question})
	return messages
}

func (s *OpenAIService) completeOnce(ctx context.Context, messages []chatMessage) (string, error) {
	reqBody := chatRequest{
		Model:    s.model,
		Messages: messages,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := statusError(resp.StatusCode, body)
		if !retryableStatus(resp.StatusCode) {
			logger.LLMError("LLM call failed terminally (status %d): %v", resp.StatusCode, err)
			return "", backoff.Permanent(err)
		}
		logger.LLMWarn("LLM call failed with status %d, will retry", resp.StatusCode)
		return "", err
	}

	var completion chatResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if len(completion.Choices) == 0 {
		return "", backoff.Permanent(fmt.Errorf("chat API returned no choices"))
	}

	if completion.Usage.TotalTokens > 0 {
		logger.LLMInfo("LLM usage - prompt: %d, completion: %d, total: %d tokens. Finish reason: %s",
			completion.Usage.PromptTokens,
			completion.Usage.CompletionTokens,
			completion.Usage.TotalTokens,
			completion.Choices[0].FinishReason,
		)
	}

	return completion.Choices[0].Message.Content, nil
}

func statusError(status int, body []byte) error {
	var envelope apiError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("chat API error (status %d): %s", status, envelope.Error.Message)
	}
	return fmt.Errorf("chat API HTTP error (status %d): %s", status, string(body))
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
