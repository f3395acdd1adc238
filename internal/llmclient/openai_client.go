package llmclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/config"
	"github.com/xkilldash9x/vulngraph/internal/observability"
)

const chatCompletionsPath = "/chat/completions"

// OpenAIClient talks to any chat-completions compatible endpoint.
type OpenAIClient struct {
	baseURL        string
	apiKey         string
	model          string
	httpClient     *http.Client
	limiter        *rate.Limiter
	backoffFactory backoffFactory
	logger         *zap.Logger
}

var _ schemas.LLMClient = (*OpenAIClient)(nil)

// -- Wire format --

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a client for model. cfg.BaseURL is the API root,
// e.g. https://api.openai.com/v1.
func NewOpenAIClient(cfg config.LLMConfig, model string, logger *zap.Logger) (*OpenAIClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("chat completions base_url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("chat completions API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	return &OpenAIClient{
		baseURL:        baseURL,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		model:          model,
		httpClient:     &http.Client{Timeout: cfg.APITimeout},
		limiter:        newLimiter(cfg.RequestsPerSecond),
		backoffFactory: defaultBackoff(cfg.MaxRetries),
		logger:         observability.Named(logger, "llm_client.openai"),
	}, nil
}

// NewOpenAIClientWithHTTPClient is NewOpenAIClient with a caller supplied
// HTTP client.
func NewOpenAIClientWithHTTPClient(cfg config.LLMConfig, model string, logger *zap.Logger, httpClient *http.Client) (*OpenAIClient, error) {
	c, err := NewOpenAIClient(cfg, model, logger)
	if err != nil {
		return nil, err
	}
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c, nil
}

// Generate sends one chat completion and returns the first choice's content.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	payload := c.buildRequestPayload(req)
	body, err := json.ConfigCompatibleWithStandardLibrary.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	var content string
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatCompletionsPath, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		start := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.logger.Warn("Network error during LLM request, retrying.", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			c.logger.Error("Chat completions endpoint returned error status",
				zap.Int("status", resp.StatusCode), zap.String("response", truncateBody(respBody)))
			return classify(&APIError{Provider: "openai", StatusCode: resp.StatusCode, Body: truncateBody(respBody)})
		}

		var parsed chatCompletionResponse
		if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("chat completions returned no choices"))
		}

		c.logger.Info("LLM generation complete",
			zap.String("model", c.model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", parsed.Usage.PromptTokens),
			zap.Int("completion_tokens", parsed.Usage.CompletionTokens),
			zap.Int("total_tokens", parsed.Usage.TotalTokens))
		content = parsed.Choices[0].Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(c.backoffFactory(), ctx)); err != nil {
		return "", err
	}
	return content, nil
}

func (c *OpenAIClient) buildRequestPayload(req schemas.GenerationRequest) chatCompletionRequest {
	var messages []chatMessage
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.UserPrompt})

	payload := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Options.Temperature,
	}
	if req.Options.ForceJSONFormat {
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}
	return payload
}

// Close releases idle connections.
func (c *OpenAIClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func truncateBody(b []byte) string {
	const limit = 2048
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
