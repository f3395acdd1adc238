package llmclient

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/config"
)

// setupTestLogger creates a zap logger backed by an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a complete chat-completions configuration.
func getValidLLMConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:      config.ProviderOpenAI,
		BaseURL:       baseURL,
		APIKey:        "test-api-key",
		FastModel:     "fast-model",
		PowerfulModel: "powerful-model",
		Temperature:   0.1,
		APITimeout:    5 * time.Second,
		MaxRetries:    3,
	}
}

// fastBackoff retries immediately so tests do not sleep.
func fastBackoff(retries int) backoffFactory {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(retries))
	}
}

// createTestRequest provides a standard generation request structure.
func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
		Tier:         schemas.TierPowerful,
		Options: schemas.GenerationOptions{
			Temperature:     0.2,
			ForceJSONFormat: true,
		},
	}
}
