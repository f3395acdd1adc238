package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/vulngraph/api/schemas"
	"github.com/xkilldash9x/vulngraph/internal/config"
)

// NewClient builds the tiered client described by cfg. It returns nil and no
// error when cfg lacks the endpoint or credentials, which callers treat as
// "LLM disabled".
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if !cfg.Configured() {
		return nil, nil
	}

	build := func(model string) (schemas.LLMClient, error) {
		switch cfg.Provider {
		case config.ProviderOpenAI:
			return NewOpenAIClient(cfg, model, logger)
		case config.ProviderGemini:
			return NewGeminiClient(ctx, cfg, model, logger)
		default:
			return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
				cfg.Provider, config.ProviderOpenAI, config.ProviderGemini)
		}
	}

	powerful, err := build(cfg.PowerfulModel)
	if err != nil {
		return nil, err
	}
	fast := powerful
	if cfg.FastModel != "" && cfg.FastModel != cfg.PowerfulModel {
		if fast, err = build(cfg.FastModel); err != nil {
			_ = powerful.Close()
			return nil, err
		}
	}
	return NewLLMRouter(logger, fast, powerful)
}
