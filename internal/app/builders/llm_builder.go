package builders

import (
	"fmt"

	"github.com/aatumaykin/nexbeat/internal/config"
	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/retry"
)

type LLMBuilder struct {
	config *config.Config
	logger *logger.Logger
}

func NewLLMBuilder(cfg *config.Config, log *logger.Logger) *LLMBuilder {
	return &LLMBuilder{
		config: cfg,
		logger: log,
	}
}

func (b *LLMBuilder) Build() (llm.Provider, error) {
	switch b.config.Agent.Provider {
	case config.ProviderOpenAI:
		oc := b.config.LLM.OpenAI
		var opts []llm.OpenAIOption
		if oc.RequestsPerMinute > 0 {
			opts = append(opts, llm.WithRateLimiter(llm.PerMinute(oc.RequestsPerMinute)))
		}
		if oc.MaxRetries > 0 {
			opts = append(opts, llm.WithRetry(retry.Config{MaxAttempts: oc.MaxRetries + 1}))
		}
		provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:         oc.APIKey,
			BaseURL:        oc.BaseURL,
			Model:          b.config.Agent.Model,
			TimeoutSeconds: oc.TimeoutSeconds,
		}, b.logger, opts...)
		b.logger.Info("LLM provider initialized",
			logger.Field{Key: "provider", Value: config.ProviderOpenAI},
			logger.Field{Key: "base_url", Value: oc.BaseURL},
			logger.Field{Key: "model", Value: b.config.Agent.Model})
		return provider, nil
	case config.ProviderMock:
		b.logger.Info("LLM provider initialized", logger.Field{Key: "provider", Value: config.ProviderMock})
		return llm.NewEchoProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", b.config.Agent.Provider)
	}
}
