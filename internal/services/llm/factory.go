package llm

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/interfaces"
)

// NewLLMService creates the service for the configured default provider
func NewLLMService(cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	policy := DefaultRetryPolicy()
	if cfg.LLM.RetryAttempts > 0 {
		policy.Attempts = uint(cfg.LLM.RetryAttempts)
	}
	policy.Delay = common.Duration(cfg.LLM.RetryDelay, policy.Delay)

	logger.Info().Str("provider", string(cfg.LLM.DefaultProvider)).Msg("Initializing LLM service")

	switch cfg.LLM.DefaultProvider {
	case common.LLMProviderClaude:
		return NewClaudeService(cfg.Claude, policy, logger)
	case common.LLMProviderGemini, "":
		return NewGeminiService(cfg.Gemini, policy, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.DefaultProvider)
	}
}
