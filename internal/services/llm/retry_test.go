package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
)

func TestIsRateLimitError(t *testing.T) {
	assert.True(t, IsRateLimitError(errors.New("Error 429, Status: RESOURCE_EXHAUSTED")))
	assert.True(t, IsRateLimitError(errors.New(`{"type":"rate_limit_error"}`)))
	assert.True(t, IsRateLimitError(errors.New("overloaded_error")))
	assert.False(t, IsRateLimitError(errors.New("invalid api key")))
	assert.False(t, IsRateLimitError(nil))
}

func TestExtractRetryDelay(t *testing.T) {
	err := errors.New("Error 429, Message: quota exceeded. Please retry in 45.5s., Status: RESOURCE_EXHAUSTED")
	assert.Equal(t, 45500*time.Millisecond, ExtractRetryDelay(err))
	assert.Equal(t, 3*time.Second, ExtractRetryDelay(errors.New("retryDelay: 3s")))
	assert.Zero(t, ExtractRetryDelay(errors.New("boom")))
}

func TestWithRetry_RetriesRateLimitsOnly(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	logger := arbor.NewLogger()

	calls := 0
	out, err := withRetry(context.Background(), policy, logger, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("429 too many requests")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = withRetry(context.Background(), policy, logger, func() (string, error) {
		calls++
		return "", errors.New("invalid request")
	})
	assert.EqualError(t, err, "invalid request")
	assert.Equal(t, 1, calls)
}

func TestNewServicesRequireAPIKeys(t *testing.T) {
	logger := arbor.NewLogger()
	_, err := NewClaudeService(commonClaude(""), DefaultRetryPolicy(), logger)
	assert.Error(t, err)
	_, err = NewGeminiService(commonGemini(""), DefaultRetryPolicy(), logger)
	assert.Error(t, err)
}

func commonClaude(key string) common.ClaudeConfig {
	c := common.NewDefaultConfig().Claude
	c.APIKey = key
	return c
}

func commonGemini(key string) common.GeminiConfig {
	c := common.NewDefaultConfig().Gemini
	c.APIKey = key
	return c
}
