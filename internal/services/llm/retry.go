package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ternarybob/arbor"
)

// RetryPolicy controls retries of rate-limited provider calls. Other
// failures are returned immediately; the job queue owns those retries.
type RetryPolicy struct {
	Attempts uint          // Total tries including the first
	Delay    time.Duration // Used when the provider suggests no delay
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries rate limits three times
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    2 * time.Second,
		MaxDelay: 90 * time.Second,
	}
}

// IsRateLimitError reports whether err is a provider rate limit (HTTP 429,
// RESOURCE_EXHAUSTED, quota or overloaded responses).
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "quota")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// ExtractRetryDelay parses the provider-suggested delay from an error, or 0.
//
// Example: "Error 429, Message: ... Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

func withRetry(ctx context.Context, policy RetryPolicy, logger arbor.ILogger, call func() (string, error)) (string, error) {
	attempts := policy.Attempts
	if attempts == 0 {
		attempts = 1
	}

	return retry.DoWithData(
		call,
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRateLimitError),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			delay := ExtractRetryDelay(err)
			if delay <= 0 {
				delay = policy.Delay << n
			}
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
			return delay
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn().Err(err).Int("attempt", int(n)+1).Msg("LLM provider rate limited, retrying")
		}),
	)
}
