package llm

import (
	"context"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// Retry policy for one provider attempt: transient failures retry up to
// transientRetries times with a fixed backoff; quota failures fail the
// provider immediately so the chain can move on.
const (
	transientRetries = 2
	transientBackoff = time.Second
)

// IsTransientError classifies failures worth retrying on the same provider:
// HTTP 503 or an overloaded upstream.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "503") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "service unavailable")
}

// IsQuotaError classifies quota and rate-limit failures. These fail the
// provider immediately; waiting out a quota inside the planner call is not
// useful.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit")
}

// generateWithRetry calls one provider, retrying transient failures.
func generateWithRetry(ctx context.Context, provider Provider, request *TextRequest, logger arbor.ILogger) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= transientRetries; attempt++ {
		text, err := provider.GenerateText(ctx, request)
		if err == nil {
			return text, nil
		}
		lastErr = err

		if IsQuotaError(err) || !IsTransientError(err) {
			return "", err
		}
		if attempt == transientRetries {
			break
		}

		logger.Warn().
			Str("provider", provider.Name()).
			Int("attempt", attempt+1).
			Err(err).
			Msg("Transient provider failure, retrying")

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(transientBackoff):
		}
	}

	return "", lastErr
}
