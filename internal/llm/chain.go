package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
)

// Chain tries providers in declared order: primary first, then fallbacks.
// Slots without credentials are skipped at construction. Only after every
// provider is exhausted does a call fail, tagged llm_exhausted.
type Chain struct {
	providers []Provider
	timeout   int64 // nanoseconds; 0 means no per-call deadline
	logger    arbor.ILogger
}

// NewChain builds the fan-out chain from configuration.
func NewChain(cfg *common.LLMConfig, logger arbor.ILogger) *Chain {
	var providers []Provider
	for _, slot := range cfg.Providers {
		provider, err := NewProvider(slot, logger)
		if err != nil {
			if err == ErrNoCredentials {
				logger.Debug().
					Str("provider", string(slot.Provider)).
					Msg("Provider skipped: no credentials")
			} else {
				logger.Warn().
					Str("provider", string(slot.Provider)).
					Err(err).
					Msg("Provider skipped")
			}
			continue
		}
		providers = append(providers, provider)
	}

	return &Chain{
		providers: providers,
		timeout:   int64(cfg.GetTimeout()),
		logger:    logger,
	}
}

// Available reports whether at least one provider has credentials.
func (c *Chain) Available() bool {
	return len(c.providers) > 0
}

// Generate tries each provider in order and returns the first successful
// text along with the producing provider's name.
func (c *Chain) Generate(ctx context.Context, request *TextRequest) (string, string, error) {
	if len(c.providers) == 0 {
		return "", "", common.NewError(common.KindLLMExhausted, "no LLM providers configured")
	}

	var failures []string
	for _, provider := range c.providers {
		callCtx := ctx
		var cancel context.CancelFunc
		if c.timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, time.Duration(c.timeout))
		}
		text, err := generateWithRetry(callCtx, provider, request, c.logger)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			c.logger.Debug().
				Str("provider", provider.Name()).
				Int("response_len", len(text)).
				Msg("Provider produced response")
			return text, provider.Name(), nil
		}

		c.logger.Warn().
			Str("provider", provider.Name()).
			Err(err).
			Msg("Provider failed, trying next")
		failures = append(failures, fmt.Sprintf("%s: %v", provider.Name(), err))

		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
	}

	return "", "", common.WrapError(common.KindLLMExhausted,
		fmt.Errorf("%s", strings.Join(failures, "; ")),
		"all %d providers failed", len(c.providers))
}

// Close releases every provider client.
func (c *Chain) Close() error {
	for _, provider := range c.providers {
		_ = provider.Close()
	}
	return nil
}
