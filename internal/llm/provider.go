// Package llm abstracts the planner's text generation behind a single
// capability. Providers are ordered by configuration; the fan-out loop
// lives in Chain.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
)

// ErrNoCredentials marks a provider with no API key; the chain skips it.
var ErrNoCredentials = errors.New("provider credentials not configured")

// TextRequest is a provider-agnostic generation request.
type TextRequest struct {
	System string
	Prompt string
}

// Provider generates text for a prompt. Implementations wrap one vendor SDK.
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, request *TextRequest) (string, error)
	Close() error
}

// NewProvider constructs a provider from one chain slot. Returns
// ErrNoCredentials when the slot has no API key.
func NewProvider(cfg common.LLMProviderConfig, logger arbor.ILogger) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoCredentials
	}

	switch cfg.Provider {
	case common.LLMProviderClaude:
		return newClaudeProvider(cfg, logger), nil
	case common.LLMProviderGemini:
		return newGeminiProvider(cfg, logger), nil
	case common.LLMProviderOpenAI:
		return newOpenAIProvider(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
