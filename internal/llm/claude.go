package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
)

type claudeProvider struct {
	client anthropic.Client
	cfg    common.LLMProviderConfig
	logger arbor.ILogger
}

func newClaudeProvider(cfg common.LLMProviderConfig, logger arbor.ILogger) *claudeProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &claudeProvider{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

func (p *claudeProvider) Name() string {
	return fmt.Sprintf("claude/%s", p.cfg.Model)
}

func (p *claudeProvider) GenerateText(ctx context.Context, request *TextRequest) (string, error) {
	maxTokens := p.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(request.Prompt)),
		},
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.cfg.Temperature))
	}
	if request.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: request.System}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty response from claude API")
	}
	return text.String(), nil
}

func (p *claudeProvider) Close() error {
	return nil
}
