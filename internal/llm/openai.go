package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/common"
)

type openaiProvider struct {
	client openai.Client
	cfg    common.LLMProviderConfig
	logger arbor.ILogger
}

func newOpenAIProvider(cfg common.LLMProviderConfig, logger arbor.ILogger) *openaiProvider {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &openaiProvider{
		client: openai.NewClient(opts...),
		cfg:    cfg,
		logger: logger,
	}
}

func (p *openaiProvider) Name() string {
	return fmt.Sprintf("openai/%s", p.cfg.Model)
}

func (p *openaiProvider) GenerateText(ctx context.Context, request *TextRequest) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if request.System != "" {
		messages = append(messages, openai.SystemMessage(request.System))
	}
	messages = append(messages, openai.UserMessage(request.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.cfg.Model),
		Messages: messages,
	}
	if p.cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.cfg.MaxTokens))
	}
	if p.cfg.Temperature > 0 {
		params.Temperature = openai.Float(float64(p.cfg.Temperature))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty response from openai API")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openaiProvider) Close() error {
	return nil
}
