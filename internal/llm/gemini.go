package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/maestro/internal/common"
)

type geminiProvider struct {
	cfg    common.LLMProviderConfig
	logger arbor.ILogger

	mu     sync.Mutex
	client *genai.Client
}

func newGeminiProvider(cfg common.LLMProviderConfig, logger arbor.ILogger) *geminiProvider {
	return &geminiProvider{cfg: cfg, logger: logger}
}

func (p *geminiProvider) Name() string {
	return fmt.Sprintf("gemini/%s", p.cfg.Model)
}

// getClient creates the genai client on first use; client creation needs a
// context so it cannot happen in the constructor.
func (p *geminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	p.client = client
	return client, nil
}

func (p *geminiProvider) GenerateText(ctx context.Context, request *TextRequest) (string, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{}
	if p.cfg.Temperature > 0 {
		config.Temperature = genai.Ptr(p.cfg.Temperature)
	}
	if request.System != "" {
		config.SystemInstruction = genai.NewContentFromText(request.System, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(request.Prompt, genai.RoleUser)}

	resp, err := client.Models.GenerateContent(ctx, p.cfg.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini API call failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("empty response from gemini API")
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty text in gemini response")
	}
	return text, nil
}

func (p *geminiProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = nil
	return nil
}
