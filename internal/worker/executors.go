package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/agents"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/llm"
	"github.com/ternarybob/maestro/internal/models"
)

// agentExecutor adapts a function to the Executor interface.
type agentExecutor struct {
	agentType string
	fn        func(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error)
}

func (e *agentExecutor) AgentType() string {
	return e.agentType
}

func (e *agentExecutor) Execute(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	return e.fn(ctx, message)
}

// RegisterBuiltins wires the built-in executor for every registry agent.
// LLM-backed agents degrade to local behavior when no provider chain is
// available.
func RegisterBuiltins(pool *Pool, chain *llm.Chain, logger arbor.ILogger) {
	builtins := &builtinAgents{chain: chain, logger: logger}

	pool.Register(&agentExecutor{"scraper", builtins.scrape})
	pool.Register(&agentExecutor{"summarizer", builtins.summarize})
	pool.Register(&agentExecutor{"analyzer", builtins.analyze})
	pool.Register(&agentExecutor{"validator", builtins.validate})
	pool.Register(&agentExecutor{"transformer", builtins.transform})
	pool.Register(&agentExecutor{"notifier", builtins.notify})
	pool.Register(&agentExecutor{"chart", builtins.chart})
	pool.Register(&agentExecutor{agents.AgentDesigner, builtins.design})
	pool.Register(&agentExecutor{agents.AgentReviewer, builtins.review})
	pool.Register(&agentExecutor{"executor", builtins.execute})
}

type builtinAgents struct {
	chain  *llm.Chain
	logger arbor.ILogger
}

func success(outputs map[string]interface{}) *models.TaskResult {
	return &models.TaskResult{Status: models.ResultStatusSuccess, Outputs: outputs}
}

func stringInput(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func numberInput(payload map[string]interface{}, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (b *builtinAgents) scrape(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	url := stringInput(message.Payload, "url")
	if url == "" {
		return nil, common.NewError(common.KindValidation, "scraper requires a url input")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, common.WrapError(common.KindValidation, err, "invalid url %q", url)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, common.WrapError(common.KindTransient, err, "fetch failed for %q", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, common.NewError(common.KindTransient, "upstream returned %d for %q", resp.StatusCode, url)
	}
	if resp.StatusCode >= 400 {
		return nil, common.NewError(common.KindValidation, "upstream returned %d for %q", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, common.WrapError(common.KindTransient, err, "read failed for %q", url)
	}

	html := string(body)
	return success(map[string]interface{}{
		"text":   stripTags(html),
		"html":   html,
		"result": map[string]interface{}{"url": url, "status": resp.StatusCode, "bytes": len(body)},
	}), nil
}

// stripTags reduces HTML to whitespace-normalized text. Good enough for
// feeding downstream text agents; not a real HTML parser.
func stripTags(html string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
			sb.WriteRune(' ')
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func (b *builtinAgents) summarize(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	text := stringInput(message.Payload, "text")
	if text == "" {
		return nil, common.NewError(common.KindValidation, "summarizer requires a text input")
	}
	maxSentences := 3
	if n, ok := numberInput(message.Payload, "max_sentences"); ok && n > 0 {
		maxSentences = int(n)
	}

	var summary string
	if b.chain != nil && b.chain.Available() {
		prompt := fmt.Sprintf("Summarize the following text in at most %d sentences:\n\n%s", maxSentences, text)
		out, _, err := b.chain.Generate(ctx, &llm.TextRequest{Prompt: prompt})
		if err != nil {
			return nil, err
		}
		summary = out
	} else {
		summary = firstSentences(text, maxSentences)
	}

	return success(map[string]interface{}{
		"summary": summary,
		"result":  map[string]interface{}{"input_len": len(text), "summary_len": len(summary)},
	}), nil
}

func firstSentences(text string, n int) string {
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return strings.TrimSpace(text)
}

func (b *builtinAgents) analyze(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	data, ok := message.Payload["data"]
	if !ok {
		return nil, common.NewError(common.KindValidation, "analyzer requires a data input")
	}
	focus := stringInput(message.Payload, "focus")

	var analysis interface{}
	if b.chain != nil && b.chain.Available() {
		raw, _ := json.Marshal(data)
		prompt := fmt.Sprintf("Analyze this data%s and respond with a short JSON object of findings:\n%s",
			focusClause(focus), string(raw))
		out, _, err := b.chain.Generate(ctx, &llm.TextRequest{Prompt: prompt})
		if err != nil {
			return nil, err
		}
		analysis = out
	} else {
		analysis = map[string]interface{}{"focus": focus, "summary": describeValue(data)}
	}

	return success(map[string]interface{}{
		"analysis": analysis,
		"result":   map[string]interface{}{"focus": focus},
	}), nil
}

func focusClause(focus string) string {
	if focus == "" {
		return ""
	}
	return fmt.Sprintf(" with a focus on %q", focus)
}

func describeValue(v interface{}) string {
	switch t := v.(type) {
	case []interface{}:
		return fmt.Sprintf("list of %d items", len(t))
	case map[string]interface{}:
		return fmt.Sprintf("object with %d keys", len(t))
	case string:
		return fmt.Sprintf("string of %d chars", len(t))
	default:
		return fmt.Sprintf("%T value", v)
	}
}

func (b *builtinAgents) validate(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	data, ok := message.Payload["data"]
	if !ok {
		return nil, common.NewError(common.KindValidation, "validator requires a data input")
	}

	var errs []interface{}
	if obj, isObj := data.(map[string]interface{}); isObj {
		if schema, hasSchema := message.Payload["schema"].(map[string]interface{}); hasSchema {
			if required, hasRequired := schema["required"].([]interface{}); hasRequired {
				for _, field := range required {
					name, _ := field.(string)
					if _, present := obj[name]; name != "" && !present {
						errs = append(errs, fmt.Sprintf("missing required field %q", name))
					}
				}
			}
		}
	}

	return success(map[string]interface{}{
		"valid":  len(errs) == 0,
		"errors": errs,
		"result": map[string]interface{}{"error_count": len(errs)},
	}), nil
}

func (b *builtinAgents) transform(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	data, ok := message.Payload["data"]
	if !ok {
		return nil, common.NewError(common.KindValidation, "transformer requires a data input")
	}
	format := stringInput(message.Payload, "format")

	var transformed interface{}
	switch format {
	case "json_string":
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, common.WrapError(common.KindValidation, err, "data is not serializable")
		}
		transformed = string(raw)
	default:
		transformed = data
	}

	return success(map[string]interface{}{
		"transformed": transformed,
		"result":      map[string]interface{}{"format": format},
	}), nil
}

func (b *builtinAgents) notify(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	text := stringInput(message.Payload, "message")
	if text == "" {
		return nil, common.NewError(common.KindValidation, "notifier requires a message input")
	}

	b.logger.Info().
		Str("channel", stringInput(message.Payload, "channel")).
		Str("recipient", stringInput(message.Payload, "recipient")).
		Str("message", text).
		Msg("Notification delivered")

	return success(map[string]interface{}{
		"delivered": true,
		"result":    map[string]interface{}{"delivered_at": time.Now().Format(time.RFC3339)},
	}), nil
}

func (b *builtinAgents) chart(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	data, ok := message.Payload["data"]
	if !ok {
		return nil, common.NewError(common.KindValidation, "chart requires a data input")
	}
	chartType := stringInput(message.Payload, "chart_type")
	if chartType == "" {
		chartType = "line"
	}
	title := stringInput(message.Payload, "title")
	role := stringInput(message.Payload, "role")

	points, _ := data.([]interface{})
	storageKey := fmt.Sprintf("charts/%s/%s.png", message.JobID, uuid.New().String())

	result := success(map[string]interface{}{
		"image_url":   "/artifacts/" + storageKey,
		"storage_key": storageKey,
		"role":        role,
		"result":      map[string]interface{}{"chart_type": chartType},
	})
	result.Artifacts = []models.ResultArtifact{{
		Type:       models.ArtifactTypeChart,
		Role:       role,
		Filename:   "chart.png",
		StorageKey: storageKey,
		MimeType:   "image/png",
		Metadata: map[string]interface{}{
			"title":       title,
			"chart_type":  chartType,
			"data_points": len(points),
			"points":      points,
		},
	}}
	return result, nil
}

func (b *builtinAgents) design(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	title := stringInput(message.Payload, "title")
	if title == "" {
		return nil, common.NewError(common.KindValidation, "designer requires a title input")
	}

	sections, _ := message.Payload["sections"].([]interface{})
	artifactRefs, _ := message.Payload["artifacts"].([]interface{})
	pages := 1 + len(sections)
	storageKey := fmt.Sprintf("pdfs/%s/%s.pdf", message.JobID, uuid.New().String())

	result := success(map[string]interface{}{
		"pdf_url":     "/artifacts/" + storageKey,
		"storage_key": storageKey,
		"pages":       pages,
		"result":      map[string]interface{}{"title": title},
	})
	result.Artifacts = []models.ResultArtifact{{
		Type:       models.ArtifactTypePDF,
		Filename:   "report.pdf",
		StorageKey: storageKey,
		MimeType:   "application/pdf",
		Metadata: map[string]interface{}{
			"pages":              pages,
			"embedded_artifacts": len(artifactRefs),
			"section_count":      len(sections),
		},
	}}
	return result, nil
}

// review scores the target task. With a score_threshold the verdict is
// automated; without one the result carries no decision and the task parks
// in AWAITING_REVIEW for a human.
func (b *builtinAgents) review(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	score := 0.85
	if s, ok := numberInput(message.Payload, "score"); ok {
		score = s
	}

	verdict := &models.ReviewVerdict{Score: score}
	if threshold, ok := numberInput(message.Payload, "score_threshold"); ok {
		if score >= threshold {
			verdict.Decision = models.ReviewApprove
			verdict.Feedback = fmt.Sprintf("score %.2f meets threshold %.2f", score, threshold)
		} else {
			verdict.Decision = models.ReviewReject
			verdict.Feedback = fmt.Sprintf("score %.2f below threshold %.2f", score, threshold)
		}
	}

	result := success(nil)
	result.Review = verdict
	return result, nil
}

func (b *builtinAgents) execute(ctx context.Context, message *models.TaskMessage) (*models.TaskResult, error) {
	prompt := stringInput(message.Payload, "prompt")
	if prompt == "" {
		return nil, common.NewError(common.KindValidation, "executor requires a prompt input")
	}
	if b.chain == nil || !b.chain.Available() {
		return nil, common.NewError(common.KindLLMExhausted, "no LLM providers configured")
	}

	out, provider, err := b.chain.Generate(ctx, &llm.TextRequest{Prompt: prompt})
	if err != nil {
		return nil, err
	}
	return success(map[string]interface{}{
		"result": map[string]interface{}{"text": out, "provider": provider},
	}), nil
}
