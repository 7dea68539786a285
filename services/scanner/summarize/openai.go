// Package summarize provides the narrative-summarizer collaborator
// backed by an OpenAI-compatible chat completion API.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/reposcan/pkg/logging"
	"github.com/AleutianAI/reposcan/services/scanner/report"
)

const systemPrompt = `You are a senior Python modernization consultant. You receive a JSON
technical-debt scan report for one repository: detected Python version,
dependency vulnerability findings, and deprecated-syntax findings.

Respond with a single JSON object, no markdown, with exactly these keys:
  "summary": 2-4 sentence assessment of the repository's state,
  "effort":  one of "Low", "Medium", "High" - the migration effort,
  "steps":   an ordered list of concrete remediation steps (strings).`

const defaultModel = "gpt-4o-mini"

// Option configures an OpenAISummarizer.
type Option func(*OpenAISummarizer)

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(s *OpenAISummarizer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint
// (local inference server, proxy, or test fake).
func WithBaseURL(baseURL string) Option {
	return func(s *OpenAISummarizer) {
		s.baseURL = baseURL
	}
}

// OpenAISummarizer implements report.Summarizer with one chat
// completion per scan. Safe for concurrent use.
type OpenAISummarizer struct {
	client  *openai.Client
	model   string
	baseURL string
	log     *logging.Logger
}

// NewOpenAISummarizer creates the summarizer. The API key is required;
// callers that have no key configure the pipeline with a nil summarizer
// instead, and the aggregator supplies default narrative fields.
func NewOpenAISummarizer(apiKey string, log *logging.Logger, opts ...Option) (*OpenAISummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("summarizer API key not set")
	}
	if log == nil {
		log = logging.Discard()
	}
	s := &OpenAISummarizer{model: defaultModel, log: log}
	for _, opt := range opts {
		opt(s)
	}

	config := openai.DefaultConfig(apiKey)
	if s.baseURL != "" {
		config.BaseURL = s.baseURL
	}
	s.client = openai.NewClientWithConfig(config)

	log.Info("initialized narrative summarizer", "model", s.model)
	return s, nil
}

// Summarize sends the raw findings to the model and parses its JSON
// reply. Errors are returned to the caller (the aggregator), which
// substitutes defaults; a failed summary never fails a scan.
func (s *OpenAISummarizer) Summarize(ctx context.Context, raw report.RawFindings) (report.Narrative, error) {
	payload, err := json.Marshal(raw)
	if err != nil {
		return report.Narrative{}, fmt.Errorf("encoding findings: %w", err)
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(payload)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return report.Narrative{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return report.Narrative{}, fmt.Errorf("model returned no choices")
	}

	narrative, err := parseNarrative(resp.Choices[0].Message.Content)
	if err != nil {
		s.log.Warn("model returned malformed narrative", "error", err)
		return report.Narrative{}, err
	}
	return narrative, nil
}

// parseNarrative decodes the model reply, tolerating markdown code
// fences around the JSON object.
func parseNarrative(content string) (report.Narrative, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var narrative report.Narrative
	if err := json.Unmarshal([]byte(content), &narrative); err != nil {
		return report.Narrative{}, fmt.Errorf("decoding narrative: %w", err)
	}
	if narrative.Summary == "" {
		return report.Narrative{}, fmt.Errorf("narrative missing summary")
	}
	return narrative, nil
}
