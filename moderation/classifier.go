// Package moderation classifies agent output against content policy using a
// small chat-completion model, producing structured verdicts for the
// guardrail pipeline.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.parley.dev/parley/internal/types"
)

const (
	defaultBaseURL = "https://api.openai.com/v1/chat/completions"
	defaultModel   = "gpt-4o-mini"
)

const systemPrompt = `You are a content policy classifier for a customer-facing voice agent.
Classify the assistant message you are given. Respond with JSON only:
{"tripwire_triggered": bool, "category": "none"|"offensive"|"off_brand"|"violence", "rationale": string}`

// Classifier evaluates text against content policy.
type Classifier struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithModel overrides the classification model.
func WithModel(model string) Option {
	return func(c *Classifier) { c.model = model }
}

// WithBaseURL points the classifier at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *Classifier) { c.baseURL = url }
}

// NewClassifier creates a classifier using the given API key.
func NewClassifier(apiKey string, opts ...Option) *Classifier {
	c := &Classifier{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// verdict is the model's JSON reply.
type verdict struct {
	TripwireTriggered bool   `json:"tripwire_triggered"`
	Category          string `json:"category"`
	Rationale         string `json:"rationale"`
}

// Evaluate classifies text. The error return signals evaluation failure, not
// a policy violation; callers decide the failure policy.
func (c *Classifier) Evaluate(ctx context.Context, text string) (bool, types.GuardrailResult, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		MaxTokens: 200,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return false, types.GuardrailResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return false, types.GuardrailResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return false, types.GuardrailResult{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, types.GuardrailResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, types.GuardrailResult{}, fmt.Errorf("api error: %d - %s", resp.StatusCode, string(body))
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return false, types.GuardrailResult{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return false, types.GuardrailResult{}, fmt.Errorf("no choices")
	}

	v, err := parseVerdict(chat.Choices[0].Message.Content)
	if err != nil {
		return false, types.GuardrailResult{}, fmt.Errorf("parse verdict: %w", err)
	}

	result := types.GuardrailResult{
		Category:     normalizeCategory(v.Category),
		Rationale:    v.Rationale,
		EvidenceText: text,
	}
	tripped := v.TripwireTriggered && result.Flagged()
	return tripped, result, nil
}

// parseVerdict tolerates markdown code fences around the JSON body.
func parseVerdict(content string) (verdict, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var v verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return verdict{}, err
	}
	return v, nil
}

func normalizeCategory(s string) types.GuardrailCategory {
	switch types.GuardrailCategory(strings.ToLower(strings.TrimSpace(s))) {
	case types.GuardrailOffensive:
		return types.GuardrailOffensive
	case types.GuardrailOffBrand:
		return types.GuardrailOffBrand
	case types.GuardrailViolence:
		return types.GuardrailViolence
	default:
		return types.GuardrailNone
	}
}
