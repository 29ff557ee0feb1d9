package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/costpilot-ai/costpilot/pkg/models"
)

// ErrMissingCredential is returned at construction when the cloud API key
// is absent. The process must refuse to start the cloud tier rather than
// fail on the first routed request.
var ErrMissingCredential = errors.New("cloud backend: missing API key")

// Cloud calls a remote OpenAI-compatible chat-completion endpoint with
// bearer-token authentication.
type Cloud struct {
	url         string
	model       string
	apiKey      string
	maxTokens   int
	temperature float64
	client      *http.Client
}

// CloudOptions configures the cloud backend.
type CloudOptions struct {
	URL         string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewCloud creates the cloud backend, failing fast on a missing credential.
func NewCloud(opts CloudOptions) (*Cloud, error) {
	if opts.APIKey == "" {
		return nil, ErrMissingCredential
	}
	return &Cloud{
		url:         opts.URL,
		model:       opts.Model,
		apiKey:      opts.APIKey,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		client:      &http.Client{Timeout: opts.Timeout},
	}, nil
}

// Name implements Backend.
func (c *Cloud) Name() string { return "cloud" }

// Generate implements Backend. Missing choices or message content is
// malformed and errors; missing usage is tolerated with estimated counts.
func (c *Cloud) Generate(ctx context.Context, prompt string) (*Result, error) {
	body, err := json.Marshal(models.ChatCompletionRequest{
		Model:       c.model,
		Messages:    []models.ChatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("encode cloud request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create cloud request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(c.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(c.Name(), err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{Backend: c.Name(), StatusCode: resp.StatusCode}
	case resp.StatusCode != http.StatusOK:
		return nil, &ResponseError{Backend: c.Name(), StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}

	var out models.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &ResponseError{Backend: c.Name(), Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(out.Choices) == 0 {
		return nil, &ResponseError{Backend: c.Name(), Reason: "empty choices"}
	}
	text := out.Choices[0].Message.Content
	if text == "" {
		return nil, &ResponseError{Backend: c.Name(), Reason: "missing message content"}
	}

	tokens := models.TokenCounts{}
	if out.Usage != nil {
		tokens.Prompt = float64(out.Usage.PromptTokens)
		tokens.Completion = float64(out.Usage.CompletionTokens)
	} else {
		tokens.Prompt = estimateTokens(prompt)
		tokens.Completion = estimateTokens(text)
		tokens.Estimated = true
	}

	return &Result{Text: text, Tokens: tokens}, nil
}
