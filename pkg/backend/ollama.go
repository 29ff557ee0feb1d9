package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/costpilot-ai/costpilot/pkg/models"
)

// Ollama calls an on-host Ollama generation endpoint with streaming
// disabled.
type Ollama struct {
	url    string
	model  string
	client *http.Client
}

// NewOllama creates the local backend. url is the full generate endpoint
// (e.g. http://localhost:11434/api/generate); timeout bounds each call in
// addition to any caller deadline.
func NewOllama(url, model string, timeout time.Duration) *Ollama {
	return &Ollama{
		url:    url,
		model:  model,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Backend.
func (o *Ollama) Name() string { return "ollama" }

// Ping checks that the endpoint is reachable, for health reporting.
func (o *Ollama) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return transportError(o.Name(), err)
	}
	resp.Body.Close()
	return nil
}

// Generate implements Backend.
//
// Ollama omits prompt_eval_count when the prompt was served from its own
// context cache, and may omit eval_count on some versions. Missing counts
// are estimated from word counts and flagged, not silently defaulted. A
// missing response field is malformed and errors.
func (o *Ollama) Generate(ctx context.Context, prompt string) (*Result, error) {
	body, err := json.Marshal(models.OllamaRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, transportError(o.Name(), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(o.Name(), err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ResponseError{Backend: o.Name(), StatusCode: resp.StatusCode, Reason: "unexpected status"}
	}

	var out models.OllamaResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &ResponseError{Backend: o.Name(), Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if out.Response == nil {
		return nil, &ResponseError{Backend: o.Name(), Reason: "missing response field"}
	}

	tokens := models.TokenCounts{}
	if out.PromptEvalCount != nil {
		tokens.Prompt = float64(*out.PromptEvalCount)
	} else {
		tokens.Prompt = estimateTokens(prompt)
		tokens.Estimated = true
	}
	if out.EvalCount != nil {
		tokens.Completion = float64(*out.EvalCount)
	} else {
		tokens.Completion = estimateTokens(*out.Response)
		tokens.Estimated = true
	}

	return &Result{Text: *out.Response, Tokens: tokens}, nil
}
