// Package llm wraps the hosted Gemini model behind a small JSON-generation interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/JakeFAU/supacrawl/internal/metrics"
)

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("empty model response")

// Request is one schema-constrained generation.
type Request struct {
	// Purpose labels the call in metrics, e.g. "summary" or "intent".
	Purpose string
	System  string
	Prompt  string
	Schema  *genai.Schema
	// Temperature overrides the client default when set.
	Temperature *float32
}

// Generator returns a JSON document for a prompt.
type Generator interface {
	GenerateJSON(ctx context.Context, req Request) (string, error)
}

// Config configures the Gemini client.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	// Timeout bounds each call when the caller's context has no earlier deadline.
	Timeout time.Duration
}

type modelsAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Client implements Generator with google.golang.org/genai.
type Client struct {
	models      modelsAPI
	model       string
	temperature float32
	timeout     time.Duration
}

// New creates a Gemini-backed Client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newWithModels(client.Models, cfg)
}

func newWithModels(models modelsAPI, cfg Config) (*Client, error) {
	if models == nil {
		return nil, fmt.Errorf("models api is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm.model is required")
	}
	return &Client{models: models, model: cfg.Model, temperature: cfg.Temperature, timeout: cfg.Timeout}, nil
}

// GenerateJSON asks the model for a JSON answer constrained by req.Schema.
func (c *Client) GenerateJSON(ctx context.Context, req Request) (string, error) {
	temperature := c.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	genCfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
		Temperature:      genai.Ptr(temperature),
	}
	if req.System != "" {
		genCfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.Prompt}},
		Role:  "user",
	}}

	purpose := req.Purpose
	if purpose == "" {
		purpose = "unspecified"
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		metrics.ObserveLLMRequest(purpose, "error")
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		metrics.ObserveLLMRequest(purpose, "empty")
		return "", ErrEmptyResponse
	}
	metrics.ObserveLLMRequest(purpose, "ok")
	return text, nil
}

// StripCodeFence removes a surrounding markdown code fence, if any.
func StripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(trimmed, '\n'); nl >= 0 {
		trimmed = trimmed[nl+1:]
	} else {
		trimmed = strings.TrimPrefix(trimmed, "json")
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
