// Package llm wraps langchaingo models behind the two operations the
// query pipeline needs: producing a structured query plan from a natural
// language question, and generating a single database query for one plan
// step.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyResponse indicates the model returned no content.
	ErrEmptyResponse = errors.New("empty model response")
)

// Config holds connection settings for an OpenAI-compatible chat API.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// NewModel creates a langchaingo model from the configuration.
func NewModel(cfg Config) (llms.Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	model, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}
	return model, nil
}

// generate runs a system+human prompt pair and returns the first choice's
// text content.
func generate(ctx context.Context, model llms.Model, system, human string, opts ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(human)},
		},
	}

	resp, err := model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}
