// Package intel wraps the OpenAI API for the three AI collaborations the
// service relies on: the automated threat scan, the bulk-cleanup dedup
// advisor, and the tactical situation analyst.
package intel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds configuration for OpenAI API usage.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     int // seconds
}

// DefaultConfig returns sensible defaults for incident analysis.
func DefaultConfig() Config {
	return Config{
		Model:       openai.GPT4oMini,
		Temperature: 0.2, // low temperature for consistent JSON
		MaxTokens:   2000,
		Timeout:     60,
	}
}

// ConfigFromEnv creates config from environment variables with defaults.
func ConfigFromEnv() Config {
	config := DefaultConfig()

	config.APIKey = os.Getenv("OPENAI_API_KEY")

	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.Model = model
	}

	if tempStr := os.Getenv("OPENAI_TEMPERATURE"); tempStr != "" {
		if temp, err := strconv.ParseFloat(tempStr, 32); err == nil {
			config.Temperature = float32(temp)
		}
	}

	return config
}

// Client is the OpenAI-backed implementation of the scan, dedup, and
// analysis collaborations.
type Client struct {
	client  *openai.Client
	config  Config
	prompts *PromptTemplates
	logger  *slog.Logger
}

// NewClient creates an OpenAI-powered intel client. Returns an error when
// no API key is configured so callers can run without AI features rather
// than failing on first use.
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}

	return &Client{
		client:  openai.NewClient(config.APIKey),
		config:  config,
		prompts: NewPromptTemplates(),
		logger:  logger,
	}, nil
}

// complete runs one chat completion with the client's timeout and returns
// the first choice's content. jsonMode requests a JSON-object response.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, jsonMode bool, maxTokens int) (string, error) {
	timeout := c.config.Timeout
	if timeout <= 0 {
		timeout = 60
	}

	apiCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	request := openai.ChatCompletionRequest{
		Model:               c.config.Model,
		Temperature:         c.config.Temperature,
		MaxCompletionTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
	}
	if jsonMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(apiCtx, request)
	if err != nil {
		return "", fmt.Errorf("openai api call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned from model %s", c.config.Model)
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty response from model %s (finish_reason: %s)", c.config.Model, resp.Choices[0].FinishReason)
	}

	c.logger.Debug("openai completion",
		"model", c.config.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"content_length", len(content))

	return content, nil
}
