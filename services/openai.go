package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/krshsl/intervue/backend/retry"
)

const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAICompleter asks an OpenAI chat model for JSON answers
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	retryConfig retry.Config
}

// NewOpenAICompleter builds a chat client. baseURL targets an OpenAI-compatible endpoint when set.
func NewOpenAICompleter(apiKey, model, baseURL string) *OpenAICompleter {
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	slog.Info("OpenAI analysis client initialized", "model", model, "base_url", cfg.BaseURL)
	return &OpenAICompleter{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		retryConfig: llmRetryConfig(),
	}
}

// llmRetryConfig is the backoff shared by the hosted model backends
func llmRetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

func (c *OpenAICompleter) Name() string {
	return "openai"
}

func (c *OpenAICompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		},
	}

	return retry.DoWithResult(ctx, c.retryConfig, func() (string, error) {
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: 0.2,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		if err != nil {
			return "", fmt.Errorf("failed to create chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("no completion choices returned")
		}
		return resp.Choices[0].Message.Content, nil
	})
}
