package services

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/krshsl/intervue/backend/retry"
)

const DefaultGeminiModel = "gemini-2.5-flash"

type generateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)

// GeminiCompleter asks Gemini for JSON answers
type GeminiCompleter struct {
	generate    generateContentFunc
	model       string
	retryConfig retry.Config
}

func NewGeminiCompleter(ctx context.Context, apiKey, model string) (*GeminiCompleter, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiCompleter{
		generate:    genaiClient.Models.GenerateContent,
		model:       model,
		retryConfig: llmRetryConfig(),
	}, nil
}

func (g *GeminiCompleter) Name() string {
	return "gemini"
}

// Complete generates a JSON response with proper system instructions
func (g *GeminiCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	if g.generate == nil {
		return "", fmt.Errorf("genai client not initialized")
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.2),
	}

	return retry.DoWithResult(ctx, g.retryConfig, func() (string, error) {
		result, err := g.generate(ctx, g.model, genai.Text(prompt), config)
		if err != nil {
			return "", fmt.Errorf("failed to generate response: %w", err)
		}
		response := result.Text()
		if response == "" {
			return "", fmt.Errorf("empty response from gemini")
		}
		slog.Debug("Gemini analysis response", "model", g.model, "response_length", len(response))
		return response, nil
	})
}
