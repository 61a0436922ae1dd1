package clients

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms/googleai"
)

// Gemini models used across the service. Reasoning favors latency, synthesis
// favors quality.
const (
	DefaultReasoningModel = "gemini-3-flash-preview"
	DefaultSynthesisModel = "gemini-3-pro-preview"
)

// NewGoogleAI returns a langchaingo client bound to the given Gemini model.
// See https://ai.google.dev/gemini-api/docs/models/gemini for possible models.
func NewGoogleAI(ctx context.Context, apiKey, model string) (*googleai.GoogleAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google api key is not set")
	}
	if model == "" {
		model = DefaultReasoningModel
	}

	llm, err := googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create google ai client: %w", err)
	}

	return llm, nil
}
