package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// GoogleAIGenerator adapts a langchaingo Google AI model to the
// Generator interface.
type GoogleAIGenerator struct {
	model llms.Model
}

// NewGoogleAIGenerator dials the Google AI provider with the given
// model name. The API key comes from the environment (GOOGLE_API_KEY /
// GEMINI_API_KEY) unless apiKey is set.
func NewGoogleAIGenerator(ctx context.Context, modelName, apiKey string) (*GoogleAIGenerator, error) {
	if modelName == "" {
		return nil, syerrors.ErrLLMDisabled
	}

	options := []googleai.Option{googleai.WithDefaultModel(modelName)}
	if apiKey != "" {
		options = append(options, googleai.WithAPIKey(apiKey))
	}

	model, err := googleai.New(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", syerrors.ErrLLMInvocation, err.Error())
	}
	return &GoogleAIGenerator{model: model}, nil
}

// GenerateText runs a single-prompt completion.
func (g *GoogleAIGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	text, err := llms.GenerateFromSinglePrompt(ctx, g.model, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %s", syerrors.ErrLLMInvocation, err.Error())
	}
	return text, nil
}

// Compile-time check that GoogleAIGenerator implements Generator.
var _ Generator = (*GoogleAIGenerator)(nil)
