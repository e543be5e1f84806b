package translation

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiTranslator implements Translator using Gemini text generation.
type GeminiTranslator struct {
	client        *genai.Client
	model         string
	promptBuilder *PromptBuilder
}

func NewGeminiTranslator(ctx context.Context, apiKey string, modelName string) (*GeminiTranslator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiTranslator{
		client:        client,
		model:         modelName,
		promptBuilder: &PromptBuilder{},
	}, nil
}

func (t *GeminiTranslator) Convert(ctx context.Context, req *Request) (*Response, error) {
	contents := genai.Text(t.promptBuilder.BuildConversionPrompt(req))
	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, nil)
	if err != nil {
		return nil, err
	}
	return parseLLMReply(resp.Text()), nil
}
