package translation

import (
	"context"
	"fmt"
	"strings"
)

type TranslatorOptions struct {
	Provider string
	APIKey   string
	Model    string
	Endpoint string
}

func NewTranslator(ctx context.Context, opts TranslatorOptions) (Translator, error) {
	provider := strings.ToLower(strings.TrimSpace(opts.Provider))
	if provider == "" {
		provider = "service"
	}

	switch provider {
	case "service", "http":
		if strings.TrimSpace(opts.Endpoint) == "" {
			return nil, fmt.Errorf("conversion service endpoint is required")
		}
		return NewServiceTranslator(opts.Endpoint, opts.APIKey), nil
	case "gemini":
		return NewGeminiTranslator(ctx, opts.APIKey, opts.Model)
	case "openai":
		return NewOpenAITranslator(opts.APIKey, opts.Model, opts.Endpoint), nil
	default:
		return nil, fmt.Errorf("unsupported translator provider: %s", opts.Provider)
	}
}
