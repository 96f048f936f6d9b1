package ai

import (
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/itsneelabh/apiflow/core"
)

// anthropicFactory creates Claude models through langchaingo
type anthropicFactory struct{}

func (f *anthropicFactory) Name() string { return string(ProviderAnthropic) }

func (f *anthropicFactory) DetectEnvironment() (int, bool) {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return 100, true
	}
	return 0, false
}

func (f *anthropicFactory) Create(config *AIConfig) (llms.Model, error) {
	key := config.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("anthropic api key: %w", core.ErrMissingConfiguration)
	}
	model := resolveModel(string(ProviderAnthropic), config.Model, DefaultAnthropicModel)

	opts := []anthropic.Option{
		anthropic.WithToken(key),
		anthropic.WithModel(model),
	}
	if config.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		opts = append(opts, anthropic.WithHTTPClient(config.HTTPClient))
	}
	return anthropic.New(opts...)
}

// openAIFactory creates OpenAI (or OpenAI-compatible) models through langchaingo
type openAIFactory struct{}

func (f *openAIFactory) Name() string { return string(ProviderOpenAI) }

func (f *openAIFactory) DetectEnvironment() (int, bool) {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return 90, true
	}
	return 0, false
}

func (f *openAIFactory) Create(config *AIConfig) (llms.Model, error) {
	return newOpenAI(config, false)
}

// newOpenAI builds an OpenAI client. The same client serves completions and
// embeddings.
func newOpenAI(config *AIConfig, embeddingsOnly bool) (*openai.LLM, error) {
	key := config.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("openai api key: %w", core.ErrMissingConfiguration)
	}

	opts := []openai.Option{openai.WithToken(key)}
	if !embeddingsOnly {
		opts = append(opts, openai.WithModel(resolveModel(string(ProviderOpenAI), config.Model, DefaultOpenAIModel)))
	}
	if config.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(config.EmbeddingModel))
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(config.HTTPClient))
	}
	return openai.New(opts...)
}
