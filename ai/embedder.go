package ai

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"

	"github.com/itsneelabh/apiflow/catalog"
)

// NewEmbedder builds the embedder used for semantic endpoint search.
// Only OpenAI-compatible APIs serve embeddings; the chat provider setting
// is ignored.
func NewEmbedder(opts ...AIOption) (catalog.Embedder, error) {
	config := defaultAIConfig()
	for _, opt := range opts {
		opt(config)
	}

	client, err := newOpenAI(config, true)
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(64))
	if err != nil {
		return nil, fmt.Errorf("embedding client: %w", err)
	}

	componentLogger(config.Logger).Info("Embedder created", map[string]interface{}{
		"operation": "ai_embedder_creation",
		"model":     config.EmbeddingModel,
	})
	return embedder, nil
}
