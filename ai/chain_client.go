package ai

import (
	"context"
	"fmt"

	"github.com/itsneelabh/apiflow/core"
)

// ChainClient implements automatic failover across multiple providers
type ChainClient struct {
	providers []core.AIClient
	logger    core.Logger
}

// ChainConfig holds configuration for chain client
type ChainConfig struct {
	ProviderNames []string
	Clients       []core.AIClient
	ClientOptions []AIOption
	Logger        core.Logger
}

// ChainOption configures a chain client
type ChainOption func(*ChainConfig)

// WithProviderChain sets the providers to try in order.
// Example: WithProviderChain("anthropic", "openai")
func WithProviderChain(names ...string) ChainOption {
	return func(c *ChainConfig) {
		c.ProviderNames = names
	}
}

// WithChainClients appends already built clients to the chain.
func WithChainClients(clients ...core.AIClient) ChainOption {
	return func(c *ChainConfig) {
		c.Clients = append(c.Clients, clients...)
	}
}

// WithChainClientOptions sets options applied to every provider built from a name.
func WithChainClientOptions(opts ...AIOption) ChainOption {
	return func(c *ChainConfig) {
		c.ClientOptions = opts
	}
}

// WithChainLogger sets the logger for the chain client
func WithChainLogger(logger core.Logger) ChainOption {
	return func(c *ChainConfig) {
		c.Logger = logger
	}
}

// NewChainClient creates a client that fails over between providers.
// Unknown provider names fail immediately; providers that cannot be built
// (usually a missing API key) are skipped with a warning.
func NewChainClient(opts ...ChainOption) (*ChainClient, error) {
	config := &ChainConfig{}
	for _, opt := range opts {
		opt(config)
	}

	if len(config.ProviderNames) == 0 && len(config.Clients) == 0 {
		return nil, fmt.Errorf("at least one provider required for chain: %w", core.ErrInvalidConfiguration)
	}

	for _, name := range config.ProviderNames {
		if _, ok := GetProvider(name); !ok {
			return nil, fmt.Errorf("unknown provider %q: %w", name, core.ErrInvalidConfiguration)
		}
	}

	logger := componentLogger(config.Logger)
	client := &ChainClient{
		providers: make([]core.AIClient, 0, len(config.ProviderNames)+len(config.Clients)),
		logger:    logger,
	}

	for _, name := range config.ProviderNames {
		clientOpts := append([]AIOption{}, config.ClientOptions...)
		clientOpts = append(clientOpts, WithProvider(name), WithLogger(config.Logger))
		provider, err := NewClient(clientOpts...)
		if err != nil {
			logger.Warn("Provider not available (will skip in chain)", map[string]interface{}{
				"operation": "ai_chain_init",
				"provider":  name,
				"error":     err.Error(),
			})
			continue
		}
		client.providers = append(client.providers, provider)
	}
	client.providers = append(client.providers, config.Clients...)

	if len(client.providers) == 0 {
		return nil, fmt.Errorf("no providers could be initialized: %w", core.ErrMissingConfiguration)
	}

	logger.Info("Chain client initialized", map[string]interface{}{
		"operation":           "ai_chain_init",
		"requested_providers": len(config.ProviderNames) + len(config.Clients),
		"available_providers": len(client.providers),
	})
	return client, nil
}

// Len returns the number of usable providers.
func (c *ChainClient) Len() int {
	return len(c.providers)
}

// GenerateResponse tries each provider until one succeeds.
// Only retryable failures move on to the next provider; anything else,
// including a rejected request, is returned as is.
func (c *ChainClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	var lastErr error

	for i, provider := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := provider.GenerateResponse(ctx, prompt, options)
		if err == nil {
			if i > 0 {
				c.logger.Info("Failover succeeded", map[string]interface{}{
					"operation":       "ai_chain_generate",
					"failed_attempts": i,
				})
			}
			return resp, nil
		}

		lastErr = err
		if !core.IsRetryable(err) {
			return nil, err
		}

		c.logger.Warn("Provider failed, trying next", map[string]interface{}{
			"operation": "ai_chain_generate",
			"index":     i,
			"error":     err.Error(),
			"remaining": len(c.providers) - i - 1,
		})
	}

	c.logger.Error("All chain providers exhausted", map[string]interface{}{
		"operation":       "ai_chain_exhausted",
		"providers_tried": len(c.providers),
		"final_error":     lastErr.Error(),
	})
	return nil, fmt.Errorf("all %d providers failed, last error: %w", len(c.providers), lastErr)
}
