package ai

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/itsneelabh/apiflow/core"
)

// ProviderFactory builds the langchaingo model of one provider.
type ProviderFactory interface {
	Name() string
	Create(config *AIConfig) (llms.Model, error)
	// DetectEnvironment reports whether credentials for the provider are
	// present, and how strongly it should be preferred when several are.
	DetectEnvironment() (priority int, available bool)
}

type providerRegistry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func newProviderRegistry() *providerRegistry {
	return &providerRegistry{factories: make(map[string]ProviderFactory)}
}

var registry = newProviderRegistry()

func init() {
	MustRegister(&anthropicFactory{})
	MustRegister(&openAIFactory{})
}

// Register adds a provider factory. Names must be unique.
func Register(factory ProviderFactory) error {
	if factory == nil {
		return fmt.Errorf("nil provider factory: %w", core.ErrInvalidConfiguration)
	}
	name := factory.Name()
	if name == "" {
		return fmt.Errorf("provider factory without a name: %w", core.ErrInvalidConfiguration)
	}

	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, dup := registry.factories[name]; dup {
		return fmt.Errorf("provider %q already registered: %w", name, core.ErrInvalidConfiguration)
	}
	registry.factories[name] = factory
	return nil
}

// MustRegister is Register for init functions.
func MustRegister(factory ProviderFactory) {
	if err := Register(factory); err != nil {
		panic(err)
	}
}

// GetProvider looks up a factory by name.
func GetProvider(name string) (ProviderFactory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.factories[name]
	return f, ok
}

// ListProviders returns the registered names in alphabetical order.
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// rankProviders returns the providers usable in the current environment,
// highest priority first and by name on ties.
func rankProviders(logger core.Logger) []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	type ranked struct {
		name     string
		priority int
	}
	var usable []ranked
	for name, f := range registry.factories {
		priority, ok := f.DetectEnvironment()
		logger.Debug("Provider environment check", map[string]interface{}{
			"operation": "ai_provider_check",
			"provider":  name,
			"priority":  priority,
			"available": ok,
		})
		if ok {
			usable = append(usable, ranked{name, priority})
		}
	}
	sort.Slice(usable, func(i, j int) bool {
		if usable[i].priority != usable[j].priority {
			return usable[i].priority > usable[j].priority
		}
		return usable[i].name < usable[j].name
	})

	names := make([]string, len(usable))
	for i, r := range usable {
		names[i] = r.name
	}
	return names
}

// detectBestProvider picks the top ranked provider for "auto".
func detectBestProvider(logger core.Logger) (string, error) {
	ranked := rankProviders(logger)
	if len(ranked) == 0 {
		logger.Error("No AI provider credentials found", map[string]interface{}{
			"operation":  "ai_provider_detection",
			"registered": ListProviders(),
			"suggestion": "set ANTHROPIC_API_KEY or OPENAI_API_KEY",
		})
		return "", fmt.Errorf("no provider detected in environment: %w", core.ErrMissingConfiguration)
	}
	return ranked[0], nil
}
