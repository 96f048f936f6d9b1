package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/itsneelabh/apiflow/core"
)

// DefaultQueryLimit is used when Query is called with k <= 0.
const DefaultQueryLimit = 5

// maxSwaggerSize bounds the downloaded OpenAPI document.
const maxSwaggerSize = 16 << 20

// Catalog is the searchable endpoint collection. It embeds descriptors on
// ingestion when an Embedder is configured and falls back to lexical ranking
// otherwise.
type Catalog struct {
	store      Store
	embedder   Embedder
	httpClient *http.Client
	logger     core.Logger
}

// Option configures a Catalog
type Option func(*Catalog)

// WithEmbedder enables similarity search
func WithEmbedder(e Embedder) Option {
	return func(c *Catalog) {
		c.embedder = e
	}
}

// WithHTTPClient sets the client used to download Swagger documents
func WithHTTPClient(client *http.Client) Option {
	return func(c *Catalog) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New creates a catalog on top of a store
func New(store Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:      store,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetLogger sets the logger
func (c *Catalog) SetLogger(logger core.Logger) {
	if logger == nil {
		c.logger = &core.NoOpLogger{}
		return
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		c.logger = cal.WithComponent("apiflow/catalog")
	} else {
		c.logger = logger
	}
}

// Query returns up to k descriptors ranked by relevance to text
func (c *Catalog) Query(ctx context.Context, text string, k int) ([]EndpointDescriptor, error) {
	if k <= 0 {
		k = DefaultQueryLimit
	}
	all, err := c.store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	var ranked []scored
	lexical := true
	if c.embedder != nil && hasEmbeddings(all) {
		vec, err := c.embedder.EmbedQuery(ctx, text)
		if err != nil {
			c.logger.Warn("Query embedding failed, using lexical ranking", map[string]interface{}{
				"operation": "catalog_query",
				"query":     text,
				"error":     err.Error(),
			})
		} else {
			ranked = rankBySimilarity(vec, all)
			lexical = false
		}
	}
	if lexical {
		ranked = rankLexically(text, all)
	}

	out := make([]EndpointDescriptor, 0, k)
	for _, s := range ranked {
		if len(out) == k {
			break
		}
		if lexical && s.score == 0 {
			break
		}
		out = append(out, all[s.index])
	}

	c.logger.Debug("Catalog query completed", map[string]interface{}{
		"operation": "catalog_query",
		"query":     text,
		"k":         k,
		"results":   len(out),
		"lexical":   lexical,
	})
	return out, nil
}

// GetAll returns every descriptor
func (c *Catalog) GetAll(ctx context.Context) ([]EndpointDescriptor, error) {
	return c.store.GetAll(ctx)
}

// Clear removes every descriptor
func (c *Catalog) Clear(ctx context.Context) error {
	return c.store.Clear(ctx)
}

// Upsert embeds and stores descriptors. An embedding failure is logged and
// the descriptors are stored without vectors.
func (c *Catalog) Upsert(ctx context.Context, descriptors []EndpointDescriptor) error {
	c.embed(ctx, descriptors)
	return c.store.Upsert(ctx, descriptors)
}

// Sync replaces the catalog contents with the operations of the Swagger
// document at swaggerURL. It returns the number of stored descriptors.
func (c *Catalog) Sync(ctx context.Context, swaggerURL string) (int, error) {
	data, err := c.fetchSwagger(ctx, swaggerURL)
	if err != nil {
		return 0, err
	}
	return c.SyncDocument(ctx, data)
}

// SyncDocument replaces the catalog contents with the operations of an
// already loaded Swagger document.
func (c *Catalog) SyncDocument(ctx context.Context, data []byte) (int, error) {
	descriptors, err := ParseSwagger(data)
	if err != nil {
		return 0, err
	}
	c.embed(ctx, descriptors)

	if err := c.store.Clear(ctx); err != nil {
		return 0, fmt.Errorf("failed to clear catalog: %w", err)
	}
	if err := c.store.Upsert(ctx, descriptors); err != nil {
		return 0, fmt.Errorf("failed to store descriptors: %w", err)
	}

	c.logger.Info("Catalog synchronized", map[string]interface{}{
		"operation": "catalog_sync",
		"endpoints": len(descriptors),
		"embedded":  c.embedder != nil,
	})
	return len(descriptors), nil
}

// Close releases the underlying store
func (c *Catalog) Close() error {
	return c.store.Close()
}

func (c *Catalog) embed(ctx context.Context, descriptors []EndpointDescriptor) {
	if c.embedder == nil || len(descriptors) == 0 {
		return
	}
	docs := make([]string, len(descriptors))
	for i := range descriptors {
		docs[i] = descriptors[i].Document()
	}
	vectors, err := c.embedder.EmbedDocuments(ctx, docs)
	if err != nil || len(vectors) != len(descriptors) {
		fields := map[string]interface{}{
			"operation": "catalog_embed",
			"endpoints": len(descriptors),
			"vectors":   len(vectors),
		}
		if err != nil {
			fields["error"] = err.Error()
		}
		c.logger.Warn("Embedding descriptors failed, storing without vectors", fields)
		return
	}
	for i := range descriptors {
		descriptors[i].Embedding = vectors[i]
	}
}

func (c *Catalog) fetchSwagger(ctx context.Context, swaggerURL string) ([]byte, error) {
	if swaggerURL == "" {
		return nil, fmt.Errorf("swagger url is empty: %w", core.ErrMissingConfiguration)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, swaggerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid swagger url %q: %w", swaggerURL, core.ErrInvalidConfiguration)
	}
	req.Header.Set("Accept", "application/json, application/yaml")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch swagger document: %w: %w", core.ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSwaggerSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read swagger document: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("swagger document request returned status %d: %w", resp.StatusCode, core.ErrUpstreamHTTP)
	}
	return body, nil
}

func hasEmbeddings(descriptors []EndpointDescriptor) bool {
	for i := range descriptors {
		if len(descriptors[i].Embedding) > 0 {
			return true
		}
	}
	return false
}
