package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/normalizer"
	"shopify-catalog-mirror/internal/ports"

	goshopify "github.com/bold-commerce/go-shopify/v4"
	"github.com/rs/zerolog"
)

const (
	DefaultAPIVersion     = "2025-10"
	DefaultPageSize       = 50
	MaxPageSize           = 250
	DefaultRequestTimeout = 15 * time.Second
)

// ClientOptions configures the catalog client
type ClientOptions struct {
	APIKey             string
	APISecret          string
	APIVersion         string
	RequestTimeout     time.Duration
	VariantsPerProduct int
	MediaPerProduct    int
	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

// Client reads product catalogs through the Admin GraphQL API
type Client struct {
	pool               *ClientPool
	rateLimiter        *RateLimiter
	timeout            time.Duration
	variantsPerProduct int
	mediaPerProduct    int
	logger             zerolog.Logger
}

var _ ports.CatalogClient = (*Client)(nil)

// NewClient creates a catalog client, failing when a query document does not parse
func NewClient(opts ClientOptions, logger zerolog.Logger) (*Client, error) {
	return NewClientWithOptions(opts, NewRateLimiter(logger), logger)
}

// NewClientWithOptions creates a catalog client sharing rateLimiter
func NewClientWithOptions(opts ClientOptions, rateLimiter *RateLimiter, logger zerolog.Logger) (*Client, error) {
	if err := validateQueries(catalogQueries); err != nil {
		return nil, err
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.VariantsPerProduct <= 0 {
		opts.VariantsPerProduct = 100
	}
	if opts.MediaPerProduct <= 0 {
		opts.MediaPerProduct = 10
	}
	app := goshopify.App{
		ApiKey:    opts.APIKey,
		ApiSecret: opts.APISecret,
	}
	return &Client{
		pool:               NewClientPool(app, opts.APIVersion, opts.HTTPClient, logger),
		rateLimiter:        rateLimiter,
		timeout:            opts.RequestTimeout,
		variantsPerProduct: min(opts.VariantsPerProduct, MaxPageSize),
		mediaPerProduct:    min(opts.MediaPerProduct, MaxPageSize),
		logger:             logger,
	}, nil
}

type productsData struct {
	Products *normalizer.Connection[normalizer.RawProduct] `json:"products"`
}

type productData struct {
	Product *normalizer.RawProduct `json:"product"`
}

type indexVariant struct {
	ID string `json:"id"`
}

type indexProduct struct {
	ID       string                               `json:"id"`
	Variants *normalizer.Connection[indexVariant] `json:"variants"`
}

type indexData struct {
	Products *normalizer.Connection[indexProduct] `json:"products"`
}

// FetchProductPage fetches one page of products. pageSize is clamped to [1, 250], 0 means the default.
func (c *Client) FetchProductPage(ctx context.Context, credential domain.Credential, cursor *string, pageSize int) (*ports.ProductPage, error) {
	vars := map[string]interface{}{
		"first":    clampPageSize(pageSize),
		"after":    cursor,
		"variants": c.variantsPerProduct,
		"media":    c.mediaPerProduct,
	}
	var data productsData
	if err := c.query(ctx, credential, "fetch products", productsQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.Products == nil {
		return nil, fmt.Errorf("%w: response has no products", domain.ErrMalformed)
	}
	nodes, err := data.Products.Nodes()
	if err != nil {
		return nil, fmt.Errorf("%w: products: %v", domain.ErrMalformed, err)
	}
	next, err := data.Products.NextCursor()
	if err != nil {
		return nil, fmt.Errorf("%w: products: %v", domain.ErrMalformed, err)
	}
	return &ports.ProductPage{Nodes: nodes, NextCursor: next}, nil
}

// FetchProduct fetches one product by global id
func (c *Client) FetchProduct(ctx context.Context, credential domain.Credential, externalID string) (*normalizer.RawProduct, error) {
	vars := map[string]interface{}{
		"id":       domain.ProductGID(externalID),
		"variants": c.variantsPerProduct,
		"media":    c.mediaPerProduct,
	}
	var data productData
	if err := c.query(ctx, credential, "fetch product", productQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.Product == nil {
		return nil, fmt.Errorf("product %s: %w", externalID, domain.ErrNotFound)
	}
	return data.Product, nil
}

// FetchCatalogIndex fetches one page of product ids with up to 250 variant ids each
func (c *Client) FetchCatalogIndex(ctx context.Context, credential domain.Credential, cursor *string, pageSize int) (*ports.CatalogIndexPage, error) {
	vars := map[string]interface{}{
		"first":    clampPageSize(pageSize),
		"after":    cursor,
		"variants": MaxPageSize,
	}
	var data indexData
	if err := c.query(ctx, credential, "fetch catalog index", catalogIndexQuery, vars, &data); err != nil {
		return nil, err
	}
	if data.Products == nil {
		return nil, fmt.Errorf("%w: response has no products", domain.ErrMalformed)
	}
	nodes, err := data.Products.Nodes()
	if err != nil {
		return nil, fmt.Errorf("%w: products: %v", domain.ErrMalformed, err)
	}
	next, err := data.Products.NextCursor()
	if err != nil {
		return nil, fmt.Errorf("%w: products: %v", domain.ErrMalformed, err)
	}

	entries := make([]ports.CatalogIndexEntry, 0, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: product without id", domain.ErrMalformed)
		}
		variants, err := n.Variants.Nodes()
		if err != nil {
			return nil, fmt.Errorf("%w: product %s variants: %v", domain.ErrMalformed, n.ID, err)
		}
		entry := ports.CatalogIndexEntry{
			ProductID:        n.ID,
			VariantIDs:       make([]string, 0, len(variants)),
			VariantsComplete: !n.Variants.HasNextPage(),
		}
		for _, v := range variants {
			entry.VariantIDs = append(entry.VariantIDs, v.ID)
		}
		entries = append(entries, entry)
	}
	return &ports.CatalogIndexPage{Entries: entries, NextCursor: next}, nil
}

// query issues one GraphQL call bounded by the request timeout
func (c *Client) query(ctx context.Context, credential domain.Credential, op, q string, vars map[string]interface{}, out interface{}) error {
	if err := c.rateLimiter.Wait(ctx, credential.TenantID); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	client, err := c.pool.Get(credential)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err = client.GraphQL.Query(callCtx, q, vars, out)
	logEvent := c.logger.Debug().
		Str("shop", credential.TenantID).
		Str("operation", op).
		Dur("duration", time.Since(start))
	if err == nil {
		logEvent.Msg("Shopify query completed")
		return nil
	}

	err = callError(ctx, callCtx, op, err)
	var rl *domain.RateLimitedError
	if errors.As(err, &rl) {
		c.rateLimiter.Backoff(credential.TenantID, rl.RetryAfter)
		c.logger.Warn().
			Str("shop", credential.TenantID).
			Dur("retryAfter", rl.RetryAfter).
			Msg("Shopify throttled the request")
	}
	if errors.Is(err, domain.ErrAuthExpired) {
		c.pool.Evict(credential.SessionID)
	}
	logEvent.Err(err).Msg("Shopify query failed")
	return err
}

func clampPageSize(n int) int {
	switch {
	case n == 0:
		return DefaultPageSize
	case n < 1:
		return 1
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}
