package ports

import (
	"context"

	"shopify-catalog-mirror/internal/domain"
	"shopify-catalog-mirror/internal/normalizer"
)

// ProductPage is one page of the remote products connection
type ProductPage struct {
	Nodes []normalizer.RawProduct
	// NextCursor is nil on the last page
	NextCursor *string
}

// CatalogIndexEntry lists the remote ids of one product and its variants
type CatalogIndexEntry struct {
	ProductID  string
	VariantIDs []string
	// VariantsComplete is false when the product has more variants than the page returned
	VariantsComplete bool
}

// CatalogIndexPage is one page of the remote id index
type CatalogIndexPage struct {
	Entries    []CatalogIndexEntry
	NextCursor *string
}

// CatalogClient defines the interface for reading a shop's remote catalog.
// Errors wrap domain.ErrAuthExpired, domain.ErrRateLimited, domain.ErrTransient or domain.ErrMalformed.
type CatalogClient interface {
	// FetchProductPage fetches up to pageSize products after cursor
	FetchProductPage(ctx context.Context, credential domain.Credential, cursor *string, pageSize int) (*ProductPage, error)

	// FetchProduct fetches one product by global id, domain.ErrNotFound when the shop has none
	FetchProduct(ctx context.Context, credential domain.Credential, externalID string) (*normalizer.RawProduct, error)

	// FetchCatalogIndex fetches up to pageSize product ids with their variant ids after cursor
	FetchCatalogIndex(ctx context.Context, credential domain.Credential, cursor *string, pageSize int) (*CatalogIndexPage, error)
}
